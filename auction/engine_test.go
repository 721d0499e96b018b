package auction_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	redisadapter "techgenie/adapters/redis"
	"techgenie/auction"
	"techgenie/models"
)

// fakeNotifier 收集引擎發出的所有事件
type fakeNotifier struct {
	mu     sync.Mutex
	events []auction.Event
}

func (f *fakeNotifier) Notify(_ context.Context, event auction.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) Events() []auction.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auction.Event{}, f.events...)
}

// fakeClock 是可手動推進的時間來源
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	// in-memory資料庫每個連線各自獨立，必須限制連線數
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Ad{}, &models.Bid{}, &models.Image{}))
	return db
}

func newTestEngine(t *testing.T) (*auction.Engine, *fakeNotifier, *fakeClock) {
	t.Helper()
	notifier := &fakeNotifier{}
	clock := newFakeClock()
	engine, err := auction.NewEngine(
		newTestDB(t),
		auction.WithNotifier(notifier),
		auction.WithClock(clock.Now),
	)
	require.NoError(t, err)
	return engine, notifier, clock
}

func createTestAd(t *testing.T, engine *auction.Engine, owner string, price int64, duration models.Duration) *models.Ad {
	t.Helper()
	ad, err := engine.CreateAd(context.Background(), &models.Ad{
		DeviceType:  "smartphone",
		Subcategory: "android",
		Brand:       "pixel",
		Title:       "Pixel 9 Pro",
		Condition:   "used",
		Description: "lightly used, no scratches",
		Price:       price,
		Duration:    duration,
		CreatedBy:   owner,
	})
	require.NoError(t, err)
	return ad
}

func TestCreateAd(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	ad := createTestAd(t, engine, "seller", 100, models.Duration1d)
	assert.NotEqual(t, uuid.Nil, ad.ID)
	assert.Equal(t, clock.Now().Add(24*time.Hour), ad.EndTime)
	assert.False(t, ad.IsClosed)

	got, err := engine.GetAd(ctx, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, ad.ID, got.ID)
	assert.Equal(t, int64(100), got.HighestAmount(), "starting price counts as the highest amount before any bid")
}

func TestCreateAdRejectsUnknownDuration(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.CreateAd(context.Background(), &models.Ad{
		Title:     "Pixel 9 Pro",
		CreatedBy: "seller",
		Price:     100,
		Duration:  models.Duration("3w"),
	})
	assert.ErrorIs(t, err, auction.ErrInvalidAd)
}

func TestCreateAdInvalidInput(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateAd(ctx, &models.Ad{Title: "", CreatedBy: "seller", Price: 100})
	assert.ErrorIs(t, err, auction.ErrInvalidAd)
	_, err = engine.CreateAd(ctx, &models.Ad{Title: "Pixel", CreatedBy: "seller", Price: 0})
	assert.ErrorIs(t, err, auction.ErrInvalidAd)
}

func TestGetAdNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.GetAd(context.Background(), uuid.New())
	assert.ErrorIs(t, err, auction.ErrAdNotFound)
}

func TestPlaceBid(t *testing.T) {
	engine, notifier, _ := newTestEngine(t)
	ctx := context.Background()
	ad := createTestAd(t, engine, "seller", 100, models.Duration1d)

	// 第一筆出價必須嚴格高於起標價
	_, err := engine.PlaceBid(ctx, ad.ID, "alice", 100)
	assert.ErrorIs(t, err, auction.ErrBidTooLow)

	updated, err := engine.PlaceBid(ctx, ad.ID, "alice", 150)
	require.NoError(t, err)
	require.Len(t, updated.Bids, 1)
	assert.Equal(t, "alice", updated.Bids[0].Bidder)
	assert.Equal(t, int64(150), updated.HighestAmount())
	require.NotNil(t, updated.CurrentBidID)
	assert.Equal(t, updated.Bids[0].ID, *updated.CurrentBidID)

	// 等於目前最高的出價會被拒絕
	_, err = engine.PlaceBid(ctx, ad.ID, "bob", 150)
	assert.ErrorIs(t, err, auction.ErrBidTooLow)

	// 更高的出價成功，且最新的出價排在最前面
	updated, err = engine.PlaceBid(ctx, ad.ID, "bob", 200)
	require.NoError(t, err)
	require.Len(t, updated.Bids, 2)
	assert.Equal(t, "bob", updated.Bids[0].Bidder)
	assert.Equal(t, int64(200), updated.Bids[0].Amount)

	// alice的出價被超越，應該收到通知
	events := notifier.Events()
	var outbids []auction.Outbid
	for _, event := range events {
		if e, ok := event.(auction.Outbid); ok {
			outbids = append(outbids, e)
		}
	}
	require.Len(t, outbids, 1)
	assert.Equal(t, "alice", outbids[0].Recipient)
	assert.Equal(t, int64(150), outbids[0].PreviousAmount)
	assert.Equal(t, int64(200), outbids[0].NewAmount)
}

func TestPlaceBidEmitsBidPlaced(t *testing.T) {
	engine, notifier, _ := newTestEngine(t)
	ctx := context.Background()
	ad := createTestAd(t, engine, "seller", 100, models.Duration1d)

	_, err := engine.PlaceBid(ctx, ad.ID, "alice", 150)
	require.NoError(t, err)

	events := notifier.Events()
	require.Len(t, events, 1)
	placed, ok := events[0].(auction.BidPlaced)
	require.True(t, ok)
	assert.Equal(t, ad.ID, placed.Ad.ID)
	assert.Equal(t, int64(150), placed.Ad.HighestAmount())
}

func TestPlaceBidNoSelfOutbid(t *testing.T) {
	engine, notifier, _ := newTestEngine(t)
	ctx := context.Background()
	ad := createTestAd(t, engine, "seller", 100, models.Duration1d)

	_, err := engine.PlaceBid(ctx, ad.ID, "alice", 150)
	require.NoError(t, err)
	_, err = engine.PlaceBid(ctx, ad.ID, "alice", 200)
	require.NoError(t, err)

	// 自己超越自己不需要通知
	for _, event := range notifier.Events() {
		_, isOutbid := event.(auction.Outbid)
		assert.False(t, isOutbid, "no outbid notification expected when outbidding yourself")
	}
}

func TestPlaceBidValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	ad := createTestAd(t, engine, "seller", 100, models.Duration1d)

	_, err := engine.PlaceBid(ctx, ad.ID, "seller", 150)
	assert.ErrorIs(t, err, auction.ErrOwnerBid)

	_, err = engine.PlaceBid(ctx, ad.ID, "", 150)
	assert.ErrorIs(t, err, auction.ErrInvalidBid)

	_, err = engine.PlaceBid(ctx, ad.ID, "alice", 0)
	assert.ErrorIs(t, err, auction.ErrInvalidBid)

	_, err = engine.PlaceBid(ctx, uuid.New(), "alice", 150)
	assert.ErrorIs(t, err, auction.ErrAdNotFound)
}

func TestLazyExpiry(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx := context.Background()
	ad := createTestAd(t, engine, "seller", 100, models.Duration12h)

	clock.Advance(13 * time.Hour)

	// 過期的刊登在讀取時被標記為關閉
	got, err := engine.GetAd(ctx, ad.ID)
	require.NoError(t, err)
	assert.True(t, got.IsClosed)

	_, err = engine.PlaceBid(ctx, ad.ID, "alice", 150)
	assert.ErrorIs(t, err, auction.ErrAuctionEnded)
}

func TestLazyExpiryOnList(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx := context.Background()
	expired := createTestAd(t, engine, "seller", 100, models.Duration12h)
	clock.Advance(13 * time.Hour)
	alive := createTestAd(t, engine, "seller", 100, models.Duration5d)

	ads, err := engine.ListAds(ctx)
	require.NoError(t, err)
	require.Len(t, ads, 2)

	byID := map[uuid.UUID]models.Ad{}
	for _, ad := range ads {
		byID[ad.ID] = ad
	}
	assert.True(t, byID[expired.ID].IsClosed)
	assert.False(t, byID[alive.ID].IsClosed)
}

func TestCloseAd(t *testing.T) {
	engine, notifier, _ := newTestEngine(t)
	ctx := context.Background()
	ad := createTestAd(t, engine, "seller", 100, models.Duration1d)
	_, err := engine.PlaceBid(ctx, ad.ID, "alice", 150)
	require.NoError(t, err)
	_, err = engine.PlaceBid(ctx, ad.ID, "bob", 200)
	require.NoError(t, err)
	_, err = engine.PlaceBid(ctx, ad.ID, "alice", 250)
	require.NoError(t, err)

	// 只有刊登者本人可以關閉
	_, err = engine.CloseAd(ctx, ad.ID, "alice")
	assert.ErrorIs(t, err, auction.ErrNotOwner)

	closed, err := engine.CloseAd(ctx, ad.ID, "seller")
	require.NoError(t, err)
	assert.True(t, closed.IsClosed)

	var closedEvents []auction.AuctionClosed
	for _, event := range notifier.Events() {
		if e, ok := event.(auction.AuctionClosed); ok {
			closedEvents = append(closedEvents, e)
		}
	}
	require.Len(t, closedEvents, 1)
	assert.Equal(t, ad.ID, closedEvents[0].AdID)
	// 出過價的人不重複列出
	assert.ElementsMatch(t, []string{"alice", "bob"}, closedEvents[0].Bidders)

	// 重複關閉是no-op，不會再次發出通知
	again, err := engine.CloseAd(ctx, ad.ID, "seller")
	require.NoError(t, err)
	assert.True(t, again.IsClosed)
	count := 0
	for _, event := range notifier.Events() {
		if _, ok := event.(auction.AuctionClosed); ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCloseAdNotifiesLateBidders(t *testing.T) {
	notifier := &fakeNotifier{}
	clock := newFakeClock()
	db := newTestDB(t)
	local := auction.NewLocalLockFactory()

	// 在關閉流程取得鎖的瞬間寫入一筆出價，
	// 模擬在名單快照之前剛提交的並發出價
	var lateBid func()
	engine, err := auction.NewEngine(
		db,
		auction.WithNotifier(notifier),
		auction.WithClock(clock.Now),
		auction.WithLockFactory(func(key string) redisadapter.IAutoRenewMutex {
			if lateBid != nil {
				lateBid()
				lateBid = nil
			}
			return local(key)
		}),
	)
	require.NoError(t, err)

	ctx := context.Background()
	ad := createTestAd(t, engine, "seller", 100, models.Duration1d)
	_, err = engine.PlaceBid(ctx, ad.ID, "alice", 150)
	require.NoError(t, err)

	lateBid = func() {
		bid := models.Bid{AdID: ad.ID, Bidder: "bob", Amount: 200, CreatedAt: clock.Now()}
		require.NoError(t, db.Create(&bid).Error)
	}
	_, err = engine.CloseAd(ctx, ad.ID, "seller")
	require.NoError(t, err)

	var closed []auction.AuctionClosed
	for _, event := range notifier.Events() {
		if e, ok := event.(auction.AuctionClosed); ok {
			closed = append(closed, e)
		}
	}
	require.Len(t, closed, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, closed[0].Bidders)
}

func TestBidAfterClose(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	ad := createTestAd(t, engine, "seller", 100, models.Duration1d)

	_, err := engine.CloseAd(ctx, ad.ID, "seller")
	require.NoError(t, err)

	_, err = engine.PlaceBid(ctx, ad.ID, "alice", 150)
	assert.ErrorIs(t, err, auction.ErrAuctionEnded)
}

func TestDeleteAd(t *testing.T) {
	engine, notifier, _ := newTestEngine(t)
	ctx := context.Background()
	ad, err := engine.CreateAd(ctx, &models.Ad{
		Title:     "Pixel 9 Pro",
		Price:     100,
		Duration:  models.Duration1d,
		CreatedBy: "seller",
		Images:    []string{"https://cdn.example.com/images/seller/a.png"},
	})
	require.NoError(t, err)
	_, err = engine.PlaceBid(ctx, ad.ID, "alice", 150)
	require.NoError(t, err)

	err = engine.DeleteAd(ctx, ad.ID, "alice")
	assert.ErrorIs(t, err, auction.ErrNotOwner)

	require.NoError(t, engine.DeleteAd(ctx, ad.ID, "seller"))
	_, err = engine.GetAd(ctx, ad.ID)
	assert.ErrorIs(t, err, auction.ErrAdNotFound)

	var deleted *auction.AuctionDeleted
	for _, event := range notifier.Events() {
		if e, ok := event.(auction.AuctionDeleted); ok {
			deleted = &e
		}
	}
	require.NotNil(t, deleted)
	assert.Equal(t, ad.ID, deleted.AdID)
	assert.Equal(t, []string{"https://cdn.example.com/images/seller/a.png"}, deleted.Images)
}

func TestListAdsBySellerAndBidder(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	first := createTestAd(t, engine, "seller", 100, models.Duration1d)
	second := createTestAd(t, engine, "other", 100, models.Duration1d)
	_, err := engine.PlaceBid(ctx, first.ID, "alice", 150)
	require.NoError(t, err)
	_, err = engine.PlaceBid(ctx, first.ID, "alice", 200)
	require.NoError(t, err)

	bySeller, err := engine.ListAdsBySeller(ctx, "seller")
	require.NoError(t, err)
	require.Len(t, bySeller, 1)
	assert.Equal(t, first.ID, bySeller[0].ID)

	// 同一個刊登出價多次只會出現一次
	byBidder, err := engine.ListAdsByBidder(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, byBidder, 1)
	assert.Equal(t, first.ID, byBidder[0].ID)

	byBidder, err = engine.ListAdsByBidder(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, byBidder)

	byOther, err := engine.ListAdsBySeller(ctx, "other")
	require.NoError(t, err)
	require.Len(t, byOther, 1)
	assert.Equal(t, second.ID, byOther[0].ID)
}

func TestConcurrentBidsStayMonotonic(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	ad := createTestAd(t, engine, "seller", 100, models.Duration1d)

	const workers = 10
	var wg sync.WaitGroup
	accepted := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := int64(101 + i)
			if _, err := engine.PlaceBid(ctx, ad.ID, fmt.Sprintf("bidder-%d", i), amount); err == nil {
				accepted <- amount
			}
		}(i)
	}
	wg.Wait()
	close(accepted)

	var acceptedAmounts []int64
	maxAccepted := int64(0)
	for amount := range accepted {
		acceptedAmounts = append(acceptedAmounts, amount)
		if amount > maxAccepted {
			maxAccepted = amount
		}
	}
	require.NotEmpty(t, acceptedAmounts, "at least one bid must win")

	got, err := engine.GetAd(ctx, ad.ID)
	require.NoError(t, err)
	require.Len(t, got.Bids, len(acceptedAmounts), "every accepted bid is recorded exactly once")
	assert.Equal(t, maxAccepted, got.HighestAmount())

	// 記錄的出價以金額排序後必須嚴格遞增(沒有重複金額)
	seen := map[int64]bool{}
	for _, bid := range got.Bids {
		assert.False(t, seen[bid.Amount], "duplicate amount %d recorded", bid.Amount)
		seen[bid.Amount] = true
	}
}
