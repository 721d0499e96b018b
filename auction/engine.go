package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"techgenie/models"
)

type engineOptions struct {
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
	lockFactory LockFactory
	bidCache    *redis.Client
	keyPrefix   string
	cacheTTL    time.Duration
}

type EngineOption func(*engineOptions)

// WithNotifier 注入即時通知層，未注入時使用NopNotifier
func WithNotifier(n Notifier) EngineOption {
	return func(o *engineOptions) {
		o.notifier = n
	}
}

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithClock 注入時間來源(主要用於測試)
func WithClock(now func() time.Time) EngineOption {
	return func(o *engineOptions) {
		o.now = now
	}
}

// WithLockFactory 注入每個刊登的出價鎖工廠
// 多實例部署應注入redisadapter.NewAutoRenewMutex的工廠
func WithLockFactory(factory LockFactory) EngineOption {
	return func(o *engineOptions) {
		o.lockFactory = factory
	}
}

// WithBidCache 啟用Redis上的最高出價快取，作為出價的快速失敗前置檢查
func WithBidCache(client *redis.Client, keyPrefix string, ttl time.Duration) EngineOption {
	return func(o *engineOptions) {
		o.bidCache = client
		o.keyPrefix = keyPrefix
		o.cacheTTL = ttl
	}
}

// Engine 是唯一允許變更刊登出價列表與關閉狀態的元件，
// 負責維護出價嚴格遞增、過期惰性關閉等不變量
type Engine struct {
	db      *gorm.DB
	options engineOptions
}

func NewEngine(db *gorm.DB, opts ...EngineOption) (*Engine, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	// 默認選項
	options := engineOptions{
		notifier:    NopNotifier{},
		logger:      slog.Default(),
		now:         time.Now,
		lockFactory: NewLocalLockFactory(),
		cacheTTL:    10 * time.Minute,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	options.logger = options.logger.With(slog.String("caller", "AuctionEngine"))

	return &Engine{db: db, options: options}, nil
}

// GetAd 返回單一刊登(含完整出價紀錄)，讀取前先套用惰性過期檢查
func (e *Engine) GetAd(ctx context.Context, adID uuid.UUID) (*models.Ad, error) {
	const op = "GetAd"
	if err := e.sweepOne(ctx, adID); err != nil {
		return nil, fmt.Errorf("[%s] Fail to sweep expired ad, err=%w", op, err)
	}
	return e.loadAd(ctx, adID)
}

// ListAds 返回所有刊登，建立時間新的在前，讀取前先套用惰性過期檢查
func (e *Engine) ListAds(ctx context.Context) ([]models.Ad, error) {
	const op = "ListAds"
	if err := e.sweepAll(ctx); err != nil {
		return nil, fmt.Errorf("[%s] Fail to sweep expired ads, err=%w", op, err)
	}
	return e.findAds(ctx, e.db.WithContext(ctx))
}

// ListAdsBySeller 返回指定賣家建立的所有刊登
func (e *Engine) ListAdsBySeller(ctx context.Context, username string) ([]models.Ad, error) {
	const op = "ListAdsBySeller"
	if err := e.sweepAll(ctx); err != nil {
		return nil, fmt.Errorf("[%s] Fail to sweep expired ads, err=%w", op, err)
	}
	return e.findAds(ctx, e.db.WithContext(ctx).Where("created_by = ?", username))
}

// ListAdsByBidder 返回指定使用者出過價的所有刊登
func (e *Engine) ListAdsByBidder(ctx context.Context, username string) ([]models.Ad, error) {
	const op = "ListAdsByBidder"
	if err := e.sweepAll(ctx); err != nil {
		return nil, fmt.Errorf("[%s] Fail to sweep expired ads, err=%w", op, err)
	}
	adIDs := e.db.Model(&models.Bid{}).Select("ad_id").Where("bidder = ?", username)
	return e.findAds(ctx, e.db.WithContext(ctx).Where("id IN (?)", adIDs))
}

// CreateAd 建立新刊登，結束時間由持續時間選項決定且不再變動
func (e *Engine) CreateAd(ctx context.Context, ad *models.Ad) (*models.Ad, error) {
	const op = "CreateAd"
	if ad.Title == "" || ad.CreatedBy == "" || ad.Price <= 0 {
		return nil, fmt.Errorf("%w: missing title, owner or non-positive starting price", ErrInvalidAd)
	}
	if !ad.Duration.Valid() {
		return nil, fmt.Errorf("%w: unknown auction duration %q", ErrInvalidAd, ad.Duration)
	}
	now := e.options.now()
	ad.CreatedAt = now
	ad.EndTime = now.Add(time.Duration(ad.Duration.Hours()) * time.Hour)
	ad.IsClosed = false
	if result := e.db.WithContext(ctx).Create(ad); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to create ad, err=%w", op, result.Error)
	}
	return ad, nil
}

// PlaceBid 驗證並記錄一筆出價
// 驗證順序: 刊登存在 → 未關閉且未過期 → 非刊登者本人 → 金額嚴格高於目前最高
// 成功時返回更新後的刊登，並發出BidPlaced與(必要時)Outbid事件
func (e *Engine) PlaceBid(ctx context.Context, adID uuid.UUID, bidder string, amount int64) (*models.Ad, error) {
	const op = "PlaceBid"
	if bidder == "" || amount <= 0 {
		return nil, fmt.Errorf("%w: missing bidder or non-positive amount", ErrInvalidBid)
	}

	// 讀取前先套用惰性過期檢查
	if err := e.sweepOne(ctx, adID); err != nil {
		return nil, fmt.Errorf("[%s] Fail to sweep expired ad, err=%w", op, err)
	}
	ad, err := e.loadAd(ctx, adID)
	if err != nil {
		return nil, err
	}
	if ad.IsClosed {
		return nil, fmt.Errorf("%w", ErrAuctionEnded)
	}
	if ad.CreatedBy == bidder {
		return nil, fmt.Errorf("%w", ErrOwnerBid)
	}

	// 取得此刊登的出價鎖，鎖是兩筆並發出價之間的序列化點
	mutex := e.options.lockFactory(e.keyPrefix() + "ad:" + adID.String() + ":lock")
	lockCtx, err := mutex.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to acquire bid lock, err=%w", op, err)
	}
	defer func() {
		if _, err := mutex.Unlock(); err != nil {
			e.options.logger.Warn("Fail to release bid lock", slog.String("op", op), slog.Any("error", err))
		}
	}()

	// 針對快取最高出價的快速失敗檢查，不影響正確性
	if err := e.guardCachedBid(lockCtx, ad, amount); err != nil {
		return nil, err
	}

	// 在同一個交易內以最新狀態重新驗證並寫入，
	// 避免兩筆針對過期快照都合法的出價同時被接受
	var (
		updated     models.Ad
		prevHighest *models.Bid
	)
	txErr := e.db.WithContext(lockCtx).Transaction(func(tx *gorm.DB) error {
		fresh, err := e.loadAdTx(tx, adID)
		if err != nil {
			return err
		}
		if fresh.IsClosed || fresh.Expired(e.options.now()) {
			return fmt.Errorf("%w", ErrAuctionEnded)
		}
		highest := fresh.HighestAmount()
		if amount <= highest {
			return fmt.Errorf("%w: current highest bid is %d", ErrBidTooLow, highest)
		}

		// 在插入前捕捉被超越的前一位最高出價者
		prevHighest = fresh.HighestBid()

		bid := models.Bid{
			AdID:      adID,
			Bidder:    bidder,
			Amount:    amount,
			CreatedAt: e.options.now(),
		}
		if result := tx.Create(&bid); result.Error != nil {
			return fmt.Errorf("[%s] Fail to record bid, err=%w", op, result.Error)
		}
		if result := tx.Model(&models.Ad{}).Where("id = ?", adID).Update("current_bid_id", bid.ID); result.Error != nil {
			return fmt.Errorf("[%s] Fail to update current bid, err=%w", op, result.Error)
		}

		// 最新的出價排在列表最前面(對外可觀察的排序契約)
		fresh.Bids = append([]models.Bid{bid}, fresh.Bids...)
		fresh.CurrentBidID = &bid.ID
		updated = *fresh
		return nil
	})
	if txErr != nil {
		// 交易失敗時丟棄快取，下一筆出價會在鎖內重新回填
		e.dropCachedBid(ctx, adID)
		if errors.Is(txErr, ErrAuctionEnded) {
			if err := e.sweepOne(ctx, adID); err != nil {
				e.options.logger.Error("Fail to flag expired ad", slog.String("op", op), slog.Any("error", err))
			}
		}
		return nil, txErr
	}

	e.options.logger.Info("Higher bid occurs",
		slog.String("bidder", bidder),
		slog.Int64("bid", amount),
		slog.String("adID", adID.String()))

	// 通知在狀態變更提交之後才發出，且不影響本次出價的結果
	e.emit(ctx, BidPlaced{Ad: &updated})
	if prevHighest != nil && prevHighest.Bidder != bidder {
		e.emit(ctx, Outbid{
			Recipient:      prevHighest.Bidder,
			AdID:           adID,
			Title:          updated.Title,
			PreviousAmount: prevHighest.Amount,
			NewAmount:      amount,
		})
	}
	return &updated, nil
}

// CloseAd 將拍賣標記為關閉
// 只有刊登者本人可以關閉；重複關閉是無副作用的no-op，不會再次發出通知
func (e *Engine) CloseAd(ctx context.Context, adID uuid.UUID, acting string) (*models.Ad, error) {
	const op = "CloseAd"
	if err := e.sweepOne(ctx, adID); err != nil {
		return nil, fmt.Errorf("[%s] Fail to sweep expired ad, err=%w", op, err)
	}

	// 與出價共用同一把鎖，讓關閉與進行中的出價互相序列化
	mutex := e.options.lockFactory(e.keyPrefix() + "ad:" + adID.String() + ":lock")
	lockCtx, err := mutex.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to acquire bid lock, err=%w", op, err)
	}
	defer func() {
		if _, err := mutex.Unlock(); err != nil {
			e.options.logger.Warn("Fail to release bid lock", slog.String("op", op), slog.Any("error", err))
		}
	}()

	ad, err := e.loadAd(lockCtx, adID)
	if err != nil {
		return nil, err
	}
	if ad.CreatedBy != acting {
		return nil, fmt.Errorf("%w", ErrNotOwner)
	}
	if ad.IsClosed {
		return ad, nil
	}

	// compare-and-set，確保並發關閉只有一方發出通知
	result := e.db.WithContext(lockCtx).Model(&models.Ad{}).
		Where("id = ? AND is_closed = ?", adID, false).
		Update("is_closed", true)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to close ad, err=%w", op, result.Error)
	}
	ad.IsClosed = true

	if result.RowsAffected > 0 {
		// 出價者名單在關閉成立後重新查詢，
		// 快照載入後才提交的出價也要收到通知
		var bidders []string
		if err := e.db.WithContext(lockCtx).Model(&models.Bid{}).
			Where("ad_id = ?", adID).Pluck("bidder", &bidders).Error; err != nil {
			return nil, fmt.Errorf("[%s] Fail to collect bidders, err=%w", op, err)
		}
		e.emit(ctx, AuctionClosed{
			AdID:        adID,
			Title:       ad.Title,
			Brand:       ad.Brand,
			Subcategory: ad.Subcategory,
			Bidders:     lo.Uniq(bidders),
		})
	}
	return ad, nil
}

// DeleteAd 永久刪除刊登與其所有出價紀錄，允許在任何狀態下執行
// 只有刊登者本人可以刪除
func (e *Engine) DeleteAd(ctx context.Context, adID uuid.UUID, acting string) error {
	const op = "DeleteAd"
	ad, err := e.loadAd(ctx, adID)
	if err != nil {
		return err
	}
	if ad.CreatedBy != acting {
		return fmt.Errorf("%w", ErrNotOwner)
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if result := tx.Where("ad_id = ?", adID).Delete(&models.Bid{}); result.Error != nil {
			return fmt.Errorf("[%s] Fail to delete bids, err=%w", op, result.Error)
		}
		if result := tx.Delete(&models.Ad{}, "id = ?", adID); result.Error != nil {
			return fmt.Errorf("[%s] Fail to delete ad, err=%w", op, result.Error)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.dropCachedBid(ctx, adID)
	e.emit(ctx, AuctionDeleted{AdID: adID, Images: ad.Images})
	return nil
}

// sweepAll 將所有已過期但尚未關閉的刊登標記為關閉
// 條件更新是冪等的，並發呼叫下最多只有一方實際寫入
func (e *Engine) sweepAll(ctx context.Context) error {
	result := e.db.WithContext(ctx).Model(&models.Ad{}).
		Where("end_time <= ? AND is_closed = ?", e.options.now(), false).
		Update("is_closed", true)
	return result.Error
}

func (e *Engine) sweepOne(ctx context.Context, adID uuid.UUID) error {
	result := e.db.WithContext(ctx).Model(&models.Ad{}).
		Where("id = ? AND end_time <= ? AND is_closed = ?", adID, e.options.now(), false).
		Update("is_closed", true)
	return result.Error
}

func (e *Engine) loadAd(ctx context.Context, adID uuid.UUID) (*models.Ad, error) {
	return e.loadAdTx(e.db.WithContext(ctx), adID)
}

func (e *Engine) loadAdTx(tx *gorm.DB, adID uuid.UUID) (*models.Ad, error) {
	const op = "loadAd"
	var ad models.Ad
	result := tx.
		Preload("Bids", func(db *gorm.DB) *gorm.DB {
			return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "amount"}, Desc: true})
		}).
		First(&ad, "id = ?", adID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w", ErrAdNotFound)
		}
		return nil, fmt.Errorf("[%s] Fail to find ad, err=%w", op, result.Error)
	}
	return &ad, nil
}

func (e *Engine) findAds(ctx context.Context, query *gorm.DB) ([]models.Ad, error) {
	const op = "findAds"
	var ads []models.Ad
	result := query.Model(&models.Ad{}).
		Preload("Bids", func(db *gorm.DB) *gorm.DB {
			return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "amount"}, Desc: true})
		}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true}).
		Find(&ads)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list ads, err=%w", op, result.Error)
	}
	return ads, nil
}

// guardBidScript的兩段式呼叫: 快取不存在時在鎖內從資料庫回填後重試
func (e *Engine) guardCachedBid(ctx context.Context, ad *models.Ad, amount int64) error {
	const op = "guardCachedBid"
	if e.options.bidCache == nil {
		return nil
	}
	key := e.cacheKey(ad.ID)
	ttl := int(e.options.cacheTTL.Seconds())

	status, err := guardBidScript.Run(ctx, e.options.bidCache, []string{key}, amount, ttl).Int()
	if err != nil {
		return fmt.Errorf("[%s] Fail to run bid guard script, err=%w", op, err)
	}
	if status != -1 {
		if status == 0 {
			return fmt.Errorf("%w", ErrBidTooLow)
		}
		return nil
	}

	// 快取不存在，以資料庫記錄的最高出價回填後重試
	if err := e.options.bidCache.Set(ctx, key, ad.HighestAmount(), e.options.cacheTTL).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to seed cached bid, err=%w", op, err)
	}
	status, err = guardBidScript.Run(ctx, e.options.bidCache, []string{key}, amount, ttl).Int()
	if err != nil {
		return fmt.Errorf("[%s] Fail to run bid guard script, err=%w", op, err)
	}
	if status == 0 {
		return fmt.Errorf("%w", ErrBidTooLow)
	}
	return nil
}

func (e *Engine) dropCachedBid(ctx context.Context, adID uuid.UUID) {
	if e.options.bidCache == nil {
		return
	}
	if err := e.options.bidCache.Del(ctx, e.cacheKey(adID)).Err(); err != nil {
		e.options.logger.Warn("Fail to drop cached bid", slog.String("adID", adID.String()), slog.Any("error", err))
	}
}

func (e *Engine) cacheKey(adID uuid.UUID) string {
	return e.keyPrefix() + "ad:" + adID.String() + ":highest"
}

func (e *Engine) keyPrefix() string {
	return e.options.keyPrefix
}

func (e *Engine) emit(ctx context.Context, event Event) {
	if err := e.options.notifier.Notify(ctx, event); err != nil {
		e.options.logger.Error("Fail to deliver notification",
			slog.String("event", event.eventKind()),
			slog.Any("error", err))
	}
}
