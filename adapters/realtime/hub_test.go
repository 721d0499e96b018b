package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"techgenie/adapters/realtime"
)

func TestHub(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := realtime.NewHub[Frame]()
	defer hub.Done()

	// 測試訂閱
	ch, err := hub.Subscribe("auction:test")
	assert.NoError(t, err)
	assert.NotNil(t, ch)

	// 測試發布訊息
	msg := Frame{Event: "bidUpdate", Data: "test message"}
	go func() {
		assert.NoError(t, hub.Publish("auction:test", msg))
	}()

	select {
	case received := <-ch:
		assert.Equal(t, msg, received)
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
	}

	// 測試取消訂閱
	hub.Unsubscribe("auction:test", ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
}

func TestHubAfterDone(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := realtime.NewHub[Frame]()

	ch, err := hub.Subscribe("auction:test")
	assert.NoError(t, err)

	hub.Done()

	// 關閉後訂閱者的通道應該被關閉
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	// 關閉後的操作應該回傳取消錯誤
	_, err = hub.Subscribe("auction:test")
	assert.ErrorIs(t, err, context.Canceled)
	err = hub.Publish("auction:test", Frame{Event: "bidUpdate"})
	assert.ErrorIs(t, err, context.Canceled)

	// 重複呼叫Done應該是安全的
	hub.Done()
}

func TestHubRoomsAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := realtime.NewHub[Frame]()
	defer hub.Done()

	adRoom, err := hub.Subscribe("auction:a")
	assert.NoError(t, err)
	userRoom, err := hub.Subscribe("identity:alice")
	assert.NoError(t, err)
	defer hub.Unsubscribe("auction:a", adRoom)
	defer hub.Unsubscribe("identity:alice", userRoom)

	msg := Frame{Event: "notify:outbid", Data: "for alice only"}
	go func() {
		assert.NoError(t, hub.Publish("identity:alice", msg))
	}()

	select {
	case received := <-userRoom:
		assert.Equal(t, msg, received)
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
	}

	// 其他房間不應收到訊息
	select {
	case received := <-adRoom:
		t.Fatalf("unexpected message in auction room: %+v", received)
	case <-time.After(50 * time.Millisecond):
	}
}
