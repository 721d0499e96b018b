//go:generate mockgen -package=realtime -destination=mock.go -source=interfaces.go

package realtime

// Envelope 表示一則指定房間的訊息
type Envelope[T any] struct {
	Room    string `json:"room"`
	Message T      `json:"message"`
}

// IRoom 定義了單一房間(具名多播群組)的介面
type IRoom[T any] interface {
	// Subscribe 建立一個新的訂閱並返回接收訊息的通道
	Subscribe() <-chan T
	// Unsubscribe 取消指定通道的訂閱
	Unsubscribe(ch <-chan T)
	// UnsubscribeAll 取消所有訂閱
	UnsubscribeAll()
	// Broadcast 將訊息廣播給所有訂閱者
	Broadcast(message T)
	// IsIdle 檢查是否沒有訂閱者
	IsIdle() bool
}

// IHub 定義了房間註冊表的介面
// 房間在第一個訂閱者加入時建立，最後一個離開時移除
type IHub[T any] interface {
	// Start 啟動Hub，開始接收與廣播訊息
	// 應在呼叫其他方法前先呼叫此方法
	Start()
	// Done 停止Hub，釋放所有資源
	Done()
	// Subscribe 訂閱指定房間，返回接收訊息的通道
	Subscribe(room string) (<-chan T, error)
	// Publish 將訊息發布到指定房間
	Publish(room string, data T) error
	// Unsubscribe 取消訂閱指定房間
	Unsubscribe(room string, ch <-chan T)
}
