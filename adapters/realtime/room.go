package realtime

import (
	"sync"
)

// Room 管理單一房間的所有訂閱者，
// 並將收到的訊息廣播給每一個訂閱者
type Room[T any] struct {
	subscribers map[<-chan T]chan<- T
	mu          sync.RWMutex
}

func NewRoom[T any]() IRoom[T] {
	return &Room[T]{
		subscribers: make(map[<-chan T]chan<- T),
	}
}

// Subscribe 建立一個新的chan T，將其加入subscribers，並回傳唯讀通道給呼叫者
func (r *Room[T]) Subscribe() <-chan T {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan T)
	r.subscribers[ch] = ch
	return ch
}

// Unsubscribe 從subscribers中移除指定的通道，並關閉該通道
func (r *Room[T]) Unsubscribe(ch <-chan T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if writeCh, exists := r.subscribers[ch]; exists {
		delete(r.subscribers, ch)
		close(writeCh)
	}
}

// UnsubscribeAll 關閉所有訂閱者的通道並清空訂閱清單
func (r *Room[T]) UnsubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, writeCh := range r.subscribers {
		close(writeCh)
	}
	clear(r.subscribers)
}

// Broadcast 將訊息廣播給所有仍在訂閱清單中的通道
// 訂閱者必須持續讀取自己的通道，否則會阻塞整個房間的廣播
func (r *Room[T]) Broadcast(message T) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, writeCh := range r.subscribers {
		writeCh <- message
	}
}

// IsIdle 判斷subscribers是否為空
func (r *Room[T]) IsIdle() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers) == 0
}
