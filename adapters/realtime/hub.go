package realtime

import (
	"context"
	"log/slog"
	"sync"

	redisadapter "techgenie/adapters/redis"
)

type hubOptions[T any] struct {
	logger     *slog.Logger
	subscriber redisadapter.IConsumer[Envelope[T]]
	publisher  redisadapter.IProducer[Envelope[T]]
}

type HubOption[T any] func(*hubOptions[T])

// WithHubLogger 設置日誌記錄器
func WithHubLogger[T any](logger *slog.Logger) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.logger = logger
	}
}

// WithHubSubscriber 注入跨實例的訊息來源(通常是Redis Stream consumer)
// Hub會將收到的Envelope路由到對應的房間
func WithHubSubscriber[T any](subscriber redisadapter.IConsumer[Envelope[T]]) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.subscriber = subscriber
	}
}

// WithHubPublisher 注入跨實例的訊息出口(通常是Redis Stream producer)
// 設置後Publish會走外部通道再繞回subscriber，讓多個實例都收到訊息；
// 未設置時Publish直接在本地房間廣播
func WithHubPublisher[T any](publisher redisadapter.IProducer[Envelope[T]]) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.publisher = publisher
	}
}

// hub 管理多個房間的訂閱與發布
// 房間成員是process-local的，跨實例的廣播透過注入的Redis Stream橋接
type hub[T any] struct {
	logger *slog.Logger

	mu     sync.RWMutex
	wg     sync.WaitGroup
	active bool

	rooms   map[string]IRoom[T]
	options hubOptions[T]
}

func NewHub[T any](opts ...HubOption[T]) IHub[T] {
	options := hubOptions[T]{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &hub[T]{
		logger:  options.logger.With(slog.String("caller", "Hub")),
		rooms:   make(map[string]IRoom[T]),
		options: options,
		active:  true,
	}
}

// Start 啟動Hub，開始接收與廣播訊息
func (h *hub[T]) Start() {
	if h.options.subscriber == nil {
		return
	}
	h.options.subscriber.Start()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for envelope := range h.options.subscriber.Subscribe() {
			h.broadcastLocal(envelope.Room, envelope.Message)
		}
	}()
}

// Done 停止Hub的運作並清空所有房間
func (h *hub[T]) Done() {
	h.mu.Lock()
	if !h.active {
		h.mu.Unlock()
		return
	}
	h.active = false
	h.mu.Unlock()

	if h.options.subscriber != nil {
		h.options.subscriber.Close()
	}
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range h.rooms {
		room.UnsubscribeAll()
	}
	clear(h.rooms)
}

// Subscribe 訂閱指定房間，房間不存在時自動建立
func (h *hub[T]) Subscribe(room string) (<-chan T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.active {
		return nil, context.Canceled
	}

	r, ok := h.rooms[room]
	if !ok {
		r = NewRoom[T]()
		h.rooms[room] = r
	}
	return r.Subscribe(), nil
}

// Publish 將訊息發布到指定房間
func (h *hub[T]) Publish(room string, data T) error {
	h.mu.RLock()
	if !h.active {
		h.mu.RUnlock()
		return context.Canceled
	}
	h.mu.RUnlock()

	if h.options.publisher != nil {
		return h.options.publisher.Publish(Envelope[T]{
			Room:    room,
			Message: data,
		})
	}

	h.broadcastLocal(room, data)
	return nil
}

// Unsubscribe 取消訂閱指定房間，最後一個訂閱者離開時移除房間
func (h *hub[T]) Unsubscribe(room string, ch <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[room]
	if !ok {
		return
	}

	r.Unsubscribe(ch)
	if r.IsIdle() {
		delete(h.rooms, room)
	}
}

func (h *hub[T]) broadcastLocal(room string, data T) {
	h.mu.RLock()
	r, ok := h.rooms[room]
	h.mu.RUnlock()
	if ok {
		r.Broadcast(data)
	}
}
