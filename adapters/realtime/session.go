package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// 單次寫入的期限
	writeWait = 10 * time.Second
	// 收到pong後允許的最長靜默時間
	pongWait = 60 * time.Second
	// ping間隔，必須小於pongWait
	pingPeriod = (pongWait * 9) / 10
)

// Identity 是連線時從憑證解析出的身份，允許為空(匿名連線)
type Identity struct {
	UserID string
	Name   string
}

// Anonymous 檢查是否為未帶憑證的匿名連線
func (id Identity) Anonymous() bool {
	return id.UserID == "" && id.Name == ""
}

// ClientMessage 是客戶端透過WebSocket送出的訊息
type ClientMessage struct {
	Action  string          `json:"action"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InboundHandler 處理joinRoom以外的客戶端訊息(例如刊登的詢問聊天)
type InboundHandler[T any] func(session *Session[T], message ClientMessage)

type sessionOptions[T any] struct {
	logger   *slog.Logger
	identity Identity
	autoJoin []string
	inbound  InboundHandler[T]
}

type SessionOption[T any] func(*sessionOptions[T])

// WithSessionLogger 設置日誌記錄器
func WithSessionLogger[T any](logger *slog.Logger) SessionOption[T] {
	return func(o *sessionOptions[T]) {
		o.logger = logger
	}
}

// WithSessionIdentity 設置連線的身份
func WithSessionIdentity[T any](identity Identity) SessionOption[T] {
	return func(o *sessionOptions[T]) {
		o.identity = identity
	}
}

// WithSessionAutoJoin 設置連線建立後自動加入的房間
func WithSessionAutoJoin[T any](rooms ...string) SessionOption[T] {
	return func(o *sessionOptions[T]) {
		o.autoJoin = append(o.autoJoin, rooms...)
	}
}

// WithSessionInboundHandler 設置自訂訊息的處理函數
func WithSessionInboundHandler[T any](fn InboundHandler[T]) SessionOption[T] {
	return func(o *sessionOptions[T]) {
		o.inbound = fn
	}
}

// Session 代表一條已連線的WebSocket客戶端
// 透過Hub訂閱任意房間，房間成員資格在斷線時全部清除，重連後需重新加入
type Session[T any] struct {
	conn     *websocket.Conn
	hub      IHub[T]
	identity Identity
	outbound chan T
	done     chan struct{}

	mu    sync.Mutex
	rooms map[string]<-chan T

	wg        sync.WaitGroup
	closeOnce sync.Once
	logger    *slog.Logger
	options   sessionOptions[T]
}

func NewSession[T any](conn *websocket.Conn, hub IHub[T], opts ...SessionOption[T]) (*Session[T], error) {
	if conn == nil {
		return nil, errors.New("websocket connection cannot be nil")
	}
	if hub == nil {
		return nil, errors.New("hub cannot be nil")
	}

	options := sessionOptions[T]{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Session[T]{
		conn:     conn,
		hub:      hub,
		identity: options.identity,
		outbound: make(chan T, 16),
		done:     make(chan struct{}),
		rooms:    make(map[string]<-chan T),
		logger:   options.logger.With(slog.String("caller", "Session"), slog.String("identity", options.identity.Name)),
		options:  options,
	}, nil
}

// Identity 返回連線的身份
func (s *Session[T]) Identity() Identity {
	return s.identity
}

// Serve 啟動寫入幫浦並處理客戶端訊息，連線結束時返回
func (s *Session[T]) Serve() {
	defer s.Close()

	for _, room := range s.options.autoJoin {
		if err := s.Join(room); err != nil {
			s.logger.Error("Fail to auto join room", slog.String("room", room), slog.Any("error", err))
			return
		}
	}

	s.wg.Add(1)
	go s.writePump()

	s.readLoop()
}

// Join 將連線加入指定房間，重複加入是no-op
func (s *Session[T]) Join(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room]; ok {
		return nil
	}
	ch, err := s.hub.Subscribe(room)
	if err != nil {
		return err
	}
	s.rooms[room] = ch

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for message := range ch {
			select {
			case s.outbound <- message:
			case <-s.done:
				// 連線關閉中仍持續排空，避免阻塞房間廣播
			}
		}
	}()
	return nil
}

// Close 取消所有房間訂閱並關閉連線，可安全重複呼叫
func (s *Session[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		for room, ch := range s.rooms {
			s.hub.Unsubscribe(room, ch)
		}
		clear(s.rooms)
		s.mu.Unlock()

		s.wg.Wait()
		_ = s.conn.Close()
	})
}

func (s *Session[T]) readLoop() {
	s.conn.SetReadLimit(4 << 10)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var message ClientMessage
		if err := s.conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", slog.Any("error", err))
			}
			return
		}

		switch message.Action {
		case "joinRoom":
			if message.Room == "" {
				continue
			}
			if err := s.Join(message.Room); err != nil {
				s.logger.Error("Fail to join room", slog.String("room", message.Room), slog.Any("error", err))
				return
			}
		default:
			if s.options.inbound != nil {
				s.options.inbound(s, message)
			}
		}
	}
}

func (s *Session[T]) writePump() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case message := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(message); err != nil {
				s.logger.Debug("websocket write error", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
