package api

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Frame 是推送給客戶端的事件封包，Data是事件專屬的JSON內容
type Frame struct {
	Event string          `json:"event" msgpack:"event"`
	Data  json.RawMessage `json:"data" msgpack:"data"`
}

func newFrame(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("fail to marshal %s payload, err=%w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// 推播事件名稱，與前端約定的協議
const (
	EventBidUpdate      = "bidUpdate"
	EventNotifyOutbid   = "notify:outbid"
	EventAdClosed       = "ad:closed"
	EventNotifyAdClosed = "notify:adClosed"
	EventAdDeleted      = "ad:deleted"
	EventAdChat         = "adChat"
)

// BroadcastRoom 是所有連線自動加入的全域房間
const BroadcastRoom = "broadcast"

// AdRoom 返回單一刊登的房間名稱，訂閱後能收到該刊登的出價更新
func AdRoom(adID uuid.UUID) string {
	return "auction:" + adID.String()
}

// IdentityRoom 返回依顯示名稱定址的個人房間，用於出價被超越等私人通知
func IdentityRoom(name string) string {
	return "identity:" + name
}

// UserRoom 返回依帳號ID定址的個人房間
func UserRoom(sub string) string {
	return "user:" + sub
}

// OutbidPayload 通知先前的最高出價者已被超越
// 欄位名稱是前端既有的協議，yourBid是收件者被超越前的出價
type OutbidPayload struct {
	AdID    uuid.UUID `json:"adId"`
	Title   string    `json:"title"`
	YourBid int64     `json:"yourBid"`
	NewBid  int64     `json:"newBid"`
}

// AdClosedPayload 通知出價者刊登已結束
type AdClosedPayload struct {
	AdID        uuid.UUID `json:"adId"`
	Title       string    `json:"title"`
	Brand       string    `json:"brand,omitempty"`
	Subcategory string    `json:"subcategory,omitempty"`
}

// AdRefPayload 是全域廣播(ad:closed、ad:deleted)的內容，只帶刊登的id
type AdRefPayload struct {
	ID uuid.UUID `json:"id"`
}

// ChatPayload 是刊登詢問聊天的訊息內容，伺服器只做轉發
type ChatPayload struct {
	AdID    string `json:"adId"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// ImageCleanupTask 是刊登刪除後的圖片清理任務，經由Redis Stream交給背景worker
type ImageCleanupTask struct {
	AdID   uuid.UUID `json:"adId" msgpack:"adId"`
	Images []string  `json:"images" msgpack:"images"`
}
