package auction

import (
	"context"

	"github.com/google/uuid"

	"techgenie/models"
)

// Event 是拍賣引擎發出的事件的tagged variant，
// fan-out層透過type switch對所有變體做完整處理
type Event interface {
	eventKind() string
}

// BidPlaced 在一筆出價被接受後發出，攜帶含完整出價紀錄的刊登
type BidPlaced struct {
	Ad *models.Ad
}

// Outbid 在前一位最高出價者被其他人超越時發出
type Outbid struct {
	Recipient      string
	AdID           uuid.UUID
	Title          string
	PreviousAmount int64
	NewAmount      int64
}

// AuctionClosed 在拍賣第一次從開放轉為關閉時發出
// Bidders 是去除重複後所有出過價的出價者名稱
type AuctionClosed struct {
	AdID        uuid.UUID
	Title       string
	Brand       string
	Subcategory string
	Bidders     []string
}

// AuctionDeleted 在刊登被刪除後發出
// Images 攜帶刊登的圖片鍵值，供背景worker清理儲存空間
type AuctionDeleted struct {
	AdID   uuid.UUID
	Images []string
}

func (BidPlaced) eventKind() string      { return "bidPlaced" }
func (Outbid) eventKind() string         { return "outbid" }
func (AuctionClosed) eventKind() string  { return "auctionClosed" }
func (AuctionDeleted) eventKind() string { return "auctionDeleted" }

// Notifier 是拍賣引擎對即時通知層的依賴
// 通知傳遞是best-effort：回傳的錯誤只會被記錄，
// 不會影響已經完成的狀態變更
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NopNotifier 在即時通知層不可用時使用
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, event Event) error { return nil }
