package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ad 代表拍賣系統中的刊登(二手電子產品)
// 包含分類資訊、起標價、拍賣結束時間、圖片列表與出價紀錄
type Ad struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceType  string    `gorm:"type:varchar(64);not null" json:"deviceType"`
	Subcategory string    `gorm:"type:varchar(64)" json:"subcategory"`
	Brand       string    `gorm:"type:varchar(64);not null" json:"brand"`
	Title       string    `gorm:"type:varchar(255);not null" json:"title"`
	Condition   string    `gorm:"type:varchar(64);not null" json:"condition"`
	Mobile      string    `gorm:"type:varchar(32);not null" json:"mobile"`
	Description string    `gorm:"type:text;not null" json:"description"`
	Price       int64     `gorm:"not null" json:"price"`
	Duration    Duration  `gorm:"type:varchar(8);not null;<-:create" json:"duration"`
	CreatedBy   string    `gorm:"type:varchar(255);not null;<-:create;index" json:"createdBy"`
	// EndTime 在建立時由 CreatedAt + Duration 決定，之後不再變動
	EndTime      time.Time  `gorm:"not null;<-:create;index" json:"endTime"`
	Images       []string   `gorm:"serializer:json" json:"images"`
	IsClosed     bool       `gorm:"not null;default:false" json:"isClosed"`
	CurrentBidID *uuid.UUID `gorm:"type:uuid" json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`

	// 外鍵關聯
	CurrentBid *Bid  `gorm:"foreignKey:CurrentBidID" json:"-"`
	Bids       []Bid `gorm:"foreignKey:AdID;constraint:OnDelete:CASCADE" json:"bids"`
}

func (ad *Ad) BeforeCreate(tx *gorm.DB) error {
	if ad.ID == uuid.Nil {
		ad.ID = uuid.New()
	}
	return nil
}

// HighestAmount 返回目前最高出價金額，沒有任何出價時返回起標價
// 出價紀錄是append-only且嚴格遞增，因此最新一筆即為最高
func (ad *Ad) HighestAmount() int64 {
	highest := ad.Price
	for _, bid := range ad.Bids {
		if bid.Amount > highest {
			highest = bid.Amount
		}
	}
	return highest
}

// HighestBid 返回目前最高的出價紀錄，沒有任何出價時返回nil
func (ad *Ad) HighestBid() *Bid {
	var highest *Bid
	for i := range ad.Bids {
		if highest == nil || ad.Bids[i].Amount > highest.Amount {
			highest = &ad.Bids[i]
		}
	}
	return highest
}

// Expired 檢查拍賣是否已經超過結束時間
func (ad *Ad) Expired(now time.Time) bool {
	return !ad.EndTime.After(now)
}
