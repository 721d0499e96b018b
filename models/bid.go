package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bid 代表刊登上的一筆出價紀錄
// 出價者以自由輸入的顯示名稱識別，而非帳號ID；
// 不同帳號使用相同名稱時會被視為同一個出價者(已知限制)
type Bid struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	AdID      uuid.UUID `gorm:"type:uuid;not null;index;<-:create" json:"-"`
	Bidder    string    `gorm:"type:varchar(255);not null;<-:create" json:"user"`
	Amount    int64     `gorm:"not null;<-:create" json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

func (b *Bid) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
