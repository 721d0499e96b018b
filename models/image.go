package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Image 代表一筆圖片上傳紀錄
// 用於追蹤每個上傳者在一小時內的上傳數量
type Image struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Key        string    `gorm:"type:text;not null;<-:create" json:"key"`
	Url        string    `gorm:"type:text;not null;<-:create" json:"url"`
	UploadedBy string    `gorm:"type:varchar(255);not null;<-:create;index" json:"uploadedBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (img *Image) BeforeCreate(tx *gorm.DB) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	return nil
}
