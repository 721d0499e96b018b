package realtime_test

import (
	"io"
	"log"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// Frame 表示一個推播訊息，包含事件名稱與資料字段。
type Frame struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}
