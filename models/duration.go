package models

// Duration 代表刊登時可選的拍賣持續時間
type Duration string

const (
	Duration12h Duration = "12h"
	Duration1d  Duration = "1d"
	Duration2d  Duration = "2d"
	Duration5d  Duration = "5d"
	Duration10d Duration = "10d"
)

// durationHours 定義了每個持續時間選項對應的小時數
var durationHours = map[Duration]int{
	Duration12h: 12,
	Duration1d:  24,
	Duration2d:  48,
	Duration5d:  120,
	Duration10d: 240,
}

// Valid 檢查持續時間是否為合法的選項
func (d Duration) Valid() bool {
	_, ok := durationHours[d]
	return ok
}

// Hours 返回持續時間對應的小時數，未知的選項視為一天
func (d Duration) Hours() int {
	if h, ok := durationHours[d]; ok {
		return h
	}
	return 24
}
