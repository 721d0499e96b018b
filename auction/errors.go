package auction

import "errors"

// 儲存層錯誤
var (
	ErrAdNotFound = errors.New("ad not found")
)

// 業務邏輯錯誤
var (
	// ErrAuctionEnded 表示拍賣已因關閉或過期而結束
	ErrAuctionEnded = errors.New("auction has ended")
	// ErrOwnerBid 表示刊登者嘗試對自己的刊登出價
	ErrOwnerBid = errors.New("owner cannot bid on own product")
	// ErrBidTooLow 表示出價金額沒有嚴格高於目前最高出價
	ErrBidTooLow = errors.New("bid amount too low")
	// ErrInvalidBid 表示出價請求本身不合法(缺少出價者或金額非正數)
	ErrInvalidBid = errors.New("invalid bid")
	// ErrInvalidAd 表示刊登內容不合法
	ErrInvalidAd = errors.New("invalid ad")
	// ErrNotOwner 表示非刊登者嘗試關閉或刪除刊登
	ErrNotOwner = errors.New("only the owner may modify this ad")
)
