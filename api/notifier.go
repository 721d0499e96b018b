package api

import (
	"context"
	"fmt"
	"log/slog"

	"techgenie/adapters/realtime"
	redisadapter "techgenie/adapters/redis"
	"techgenie/auction"
)

// EventNotifier 將競標引擎產生的事件轉換為前端協議的Frame，
// 並路由到對應的房間；刪除事件另外排入圖片清理的stream
type EventNotifier struct {
	hub     realtime.IHub[Frame]
	cleanup redisadapter.IProducer[ImageCleanupTask]
	logger  *slog.Logger
}

func NewEventNotifier(hub realtime.IHub[Frame], cleanup redisadapter.IProducer[ImageCleanupTask], logger *slog.Logger) *EventNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventNotifier{
		hub:     hub,
		cleanup: cleanup,
		logger:  logger.With(slog.String("caller", "EventNotifier")),
	}
}

var _ auction.Notifier = (*EventNotifier)(nil)

func (n *EventNotifier) Notify(ctx context.Context, event auction.Event) error {
	const op = "Notify"
	switch e := event.(type) {
	case auction.BidPlaced:
		frame, err := newFrame(EventBidUpdate, e.Ad)
		if err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		return n.publish(AdRoom(e.Ad.ID), frame)

	case auction.Outbid:
		frame, err := newFrame(EventNotifyOutbid, OutbidPayload{
			AdID:    e.AdID,
			Title:   e.Title,
			YourBid: e.PreviousAmount,
			NewBid:  e.NewAmount,
		})
		if err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		return n.publish(IdentityRoom(e.Recipient), frame)

	case auction.AuctionClosed:
		// 全域廣播只帶id，讓列表頁把刊登標記為已結束
		closedFrame, err := newFrame(EventAdClosed, AdRefPayload{ID: e.AdID})
		if err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		if err := n.publish(BroadcastRoom, closedFrame); err != nil {
			return err
		}
		// 所有出過價的人都會收到個人通知
		notifyFrame, err := newFrame(EventNotifyAdClosed, AdClosedPayload{
			AdID:        e.AdID,
			Title:       e.Title,
			Brand:       e.Brand,
			Subcategory: e.Subcategory,
		})
		if err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		for _, bidder := range e.Bidders {
			if err := n.publish(IdentityRoom(bidder), notifyFrame); err != nil {
				return err
			}
		}
		return nil

	case auction.AuctionDeleted:
		frame, err := newFrame(EventAdDeleted, AdRefPayload{ID: e.AdID})
		if err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
		if err := n.publish(BroadcastRoom, frame); err != nil {
			return err
		}
		if n.cleanup != nil && len(e.Images) > 0 {
			if err := n.cleanup.Publish(ImageCleanupTask{AdID: e.AdID, Images: e.Images}); err != nil {
				return fmt.Errorf("[%s] Fail to enqueue image cleanup task, err=%w", op, err)
			}
		}
		return nil

	default:
		n.logger.Warn("Unknown event type, skipping", slog.Any("event", event))
		return nil
	}
}

func (n *EventNotifier) publish(room string, frame Frame) error {
	if err := n.hub.Publish(room, frame); err != nil {
		return fmt.Errorf("fail to publish %s to room %s, err=%w", frame.Event, room, err)
	}
	return nil
}
