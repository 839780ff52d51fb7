package domain

import "time"

// StockEventType 是库存变动事件的类型
type StockEventType string

const (
	StockEventAdded       StockEventType = "RESERVATION_ADDED"
	StockEventUpdated     StockEventType = "RESERVATION_UPDATED"
	StockEventRemoved     StockEventType = "RESERVATION_REMOVED"
	StockEventCartCleared StockEventType = "CART_CLEARED"
)

// StockEvent 在一次预约变更提交后对外广播。
// Reserved / Available 是提交后的快照，推送端可以直接展示，
// 不需要（也不应该）自己累加增量。
type StockEvent struct {
	EventID    string         `json:"event_id"`
	Type       StockEventType `json:"type"`
	ProductID  int64          `json:"product_id"`
	CartID     string         `json:"cart_id"`
	Reserved   int            `json:"reserved"`
	Available  int            `json:"available"`
	OccurredAt time.Time      `json:"occurred_at"`
}
