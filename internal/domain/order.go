package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition 非法的订单状态迁移
var ErrInvalidTransition = errors.New("invalid order status transition")

// OrderSide 订单方向
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus 订单状态
//
// 状态机：PENDING → APPROVED → EXECUTED
//        PENDING → REJECTED（终态）
//        APPROVED → CANCELLED（终态，例如当日无可用价格）
// 每条边最多走一次，终态之后不允许任何迁移
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusApproved  OrderStatus = "APPROVED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusExecuted  OrderStatus = "EXECUTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal 是否为终态
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusRejected || s == OrderStatusExecuted || s == OrderStatusCancelled
}

// Order 订单领域模型
type Order struct {
	ID              string
	CreatedAt       time.Time
	TraderID        string
	Symbol          string
	Side            OrderSide
	Quantity        int64       // 股数，必须为正
	LimitPrice      *float64    // 限价（可选，nil 表示市价）
	Status          OrderStatus
	SignalID        string // 触发该订单的信号 ID（可选）
	RejectionReason string
}

// Approve PENDING → APPROVED
func (o *Order) Approve() error {
	if o.Status != OrderStatusPending {
		return fmt.Errorf("%w: %s → APPROVED", ErrInvalidTransition, o.Status)
	}
	o.Status = OrderStatusApproved
	return nil
}

// Reject PENDING → REJECTED（终态），并记录拒绝原因
func (o *Order) Reject(reason string) error {
	if o.Status != OrderStatusPending {
		return fmt.Errorf("%w: %s → REJECTED", ErrInvalidTransition, o.Status)
	}
	o.Status = OrderStatusRejected
	o.RejectionReason = reason
	return nil
}

// Execute APPROVED → EXECUTED（终态）
func (o *Order) Execute() error {
	if o.Status != OrderStatusApproved {
		return fmt.Errorf("%w: %s → EXECUTED", ErrInvalidTransition, o.Status)
	}
	o.Status = OrderStatusExecuted
	return nil
}

// Cancel APPROVED → CANCELLED（终态）
func (o *Order) Cancel() error {
	if o.Status != OrderStatusApproved {
		return fmt.Errorf("%w: %s → CANCELLED", ErrInvalidTransition, o.Status)
	}
	o.Status = OrderStatusCancelled
	return nil
}

// IsResolved 订单是否已离开 PENDING（已有风控结论）
func (o *Order) IsResolved() bool {
	return o.Status != OrderStatusPending
}
