package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade 成交记录，创建后不可变
// 一笔完全成交的订单恰好对应一条 Trade（无部分成交）
type Trade struct {
	ID             string
	ExecutedAt     time.Time
	OrderID        string
	Symbol         string
	Side           OrderSide
	Quantity       int64
	ExecutionPrice decimal.Decimal
	Commission     decimal.Decimal
	TraderID       string
}

// GrossAmount 成交金额（不含手续费）
func (t Trade) GrossAmount() decimal.Decimal {
	return t.ExecutionPrice.Mul(decimal.NewFromInt(t.Quantity))
}

// BuyCost 买入需要的现金：成交金额 + 手续费
func (t Trade) BuyCost() decimal.Decimal {
	return t.GrossAmount().Add(t.Commission)
}

// SellProceeds 卖出到手的现金：成交金额 - 手续费
func (t Trade) SellProceeds() decimal.Decimal {
	return t.GrossAmount().Sub(t.Commission)
}
