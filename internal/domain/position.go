package domain

import (
	"github.com/shopspring/decimal"
)

// Position 持仓
// 数量为 0 的持仓不保留（由账本负责删除）
type Position struct {
	Symbol       string
	Quantity     int64
	AvgCost      decimal.Decimal // 加权平均成本
	CurrentPrice decimal.Decimal // 最近观察到的价格
}

// UpdatePrice 更新最新价格
func (p *Position) UpdatePrice(price decimal.Decimal) {
	p.CurrentPrice = price
}

// MarketValue 持仓市值 = 数量 * 最新价
func (p *Position) MarketValue() decimal.Decimal {
	return p.CurrentPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL 浮动盈亏 = (最新价 - 平均成本) * 数量
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.CurrentPrice.Sub(p.AvgCost).Mul(decimal.NewFromInt(p.Quantity))
}
