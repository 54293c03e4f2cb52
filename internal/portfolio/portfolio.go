// Package portfolio 实现单个交易员独占的资金与持仓账本
// 账本只能被其所有者修改，其他组件只能通过消息观察到结果
package portfolio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/swarmbot/gosim/internal/domain"
)

var (
	// ErrInsufficientFunds 现金不足，买入未入账
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientShares 持仓不足，卖出未入账
	ErrInsufficientShares = errors.New("insufficient shares")
)

// Summary 账本快照（纯读取，无副作用）
type Summary struct {
	Cash           float64 `json:"cash"`
	PositionsCount int     `json:"positions_count"`
	PositionsValue float64 `json:"positions_value"`
	TotalValue     float64 `json:"total_value"`
	RealizedPnL    float64 `json:"realized_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	TotalPnL       float64 `json:"total_pnl"`
	TotalReturnPct float64 `json:"total_return_pct"`
	TradesCount    int     `json:"trades_count"`
}

// Ledger 资金与持仓账本
// 金额全部使用 decimal，保证
// totalValue - initialCash == realizedPnL + unrealizedPnL 严格成立
type Ledger struct {
	mu sync.Mutex

	initialCash decimal.Decimal
	cash        decimal.Decimal
	positions   map[string]*domain.Position
	realizedPnL decimal.Decimal
	history     []domain.Trade
}

// NewLedger 创建账本
func NewLedger(initialCash float64) *Ledger {
	cash := decimal.NewFromFloat(initialCash)
	return &Ledger{
		initialCash: cash,
		cash:        cash,
		positions:   make(map[string]*domain.Position),
	}
}

// ApplyFill 把一笔成交入账
// 买入要求 cash ≥ 成交金额+手续费，卖出要求持仓数量足够；
// 校验失败时账本保持不变
func (l *Ledger) ApplyFill(trade domain.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch trade.Side {
	case domain.SideBuy:
		return l.applyBuy(trade)
	case domain.SideSell:
		return l.applySell(trade)
	default:
		return fmt.Errorf("未知订单方向 %q（trade=%s）", trade.Side, trade.ID)
	}
}

func (l *Ledger) applyBuy(trade domain.Trade) error {
	cost := trade.BuyCost()
	if cost.GreaterThan(l.cash) {
		return fmt.Errorf("%w: 需要 %s，现金 %s", ErrInsufficientFunds, cost, l.cash)
	}

	l.cash = l.cash.Sub(cost)
	qty := decimal.NewFromInt(trade.Quantity)

	if pos, ok := l.positions[trade.Symbol]; ok {
		// 加权平均成本：(旧成本*旧数量 + 成交价*成交数量) / 新数量
		oldQty := decimal.NewFromInt(pos.Quantity)
		newQty := oldQty.Add(qty)
		basis := pos.AvgCost.Mul(oldQty).Add(trade.ExecutionPrice.Mul(qty))
		pos.Quantity += trade.Quantity
		pos.AvgCost = basis.Div(newQty)
		pos.CurrentPrice = trade.ExecutionPrice
	} else {
		l.positions[trade.Symbol] = &domain.Position{
			Symbol:       trade.Symbol,
			Quantity:     trade.Quantity,
			AvgCost:      trade.ExecutionPrice,
			CurrentPrice: trade.ExecutionPrice,
		}
	}

	l.history = append(l.history, trade)
	return nil
}

func (l *Ledger) applySell(trade domain.Trade) error {
	pos, ok := l.positions[trade.Symbol]
	if !ok {
		return fmt.Errorf("%w: %s 无持仓", ErrInsufficientShares, trade.Symbol)
	}
	if trade.Quantity > pos.Quantity {
		return fmt.Errorf("%w: 试图卖出 %d，持有 %d", ErrInsufficientShares, trade.Quantity, pos.Quantity)
	}

	l.cash = l.cash.Add(trade.SellProceeds())

	// 卖出只实现盈亏，不改变平均成本
	qty := decimal.NewFromInt(trade.Quantity)
	pnl := trade.ExecutionPrice.Sub(pos.AvgCost).Mul(qty)
	l.realizedPnL = l.realizedPnL.Add(pnl)

	pos.Quantity -= trade.Quantity
	if pos.Quantity == 0 {
		delete(l.positions, trade.Symbol)
	} else {
		pos.CurrentPrice = trade.ExecutionPrice
	}

	l.history = append(l.history, trade)
	return nil
}

// UpdatePrice 刷新某个持仓的最新价格
func (l *Ledger) UpdatePrice(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[symbol]; ok {
		pos.UpdatePrice(decimal.NewFromFloat(price))
	}
}

// UpdateAllPrices 批量刷新持仓价格
func (l *Ledger) UpdateAllPrices(prices map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for symbol, price := range prices {
		if pos, ok := l.positions[symbol]; ok {
			pos.UpdatePrice(decimal.NewFromFloat(price))
		}
	}
}

// Cash 当前现金
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// RealizedPnL 已实现盈亏
func (l *Ledger) RealizedPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realizedPnL
}

// UnrealizedPnL 全部持仓的浮动盈亏之和
func (l *Ledger) UnrealizedPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unrealizedLocked()
}

func (l *Ledger) unrealizedLocked() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range l.positions {
		total = total.Add(pos.UnrealizedPnL())
	}
	return total
}

// Position 返回某标的持仓的副本
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// PositionQuantity 某标的当前持仓数量（无持仓返回 0）
func (l *Ledger) PositionQuantity(symbol string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[symbol]; ok {
		return pos.Quantity
	}
	return 0
}

// TotalValue 组合总值 = 现金 + Σ 持仓市值
// priceOverrides 非 nil 时用给定报价计算，但不修改账本内存储的价格
func (l *Ledger) TotalValue(priceOverrides map[string]float64) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.cash
	for symbol, pos := range l.positions {
		price := pos.CurrentPrice
		if priceOverrides != nil {
			if p, ok := priceOverrides[symbol]; ok {
				price = decimal.NewFromFloat(p)
			}
		}
		total = total.Add(price.Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return total
}

// Trades 成交历史的副本（历史本身不可变）
func (l *Ledger) Trades() []domain.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Trade, len(l.history))
	copy(out, l.history)
	return out
}

// Summary 账本快照
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	positionsValue := decimal.Zero
	for _, pos := range l.positions {
		positionsValue = positionsValue.Add(pos.MarketValue())
	}
	totalValue := l.cash.Add(positionsValue)
	unrealized := l.unrealizedLocked()
	totalPnL := l.realizedPnL.Add(unrealized)

	returnPct := decimal.Zero
	if !l.initialCash.IsZero() {
		returnPct = totalValue.Sub(l.initialCash).Div(l.initialCash).Mul(decimal.NewFromInt(100))
	}

	return Summary{
		Cash:           l.cash.InexactFloat64(),
		PositionsCount: len(l.positions),
		PositionsValue: positionsValue.InexactFloat64(),
		TotalValue:     totalValue.InexactFloat64(),
		RealizedPnL:    l.realizedPnL.InexactFloat64(),
		UnrealizedPnL:  unrealized.InexactFloat64(),
		TotalPnL:       totalPnL.InexactFloat64(),
		TotalReturnPct: returnPct.InexactFloat64(),
		TradesCount:    len(l.history),
	}
}
