package portfolio

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/swarmbot/gosim/internal/domain"
)

func fill(side domain.OrderSide, symbol string, qty int64, price float64) domain.Trade {
	p := decimal.NewFromFloat(price)
	gross := p.Mul(decimal.NewFromInt(qty))
	return domain.Trade{
		ID:             "t-" + symbol,
		Symbol:         symbol,
		Side:           side,
		Quantity:       qty,
		ExecutionPrice: p,
		Commission:     gross.Mul(decimal.NewFromFloat(0.001)),
		TraderID:       "trader_1",
	}
}

func TestApplyFillBuyWeightedAvgCost(t *testing.T) {
	l := NewLedger(100000)

	if err := l.ApplyFill(fill(domain.SideBuy, "AAPL", 100, 10)); err != nil {
		t.Fatalf("首次买入不应失败: %v", err)
	}
	if err := l.ApplyFill(fill(domain.SideBuy, "AAPL", 100, 20)); err != nil {
		t.Fatalf("二次买入不应失败: %v", err)
	}

	pos, ok := l.Position("AAPL")
	if !ok {
		t.Fatal("买入后应有持仓")
	}
	if pos.Quantity != 200 {
		t.Errorf("持仓数量错误: got %d, want 200", pos.Quantity)
	}
	// (10*100 + 20*100) / 200 = 15
	if !pos.AvgCost.Equal(decimal.NewFromInt(15)) {
		t.Errorf("平均成本错误: got %s, want 15", pos.AvgCost)
	}
}

func TestApplyFillSellRealizesPnL(t *testing.T) {
	l := NewLedger(100000)

	if err := l.ApplyFill(fill(domain.SideBuy, "MSFT", 100, 50)); err != nil {
		t.Fatalf("买入失败: %v", err)
	}
	if err := l.ApplyFill(fill(domain.SideSell, "MSFT", 40, 60)); err != nil {
		t.Fatalf("卖出失败: %v", err)
	}

	// (60-50)*40 = 400
	if !l.RealizedPnL().Equal(decimal.NewFromInt(400)) {
		t.Errorf("已实现盈亏错误: got %s, want 400", l.RealizedPnL())
	}
	pos, _ := l.Position("MSFT")
	if pos.Quantity != 60 {
		t.Errorf("剩余持仓错误: got %d, want 60", pos.Quantity)
	}
	// 卖出不改变平均成本
	if !pos.AvgCost.Equal(decimal.NewFromInt(50)) {
		t.Errorf("卖出后平均成本应保持 50, got %s", pos.AvgCost)
	}

	if err := l.ApplyFill(fill(domain.SideSell, "MSFT", 60, 55)); err != nil {
		t.Fatalf("清仓失败: %v", err)
	}
	if _, ok := l.Position("MSFT"); ok {
		t.Error("数量归零的持仓应被移除")
	}
}

func TestApplyFillRejectsInsufficientFunds(t *testing.T) {
	l := NewLedger(1000)
	cashBefore := l.Cash()

	err := l.ApplyFill(fill(domain.SideBuy, "GOOG", 100, 50))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("应返回 ErrInsufficientFunds, got %v", err)
	}
	if !l.Cash().Equal(cashBefore) {
		t.Error("失败的成交不应改变现金")
	}
	if len(l.Trades()) != 0 {
		t.Error("失败的成交不应进入历史")
	}
}

func TestApplyFillRejectsInsufficientShares(t *testing.T) {
	l := NewLedger(100000)
	if err := l.ApplyFill(fill(domain.SideBuy, "NVDA", 10, 100)); err != nil {
		t.Fatalf("买入失败: %v", err)
	}

	err := l.ApplyFill(fill(domain.SideSell, "NVDA", 20, 110))
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("应返回 ErrInsufficientShares, got %v", err)
	}
	err = l.ApplyFill(fill(domain.SideSell, "TSLA", 1, 100))
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("卖出无持仓标的应返回 ErrInsufficientShares, got %v", err)
	}
}

func TestPnLRoundTripInvariant(t *testing.T) {
	l := NewLedger(1000000)

	fills := []domain.Trade{
		fill(domain.SideBuy, "AAPL", 300, 150),
		fill(domain.SideBuy, "MSFT", 200, 280),
		fill(domain.SideSell, "AAPL", 120, 161.5),
		fill(domain.SideBuy, "AAPL", 50, 158),
		fill(domain.SideSell, "MSFT", 200, 273.25),
	}
	for i, tr := range fills {
		if err := l.ApplyFill(tr); err != nil {
			t.Fatalf("第 %d 笔成交失败: %v", i, err)
		}
	}

	s := l.Summary()
	commissions := decimal.Zero
	for _, tr := range l.Trades() {
		commissions = commissions.Add(tr.Commission)
	}

	// 总值 - 初始资金 == 已实现 + 浮动 - 累计手续费（decimal 下严格相等）
	left := l.TotalValue(nil).Sub(decimal.NewFromInt(1000000))
	right := l.RealizedPnL().Add(l.UnrealizedPnL()).Sub(commissions)
	if !left.Equal(right) {
		t.Errorf("盈亏闭环不成立: %s != %s", left, right)
	}
	if s.TradesCount != len(fills) {
		t.Errorf("成交计数错误: got %d, want %d", s.TradesCount, len(fills))
	}
}
