package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/internal/events"
	"github.com/swarmbot/gosim/pkg/config"
)

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionSize:  50000,
		StopLossPercent:  0.05,
		MaxPortfolioRisk: 0.20,
		StopLossInterval: config.Duration(2 * time.Second),
	}
}

func newTestManager(t *testing.T, mbus bus.MessageBus) *Manager {
	t.Helper()
	return NewManager("risk_manager_1", mbus, testConfig(), 1000000, []string{"trader_1", "trader_2"})
}

func feedPrice(t *testing.T, m *Manager, symbol string, price float64) {
	t.Helper()
	data, _ := json.Marshal(events.MarketUpdate{
		Type:   events.TypeMarketUpdate,
		Symbol: symbol,
		Close:  price,
	})
	if err := m.onMarketData(context.Background(), data); err != nil {
		t.Fatalf("行情处理失败: %v", err)
	}
}

func orderReq(side string, symbol string, qty int64) events.OrderRequest {
	return events.OrderRequest{
		Type:     events.TypeOrderRequest,
		OrderID:  "order-1",
		TraderID: "trader_1",
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
	}
}

func TestValidateRejectsWithoutMarketData(t *testing.T) {
	m := newTestManager(t, bus.NewLocalBus(16))

	approved, reason := m.validate(orderReq("BUY", "AAPL", 10))
	if approved {
		t.Fatal("无行情的订单不应批准")
	}
	if reason != "No market data available for symbol" {
		t.Errorf("拒绝原因错误: %q", reason)
	}
}

func TestValidateRejectsOversizedOrder(t *testing.T) {
	m := newTestManager(t, bus.NewLocalBus(16))
	feedPrice(t, m, "AAPL", 200)

	// 200 * 300 = 60000 > 50000
	approved, reason := m.validate(orderReq("BUY", "AAPL", 300))
	if approved {
		t.Fatal("超出单笔上限的订单不应批准")
	}
	want := fmt.Sprintf("Order value $%.2f exceeds max position size $%.2f", 60000.0, 50000.0)
	if reason != want {
		t.Errorf("拒绝原因错误: got %q, want %q", reason, want)
	}
}

func TestValidateRejectsInsufficientCash(t *testing.T) {
	m := newTestManager(t, bus.NewLocalBus(16))
	feedPrice(t, m, "AAPL", 100)

	// 影子现金初始为 1000000/2 = 500000，压到 30000 再下 40000 的买单
	m.mu.Lock()
	m.traderCash["trader_1"] = 30000
	m.mu.Unlock()

	approved, reason := m.validate(orderReq("BUY", "AAPL", 400))
	if approved {
		t.Fatal("现金不足的订单不应批准")
	}
	want := "Insufficient cash: need $40000.00, have $30000.00"
	if reason != want {
		t.Errorf("拒绝原因错误: got %q, want %q", reason, want)
	}
}

func TestValidateRejectsInsufficientShares(t *testing.T) {
	m := newTestManager(t, bus.NewLocalBus(16))
	feedPrice(t, m, "MSFT", 100)

	trade, _ := json.Marshal(events.TradeExecuted{
		Type: events.TypeTradeExecuted, TradeID: "t1", Symbol: "MSFT",
		Side: "BUY", Quantity: 20, ExecutionPrice: 100, TraderID: "trader_1",
	})
	if err := m.onTradeExecuted(context.Background(), trade); err != nil {
		t.Fatalf("成交处理失败: %v", err)
	}

	approved, reason := m.validate(orderReq("SELL", "MSFT", 50))
	if approved {
		t.Fatal("持仓不足的卖单不应批准")
	}
	want := "Insufficient shares: trying to sell 50, have 20"
	if reason != want {
		t.Errorf("拒绝原因错误: got %q, want %q", reason, want)
	}

	approved, reason = m.validate(orderReq("SELL", "AAPL", 1))
	if approved {
		t.Fatal("无持仓的卖单不应批准")
	}
	if reason != "No market data available for symbol" {
		t.Errorf("无行情应先于持仓检查命中: %q", reason)
	}
}

func TestValidateRejectsPortfolioRiskLimit(t *testing.T) {
	m := newTestManager(t, bus.NewLocalBus(16))
	feedPrice(t, m, "AAPL", 100)
	feedPrice(t, m, "MSFT", 100)

	// 两个交易员各买入 90000 市值，总敞口 180000，
	// 上限 0.20 * 1000000 = 200000，再加一笔 40000 的买单就越线
	for i, tid := range []string{"trader_1", "trader_2"} {
		trade, _ := json.Marshal(events.TradeExecuted{
			Type:           events.TypeTradeExecuted,
			TradeID:        fmt.Sprintf("t%d", i),
			Symbol:         "AAPL",
			Side:           "BUY",
			Quantity:       900,
			ExecutionPrice: 100,
			TraderID:       tid,
		})
		if err := m.onTradeExecuted(context.Background(), trade); err != nil {
			t.Fatalf("成交处理失败: %v", err)
		}
	}

	approved, reason := m.validate(orderReq("BUY", "MSFT", 400))
	if approved {
		t.Fatal("超出组合风险上限的订单不应批准")
	}
	want := fmt.Sprintf("Portfolio risk limit exceeded: $%.2f > $%.2f", 220000.0, 200000.0)
	if reason != want {
		t.Errorf("拒绝原因错误: got %q, want %q", reason, want)
	}
}

func TestValidateApprovesValidOrder(t *testing.T) {
	m := newTestManager(t, bus.NewLocalBus(16))
	feedPrice(t, m, "AAPL", 100)

	approved, reason := m.validate(orderReq("BUY", "AAPL", 100))
	if !approved {
		t.Fatalf("合规订单应批准, 原因: %q", reason)
	}
	if reason != "Order approved" {
		t.Errorf("批准原因错误: %q", reason)
	}
}

func TestValidateSeedsUnseenTraderWithEvenSplit(t *testing.T) {
	m := newTestManager(t, bus.NewLocalBus(16))
	feedPrice(t, m, "AAPL", 100)

	// 首次出现的交易员默认持有初始资金的均分份额（1000000 / 2）
	req := orderReq("BUY", "AAPL", 100)
	req.TraderID = "trader_99"
	approved, reason := m.validate(req)
	if !approved {
		t.Fatalf("未登记交易员的合规买单应按均分现金批准, 原因: %q", reason)
	}

	m.mu.Lock()
	cash := m.traderCash["trader_99"]
	m.mu.Unlock()
	if cash != 500000 {
		t.Errorf("首次观察应入账均分现金 500000, got %v", cash)
	}

	// 均分份额之上仍然受现金检查约束
	m.mu.Lock()
	m.traderCash["trader_99"] = 5000
	m.mu.Unlock()
	approved, reason = m.validate(req)
	if approved {
		t.Fatal("超出现金的买单不应批准")
	}
	if reason != "Insufficient cash: need $10000.00, have $5000.00" {
		t.Errorf("拒绝原因错误: %q", reason)
	}
}

func TestStopLossSweepPublishesAlert(t *testing.T) {
	mbus := bus.NewLocalBus(64)
	defer mbus.Close()

	var mu sync.Mutex
	var alerts []events.StopLossAlert
	err := mbus.Subscribe(events.TopicStopLossAlerts, func(_ context.Context, data []byte) error {
		var a events.StopLossAlert
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		mu.Lock()
		alerts = append(alerts, a)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("订阅失败: %v", err)
	}

	m := newTestManager(t, mbus)
	feedPrice(t, m, "NVDA", 100)

	trade, _ := json.Marshal(events.TradeExecuted{
		Type:           events.TypeTradeExecuted,
		TradeID:        "t1",
		Symbol:         "NVDA",
		Side:           "BUY",
		Quantity:       100,
		ExecutionPrice: 100,
		TraderID:       "trader_1",
	})
	if err := m.onTradeExecuted(context.Background(), trade); err != nil {
		t.Fatalf("成交处理失败: %v", err)
	}

	// 跌 4% 不触发，跌 6% 触发
	feedPrice(t, m, "NVDA", 96)
	m.sweepStopLoss(context.Background())
	feedPrice(t, m, "NVDA", 94)
	m.sweepStopLoss(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(alerts)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("未收到止损告警")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(alerts) != 1 {
		t.Fatalf("告警数量错误: got %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Symbol != "NVDA" || a.TraderID != "trader_1" {
		t.Errorf("告警字段错误: %+v", a)
	}
	if a.LossPercent < 0.059 || a.LossPercent > 0.061 {
		t.Errorf("亏损比例错误: %f", a.LossPercent)
	}
}
