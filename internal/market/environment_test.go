package market

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/internal/domain"
	"github.com/swarmbot/gosim/internal/events"
)

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func candle(date string, close float64) domain.Candle {
	return domain.Candle{
		Timestamp: day(date),
		Open:      close - 1,
		High:      close + 1,
		Low:       close - 2,
		Close:     close,
		Volume:    1000,
	}
}

type collector struct {
	mu     sync.Mutex
	trades []events.TradeExecuted
	market []events.MarketUpdate
}

func (c *collector) subscribe(t *testing.T, mbus bus.MessageBus) {
	t.Helper()
	err := mbus.Subscribe(events.TopicTrades, func(_ context.Context, data []byte) error {
		var msg events.TradeExecuted
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		c.mu.Lock()
		c.trades = append(c.trades, msg)
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("订阅成交失败: %v", err)
	}
	err = mbus.Subscribe(events.TopicMarketData, func(_ context.Context, data []byte) error {
		var msg events.MarketUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		c.mu.Lock()
		c.market = append(c.market, msg)
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("订阅行情失败: %v", err)
	}
}

func (c *collector) waitTrades(t *testing.T, n int) []events.TradeExecuted {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		got := len(c.trades)
		c.mu.Unlock()
		if got >= n {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("等待 %d 笔成交超时，收到 %d", n, got)
		case <-time.After(5 * time.Millisecond):
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.TradeExecuted, len(c.trades))
	copy(out, c.trades)
	return out
}

func TestAdvanceTimeBroadcastsAndStops(t *testing.T) {
	mbus := bus.NewLocalBus(64)
	defer mbus.Close()

	c := &collector{}
	c.subscribe(t, mbus)

	env := NewEnvironment(mbus, map[string][]domain.Candle{
		"AAPL": {candle("2024-01-02", 100), candle("2024-01-03", 102)},
		"MSFT": {candle("2024-01-02", 300)},
	}, 0.001)

	if env.TradingDays() != 2 {
		t.Fatalf("时间轴长度错误: %d", env.TradingDays())
	}

	ctx := context.Background()
	if !env.AdvanceTime(ctx) {
		t.Fatal("第一天推进失败")
	}
	if !env.AdvanceTime(ctx) {
		t.Fatal("第二天推进失败")
	}
	if env.AdvanceTime(ctx) {
		t.Fatal("时间轴耗尽后仍在推进")
	}

	// 第二天 MSFT 停牌，不重复广播，但价格保留
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		n := len(c.market)
		c.mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("行情广播不足")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if price, ok := env.GetCurrentPrice("MSFT"); !ok || price != 300 {
		t.Errorf("停牌标的价格应保留: %v %v", price, ok)
	}
	if price, _ := env.GetCurrentPrice("AAPL"); price != 102 {
		t.Errorf("AAPL 价格应为最新收盘价: %v", price)
	}
}

func TestExecuteSweepFillsAtClose(t *testing.T) {
	mbus := bus.NewLocalBus(64)
	defer mbus.Close()

	c := &collector{}
	c.subscribe(t, mbus)

	env := NewEnvironment(mbus, map[string][]domain.Candle{
		"AAPL": {candle("2024-01-02", 100)},
	}, 0.001)
	if err := env.SetupSubscriptions(); err != nil {
		t.Fatalf("订阅失败: %v", err)
	}

	ctx := context.Background()
	env.AdvanceTime(ctx)

	if err := mbus.Publish(ctx, events.TopicApprovedOrders, events.OrderApproved{
		Type:     events.TypeOrderApproved,
		OrderID:  "o1",
		TraderID: "trader_1",
		Symbol:   "AAPL",
		Side:     "BUY",
		Quantity: 50,
	}); err != nil {
		t.Fatalf("发布订单失败: %v", err)
	}

	// 等订单进入队列后再撮合
	deadline := time.After(2 * time.Second)
	for env.PendingCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("订单未进入撮合队列")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if n := env.ExecuteSweep(ctx); n != 1 {
		t.Fatalf("应成交 1 笔, got %d", n)
	}
	trades := c.waitTrades(t, 1)
	tr := trades[0]
	if tr.ExecutionPrice != 100 {
		t.Errorf("成交价错误: %v", tr.ExecutionPrice)
	}
	// 100 * 50 * 0.001 = 5
	if tr.Commission != 5 {
		t.Errorf("手续费错误: %v", tr.Commission)
	}
	if tr.TradeID == "" || tr.OrderID != "o1" {
		t.Errorf("成交标识错误: %+v", tr)
	}
	if env.PendingCount() != 0 {
		t.Error("成交后队列应为空")
	}
}

func TestExecuteSweepHonorsLimitPrice(t *testing.T) {
	mbus := bus.NewLocalBus(64)
	defer mbus.Close()

	env := NewEnvironment(mbus, map[string][]domain.Candle{
		"AAPL": {candle("2024-01-02", 100)},
	}, 0.001)

	ctx := context.Background()
	env.AdvanceTime(ctx)

	limit := 95.0
	env.pending = append(env.pending, events.OrderApproved{
		OrderID: "o1", TraderID: "trader_1", Symbol: "AAPL",
		Side: "BUY", Quantity: 10, Price: &limit,
	})

	// 收盘价 100 高于买入限价 95，不成交也不丢弃
	if n := env.ExecuteSweep(ctx); n != 0 {
		t.Fatalf("限价不满足不应成交, got %d", n)
	}
	if env.PendingCount() != 1 {
		t.Error("限价不满足的订单应保留在队列中")
	}

	cancelled := env.CancelPending()
	if len(cancelled) != 1 || cancelled[0].OrderID != "o1" {
		t.Errorf("撤单结果错误: %+v", cancelled)
	}
	if env.PendingCount() != 0 {
		t.Error("撤单后队列应为空")
	}
}
