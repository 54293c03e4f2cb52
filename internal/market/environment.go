// Package market 实现市场环境：模拟时钟、行情广播与订单撮合
// 时间按交易日离散推进，已批准订单在每个交易日末尾统一撮合
package market

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/internal/domain"
	"github.com/swarmbot/gosim/internal/events"
	"github.com/swarmbot/gosim/pkg/logger"
)

// Environment 市场环境
// 持有全部标的的历史K线，是行情与成交的唯一来源
type Environment struct {
	bus            bus.MessageBus
	log            *logrus.Entry
	commissionRate decimal.Decimal

	candles  map[string]map[time.Time]domain.Candle // symbol -> day -> candle
	timeline []time.Time

	mu      sync.Mutex
	cursor  int // timeline 中下一个要推进到的下标
	prices  map[string]float64
	pending []events.OrderApproved
}

// NewEnvironment 创建市场环境
// candles 按标的给出历史K线，时间轴取全部标的交易日的并集并排序
func NewEnvironment(mbus bus.MessageBus, candles map[string][]domain.Candle, commissionRate float64) *Environment {
	byDay := make(map[string]map[time.Time]domain.Candle, len(candles))
	daySet := make(map[time.Time]struct{})
	for symbol, list := range candles {
		m := make(map[time.Time]domain.Candle, len(list))
		for _, c := range list {
			day := c.Date()
			m[day] = c
			daySet[day] = struct{}{}
		}
		byDay[symbol] = m
	}

	timeline := make([]time.Time, 0, len(daySet))
	for day := range daySet {
		timeline = append(timeline, day)
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(timeline[j]) })

	return &Environment{
		bus:            mbus,
		log:            logger.WithField("component", "market"),
		commissionRate: decimal.NewFromFloat(commissionRate),
		candles:        byDay,
		timeline:       timeline,
		prices:         make(map[string]float64),
	}
}

// SetupSubscriptions 订阅已批准订单，进入撮合队列
func (e *Environment) SetupSubscriptions() error {
	return e.bus.Subscribe(events.TopicApprovedOrders, e.onOrderApproved)
}

// TradingDays 时间轴长度
func (e *Environment) TradingDays() int { return len(e.timeline) }

// CurrentDate 当前交易日；尚未推进时返回零值
func (e *Environment) CurrentDate() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor == 0 {
		return time.Time{}
	}
	return e.timeline[e.cursor-1]
}

// AdvanceTime 把时钟推进一个交易日并广播当日行情
// 时间轴耗尽时返回 false
func (e *Environment) AdvanceTime(ctx context.Context) bool {
	e.mu.Lock()
	if e.cursor >= len(e.timeline) {
		e.mu.Unlock()
		return false
	}
	day := e.timeline[e.cursor]
	e.cursor++

	var updates []events.MarketUpdate
	for symbol, byDay := range e.candles {
		candle, ok := byDay[day]
		if !ok {
			// 该标的当日停牌：价格沿用上一日，不再广播
			continue
		}
		e.prices[symbol] = candle.Close
		updates = append(updates, events.MarketUpdate{
			Type:      events.TypeMarketUpdate,
			Timestamp: day,
			Symbol:    symbol,
			Open:      candle.Open,
			High:      candle.High,
			Low:       candle.Low,
			Close:     candle.Close,
			Volume:    candle.Volume,
		})
	}
	e.mu.Unlock()

	sort.Slice(updates, func(i, j int) bool { return updates[i].Symbol < updates[j].Symbol })
	for _, u := range updates {
		if err := e.bus.Publish(ctx, events.TopicMarketData, u); err != nil {
			e.log.Errorf("广播行情失败 %s: %v", u.Symbol, err)
		}
	}

	e.log.Debugf("交易日 %s，广播 %d 个标的", day.Format("2006-01-02"), len(updates))
	return true
}

func (e *Environment) onOrderApproved(_ context.Context, data []byte) error {
	var msg events.OrderApproved
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	e.mu.Lock()
	e.pending = append(e.pending, msg)
	e.mu.Unlock()
	return nil
}

// ExecuteSweep 撮合全部待执行订单
// 无价格的订单跳过并保留，限价不满足的跳过并保留，其余按当日收盘价成交
func (e *Environment) ExecuteSweep(ctx context.Context) int {
	e.mu.Lock()
	queue := e.pending
	e.pending = nil

	var fills []events.TradeExecuted
	var keep []events.OrderApproved
	for _, order := range queue {
		price, ok := e.prices[order.Symbol]
		if !ok {
			keep = append(keep, order)
			continue
		}
		if order.Price != nil {
			if order.Side == string(domain.SideBuy) && price > *order.Price {
				keep = append(keep, order)
				continue
			}
			if order.Side == string(domain.SideSell) && price < *order.Price {
				keep = append(keep, order)
				continue
			}
		}

		execPrice := decimal.NewFromFloat(price)
		commission := execPrice.Mul(decimal.NewFromInt(order.Quantity)).Mul(e.commissionRate)
		fills = append(fills, events.TradeExecuted{
			Type:           events.TypeTradeExecuted,
			TradeID:        uuid.NewString(),
			OrderID:        order.OrderID,
			Symbol:         order.Symbol,
			Side:           order.Side,
			Quantity:       order.Quantity,
			ExecutionPrice: price,
			Commission:     commission.InexactFloat64(),
			Timestamp:      time.Now(),
			TraderID:       order.TraderID,
		})
	}
	e.pending = append(e.pending, keep...)
	e.mu.Unlock()

	for _, fill := range fills {
		if err := e.bus.Publish(ctx, events.TopicTrades, fill); err != nil {
			e.log.Errorf("广播成交失败 %s: %v", fill.TradeID, err)
		}
	}
	return len(fills)
}

// CancelPending 撤销全部未成交订单，返回撤销数量
// 模拟结束时调用，保证没有订单停留在中间状态
func (e *Environment) CancelPending() []events.OrderApproved {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancelled := e.pending
	e.pending = nil
	if len(cancelled) > 0 {
		e.log.Infof("模拟结束，撤销 %d 笔未成交订单", len(cancelled))
	}
	return cancelled
}

// PendingCount 待撮合订单数
func (e *Environment) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// GetCurrentPrice 某标的最新价格
func (e *Environment) GetCurrentPrice(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.prices[symbol]
	return price, ok
}

// GetAllCurrentPrices 全部标的最新价格的副本
func (e *Environment) GetAllCurrentPrices() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.prices))
	for k, v := range e.prices {
		out[k] = v
	}
	return out
}
