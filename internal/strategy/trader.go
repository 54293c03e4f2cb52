package strategy

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swarmbot/gosim/internal/agent"
	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/internal/domain"
	"github.com/swarmbot/gosim/internal/events"
	"github.com/swarmbot/gosim/internal/portfolio"
	"github.com/swarmbot/gosim/pkg/config"
)

// 下单时围绕最新价留出的限价余量
const limitSlippage = 0.01

// Trader 交易员
// 独占一个账本；订单状态机保证风控结论和成交各只生效一次
type Trader struct {
	*agent.Base

	cfg    config.TraderConfig
	ledger *portfolio.Ledger

	mu      sync.Mutex
	prices  map[string]float64
	pending map[string]*domain.Order
}

// NewTrader 创建交易员
func NewTrader(id string, mbus bus.MessageBus, cfg config.TraderConfig, initialCash float64) *Trader {
	return &Trader{
		Base:    agent.NewBase(id, mbus),
		cfg:     cfg,
		ledger:  portfolio.NewLedger(initialCash),
		prices:  make(map[string]float64),
		pending: make(map[string]*domain.Order),
	}
}

// Ledger 交易员的账本（只读用途：汇总快照、期末报告）
func (t *Trader) Ledger() *portfolio.Ledger { return t.ledger }

// Start 启动交易员
func (t *Trader) Start(ctx context.Context) error {
	return t.StartRole(ctx, t)
}

// SetupSubscriptions 实现 agent.Role
func (t *Trader) SetupSubscriptions() error {
	t.Subscribe(events.TopicMarketData, t.onMarketData)
	t.Subscribe(events.TopicSignals, t.onSignal)
	t.Subscribe(events.TopicRiskDecisions, t.onRiskDecision)
	t.Subscribe(events.TopicTrades, t.onTradeExecuted)
	t.Subscribe(events.TopicStopLossAlerts, t.onStopLoss)
	return nil
}

// Loop 实现 agent.Role：交易员纯事件驱动
func (t *Trader) Loop(ctx context.Context) {
	<-ctx.Done()
}

func (t *Trader) onMarketData(_ context.Context, data []byte) error {
	if events.PeekType(data) != events.TypeMarketUpdate {
		return nil
	}
	var msg events.MarketUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	t.mu.Lock()
	t.prices[msg.Symbol] = msg.Close
	t.mu.Unlock()
	t.ledger.UpdatePrice(msg.Symbol, msg.Close)
	return nil
}

func (t *Trader) onSignal(ctx context.Context, data []byte) error {
	if events.PeekType(data) != events.TypeSignal {
		return nil
	}
	var sig events.SignalMessage
	if err := json.Unmarshal(data, &sig); err != nil {
		return err
	}
	if sig.Confidence < t.cfg.MinConfidence {
		return nil
	}

	t.mu.Lock()
	price, havePrice := t.prices[sig.Symbol]
	t.mu.Unlock()
	if !havePrice || price <= 0 {
		return nil
	}

	var order *domain.Order
	switch domain.SignalType(sig.SignalType) {
	case domain.SignalBullish:
		if sig.Confidence <= t.cfg.ActThreshold {
			return nil
		}
		order = t.buildBuyOrder(sig, price)
	case domain.SignalBearish:
		if sig.Confidence <= t.cfg.ActThreshold {
			return nil
		}
		order = t.buildSellOrder(sig, price)
	default:
		return nil
	}
	if order == nil {
		return nil
	}
	t.submitOrder(ctx, order)
	return nil
}

func (t *Trader) submitOrder(ctx context.Context, order *domain.Order) {
	t.mu.Lock()
	t.pending[order.ID] = order
	t.mu.Unlock()

	t.Publish(ctx, events.TopicOrders, events.OrderRequest{
		Type:      events.TypeOrderRequest,
		OrderID:   order.ID,
		Timestamp: order.CreatedAt,
		TraderID:  t.ID(),
		Symbol:    order.Symbol,
		Side:      string(order.Side),
		Quantity:  order.Quantity,
		Price:     order.LimitPrice,
		SignalID:  order.SignalID,
	})
	t.Log().Debugf("下单 %s %s %d 股 %s", order.Side, order.Symbol, order.Quantity, order.ID)
}

// onStopLoss 止损告警是建议，交易员的策略是清仓止损
// 市价单提交、重新走完整的风控审批流程，而不是绕过它
func (t *Trader) onStopLoss(ctx context.Context, data []byte) error {
	var alert events.StopLossAlert
	if err := json.Unmarshal(data, &alert); err != nil {
		return err
	}
	if alert.TraderID != t.ID() {
		return nil
	}
	held := t.ledger.PositionQuantity(alert.Symbol)
	if held <= 0 {
		return nil
	}

	// 该标的已有在途订单时不追加，避免同一告警周期重复清仓
	t.mu.Lock()
	for _, o := range t.pending {
		if o.Symbol == alert.Symbol {
			t.mu.Unlock()
			return nil
		}
	}
	t.mu.Unlock()

	t.Log().Warnf("止损触发 %s：亏损 %.1f%%，清仓 %d 股", alert.Symbol, alert.LossPercent*100, held)
	t.submitOrder(ctx, &domain.Order{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		TraderID:  t.ID(),
		Symbol:    alert.Symbol,
		Side:      domain.SideSell,
		Quantity:  held,
		Status:    domain.OrderStatusPending,
	})
	return nil
}

// buildBuyOrder 看多：现有持仓市值未到上限时加仓
// 仓位 = min(现金的 10%, 上限的 30%)，限价放宽 1%
func (t *Trader) buildBuyOrder(sig events.SignalMessage, price float64) *domain.Order {
	held := t.ledger.PositionQuantity(sig.Symbol)
	if float64(held)*price >= t.cfg.MaxPositionValue {
		return nil
	}

	cash := t.ledger.Cash().InexactFloat64()
	budget := math.Min(cash*0.1, t.cfg.MaxPositionValue*0.3)
	qty := int64(budget / price)
	if qty <= 0 {
		return nil
	}

	limit := price * (1 + limitSlippage)
	return t.newOrder(sig, domain.SideBuy, qty, limit)
}

// buildSellOrder 看空：减掉一半持仓（至少 1 股），限价放宽 1%
func (t *Trader) buildSellOrder(sig events.SignalMessage, price float64) *domain.Order {
	held := t.ledger.PositionQuantity(sig.Symbol)
	if held <= 0 {
		return nil
	}

	qty := held / 2
	if qty < 1 {
		qty = 1
	}
	limit := price * (1 - limitSlippage)
	return t.newOrder(sig, domain.SideSell, qty, limit)
}

func (t *Trader) newOrder(sig events.SignalMessage, side domain.OrderSide, qty int64, limit float64) *domain.Order {
	return &domain.Order{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now(),
		TraderID:   t.ID(),
		Symbol:     sig.Symbol,
		Side:       side,
		Quantity:   qty,
		LimitPrice: &limit,
		Status:     domain.OrderStatusPending,
		SignalID:   sig.SignalID,
	}
}

func (t *Trader) onRiskDecision(ctx context.Context, data []byte) error {
	var decision events.RiskDecision
	if err := json.Unmarshal(data, &decision); err != nil {
		return err
	}

	t.mu.Lock()
	order, mine := t.pending[decision.OrderID]
	t.mu.Unlock()
	if !mine {
		return nil
	}
	// 重复结论（多个风控实例）只认第一条
	if order.IsResolved() {
		return nil
	}

	if !decision.Approved {
		if err := order.Reject(decision.Reason); err != nil {
			return err
		}
		t.mu.Lock()
		delete(t.pending, order.ID)
		t.mu.Unlock()
		t.Log().Infof("订单 %s 被拒绝: %s", order.ID, decision.Reason)
		return nil
	}

	if err := order.Approve(); err != nil {
		return err
	}
	t.Publish(ctx, events.TopicApprovedOrders, events.OrderApproved{
		Type:      events.TypeOrderApproved,
		OrderID:   order.ID,
		TraderID:  t.ID(),
		Symbol:    order.Symbol,
		Side:      string(order.Side),
		Quantity:  order.Quantity,
		Price:     order.LimitPrice,
		Timestamp: time.Now(),
	})
	return nil
}

func (t *Trader) onTradeExecuted(_ context.Context, data []byte) error {
	var msg events.TradeExecuted
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.TraderID != t.ID() {
		return nil
	}

	t.mu.Lock()
	order, mine := t.pending[msg.OrderID]
	if mine {
		delete(t.pending, msg.OrderID)
	}
	t.mu.Unlock()
	if !mine {
		// 重复成交广播：订单已出队，不再入账
		return nil
	}
	if err := order.Execute(); err != nil {
		return err
	}

	trade := domain.Trade{
		ID:             msg.TradeID,
		ExecutedAt:     msg.Timestamp,
		OrderID:        msg.OrderID,
		Symbol:         msg.Symbol,
		Side:           domain.OrderSide(msg.Side),
		Quantity:       msg.Quantity,
		ExecutionPrice: decimal.NewFromFloat(msg.ExecutionPrice),
		Commission:     decimal.NewFromFloat(msg.Commission),
		TraderID:       msg.TraderID,
	}
	if err := t.ledger.ApplyFill(trade); err != nil {
		t.Log().Errorf("成交入账失败 %s: %v", msg.TradeID, err)
		return err
	}
	t.Log().Infof("成交 %s %s %d 股 @ %.2f", msg.Side, msg.Symbol, msg.Quantity, msg.ExecutionPrice)
	return nil
}

// CancelOutstanding 把仍未成交的订单全部标记为撤销
// 模拟结束时由编排器调用
func (t *Trader) CancelOutstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, order := range t.pending {
		if order.Status == domain.OrderStatusApproved {
			_ = order.Cancel()
		}
		delete(t.pending, id)
		n++
	}
	return n
}
