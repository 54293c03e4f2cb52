// Package risk 实现风控管理员
// 订单在进入撮合前必须经过固定顺序的五项检查，
// 风控同时维护一份影子账本用于事前校验和止损巡检
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/swarmbot/gosim/internal/agent"
	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/internal/domain"
	"github.com/swarmbot/gosim/internal/events"
	"github.com/swarmbot/gosim/pkg/config"
)

const (
	reasonApproved          = "Order approved"
	reasonNoMarketData      = "No market data available for symbol"
	reasonMaxPositionSize   = "Order value $%.2f exceeds max position size $%.2f"
	reasonInsufficientCash  = "Insufficient cash: need $%.2f, have $%.2f"
	reasonInsufficientShare = "Insufficient shares: trying to sell %d, have %d"
	reasonPortfolioRisk     = "Portfolio risk limit exceeded: $%.2f > $%.2f"
)

// shadowPosition 影子持仓，用浮点近似即可：精确账目在交易员账本中
type shadowPosition struct {
	quantity int64
	avgCost  float64
}

// Manager 风控管理员
type Manager struct {
	*agent.Base

	cfg          config.RiskConfig
	totalCapital float64
	defaultCash  float64

	mu         sync.Mutex
	prices     map[string]float64
	traderCash map[string]float64
	positions  map[string]*shadowPosition // key: traderID_symbol
}

// NewManager 创建风控管理员
// traderIDs 用于初始化影子现金：初始资金均分给每个交易员
func NewManager(id string, mbus bus.MessageBus, cfg config.RiskConfig, initialCash float64, traderIDs []string) *Manager {
	perTrader := initialCash / 4
	if len(traderIDs) > 0 {
		perTrader = initialCash / float64(len(traderIDs))
	}
	cash := make(map[string]float64, len(traderIDs))
	for _, tid := range traderIDs {
		cash[tid] = perTrader
	}
	return &Manager{
		Base:         agent.NewBase(id, mbus),
		cfg:          cfg,
		totalCapital: initialCash,
		defaultCash:  perTrader,
		prices:       make(map[string]float64),
		traderCash:   cash,
		positions:    make(map[string]*shadowPosition),
	}
}

// Start 挂载订阅并启动止损巡检
func (m *Manager) Start(ctx context.Context) error {
	return m.StartRole(ctx, m)
}

// SetupSubscriptions 实现 agent.Role
func (m *Manager) SetupSubscriptions() error {
	m.Subscribe(events.TopicMarketData, m.onMarketData)
	m.Subscribe(events.TopicOrders, m.onOrderRequest)
	m.Subscribe(events.TopicTrades, m.onTradeExecuted)
	return nil
}

// Loop 实现 agent.Role：周期执行止损巡检
func (m *Manager) Loop(ctx context.Context) {
	interval := m.cfg.StopLossInterval.Std()
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepStopLoss(ctx)
		}
	}
}

func (m *Manager) onMarketData(_ context.Context, data []byte) error {
	var msg events.MarketUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	m.mu.Lock()
	m.prices[msg.Symbol] = msg.Close
	m.mu.Unlock()
	return nil
}

func (m *Manager) onOrderRequest(ctx context.Context, data []byte) error {
	var req events.OrderRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}

	approved, reason := m.validate(req)
	if approved {
		m.reserve(req)
	}

	decision := events.RiskDecision{
		Type:      events.TypeRiskDecision,
		OrderID:   req.OrderID,
		Approved:  approved,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	m.Publish(ctx, events.TopicRiskDecisions, decision)
	return nil
}

// validate 五项检查，顺序固定，命中第一条失败原因即返回
func (m *Manager) validate(req events.OrderRequest) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.prices[req.Symbol]
	if !ok || price <= 0 {
		return false, reasonNoMarketData
	}

	orderValue := price * float64(req.Quantity)
	if orderValue > m.cfg.MaxPositionSize {
		return false, fmt.Sprintf(reasonMaxPositionSize, orderValue, m.cfg.MaxPositionSize)
	}

	if req.Side == string(domain.SideBuy) {
		cash := m.cashOf(req.TraderID)
		if orderValue > cash {
			return false, fmt.Sprintf(reasonInsufficientCash, orderValue, cash)
		}
	}

	if req.Side == string(domain.SideSell) {
		held := int64(0)
		if pos, ok := m.positions[posKey(req.TraderID, req.Symbol)]; ok {
			held = pos.quantity
		}
		if req.Quantity > held {
			return false, fmt.Sprintf(reasonInsufficientShare, req.Quantity, held)
		}
	}

	if req.Side == string(domain.SideBuy) {
		exposure := orderValue
		for key, pos := range m.positions {
			p, ok := m.prices[symbolOf(key)]
			if !ok {
				p = pos.avgCost
			}
			exposure += p * float64(pos.quantity)
		}
		limit := m.cfg.MaxPortfolioRisk * m.totalCapital
		if exposure > limit {
			return false, fmt.Sprintf(reasonPortfolioRisk, exposure, limit)
		}
	}

	return true, reasonApproved
}

// cashOf 返回交易员的影子现金，首次见到的交易员记为初始资金的均分份额
// 调用方必须持有 m.mu
func (m *Manager) cashOf(traderID string) float64 {
	if cash, ok := m.traderCash[traderID]; ok {
		return cash
	}
	m.traderCash[traderID] = m.defaultCash
	return m.defaultCash
}

// reserve 批准后立即冻结影子现金，防止同一交易员的并发订单重复占用
func (m *Manager) reserve(req events.OrderRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Side != string(domain.SideBuy) {
		return
	}
	if price, ok := m.prices[req.Symbol]; ok {
		m.traderCash[req.TraderID] = m.cashOf(req.TraderID) - price*float64(req.Quantity)
	}
}

func (m *Manager) onTradeExecuted(_ context.Context, data []byte) error {
	var msg events.TradeExecuted
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := posKey(msg.TraderID, msg.Symbol)
	amount := msg.ExecutionPrice * float64(msg.Quantity)
	m.cashOf(msg.TraderID)

	if msg.Side == string(domain.SideBuy) {
		// 预冻结按风控看到的价格扣减，成交后用实际价格修正
		if price, ok := m.prices[msg.Symbol]; ok {
			m.traderCash[msg.TraderID] += price * float64(msg.Quantity)
		}
		m.traderCash[msg.TraderID] -= amount + msg.Commission

		pos, ok := m.positions[key]
		if !ok {
			m.positions[key] = &shadowPosition{quantity: msg.Quantity, avgCost: msg.ExecutionPrice}
		} else {
			total := pos.avgCost*float64(pos.quantity) + amount
			pos.quantity += msg.Quantity
			pos.avgCost = total / float64(pos.quantity)
		}
		return nil
	}

	m.traderCash[msg.TraderID] += amount - msg.Commission
	if pos, ok := m.positions[key]; ok {
		pos.quantity -= msg.Quantity
		if pos.quantity <= 0 {
			delete(m.positions, key)
		}
	}
	return nil
}

// sweepStopLoss 巡检全部影子持仓，亏损超过阈值的发布止损警报
func (m *Manager) sweepStopLoss(ctx context.Context) {
	m.mu.Lock()
	var alerts []events.StopLossAlert
	for key, pos := range m.positions {
		symbol := symbolOf(key)
		price, ok := m.prices[symbol]
		if !ok || pos.avgCost <= 0 {
			continue
		}
		lossPercent := (pos.avgCost - price) / pos.avgCost
		if lossPercent > m.cfg.StopLossPercent {
			alerts = append(alerts, events.StopLossAlert{
				Type:         events.TypeStopLoss,
				TraderID:     traderOf(key),
				Symbol:       symbol,
				Quantity:     pos.quantity,
				AvgCost:      pos.avgCost,
				CurrentPrice: price,
				LossPercent:  lossPercent,
				Timestamp:    time.Now(),
			})
		}
	}
	m.mu.Unlock()

	for _, a := range alerts {
		m.Publish(ctx, events.TopicStopLossAlerts, a)
	}
}

func posKey(traderID, symbol string) string { return traderID + "_" + symbol }

func traderOf(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '_' {
			return key[:i]
		}
	}
	return key
}

func symbolOf(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '_' {
			return key[i+1:]
		}
	}
	return key
}
