// Package strategy 实现决策角色：分析师产出信号，交易员把信号变成订单
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmbot/gosim/internal/agent"
	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/internal/domain"
	"github.com/swarmbot/gosim/internal/events"
)

// 信号策略参数，与回测口径保持一致，不做成配置
const (
	flatThreshold     = 0.01 // 涨跌幅低于 1% 不出信号
	momentumThreshold = 0.02 // 超过 2% 视为趋势信号
	sentimentGate     = 0.3  // 新闻情绪的触发阈值
)

// Analyst 分析师
// 只关注分配给自己的标的，根据日涨跌幅和新闻情绪产出信号
type Analyst struct {
	*agent.Base

	symbols map[string]struct{}

	mu        sync.Mutex
	lastClose map[string]float64
}

// NewAnalyst 创建分析师
func NewAnalyst(id string, mbus bus.MessageBus, symbols []string) *Analyst {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return &Analyst{
		Base:      agent.NewBase(id, mbus),
		symbols:   set,
		lastClose: make(map[string]float64),
	}
}

// Start 启动分析师
func (a *Analyst) Start(ctx context.Context) error {
	return a.StartRole(ctx, a)
}

// SetupSubscriptions 实现 agent.Role
func (a *Analyst) SetupSubscriptions() error {
	a.Subscribe(events.TopicMarketData, a.onMarketData)
	a.Subscribe(events.TopicNewsFeed, a.onNews)
	return nil
}

// Loop 实现 agent.Role：分析师纯事件驱动，无周期任务
func (a *Analyst) Loop(ctx context.Context) {
	<-ctx.Done()
}

func (a *Analyst) onMarketData(ctx context.Context, data []byte) error {
	if events.PeekType(data) != events.TypeMarketUpdate {
		return nil
	}
	var msg events.MarketUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if _, mine := a.symbols[msg.Symbol]; !mine {
		return nil
	}

	a.mu.Lock()
	prev, seen := a.lastClose[msg.Symbol]
	a.lastClose[msg.Symbol] = msg.Close
	a.mu.Unlock()

	// 第一天没有对比基准
	if !seen || prev <= 0 {
		return nil
	}

	change := (msg.Close - prev) / prev
	if math.Abs(change) < flatThreshold {
		return nil
	}

	var signalType domain.SignalType
	var confidence float64
	var reasoning string
	switch {
	case change > momentumThreshold:
		signalType = domain.SignalBullish
		confidence = math.Min(0.9, 0.5+math.Abs(change)*10)
		reasoning = fmt.Sprintf("Strong upward momentum: %.2f%%", change*100)
	case change < -momentumThreshold:
		signalType = domain.SignalBearish
		confidence = math.Min(0.9, 0.5+math.Abs(change)*10)
		reasoning = fmt.Sprintf("Downward pressure: %.2f%%", change*100)
	default:
		signalType = domain.SignalNeutral
		confidence = 0.3
		reasoning = fmt.Sprintf("Minor movement: %.2f%%", change*100)
	}

	a.publishSignal(ctx, msg.Symbol, signalType, confidence, reasoning)
	return nil
}

func (a *Analyst) onNews(ctx context.Context, data []byte) error {
	if events.PeekType(data) != events.TypeNewsItem {
		return nil
	}
	var msg events.NewsItem
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	news := msg.Data
	if _, mine := a.symbols[news.Symbol]; !mine {
		return nil
	}
	if news.SentimentScore == nil {
		return nil
	}

	score := *news.SentimentScore
	var signalType domain.SignalType
	switch {
	case score > sentimentGate:
		signalType = domain.SignalBullish
	case score < -sentimentGate:
		signalType = domain.SignalBearish
	default:
		return nil
	}

	confidence := math.Min(0.85, 0.5+math.Abs(score)*0.5)
	reasoning := fmt.Sprintf("News sentiment %.2f: %s", score, news.Headline)
	a.publishSignal(ctx, news.Symbol, signalType, confidence, reasoning)
	return nil
}

func (a *Analyst) publishSignal(ctx context.Context, symbol string, st domain.SignalType, confidence float64, reasoning string) {
	a.Publish(ctx, events.TopicSignals, events.SignalMessage{
		Type:       events.TypeSignal,
		SignalID:   uuid.NewString(),
		Timestamp:  time.Now(),
		AgentID:    a.ID(),
		Symbol:     symbol,
		SignalType: string(st),
		Confidence: confidence,
		Reasoning:  reasoning,
	})
}
