// Package events 定义事件总线上每个主题的消息载荷
// 载荷形状是总线的外部契约：本地后端和 websocket 后端使用完全相同的 JSON
package events

import (
	"encoding/json"
	"time"
)

// 主题名
const (
	TopicMarketData      = "market_data"
	TopicNewsFeed        = "news_feed"
	TopicSignals         = "signals"
	TopicOrders          = "orders"
	TopicRiskDecisions   = "risk_decisions"
	TopicApprovedOrders  = "approved_orders"
	TopicTrades          = "trades"
	TopicStopLossAlerts  = "stop_loss_alerts"
	TopicPortfolioUpdate = "portfolio_update"
)

// 消息类型（载荷中的 type 字段）
const (
	TypeMarketUpdate      = "market_update"
	TypeNewsItem          = "news_item"
	TypeSignal            = "signal"
	TypeOrderRequest      = "order_request"
	TypeRiskDecision      = "risk_decision"
	TypeOrderApproved     = "order_approved"
	TypeTradeExecuted     = "trade_executed"
	TypeStopLoss          = "stop_loss"
	TypePortfolioSnapshot = "portfolio_snapshot"
)

// MarketUpdate 单个标的单个交易日的行情广播
type MarketUpdate struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// NewsPayload 新闻内容
type NewsPayload struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Symbol         string    `json:"symbol"`
	Headline       string    `json:"headline"`
	Content        string    `json:"content,omitempty"`
	Source         string    `json:"source"`
	SentimentScore *float64  `json:"sentiment_score,omitempty"`
}

// NewsItem 新闻消息（外层信封 + data）
type NewsItem struct {
	Type string      `json:"type"`
	Data NewsPayload `json:"data"`
}

// SignalMessage 分析信号
type SignalMessage struct {
	Type       string    `json:"type"`
	SignalID   string    `json:"signal_id"`
	Timestamp  time.Time `json:"timestamp"`
	AgentID    string    `json:"agent_id"`
	Symbol     string    `json:"symbol"`
	SignalType string    `json:"signal_type"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
}

// OrderRequest 订单请求（待风控审批）
type OrderRequest struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
	TraderID  string    `json:"trader_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  int64     `json:"quantity"`
	Price     *float64  `json:"price,omitempty"` // 限价，nil 表示市价
	SignalID  string    `json:"signal_id,omitempty"`
}

// RiskDecision 风控结论
type RiskDecision struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"order_id"`
	Approved  bool      `json:"approved"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderApproved 已批准订单（进入执行队列）
type OrderApproved struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"order_id"`
	TraderID  string    `json:"trader_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Quantity  int64     `json:"quantity"`
	Price     *float64  `json:"price,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TradeExecuted 成交广播
type TradeExecuted struct {
	Type           string    `json:"type"`
	TradeID        string    `json:"trade_id"`
	OrderID        string    `json:"order_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Quantity       int64     `json:"quantity"`
	ExecutionPrice float64   `json:"execution_price"`
	Commission     float64   `json:"commission"`
	Timestamp      time.Time `json:"timestamp"`
	TraderID       string    `json:"trader_id"`
}

// StopLossAlert 止损告警（建议性输出，不是订单）
type StopLossAlert struct {
	Type         string    `json:"type"`
	TraderID     string    `json:"trader_id"`
	Symbol       string    `json:"symbol"`
	Quantity     int64     `json:"quantity"`
	AvgCost      float64   `json:"avg_cost"`
	CurrentPrice float64   `json:"current_price"`
	LossPercent  float64   `json:"loss_percent"`
	Timestamp    time.Time `json:"timestamp"`
}

// PortfolioSnapshotData 组合快照内容
type PortfolioSnapshotData struct {
	Date          string  `json:"date"`
	TotalValue    float64 `json:"total_value"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// PortfolioUpdate 组合快照消息
type PortfolioUpdate struct {
	Type string                `json:"type"`
	Data PortfolioSnapshotData `json:"data"`
}

// PeekType 读取载荷中的 type 字段，解析失败返回空串
// 处理器用它过滤不属于自己的消息，坏消息不会让处理循环退出
func PeekType(payload []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return ""
	}
	return head.Type
}
