package domain

// SignalType 信号类型
// 信号本身只作为消息载荷流转，下游订单通过 SignalID 引用它做溯源
type SignalType string

const (
	SignalBullish SignalType = "BULLISH"
	SignalBearish SignalType = "BEARISH"
	SignalNeutral SignalType = "NEUTRAL"
)
