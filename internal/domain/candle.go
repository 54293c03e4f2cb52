package domain

import (
	"time"
)

// Candle 单个交易日的 OHLCV 行情
type Candle struct {
	Timestamp time.Time
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Date 所属交易日（去掉时间部分）
func (c Candle) Date() time.Time {
	return time.Date(c.Timestamp.Year(), c.Timestamp.Month(), c.Timestamp.Day(), 0, 0, 0, 0, time.UTC)
}
