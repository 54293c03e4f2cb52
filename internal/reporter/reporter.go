// Package reporter 实现结果汇总：监听全部结果主题，期末生成报告并可选落库
package reporter

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/swarmbot/gosim/internal/agent"
	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/internal/events"
)

// Report 期末报告
type Report struct {
	Summary     SummarySection     `json:"summary"`
	RiskMetrics RiskMetricsSection `json:"risk_metrics"`
}

// SummarySection 成交与收益汇总
type SummarySection struct {
	TotalTrades      int     `json:"total_trades"`
	BuyTrades        int     `json:"buy_trades"`
	SellTrades       int     `json:"sell_trades"`
	TotalCommission  float64 `json:"total_commission"`
	TotalVolume      float64 `json:"total_volume"`
	FinalTotalValue  float64 `json:"final_total_value"`
	FinalRealizedPnL float64 `json:"final_realized_pnl"`
	FinalUnrealized  float64 `json:"final_unrealized_pnl"`
}

// RiskMetricsSection 风控指标，被拒订单连同拒绝原因一并保留
type RiskMetricsSection struct {
	OrdersApproved  int                   `json:"orders_approved"`
	OrdersRejected  int                   `json:"orders_rejected"`
	RejectedPercent float64               `json:"rejected_percent"`
	StopLossAlerts  int                   `json:"stop_loss_alerts"`
	MaxDrawdown     float64               `json:"max_drawdown"`
	RejectedOrders  []events.RiskDecision `json:"rejected_orders"`
}

// Reporter 结果汇总员
// 只消费消息，从不发布；它看到的就是总线上广播过的全部事实
type Reporter struct {
	*agent.Base

	reportsDir string
	store      *Store // 可选，nil 表示不落库

	mu        sync.Mutex
	trades    []events.TradeExecuted
	decisions []events.RiskDecision
	stopLoss  int
	snapshots []events.PortfolioSnapshotData
}

// NewReporter 创建汇总员；store 为 nil 时只写文件报告
func NewReporter(id string, mbus bus.MessageBus, reportsDir string, store *Store) *Reporter {
	return &Reporter{
		Base:       agent.NewBase(id, mbus),
		reportsDir: reportsDir,
		store:      store,
	}
}

// Start 启动汇总员
func (r *Reporter) Start(ctx context.Context) error {
	return r.StartRole(ctx, r)
}

// SetupSubscriptions 实现 agent.Role
func (r *Reporter) SetupSubscriptions() error {
	r.Subscribe(events.TopicTrades, r.onTrade)
	r.Subscribe(events.TopicRiskDecisions, r.onRiskDecision)
	r.Subscribe(events.TopicStopLossAlerts, r.onStopLoss)
	r.Subscribe(events.TopicPortfolioUpdate, r.onSnapshot)
	return nil
}

// Loop 实现 agent.Role：纯事件驱动
func (r *Reporter) Loop(ctx context.Context) {
	<-ctx.Done()
}

func (r *Reporter) onTrade(_ context.Context, data []byte) error {
	var msg events.TradeExecuted
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	r.mu.Lock()
	r.trades = append(r.trades, msg)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveTrade(msg); err != nil {
			r.Log().Errorf("成交落库失败 %s: %v", msg.TradeID, err)
		}
	}
	return nil
}

func (r *Reporter) onRiskDecision(_ context.Context, data []byte) error {
	var msg events.RiskDecision
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	r.mu.Lock()
	r.decisions = append(r.decisions, msg)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveDecision(msg); err != nil {
			r.Log().Errorf("风控结论落库失败 %s: %v", msg.OrderID, err)
		}
	}
	return nil
}

func (r *Reporter) onStopLoss(_ context.Context, data []byte) error {
	var msg events.StopLossAlert
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	r.mu.Lock()
	r.stopLoss++
	r.mu.Unlock()
	return nil
}

func (r *Reporter) onSnapshot(_ context.Context, data []byte) error {
	var msg events.PortfolioUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshots = append(r.snapshots, msg.Data)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveSnapshot(msg.Data); err != nil {
			r.Log().Errorf("快照落库失败 %s: %v", msg.Data.Date, err)
		}
	}
	return nil
}

// Build 汇总当前已收集的事实
func (r *Reporter) Build() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rep Report
	rep.Summary.TotalTrades = len(r.trades)
	for _, t := range r.trades {
		if t.Side == "BUY" {
			rep.Summary.BuyTrades++
		} else {
			rep.Summary.SellTrades++
		}
		rep.Summary.TotalCommission += t.Commission
		rep.Summary.TotalVolume += t.ExecutionPrice * float64(t.Quantity)
	}

	if n := len(r.snapshots); n > 0 {
		last := r.snapshots[n-1]
		rep.Summary.FinalTotalValue = last.TotalValue
		rep.Summary.FinalRealizedPnL = last.RealizedPnL
		rep.Summary.FinalUnrealized = last.UnrealizedPnL
	}

	for _, d := range r.decisions {
		if d.Approved {
			rep.RiskMetrics.OrdersApproved++
		} else {
			rep.RiskMetrics.OrdersRejected++
			rep.RiskMetrics.RejectedOrders = append(rep.RiskMetrics.RejectedOrders, d)
		}
	}
	if total := len(r.decisions); total > 0 {
		rep.RiskMetrics.RejectedPercent = float64(rep.RiskMetrics.OrdersRejected) / float64(total) * 100
	}
	rep.RiskMetrics.StopLossAlerts = r.stopLoss
	rep.RiskMetrics.MaxDrawdown = maxDrawdown(r.snapshots)
	return rep
}

// maxDrawdown 快照序列相对历史峰值的最大回撤比例
func maxDrawdown(snapshots []events.PortfolioSnapshotData) float64 {
	peak, worst := 0.0, 0.0
	for _, s := range snapshots {
		if s.TotalValue > peak {
			peak = s.TotalValue
		}
		if peak > 0 {
			dd := (peak - s.TotalValue) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// Trades 已收集成交的副本
func (r *Reporter) Trades() []events.TradeExecuted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.TradeExecuted, len(r.trades))
	copy(out, r.trades)
	return out
}

// RiskDecisions 已收集风控结论的副本
func (r *Reporter) RiskDecisions() []events.RiskDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.RiskDecision, len(r.decisions))
	copy(out, r.decisions)
	return out
}

// Snapshots 已收集快照的副本
func (r *Reporter) Snapshots() []events.PortfolioSnapshotData {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.PortfolioSnapshotData, len(r.snapshots))
	copy(out, r.snapshots)
	return out
}

// GenerateReport 写出期末报告：
// report.json、daily_pnl.json、trades_history.csv
func (r *Reporter) GenerateReport() (Report, error) {
	rep := r.Build()

	if err := os.MkdirAll(r.reportsDir, 0o755); err != nil {
		return rep, errors.Wrap(err, "创建报告目录失败")
	}
	if err := r.writeJSON(filepath.Join(r.reportsDir, "report.json"), rep); err != nil {
		return rep, err
	}
	if err := r.writeJSON(filepath.Join(r.reportsDir, "daily_pnl.json"), r.Snapshots()); err != nil {
		return rep, err
	}
	if err := r.writeTradesCSV(filepath.Join(r.reportsDir, "trades_history.csv")); err != nil {
		return rep, err
	}

	r.Log().Infof("报告已生成: %s（成交 %d 笔，拒单率 %.1f%%）",
		r.reportsDir, rep.Summary.TotalTrades, rep.RiskMetrics.RejectedPercent)
	return rep, nil
}

func (r *Reporter) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "序列化 %s 失败", filepath.Base(path))
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "写入 %s 失败", filepath.Base(path))
}

func (r *Reporter) writeTradesCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "创建成交历史文件失败")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"trade_id", "order_id", "trader_id", "symbol", "side", "quantity", "price", "commission", "timestamp"}); err != nil {
		return errors.Wrap(err, "写入表头失败")
	}
	for _, t := range r.Trades() {
		record := []string{
			t.TradeID, t.OrderID, t.TraderID, t.Symbol, t.Side,
			fmt.Sprintf("%d", t.Quantity),
			fmt.Sprintf("%.4f", t.ExecutionPrice),
			fmt.Sprintf("%.4f", t.Commission),
			t.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		}
		if err := w.Write(record); err != nil {
			return errors.Wrap(err, "写入成交记录失败")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "刷新成交历史失败")
}
