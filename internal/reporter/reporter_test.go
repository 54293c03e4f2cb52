package reporter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/internal/events"
)

func feed(t *testing.T, r *Reporter) {
	t.Helper()
	ctx := context.Background()

	trades := []events.TradeExecuted{
		{Type: events.TypeTradeExecuted, TradeID: "t1", OrderID: "o1", TraderID: "trader_1",
			Symbol: "AAPL", Side: "BUY", Quantity: 100, ExecutionPrice: 100, Commission: 10, Timestamp: time.Now()},
		{Type: events.TypeTradeExecuted, TradeID: "t2", OrderID: "o2", TraderID: "trader_1",
			Symbol: "AAPL", Side: "SELL", Quantity: 50, ExecutionPrice: 110, Commission: 5.5, Timestamp: time.Now()},
	}
	for _, tr := range trades {
		data, _ := json.Marshal(tr)
		if err := r.onTrade(ctx, data); err != nil {
			t.Fatalf("成交处理失败: %v", err)
		}
	}

	decisions := []events.RiskDecision{
		{Type: events.TypeRiskDecision, OrderID: "o1", Approved: true, Reason: "Order approved"},
		{Type: events.TypeRiskDecision, OrderID: "o2", Approved: true, Reason: "Order approved"},
		{Type: events.TypeRiskDecision, OrderID: "o3", Approved: false, Reason: "No market data available for symbol"},
		{Type: events.TypeRiskDecision, OrderID: "o4", Approved: false, Reason: "Insufficient cash: need $100.00, have $0.00"},
	}
	for _, d := range decisions {
		data, _ := json.Marshal(d)
		if err := r.onRiskDecision(ctx, data); err != nil {
			t.Fatalf("风控结论处理失败: %v", err)
		}
	}

	alert, _ := json.Marshal(events.StopLossAlert{Type: events.TypeStopLoss, Symbol: "AAPL"})
	if err := r.onStopLoss(ctx, alert); err != nil {
		t.Fatalf("止损告警处理失败: %v", err)
	}

	snaps := []events.PortfolioSnapshotData{
		{Date: "2024-01-10", TotalValue: 1000000, RealizedPnL: 0, UnrealizedPnL: 0},
		{Date: "2024-01-20", TotalValue: 1100000, RealizedPnL: 50000, UnrealizedPnL: 50000},
		{Date: "2024-01-30", TotalValue: 990000, RealizedPnL: 40000, UnrealizedPnL: -50000},
	}
	for _, s := range snaps {
		data, _ := json.Marshal(events.PortfolioUpdate{Type: events.TypePortfolioSnapshot, Data: s})
		if err := r.onSnapshot(ctx, data); err != nil {
			t.Fatalf("快照处理失败: %v", err)
		}
	}
}

func TestBuildAggregates(t *testing.T) {
	r := NewReporter("reporter_1", bus.NewLocalBus(16), t.TempDir(), nil)
	feed(t, r)

	rep := r.Build()
	if rep.Summary.TotalTrades != 2 || rep.Summary.BuyTrades != 1 || rep.Summary.SellTrades != 1 {
		t.Errorf("成交计数错误: %+v", rep.Summary)
	}
	if rep.Summary.TotalCommission != 15.5 {
		t.Errorf("手续费汇总错误: %v", rep.Summary.TotalCommission)
	}
	// 100*100 + 110*50 = 15500
	if rep.Summary.TotalVolume != 15500 {
		t.Errorf("成交额汇总错误: %v", rep.Summary.TotalVolume)
	}
	if rep.RiskMetrics.OrdersApproved != 2 || rep.RiskMetrics.OrdersRejected != 2 {
		t.Errorf("风控计数错误: %+v", rep.RiskMetrics)
	}
	if len(rep.RiskMetrics.RejectedOrders) != 2 {
		t.Fatalf("被拒订单清单错误: %+v", rep.RiskMetrics.RejectedOrders)
	}
	if rep.RiskMetrics.RejectedOrders[0].OrderID != "o3" ||
		rep.RiskMetrics.RejectedOrders[1].Reason != "Insufficient cash: need $100.00, have $0.00" {
		t.Errorf("被拒订单应保留订单号和拒绝原因: %+v", rep.RiskMetrics.RejectedOrders)
	}
	if len(r.RiskDecisions()) != 4 {
		t.Errorf("风控结论历史错误: %d", len(r.RiskDecisions()))
	}
	if rep.RiskMetrics.RejectedPercent != 50 {
		t.Errorf("拒单率错误: %v", rep.RiskMetrics.RejectedPercent)
	}
	if rep.RiskMetrics.StopLossAlerts != 1 {
		t.Errorf("止损计数错误: %v", rep.RiskMetrics.StopLossAlerts)
	}
	// 峰值 1100000，谷值 990000 → 10%
	if rep.RiskMetrics.MaxDrawdown < 0.099 || rep.RiskMetrics.MaxDrawdown > 0.101 {
		t.Errorf("最大回撤错误: %v", rep.RiskMetrics.MaxDrawdown)
	}
	if rep.Summary.FinalTotalValue != 990000 {
		t.Errorf("期末总值错误: %v", rep.Summary.FinalTotalValue)
	}
}

func TestGenerateReportWritesFiles(t *testing.T) {
	dir := t.TempDir()
	r := NewReporter("reporter_1", bus.NewLocalBus(16), dir, nil)
	feed(t, r)

	if _, err := r.GenerateReport(); err != nil {
		t.Fatalf("生成报告失败: %v", err)
	}

	for _, name := range []string{"report.json", "daily_pnl.json", "trades_history.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("报告文件缺失 %s: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("读取报告失败: %v", err)
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("报告不是合法 JSON: %v", err)
	}
	if rep.Summary.TotalTrades != 2 {
		t.Errorf("落盘报告内容错误: %+v", rep.Summary)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("打开结果库失败: %v", err)
	}
	defer store.Close()

	trade := events.TradeExecuted{
		TradeID: "t1", OrderID: "o1", TraderID: "trader_1",
		Symbol: "AAPL", Side: "BUY", Quantity: 100,
		ExecutionPrice: 100, Commission: 10, Timestamp: time.Now(),
	}
	if err := store.SaveTrade(trade); err != nil {
		t.Fatalf("写入成交失败: %v", err)
	}
	// 同一 trade_id 重复写入不应报错也不应重复
	if err := store.SaveTrade(trade); err != nil {
		t.Fatalf("重复写入成交失败: %v", err)
	}
	n, err := store.TradeCount()
	if err != nil {
		t.Fatalf("查询成交数失败: %v", err)
	}
	if n != 1 {
		t.Errorf("成交数错误: got %d, want 1", n)
	}

	snap := events.PortfolioSnapshotData{Date: "2024-01-10", TotalValue: 1000000}
	if err := store.SaveSnapshot(snap); err != nil {
		t.Fatalf("写入快照失败: %v", err)
	}
	snap.TotalValue = 1010000
	if err := store.SaveSnapshot(snap); err != nil {
		t.Fatalf("覆盖快照失败: %v", err)
	}

	decisions := []events.RiskDecision{
		{OrderID: "o1", Approved: true, Reason: "Order approved", Timestamp: time.Now()},
		{OrderID: "o2", Approved: false, Reason: "No market data available for symbol", Timestamp: time.Now()},
	}
	for _, d := range decisions {
		if err := store.SaveDecision(d); err != nil {
			t.Fatalf("写入风控结论失败: %v", err)
		}
	}
	// 同一订单的重复结论不应重复入库
	if err := store.SaveDecision(decisions[1]); err != nil {
		t.Fatalf("重复写入风控结论失败: %v", err)
	}
	total, rejected, err := store.DecisionCount()
	if err != nil {
		t.Fatalf("查询风控结论数失败: %v", err)
	}
	if total != 2 || rejected != 1 {
		t.Errorf("风控结论计数错误: total=%d rejected=%d", total, rejected)
	}
}
