// Package simulation 编排整场回测：组装总线、加载数据、创建参与者、推进时钟
package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/swarmbot/gosim/internal/agent"
	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/internal/domain"
	"github.com/swarmbot/gosim/internal/events"
	"github.com/swarmbot/gosim/internal/market"
	"github.com/swarmbot/gosim/internal/marketdata"
	"github.com/swarmbot/gosim/internal/monitor"
	"github.com/swarmbot/gosim/internal/reporter"
	"github.com/swarmbot/gosim/internal/risk"
	"github.com/swarmbot/gosim/internal/strategy"
	"github.com/swarmbot/gosim/pkg/config"
	"github.com/swarmbot/gosim/pkg/logger"
)

// Simulation 一次完整回测
type Simulation struct {
	cfg *config.Config
	log *logrus.Entry

	bus      bus.MessageBus
	env      *market.Environment
	traders  []*strategy.Trader
	agents   []agent.Participant
	reporter *reporter.Reporter
	store    *reporter.Store
	monitor  *monitor.Server
}

// New 组装一次回测
func New(ctx context.Context, cfg *config.Config) (*Simulation, error) {
	s := &Simulation{
		cfg: cfg,
		log: logger.WithField("component", "simulation"),
	}

	mbus, err := buildBus(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.bus = mbus

	candles, err := loadData(cfg)
	if err != nil {
		mbus.Close()
		return nil, err
	}
	s.env = market.NewEnvironment(mbus, candles, cfg.CommissionRate)
	if s.env.TradingDays() == 0 {
		mbus.Close()
		return nil, fmt.Errorf("区间 %s ~ %s 内没有任何交易日", cfg.StartDate, cfg.EndDate)
	}

	s.buildAgents()

	if cfg.ResultsDB != "" {
		store, err := reporter.OpenStore(cfg.ResultsDB)
		if err != nil {
			mbus.Close()
			return nil, err
		}
		s.store = store
	}
	s.reporter = reporter.NewReporter("reporter_1", mbus, cfg.ReportsDir, s.store)
	s.agents = append(s.agents, s.reporter)

	if cfg.Monitor.Enabled {
		s.monitor = monitor.NewServer(cfg.Monitor.Addr, s.reporter)
	}
	return s, nil
}

func buildBus(ctx context.Context, cfg *config.Config) (bus.MessageBus, error) {
	switch cfg.Bus.Backend {
	case "", "local":
		return bus.NewLocalBus(cfg.Bus.QueueSize), nil
	case "websocket":
		b, err := bus.DialWSBus(ctx, cfg.Bus.ServerURL)
		return b, errors.Wrap(err, "连接消息服务器失败")
	default:
		return nil, fmt.Errorf("未知总线后端 %q", cfg.Bus.Backend)
	}
}

func loadData(cfg *config.Config) (map[string][]domain.Candle, error) {
	opts := []marketdata.Option{marketdata.WithDownloader(marketdata.NewDownloader())}
	loader := marketdata.NewLoader(cfg.DataDir, opts...)

	start, _ := time.Parse("2006-01-02", cfg.StartDate)
	end, _ := time.Parse("2006-01-02", cfg.EndDate)
	return loader.Load(cfg.Symbols, start, end)
}

// buildAgents 创建分析师、交易员和风控
// 标的按 len/N+1 的步长切给每个分析师；交易员均分初始资金
func (s *Simulation) buildAgents() {
	cfg := s.cfg

	perAnalyst := len(cfg.Symbols)/cfg.Analysts + 1
	for i := 0; i < cfg.Analysts; i++ {
		lo := i * perAnalyst
		if lo >= len(cfg.Symbols) {
			break
		}
		hi := lo + perAnalyst
		if hi > len(cfg.Symbols) {
			hi = len(cfg.Symbols)
		}
		a := strategy.NewAnalyst(fmt.Sprintf("analyst_%d", i+1), s.bus, cfg.Symbols[lo:hi])
		s.agents = append(s.agents, a)
	}

	traderIDs := make([]string, 0, cfg.Traders)
	perTraderCash := cfg.InitialCash / float64(cfg.Traders)
	for i := 0; i < cfg.Traders; i++ {
		id := fmt.Sprintf("trader_%d", i+1)
		t := strategy.NewTrader(id, s.bus, cfg.Trader, perTraderCash)
		s.traders = append(s.traders, t)
		s.agents = append(s.agents, t)
		traderIDs = append(traderIDs, id)
	}

	for i := 0; i < cfg.RiskManagers; i++ {
		r := risk.NewManager(fmt.Sprintf("risk_manager_%d", i+1), s.bus, cfg.Risk, cfg.InitialCash, traderIDs)
		s.agents = append(s.agents, r)
	}
}

// Run 跑完整个时间轴或直到 ctx 取消
func (s *Simulation) Run(ctx context.Context) error {
	if err := s.env.SetupSubscriptions(); err != nil {
		return errors.Wrap(err, "市场环境订阅失败")
	}
	for _, a := range s.agents {
		if err := a.Start(ctx); err != nil {
			return errors.Wrapf(err, "启动参与者 %s 失败", a.ID())
		}
	}
	if s.monitor != nil {
		s.monitor.Start()
	}

	s.log.Infof("回测开始：%d 个交易日，%d 个标的，%d 个参与者",
		s.env.TradingDays(), len(s.cfg.Symbols), len(s.agents))

	day := 0
	for s.env.AdvanceTime(ctx) {
		day++

		// 给信号/订单/风控链路留出结算窗口，然后统一撮合
		select {
		case <-ctx.Done():
			s.log.Warn("回测被中断")
			return s.finish(ctx, day)
		case <-time.After(s.cfg.SettlePause.Std()):
		}
		s.env.ExecuteSweep(ctx)

		if s.cfg.SnapshotInterval > 0 && day%s.cfg.SnapshotInterval == 0 {
			s.publishSnapshot(ctx)
			s.log.Infof("进度 %d/%d 个交易日", day, s.env.TradingDays())
		}
	}

	return s.finish(ctx, day)
}

// publishSnapshot 汇总全部交易员账本并广播组合快照
func (s *Simulation) publishSnapshot(ctx context.Context) {
	prices := s.env.GetAllCurrentPrices()

	var totalValue, realized, unrealized float64
	for _, t := range s.traders {
		ledger := t.Ledger()
		ledger.UpdateAllPrices(prices)
		totalValue += ledger.TotalValue(nil).InexactFloat64()
		realized += ledger.RealizedPnL().InexactFloat64()
		unrealized += ledger.UnrealizedPnL().InexactFloat64()
	}

	date := s.env.CurrentDate().Format("2006-01-02")
	msg := events.PortfolioUpdate{
		Type: events.TypePortfolioSnapshot,
		Data: events.PortfolioSnapshotData{
			Date:          date,
			TotalValue:    totalValue,
			RealizedPnL:   realized,
			UnrealizedPnL: unrealized,
		},
	}
	if err := s.bus.Publish(ctx, events.TopicPortfolioUpdate, msg); err != nil {
		s.log.Errorf("广播组合快照失败: %v", err)
	}
}

// finish 收尾：撤单、期末快照、报告、关停
func (s *Simulation) finish(ctx context.Context, days int) error {
	s.env.CancelPending()
	for _, t := range s.traders {
		if n := t.CancelOutstanding(); n > 0 {
			s.log.Infof("%s 撤销 %d 笔未决订单", t.ID(), n)
		}
	}

	s.publishSnapshot(ctx)
	// 等最后一批消息被消费掉再生成报告
	time.Sleep(s.cfg.SettlePause.Std())

	report, err := s.reporter.GenerateReport()
	if err != nil {
		s.log.Errorf("生成报告失败: %v", err)
	} else {
		s.log.Infof("回测结束：%d 个交易日，成交 %d 笔，期末总值 %.2f",
			days, report.Summary.TotalTrades, report.Summary.FinalTotalValue)
	}

	s.Stop(ctx)
	return err
}

// Stop 停止全部参与者并关闭资源，可重复调用
func (s *Simulation) Stop(ctx context.Context) {
	for _, a := range s.agents {
		a.Stop()
	}
	if s.monitor != nil {
		s.monitor.Stop(ctx)
	}
	if err := s.bus.Close(); err != nil {
		s.log.Errorf("关闭总线失败: %v", err)
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Errorf("关闭结果库失败: %v", err)
		}
	}
}
