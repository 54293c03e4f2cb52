// sim-tui 是连接 websocket 总线的实时看板
// 回测跑在别的进程里，看板只订阅行情结果并渲染，不参与任何交易
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/swarmbot/gosim/internal/bus"
	"github.com/swarmbot/gosim/internal/events"
	"github.com/swarmbot/gosim/pkg/logger"
)

const maxTradeRows = 12

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57")).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	gainStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	buyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	sellStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

type snapshotMsg events.PortfolioSnapshotData

type tradeMsg events.TradeExecuted

type alertMsg events.StopLossAlert

type model struct {
	snapshot *events.PortfolioSnapshotData
	trades   []events.TradeExecuted
	alerts   int
	received int
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case snapshotMsg:
		snap := events.PortfolioSnapshotData(msg)
		m.snapshot = &snap
		m.received++
	case tradeMsg:
		m.trades = append(m.trades, events.TradeExecuted(msg))
		if len(m.trades) > maxTradeRows {
			m.trades = m.trades[len(m.trades)-maxTradeRows:]
		}
		m.received++
	case alertMsg:
		m.alerts++
		m.received++
	}
	return m, nil
}

func (m model) View() string {
	out := titleStyle.Render("交易模拟实时看板") + "\n\n"

	if m.snapshot == nil {
		out += labelStyle.Render("等待组合快照…") + "\n"
	} else {
		s := m.snapshot
		pnl := s.RealizedPnL + s.UnrealizedPnL
		pnlStyle := gainStyle
		if pnl < 0 {
			pnlStyle = lossStyle
		}
		summary := fmt.Sprintf("%s %s\n%s %s\n%s %s   %s %s",
			labelStyle.Render("交易日"), valueStyle.Render(s.Date),
			labelStyle.Render("总值  "), valueStyle.Render(fmt.Sprintf("$%.2f", s.TotalValue)),
			labelStyle.Render("已实现"), pnlStyle.Render(fmt.Sprintf("$%.2f", s.RealizedPnL)),
			labelStyle.Render("浮动"), pnlStyle.Render(fmt.Sprintf("$%.2f", s.UnrealizedPnL)),
		)
		out += boxStyle.Render(summary) + "\n"
	}

	out += "\n" + labelStyle.Render(fmt.Sprintf("最近成交（止损告警 %d 次）", m.alerts)) + "\n"
	if len(m.trades) == 0 {
		out += labelStyle.Render("  暂无成交") + "\n"
	}
	for i := len(m.trades) - 1; i >= 0; i-- {
		t := m.trades[i]
		side := buyStyle.Render("买入")
		if t.Side == "SELL" {
			side = sellStyle.Render("卖出")
		}
		out += fmt.Sprintf("  %s %s %-6s %5d 股 @ %.2f  (%s)\n",
			t.Timestamp.Format("15:04:05"), side, t.Symbol, t.Quantity, t.ExecutionPrice, t.TraderID)
	}

	out += "\n" + helpStyle.Render("q 退出")
	return out
}

func main() {
	serverURL := flag.String("server", "ws://127.0.0.1:8710/bus", "消息服务器地址")
	flag.Parse()

	// TUI 模式下日志写文件，避免污染屏幕
	if err := logger.Init(logger.Config{Level: "info", OutputFile: "logs/sim-tui.log"}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mbus, err := bus.DialWSBus(ctx, *serverURL)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "连接消息服务器失败: %v\n", err)
		os.Exit(1)
	}
	defer mbus.Close()

	p := tea.NewProgram(model{}, tea.WithAltScreen())

	forward(mbus, events.TopicPortfolioUpdate, func(data []byte) {
		var msg events.PortfolioUpdate
		if json.Unmarshal(data, &msg) == nil {
			p.Send(snapshotMsg(msg.Data))
		}
	})
	forward(mbus, events.TopicTrades, func(data []byte) {
		var msg events.TradeExecuted
		if json.Unmarshal(data, &msg) == nil {
			p.Send(tradeMsg(msg))
		}
	})
	forward(mbus, events.TopicStopLossAlerts, func(data []byte) {
		var msg events.StopLossAlert
		if json.Unmarshal(data, &msg) == nil {
			p.Send(alertMsg(msg))
		}
	})

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "看板退出异常: %v\n", err)
		os.Exit(1)
	}
}

func forward(mbus bus.MessageBus, topic string, fn func([]byte)) {
	err := mbus.Subscribe(topic, func(_ context.Context, data []byte) error {
		fn(data)
		return nil
	})
	if err != nil {
		logger.Errorf("订阅 %s 失败: %v", topic, err)
	}
}
