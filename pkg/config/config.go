package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 时长配置
// yaml.v3 对 time.Duration 只认纳秒整数，这里额外接受 "2s"、"100ms" 这类写法
type Duration time.Duration

// UnmarshalYAML 实现 yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = Duration(ns)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("时长配置格式错误: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("时长配置格式错误 %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std 转换为 time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BusConfig 事件总线配置
type BusConfig struct {
	Backend   string `yaml:"backend"`    // local 或 websocket
	ServerURL string `yaml:"server_url"` // websocket 后端的 hub 地址
	QueueSize int    `yaml:"queue_size"` // 本地队列容量
}

// RiskConfig 风控配置
type RiskConfig struct {
	MaxPositionSize  float64  `yaml:"max_position_size"`  // 单笔订单市值上限
	StopLossPercent  float64  `yaml:"stop_loss_percent"`  // 止损阈值（小数，例如 0.05）
	MaxPortfolioRisk float64  `yaml:"max_portfolio_risk"` // 总敞口占初始资金比例上限
	StopLossInterval Duration `yaml:"stop_loss_interval"` // 止损巡检周期
}

// TraderConfig 交易员配置
type TraderConfig struct {
	MaxPositionValue float64 `yaml:"max_position_value"` // 单个标的持仓市值上限
	MinConfidence    float64 `yaml:"min_confidence"`     // 低于该置信度的信号直接忽略
	ActThreshold     float64 `yaml:"act_threshold"`      // 高于该置信度才会实际下单
}

// MonitorConfig 状态查询 HTTP 服务配置
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Config 模拟运行配置
type Config struct {
	Symbols        []string `yaml:"symbols"`
	StartDate      string   `yaml:"start_date"` // YYYY-MM-DD
	EndDate        string   `yaml:"end_date"`
	InitialCash    float64  `yaml:"initial_cash"`
	CommissionRate float64  `yaml:"commission_rate"`

	Analysts     int `yaml:"analysts"`
	Traders      int `yaml:"traders"`
	RiskManagers int `yaml:"risk_managers"`

	// 每隔多少个交易日广播一次组合快照
	SnapshotInterval int `yaml:"snapshot_interval"`
	// 每个交易日行情广播后、执行撮合前的冷却时间
	SettlePause Duration `yaml:"settle_pause"`

	DataDir    string `yaml:"data_dir"`
	ReportsDir string `yaml:"reports_dir"`
	ResultsDB  string `yaml:"results_db"` // SQLite 结果库路径（可选，为空则不落库）

	Bus     BusConfig     `yaml:"bus"`
	Risk    RiskConfig    `yaml:"risk"`
	Trader  TraderConfig  `yaml:"trader"`
	Monitor MonitorConfig `yaml:"monitor"`
	Log     LogConfig     `yaml:"log"`
}

// Default 返回默认配置（与原型模拟参数保持一致）
func Default() *Config {
	return &Config{
		Symbols:        []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "META", "NVDA", "JPM", "V", "JNJ"},
		StartDate:      "2023-01-01",
		EndDate:        "2024-01-01",
		InitialCash:    1000000,
		CommissionRate: 0.001,

		Analysts:     3,
		Traders:      4,
		RiskManagers: 1,

		SnapshotInterval: 10,
		SettlePause:      Duration(100 * time.Millisecond),

		DataDir:    "data/historical",
		ReportsDir: "reports",

		Bus: BusConfig{
			Backend:   "local",
			ServerURL: "ws://127.0.0.1:8710/bus",
			QueueSize: 1024,
		},
		Risk: RiskConfig{
			MaxPositionSize:  50000,
			StopLossPercent:  0.05,
			MaxPortfolioRisk: 0.20,
			StopLossInterval: Duration(2 * time.Second),
		},
		Trader: TraderConfig{
			MaxPositionValue: 20000,
			MinConfidence:    0.6,
			ActThreshold:     0.65,
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8711",
		},
		Log: LogConfig{
			Level:   "info",
			MaxSize: 50, MaxBackups: 5, MaxAge: 7,
		},
	}
}

// Load 从 YAML 文件加载配置，缺省字段使用默认值，环境变量可覆盖
// 文件不存在时直接返回默认配置（环境变量覆盖仍然生效）
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖（GOSIM_ 前缀）
func (c *Config) applyEnv() {
	if v := os.Getenv("GOSIM_SYMBOLS"); v != "" {
		parts := strings.Split(v, ",")
		symbols := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				symbols = append(symbols, strings.ToUpper(s))
			}
		}
		if len(symbols) > 0 {
			c.Symbols = symbols
		}
	}
	if v := os.Getenv("GOSIM_INITIAL_CASH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.InitialCash = f
		}
	}
	if v := os.Getenv("GOSIM_BUS_BACKEND"); v != "" {
		c.Bus.Backend = v
	}
	if v := os.Getenv("GOSIM_BUS_SERVER_URL"); v != "" {
		c.Bus.ServerURL = v
	}
	if v := os.Getenv("GOSIM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("GOSIM_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("GOSIM_REPORTS_DIR"); v != "" {
		c.ReportsDir = v
	}
	if v := os.Getenv("GOSIM_RESULTS_DB"); v != "" {
		c.ResultsDB = v
	}
	if v := os.Getenv("GOSIM_MONITOR_ADDR"); v != "" {
		c.Monitor.Enabled = true
		c.Monitor.Addr = v
	}
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols 不能为空")
	}
	if c.InitialCash <= 0 {
		return fmt.Errorf("initial_cash 必须大于 0，得到 %v", c.InitialCash)
	}
	if c.CommissionRate < 0 {
		return fmt.Errorf("commission_rate 不能为负，得到 %v", c.CommissionRate)
	}
	if _, err := time.Parse("2006-01-02", c.StartDate); err != nil {
		return fmt.Errorf("start_date 格式错误（应为 YYYY-MM-DD）: %w", err)
	}
	if _, err := time.Parse("2006-01-02", c.EndDate); err != nil {
		return fmt.Errorf("end_date 格式错误（应为 YYYY-MM-DD）: %w", err)
	}
	if c.Analysts <= 0 || c.Traders <= 0 || c.RiskManagers <= 0 {
		return fmt.Errorf("analysts/traders/risk_managers 必须大于 0")
	}
	switch c.Bus.Backend {
	case "local", "websocket":
	default:
		return fmt.Errorf("不支持的 bus backend: %q（支持 local / websocket）", c.Bus.Backend)
	}
	if c.Bus.QueueSize <= 0 {
		c.Bus.QueueSize = 1024
	}
	if c.Risk.StopLossInterval <= 0 {
		c.Risk.StopLossInterval = Duration(2 * time.Second)
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 10
	}
	return nil
}
