package reporter

import (
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/swarmbot/gosim/internal/events"
)

// Store 把成交与快照写入 SQLite，便于跨多次回测比对结果
type Store struct {
	db *sql.DB
}

// OpenStore 打开（必要时创建）结果库
// sqlite 写并发有限，连接数固定为 1，WAL 模式减少写阻塞
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "打开结果库失败")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "设置 WAL 模式失败")
	}

	schema := `
CREATE TABLE IF NOT EXISTS trades (
    trade_id   TEXT PRIMARY KEY,
    order_id   TEXT NOT NULL,
    trader_id  TEXT NOT NULL,
    symbol     TEXT NOT NULL,
    side       TEXT NOT NULL,
    quantity   INTEGER NOT NULL,
    price      REAL NOT NULL,
    commission REAL NOT NULL,
    executed_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots (
    date            TEXT PRIMARY KEY,
    total_value     REAL NOT NULL,
    realized_pnl    REAL NOT NULL,
    unrealized_pnl  REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS risk_decisions (
    order_id   TEXT PRIMARY KEY,
    approved   INTEGER NOT NULL,
    reason     TEXT NOT NULL,
    decided_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_trader ON trades(trader_id);
CREATE INDEX IF NOT EXISTS idx_decisions_approved ON risk_decisions(approved);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "初始化结果库表结构失败")
	}
	return &Store{db: db}, nil
}

// SaveTrade 写入一笔成交；同一 trade_id 重复写入被忽略
func (s *Store) SaveTrade(t events.TradeExecuted) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO trades
		 (trade_id, order_id, trader_id, symbol, side, quantity, price, commission, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.OrderID, t.TraderID, t.Symbol, t.Side,
		t.Quantity, t.ExecutionPrice, t.Commission,
		t.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	)
	return errors.Wrap(err, "写入成交失败")
}

// SaveSnapshot 写入一条组合快照；同一日期覆盖旧值
func (s *Store) SaveSnapshot(snap events.PortfolioSnapshotData) error {
	_, err := s.db.Exec(
		`INSERT INTO snapshots (date, total_value, realized_pnl, unrealized_pnl)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(date) DO UPDATE SET
		   total_value = excluded.total_value,
		   realized_pnl = excluded.realized_pnl,
		   unrealized_pnl = excluded.unrealized_pnl`,
		snap.Date, snap.TotalValue, snap.RealizedPnL, snap.UnrealizedPnL,
	)
	return errors.Wrap(err, "写入快照失败")
}

// SaveDecision 写入一条风控结论；同一订单的重复结论被忽略
func (s *Store) SaveDecision(d events.RiskDecision) error {
	approved := 0
	if d.Approved {
		approved = 1
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO risk_decisions (order_id, approved, reason, decided_at)
		 VALUES (?, ?, ?, ?)`,
		d.OrderID, approved, d.Reason,
		d.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	)
	return errors.Wrap(err, "写入风控结论失败")
}

// DecisionCount 风控结论总数与其中被拒数
func (s *Store) DecisionCount() (total int, rejected int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM risk_decisions`).Scan(&total); err != nil {
		return 0, 0, errors.Wrap(err, "查询风控结论数失败")
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM risk_decisions WHERE approved = 0`).Scan(&rejected); err != nil {
		return 0, 0, errors.Wrap(err, "查询拒单数失败")
	}
	return total, rejected, nil
}

// TradeCount 成交总数
func (s *Store) TradeCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM trades`).Scan(&n)
	return n, errors.Wrap(err, "查询成交数失败")
}

// Close 关闭结果库
func (s *Store) Close() error {
	return s.db.Close()
}
