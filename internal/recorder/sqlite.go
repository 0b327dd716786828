package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"GapPullback/internal/model"
)

// SQLiteRecorder persists the ledger to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so dashboards can read while the bot writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp        INTEGER NOT NULL,
			symbol           TEXT NOT NULL,
			signal_type      TEXT NOT NULL,
			price            TEXT,
			high_price       TEXT,
			pullback_percent TEXT,
			bounce_percent   TEXT,
			gap_percent      TEXT,
			trade_strength   TEXT,
			spread_percent   TEXT,
			order_imbalance  TEXT,
			reason           TEXT,
			executed         INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,

		`CREATE TABLE IF NOT EXISTS trades (
			client_order_id TEXT PRIMARY KEY,
			order_id        TEXT,
			position_id     TEXT,
			symbol          TEXT NOT NULL,
			side            TEXT NOT NULL,
			order_type      TEXT,
			requested_qty   INTEGER,
			requested_price TEXT,
			filled_qty      INTEGER,
			filled_price    TEXT,
			fee             TEXT,
			status          TEXT NOT NULL,
			close_reason    TEXT,
			created_at      INTEGER,
			updated_at      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id                   TEXT PRIMARY KEY,
			trading_date         TEXT NOT NULL,
			symbol               TEXT NOT NULL,
			status               TEXT NOT NULL,
			entry_price          TEXT,
			entry_qty            INTEGER,
			entry_amount         TEXT,
			remaining_qty        INTEGER,
			stop_loss_price      TEXT,
			tp1_price            TEXT,
			tp2_price            TEXT,
			tp3_price            TEXT,
			tp1_done             INTEGER,
			tp2_done             INTEGER,
			tp3_done             INTEGER,
			trailing_active      INTEGER,
			trailing_high        TEXT,
			realized_pnl         TEXT,
			realized_pnl_percent TEXT,
			exit_amount          TEXT,
			exit_qty             INTEGER,
			fees                 TEXT,
			close_reason         TEXT,
			opened_at            INTEGER,
			closed_at            INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_date ON positions(trading_date)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordSignal(ctx context.Context, s *model.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ind := s.Indicators
	_, err := r.db.ExecContext(ctx, `INSERT INTO signals
		(timestamp, symbol, signal_type, price, high_price, pullback_percent, bounce_percent,
		 gap_percent, trade_strength, spread_percent, order_imbalance, reason, executed)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.At.Unix(), s.Symbol, string(s.Type), dec(s.Price), dec(s.HighPrice),
		dec(s.PullbackPercent), dec(s.BouncePercent),
		dec(ind.GapPercent), dec(ind.TradeStrength), dec(ind.SpreadPercent), dec(ind.OrderImbalance),
		s.Reason, s.Executed,
	)
	return err
}

// RecordTrade upserts by client order id. Rows already FILLED or CANCELLED are left alone.
func (r *SQLiteRecorder) RecordTrade(ctx context.Context, t *model.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO trades
		(client_order_id, order_id, position_id, symbol, side, order_type,
		 requested_qty, requested_price, filled_qty, filled_price, fee, status,
		 close_reason, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			order_id = excluded.order_id,
			position_id = excluded.position_id,
			filled_qty = excluded.filled_qty,
			filled_price = excluded.filled_price,
			fee = excluded.fee,
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE trades.status NOT IN ('FILLED', 'CANCELLED')`,
		t.ClientOrderID, t.OrderID, t.PositionID, t.Symbol, string(t.Side), string(t.OrderType),
		t.RequestedQty, dec(t.RequestedPrice), t.FilledQty, dec(t.FilledPrice), dec(t.Fee),
		string(t.Status), string(t.CloseReason), unix(t.CreatedAt), unix(t.UpdatedAt),
	)
	return err
}

func (r *SQLiteRecorder) UpsertPosition(ctx context.Context, p *model.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO positions
		(id, trading_date, symbol, status, entry_price, entry_qty, entry_amount, remaining_qty,
		 stop_loss_price, tp1_price, tp2_price, tp3_price, tp1_done, tp2_done, tp3_done,
		 trailing_active, trailing_high, realized_pnl, realized_pnl_percent,
		 exit_amount, exit_qty, fees, close_reason, opened_at, closed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			remaining_qty = excluded.remaining_qty,
			tp3_price = excluded.tp3_price,
			tp1_done = excluded.tp1_done,
			tp2_done = excluded.tp2_done,
			tp3_done = excluded.tp3_done,
			trailing_active = excluded.trailing_active,
			trailing_high = excluded.trailing_high,
			realized_pnl = excluded.realized_pnl,
			realized_pnl_percent = excluded.realized_pnl_percent,
			exit_amount = excluded.exit_amount,
			exit_qty = excluded.exit_qty,
			fees = excluded.fees,
			close_reason = excluded.close_reason,
			closed_at = excluded.closed_at`,
		p.ID, p.TradingDate, p.Symbol, string(p.Status),
		dec(p.EntryPrice), p.EntryQty, dec(p.EntryAmount), p.RemainingQty,
		dec(p.StopLossPrice), dec(p.TP1Price), dec(p.TP2Price), dec(p.TP3Price),
		p.TP1Done, p.TP2Done, p.TP3Done, p.TrailingActive, dec(p.TrailingHigh),
		dec(p.RealizedPnL), dec(p.RealizedPnLPercent), dec(p.ExitAmount), p.ExitQty, dec(p.Fees),
		string(p.CloseReason), unix(p.OpenedAt), unix(p.ClosedAt),
	)
	return err
}

// CountSignals returns how many signals of type t were recorded for symbol.
func (r *SQLiteRecorder) CountSignals(ctx context.Context, symbol string, t model.SignalType) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signals WHERE symbol = ? AND signal_type = ?`, symbol, string(t),
	).Scan(&n)
	return n, err
}

// TradeStatus returns the stored status and filled quantity of a trade.
func (r *SQLiteRecorder) TradeStatus(ctx context.Context, clientOrderID string) (model.TradeStatus, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var status string
	var filled int64
	err := r.db.QueryRowContext(ctx,
		`SELECT status, filled_qty FROM trades WHERE client_order_id = ?`, clientOrderID,
	).Scan(&status, &filled)
	return model.TradeStatus(status), filled, err
}

// ClosedPnL sums realized P&L of positions closed on date.
func (r *SQLiteRecorder) ClosedPnL(ctx context.Context, date string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx,
		`SELECT realized_pnl FROM positions WHERE trading_date = ? AND status = 'CLOSED'`, date)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse pnl %q: %w", s, err)
		}
		total = total.Add(v)
	}
	return total, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}

func dec(d decimal.Decimal) string { return d.String() }

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
