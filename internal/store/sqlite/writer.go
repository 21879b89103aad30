package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"trendtrader/internal/model"
)

// Open opens the database at path in WAL mode with a single connection and
// creates the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS order_manager (
			order_id                TEXT    PRIMARY KEY,
			user_active_strategy_id TEXT    NOT NULL,
			completed_order_count   INTEGER NOT NULL DEFAULT 0,
			buy_count               INTEGER NOT NULL DEFAULT 0,
			sell_count              INTEGER NOT NULL DEFAULT 0,
			is_active               INTEGER NOT NULL DEFAULT 1,
			created_at              INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trade_history (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id    TEXT    NOT NULL,
			exchange    TEXT    NOT NULL,
			token       TEXT    NOT NULL,
			trade_type  TEXT    NOT NULL,
			quantity    INTEGER NOT NULL,
			entry_ltp   REAL    NOT NULL,
			exit_ltp    REAL    NOT NULL DEFAULT 0,
			entry_time  INTEGER NOT NULL,
			exit_time   INTEGER
		);
		CREATE INDEX IF NOT EXISTS trade_history_order ON trade_history (order_id);

		CREATE TABLE IF NOT EXISTS strategy_status (
			ref        TEXT    PRIMARY KEY,
			status     TEXT    NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bars (
			exchange TEXT    NOT NULL,
			token    TEXT    NOT NULL,
			tf       INTEGER NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL,
			PRIMARY KEY (exchange, token, tf, ts)
		);
	`)
	return err
}

// Ledger is a model.Ledger and model.TradeReader over SQLite.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

func NewLedger(db *sql.DB) *Ledger { return &Ledger{db: db, now: time.Now} }

// DB returns the underlying sql.DB for health checks.
func (l *Ledger) DB() *sql.DB { return l.db }

// money rounds a price to paise.
func money(v float64) float64 { return decimal.NewFromFloat(v).Round(2).InexactFloat64() }

func (l *Ledger) OpenOrderGroup(ctx context.Context, groupID, strategyRef string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO order_manager (order_id, user_active_strategy_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING
	`, groupID, strategyRef, l.now().Unix())
	if err != nil {
		return fmt.Errorf("open order group %s: %w", groupID, err)
	}
	return nil
}

func (l *Ledger) RecordTradeEntry(ctx context.Context, groupID string, inst model.Instrument, side model.Side, qty int64, entryPrice float64, entryTime time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO trade_history (order_id, exchange, token, trade_type, quantity, entry_ltp, entry_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, groupID, inst.Exchange, inst.Token, side.TradeType(), qty, money(entryPrice), entryTime.Unix())
	if err != nil {
		return fmt.Errorf("record entry %s: %w", groupID, err)
	}
	return nil
}

// RecordTradeExit closes the newest open trade of groupID on side and
// bumps the group's completed count. Older rows left open by a failed exit
// write are not touched. It fails when no open trade matches.
func (l *Ledger) RecordTradeExit(ctx context.Context, groupID string, side model.Side, exitPrice float64, exitTime time.Time) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE trade_history SET exit_ltp = ?, exit_time = ?
		WHERE id = (
			SELECT max(id) FROM trade_history
			WHERE order_id = ? AND trade_type = ? AND exit_ltp = 0
		)
	`, money(exitPrice), exitTime.Unix(), groupID, side.TradeType())
	if err != nil {
		return fmt.Errorf("record exit %s: %w", groupID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record exit %s: no open %s trade", groupID, side.TradeType())
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE order_manager SET completed_order_count = completed_order_count + 1
		WHERE order_id = ?
	`, groupID); err != nil {
		return fmt.Errorf("complete order %s: %w", groupID, err)
	}
	return tx.Commit()
}

func (l *Ledger) IncrementCounter(ctx context.Context, groupID string, field model.Counter) error {
	var q string
	switch field {
	case model.CounterBuy:
		q = `UPDATE order_manager SET buy_count = buy_count + 1 WHERE order_id = ?`
	case model.CounterSell:
		q = `UPDATE order_manager SET sell_count = sell_count + 1 WHERE order_id = ?`
	default:
		return fmt.Errorf("unknown counter %q", field)
	}
	if _, err := l.db.ExecContext(ctx, q, groupID); err != nil {
		return fmt.Errorf("increment %s %s: %w", field, groupID, err)
	}
	return nil
}

func (l *Ledger) SetStrategyStatus(ctx context.Context, strategyRef string, status model.StrategyStatus) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO strategy_status (ref, status, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
	`, strategyRef, string(status), l.now().Unix())
	if err != nil {
		return fmt.Errorf("set status %s: %w", strategyRef, err)
	}
	return nil
}

// Trades returns the trade records of groupID in entry order.
func (l *Ledger) Trades(ctx context.Context, groupID string) ([]model.TradeRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT order_id, token, trade_type, quantity, entry_ltp, exit_ltp, entry_time, exit_time
		FROM trade_history WHERE order_id = ? ORDER BY id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var (
			rec       model.TradeRecord
			tradeType string
			entryTS   int64
			exitTS    sql.NullInt64
		)
		if err := rows.Scan(&rec.GroupID, &rec.Token, &tradeType, &rec.Qty, &rec.EntryPrice, &rec.ExitPrice, &entryTS, &exitTS); err != nil {
			return nil, fmt.Errorf("sqlite scan trades: %w", err)
		}
		rec.Side = model.SideSell
		if tradeType == "buy" {
			rec.Side = model.SideBuy
		}
		rec.EntryTime = time.Unix(entryTS, 0).In(model.IST)
		if exitTS.Valid {
			t := time.Unix(exitTS.Int64, 0).In(model.IST)
			rec.ExitTime = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Status returns the stored status of strategyRef, or "" when unknown.
func (l *Ledger) Status(ctx context.Context, strategyRef string) (model.StrategyStatus, error) {
	var s string
	err := l.db.QueryRowContext(ctx, `SELECT status FROM strategy_status WHERE ref = ?`, strategyRef).Scan(&s)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return model.StrategyStatus(s), err
}

// GroupSummary is the order_manager row of one order group.
type GroupSummary struct {
	StrategyRef string
	Buys        int
	Sells       int
	Completed   int
	Active      bool
}

// Group returns the order_manager row of groupID.
func (l *Ledger) Group(ctx context.Context, groupID string) (GroupSummary, error) {
	var g GroupSummary
	err := l.db.QueryRowContext(ctx, `
		SELECT user_active_strategy_id, buy_count, sell_count, completed_order_count, is_active
		FROM order_manager WHERE order_id = ?
	`, groupID).Scan(&g.StrategyRef, &g.Buys, &g.Sells, &g.Completed, &g.Active)
	if err != nil {
		return g, fmt.Errorf("sqlite group %s: %w", groupID, err)
	}
	return g, nil
}
