package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trendtrader/internal/model"
)

// Journal persists order results to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		group_id    TEXT NOT NULL,
		side        TEXT NOT NULL,
		token       TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		ref_price   REAL NOT NULL,
		fill_price  REAL NOT NULL DEFAULT 0,
		status      TEXT NOT NULL,
		message     TEXT,
		placed_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fills_group ON fills(group_id);
	CREATE INDEX IF NOT EXISTS idx_fills_token ON fills(token, exchange);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened order journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordFill persists res under groupID.
func (j *Journal) RecordFill(ctx context.Context, groupID string, res model.OrderResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	req := res.Request
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO fills (order_id, group_id, side, token, exchange, qty, ref_price, fill_price, status, message, placed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.OrderID,
		groupID,
		string(req.Side),
		req.Instrument.Token,
		req.Instrument.Exchange,
		req.Qty,
		req.RefPrice,
		res.FillPrice,
		res.Status,
		res.Message,
		res.PlacedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// FillRecord represents a row from the fills table.
type FillRecord struct {
	ID        int64     `json:"id"`
	OrderID   string    `json:"order_id"`
	GroupID   string    `json:"group_id"`
	Side      string    `json:"side"`
	Token     string    `json:"token"`
	Exchange  string    `json:"exchange"`
	Qty       int64     `json:"qty"`
	RefPrice  float64   `json:"ref_price"`
	FillPrice float64   `json:"fill_price"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	PlacedAt  time.Time `json:"placed_at"`
}

// Fills returns the journaled orders of groupID, oldest first. An empty
// groupID returns every row.
func (j *Journal) Fills(ctx context.Context, groupID string) ([]FillRecord, error) {
	query := `SELECT id, order_id, group_id, side, token, exchange, qty, ref_price, fill_price, status, message, placed_at FROM fills`
	var args []any
	if groupID != "" {
		query += ` WHERE group_id = ?`
		args = append(args, groupID)
	}
	query += ` ORDER BY id ASC`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		var r FillRecord
		var msg sql.NullString
		var placedAt string
		if err := rows.Scan(&r.ID, &r.OrderID, &r.GroupID, &r.Side, &r.Token, &r.Exchange,
			&r.Qty, &r.RefPrice, &r.FillPrice, &r.Status, &msg, &placedAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		r.Message = msg.String
		r.PlacedAt, _ = time.Parse(time.RFC3339, placedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
