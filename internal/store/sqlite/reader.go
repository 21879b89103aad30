package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trendtrader/internal/model"
)

// BarCache stores fetched bars so historical reads survive a broker
// outage.
type BarCache struct {
	db *sql.DB
}

func NewBarCache(db *sql.DB) *BarCache { return &BarCache{db: db} }

// SaveBars upserts bars of timeframe tf in a single transaction.
func (c *BarCache) SaveBars(ctx context.Context, inst model.Instrument, tf time.Duration, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (exchange, token, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	secs := int64(tf.Seconds())
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, inst.Exchange, inst.Token, secs, b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("sqlite insert bar: %w", err)
		}
	}
	return tx.Commit()
}

// ReadBars returns cached bars in [from, to], ordered by timestamp.
func (c *BarCache) ReadBars(ctx context.Context, inst model.Instrument, tf time.Duration, from, to time.Time) ([]model.Bar, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE exchange = ? AND token = ? AND tf = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, inst.Exchange, inst.Token, int64(tf.Seconds()), from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var (
			b      model.Bar
			ts     int64
			volume sql.NullFloat64
		)
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(ts, 0).In(model.IST)
		b.Volume = volume.Float64
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
