// Package postgres is a model.Ledger over a pgx connection pool, for
// deployments that share the ledger across hosts.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"trendtrader/internal/model"
)

// Ledger implements model.Ledger and model.TradeReader.
type Ledger struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool and ensures tables exist.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(cctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	l := &Ledger{pool: pool}
	if err := l.ensureSchema(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the pool.
func (l *Ledger) Close() { l.pool.Close() }

func (l *Ledger) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`create table if not exists order_manager (
			order_id text primary key,
			user_active_strategy_id text not null,
			completed_order_count integer not null default 0,
			buy_count integer not null default 0,
			sell_count integer not null default 0,
			is_active boolean not null default true,
			created_at timestamptz not null default now()
		)`,
		`create table if not exists trade_history (
			id bigserial primary key,
			order_id text not null,
			exchange text not null,
			token text not null,
			trade_type text not null,
			quantity bigint not null,
			entry_ltp numeric(14,2) not null,
			exit_ltp numeric(14,2) not null default 0,
			entry_time timestamptz not null,
			exit_time timestamptz
		)`,
		`create index if not exists idx_trade_history_order on trade_history(order_id)`,
		`create table if not exists strategy_status (
			ref text primary key,
			status text not null,
			updated_at timestamptz not null default now()
		)`,
	}
	for _, s := range stmts {
		if _, err := l.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensureSchema: %w", err)
		}
	}
	return nil
}

func (l *Ledger) OpenOrderGroup(ctx context.Context, groupID, strategyRef string) error {
	_, err := l.pool.Exec(ctx, `insert into order_manager(order_id, user_active_strategy_id)
		values($1,$2) on conflict (order_id) do nothing`, groupID, strategyRef)
	if err != nil {
		return fmt.Errorf("open order group %s: %w", groupID, err)
	}
	return nil
}

func (l *Ledger) RecordTradeEntry(ctx context.Context, groupID string, inst model.Instrument, side model.Side, qty int64, entryPrice float64, entryTime time.Time) error {
	_, err := l.pool.Exec(ctx, `insert into trade_history(order_id, exchange, token, trade_type, quantity, entry_ltp, entry_time)
		values($1,$2,$3,$4,$5,$6,$7)`,
		groupID, inst.Exchange, inst.Token, side.TradeType(), qty, decimal.NewFromFloat(entryPrice).Round(2), entryTime)
	if err != nil {
		return fmt.Errorf("record entry %s: %w", groupID, err)
	}
	return nil
}

// RecordTradeExit closes the newest open trade of groupID on side and
// bumps the group's completed count in one transaction.
func (l *Ledger) RecordTradeExit(ctx context.Context, groupID string, side model.Side, exitPrice float64, exitTime time.Time) error {
	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `update trade_history set exit_ltp = $1, exit_time = $2
			where id = (select max(id) from trade_history
				where order_id = $3 and trade_type = $4 and exit_ltp = 0)`,
			decimal.NewFromFloat(exitPrice).Round(2), exitTime, groupID, side.TradeType())
		if err != nil {
			return fmt.Errorf("record exit %s: %w", groupID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("record exit %s: no open %s trade", groupID, side.TradeType())
		}
		if _, err := tx.Exec(ctx, `update order_manager set completed_order_count = completed_order_count + 1
			where order_id = $1`, groupID); err != nil {
			return fmt.Errorf("complete order %s: %w", groupID, err)
		}
		return nil
	})
}

func (l *Ledger) IncrementCounter(ctx context.Context, groupID string, field model.Counter) error {
	var q string
	switch field {
	case model.CounterBuy:
		q = `update order_manager set buy_count = buy_count + 1 where order_id = $1`
	case model.CounterSell:
		q = `update order_manager set sell_count = sell_count + 1 where order_id = $1`
	default:
		return fmt.Errorf("unknown counter %q", field)
	}
	if _, err := l.pool.Exec(ctx, q, groupID); err != nil {
		return fmt.Errorf("increment %s %s: %w", field, groupID, err)
	}
	return nil
}

func (l *Ledger) SetStrategyStatus(ctx context.Context, strategyRef string, status model.StrategyStatus) error {
	_, err := l.pool.Exec(ctx, `insert into strategy_status(ref, status) values($1,$2)
		on conflict (ref) do update set status = excluded.status, updated_at = now()`, strategyRef, string(status))
	if err != nil {
		return fmt.Errorf("set status %s: %w", strategyRef, err)
	}
	return nil
}

// Trades returns the trade records of groupID in entry order.
func (l *Ledger) Trades(ctx context.Context, groupID string) ([]model.TradeRecord, error) {
	rows, err := l.pool.Query(ctx, `select order_id, token, trade_type, quantity, entry_ltp, exit_ltp, entry_time, exit_time
		from trade_history where order_id = $1 order by id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var (
			rec         model.TradeRecord
			tradeType   string
			entry, exit decimal.Decimal
		)
		if err := rows.Scan(&rec.GroupID, &rec.Token, &tradeType, &rec.Qty, &entry, &exit, &rec.EntryTime, &rec.ExitTime); err != nil {
			return nil, fmt.Errorf("scan trades: %w", err)
		}
		rec.Side = model.SideSell
		if tradeType == "buy" {
			rec.Side = model.SideBuy
		}
		rec.EntryPrice = entry.InexactFloat64()
		rec.ExitPrice = exit.InexactFloat64()
		rec.EntryTime = rec.EntryTime.In(model.IST)
		if rec.ExitTime != nil {
			t := rec.ExitTime.In(model.IST)
			rec.ExitTime = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
