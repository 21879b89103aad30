// cmd/ledgerctl prints the trade records of an order group from the
// SQLite ledger, with the journaled broker orders behind them.
//
// Usage:
//
//	go run ./cmd/ledgerctl --group=<uuid>
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"trendtrader/internal/execution"
	"trendtrader/internal/model"
	sqlitestore "trendtrader/internal/store/sqlite"
)

func main() {
	log.SetFlags(0)
	os.Exit(run())
}

func run() int {
	group := flag.String("group", "", "Order group id")
	dbPath := flag.String("db", "data/ledger.db", "Path to SQLite ledger")
	journalPath := flag.String("journal", "", "Path to order journal; empty skips journaled orders")
	flag.Parse()

	if *group == "" {
		flag.Usage()
		return 2
	}

	ctx := context.Background()
	db, err := sqlitestore.Open(*dbPath)
	if err != nil {
		log.Printf("[ledgerctl] %v", err)
		return 1
	}
	defer db.Close()

	ledger := sqlitestore.NewLedger(db)
	summary, err := ledger.Group(ctx, *group)
	if err != nil {
		log.Printf("[ledgerctl] group %s: %v", *group, err)
		return 1
	}
	status, err := ledger.Status(ctx, summary.StrategyRef)
	if err != nil {
		log.Printf("[ledgerctl] %v", err)
		return 1
	}
	printSummary(os.Stdout, *group, summary, status)

	trades, err := ledger.Trades(ctx, *group)
	if err != nil {
		log.Printf("[ledgerctl] %v", err)
		return 1
	}
	fmt.Println()
	printTrades(os.Stdout, trades)

	if *journalPath == "" {
		return 0
	}
	j, err := execution.NewJournal(*journalPath)
	if err != nil {
		log.Printf("[ledgerctl] %v", err)
		return 1
	}
	defer j.Close()
	fills, err := j.Fills(ctx, *group)
	if err != nil {
		log.Printf("[ledgerctl] %v", err)
		return 1
	}
	fmt.Println()
	printFills(os.Stdout, fills)
	return 0
}

// pnl is the realized result of a closed trade, zero while open.
func pnl(t model.TradeRecord) decimal.Decimal {
	if t.Open() {
		return decimal.Zero
	}
	d := decimal.NewFromFloat(t.ExitPrice).Sub(decimal.NewFromFloat(t.EntryPrice)).Mul(decimal.NewFromInt(t.Qty))
	if t.Side == model.SideSell {
		d = d.Neg()
	}
	return d
}

func printSummary(out io.Writer, groupID string, g sqlitestore.GroupSummary, status model.StrategyStatus) {
	if status == "" {
		status = "unknown"
	}
	fmt.Fprintf(out, "group %s  strategy %s (%s)\n", groupID, g.StrategyRef, status)
	fmt.Fprintf(out, "buys %d  sells %d  completed %d\n", g.Buys, g.Sells, g.Completed)
}

func printTrades(out io.Writer, trades []model.TradeRecord) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIDE\tTOKEN\tQTY\tENTRY\tENTRY TIME\tEXIT\tEXIT TIME\tPNL")
	total := decimal.Zero
	for _, t := range trades {
		exitAt := "open"
		if !t.Open() {
			exitAt = t.ExitTime.Format("2006-01-02 15:04")
		}
		p := pnl(t)
		total = total.Add(p)
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%s\t%.2f\t%s\t%s\n",
			t.Side, t.Token, t.Qty, t.EntryPrice, t.EntryTime.Format("2006-01-02 15:04"), t.ExitPrice, exitAt, p.StringFixed(2))
	}
	fmt.Fprintf(w, "\t\t\t\t\t\tTOTAL\t%s\n", total.StringFixed(2))
	w.Flush()
}

func printFills(out io.Writer, fills []execution.FillRecord) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tSIDE\tQTY\tREF\tFILL\tSTATUS\tPLACED")
	for _, f := range fills {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%.2f\t%s\t%s\n",
			f.OrderID, f.Side, f.Qty, f.RefPrice, f.FillPrice, f.Status, f.PlacedAt.In(model.IST).Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}
