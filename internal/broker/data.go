package broker

import (
	"context"
	"fmt"
	"time"

	"trendtrader/internal/model"
	"trendtrader/pkg/smartconnect"
)

// Interval names understood by getCandleData.
var intervalNames = map[time.Duration]string{
	time.Minute:      "ONE_MINUTE",
	3 * time.Minute:  "THREE_MINUTE",
	5 * time.Minute:  "FIVE_MINUTE",
	10 * time.Minute: "TEN_MINUTE",
	15 * time.Minute: "FIFTEEN_MINUTE",
	30 * time.Minute: "THIRTY_MINUTE",
	time.Hour:        "ONE_HOUR",
}

// DataSource serves bars from the historical candle API and prices from
// the LTP API.
type DataSource struct {
	sess     *Session
	interval time.Duration
	name     string
	now      func() time.Time
}

// NewDataSource returns a source of bars of the given interval.
func NewDataSource(sess *Session, interval time.Duration) (*DataSource, error) {
	name, ok := intervalNames[interval]
	if !ok {
		return nil, fmt.Errorf("broker: unsupported candle interval %s", interval)
	}
	return &DataSource{sess: sess, interval: interval, name: name, now: time.Now}, nil
}

func (d *DataSource) candles(ctx context.Context, inst model.Instrument, from, to time.Time) ([]model.Bar, error) {
	params := smartconnect.CandleParams{
		Exchange:    inst.Exchange,
		SymbolToken: inst.Token,
		Interval:    d.name,
		FromDate:    from.In(model.IST).Format(smartconnect.CandleTimeLayout),
		ToDate:      to.In(model.IST).Format(smartconnect.CandleTimeLayout),
	}
	var rows []smartconnect.Candle
	err := d.sess.call(ctx, func() (err error) {
		rows, err = d.sess.client.GetCandleData(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	bars := make([]model.Bar, len(rows))
	for i, r := range rows {
		bars[i] = model.Bar{TS: model.ToIST(r.Time), Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
	}
	return bars, nil
}

func (d *DataSource) Historical(ctx context.Context, inst model.Instrument, from, to time.Time) ([]model.Bar, error) {
	bars, err := d.candles(ctx, inst, from, to)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, &model.NoDataError{Instrument: inst.Key(), Detail: "no candles in range"}
	}
	return bars, nil
}

// LatestBar returns the most recent candle whose interval has closed.
func (d *DataSource) LatestBar(ctx context.Context, inst model.Instrument) (model.Bar, error) {
	now := d.now()
	bars, err := d.candles(ctx, inst, now.Add(-4*d.interval), now)
	if err != nil {
		return model.Bar{}, err
	}
	for i := len(bars) - 1; i >= 0; i-- {
		if !bars[i].TS.Add(d.interval).After(now) {
			return bars[i], nil
		}
	}
	return model.Bar{}, &model.NoDataError{Instrument: inst.Key(), Detail: "no completed candle"}
}

func (d *DataSource) LatestPrice(ctx context.Context, inst model.Instrument) (time.Time, float64, error) {
	var ltp smartconnect.LTP
	err := d.sess.call(ctx, func() (err error) {
		ltp, err = d.sess.client.GetLTP(ctx, inst.Exchange, inst.TradingSymbol, inst.Token)
		return err
	})
	if err != nil {
		return time.Time{}, 0, err
	}
	if ltp.LTP <= 0 {
		return time.Time{}, 0, &model.StaleDataError{Instrument: inst.Key(), Detail: "ltp not available"}
	}
	return d.now(), ltp.LTP, nil
}
