package markethours

import (
	"fmt"
	"time"

	"trendtrader/internal/model"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = model.IST

// Exchange hours in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// Hours is a trading-day gate: weekdays, not a holiday, and within
// [Open, Close). It satisfies model.MarketClock.
type Hours struct {
	Open  TimeOfDay
	Close TimeOfDay
}

// Exchange is the full NSE cash session.
var Exchange = Hours{Open: At(OpenHour, OpenMinute), Close: At(CloseHour, CloseMinute)}

// Trading is the narrower window the trade loop runs in: it skips the
// opening auction noise and stops before the closing minutes.
var Trading = Hours{Open: At(9, 20), Close: At(15, 25)}

// IsOpen returns true if t is on a trading day within [Open, Close).
func (h Hours) IsOpen(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	tod := Of(ist)
	return tod >= h.Open && tod < h.Close
}

// NextOpen returns the next open time. If t is before today's open on a
// trading day, returns today's open.
func (h Hours) NextOpen(t time.Time) time.Time {
	ist := t.In(IST)

	todayOpen := h.Open.On(ist)
	if ist.Before(todayOpen) && IsTradingDay(ist) {
		return todayOpen
	}

	d := ist.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // max 10 days ahead (holidays + weekends)
		if IsTradingDay(d) {
			return h.Open.On(d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return h.Open.On(ist.AddDate(0, 0, 1))
}

// TodayClose returns the close time on t's IST day.
func (h Hours) TodayClose(t time.Time) time.Time {
	return h.Close.On(t)
}

// IsMarketOpen returns true if t falls within NSE trading hours
// (9:15 AM – 3:30 PM IST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool { return Exchange.IsOpen(t) }

// NextOpen returns the next NSE open (9:15 AM IST on the next trading day).
func NextOpen(t time.Time) time.Time { return Exchange.NextOpen(t) }

// TodayClose returns today's market close time (3:30 PM IST).
func TodayClose(t time.Time) time.Time { return Exchange.TodayClose(t) }

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	return IsWeekday(ist) && !IsHoliday(ist)
}

// TimeUntilClose returns the duration until today's close.
// Returns 0 if market is already closed.
func TimeUntilClose(t time.Time) time.Duration {
	d := TodayClose(t).Sub(t.In(IST))
	if d < 0 {
		return 0
	}
	return d
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market open, closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	ist := next.In(IST)
	return fmt.Sprintf("Market closed, opens %s %s (%s)",
		ist.Weekday().String()[:3], ist.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
