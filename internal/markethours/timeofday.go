package markethours

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time in IST, stored as seconds since midnight.
type TimeOfDay int

// At builds a TimeOfDay from hour and minute.
func At(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60)
}

// Of returns the IST time of day of t.
func Of(t time.Time) TimeOfDay {
	ist := t.In(IST)
	return TimeOfDay(ist.Hour()*3600 + ist.Minute()*60 + ist.Second())
}

// ParseTimeOfDay accepts "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("time of day %q: want HH:MM or HH:MM:SS", s)
}

// On returns the instant on t's IST calendar day at this time of day.
func (d TimeOfDay) On(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, IST).Add(time.Duration(d) * time.Second)
}

func (d TimeOfDay) String() string {
	h, m, s := int(d)/3600, int(d)%3600/60, int(d)%60
	if s == 0 {
		return fmt.Sprintf("%02d:%02d", h, m)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (d TimeOfDay) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Window is an inclusive [Start, End] time-of-day range.
type Window struct {
	Start TimeOfDay `yaml:"start" json:"start"`
	End   TimeOfDay `yaml:"end" json:"end"`
}

// Contains reports whether t's IST time of day lies in the window.
func (w Window) Contains(t time.Time) bool {
	tod := Of(t)
	return tod >= w.Start && tod <= w.End
}

func (w Window) String() string { return w.Start.String() + "-" + w.End.String() }
