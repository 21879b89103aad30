package markethours

import (
	"testing"
	"time"
)

func ist(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, IST)
}

func TestExchange_IsOpen(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", ist(2026, time.October, 14, 9, 14), false},
		{"at open", ist(2026, time.October, 14, 9, 15), true},
		{"midday", ist(2026, time.October, 14, 12, 0), true},
		{"at close", ist(2026, time.October, 14, 15, 30), false},
		{"saturday", ist(2026, time.October, 17, 11, 0), false},
		{"holiday", ist(2026, time.October, 2, 11, 0), false},
	}
	for _, tt := range tests {
		if got := IsMarketOpen(tt.at); got != tt.want {
			t.Errorf("%s: IsMarketOpen(%v) = %v, want %v", tt.name, tt.at, got, tt.want)
		}
	}
}

func TestTrading_Window(t *testing.T) {
	if Trading.IsOpen(ist(2026, time.October, 14, 9, 18)) {
		t.Error("09:18 should be outside the trading window")
	}
	if !Trading.IsOpen(ist(2026, time.October, 14, 9, 20)) {
		t.Error("09:20 should be inside the trading window")
	}
	if Trading.IsOpen(ist(2026, time.October, 14, 15, 25)) {
		t.Error("15:25 should be outside the trading window")
	}
}

func TestNextOpen_SkipsWeekendAndHoliday(t *testing.T) {
	// Friday 16 Oct 2026 after close → Monday 19 Oct.
	got := NextOpen(ist(2026, time.October, 16, 16, 0))
	want := ist(2026, time.October, 19, 9, 15)
	if !got.Equal(want) {
		t.Fatalf("NextOpen = %v, want %v", got, want)
	}

	// Monday 19 Oct after close → Tue 20 and Wed 21 are holidays → Thu 22.
	got = NextOpen(ist(2026, time.October, 19, 16, 0))
	want = ist(2026, time.October, 22, 9, 15)
	if !got.Equal(want) {
		t.Fatalf("NextOpen = %v, want %v", got, want)
	}
}

func TestNextOpen_SameDayBeforeOpen(t *testing.T) {
	got := Trading.NextOpen(ist(2026, time.October, 14, 8, 0))
	want := ist(2026, time.October, 14, 9, 20)
	if !got.Equal(want) {
		t.Fatalf("NextOpen = %v, want %v", got, want)
	}
}

func TestAddHolidays(t *testing.T) {
	day := ist(2026, time.December, 30, 10, 0)
	if IsHoliday(day) {
		t.Fatal("30 Dec should not be a holiday by default")
	}
	AddHolidays(day)
	if !IsHoliday(day) {
		t.Fatal("30 Dec should be a holiday after AddHolidays")
	}
}

func TestTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("14:25")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tod != At(14, 25) {
		t.Fatalf("got %v, want 14:25", tod)
	}
	if tod.String() != "14:25" {
		t.Fatalf("String() = %q", tod.String())
	}
	if _, err := ParseTimeOfDay("2pm"); err == nil {
		t.Fatal("expected error for bad layout")
	}

	var d TimeOfDay
	if err := d.UnmarshalText([]byte("09:15:30")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d != At(9, 15)+30 {
		t.Fatalf("got %v", d)
	}

	// Of converts from other zones.
	utc := time.Date(2026, time.October, 14, 3, 45, 0, 0, time.UTC) // 09:15 IST
	if Of(utc) != At(9, 15) {
		t.Fatalf("Of(utc) = %v, want 09:15", Of(utc))
	}
}

func TestWindow_ContainsInclusive(t *testing.T) {
	w := Window{Start: At(9, 15), End: At(13, 15)}
	cases := map[time.Time]bool{
		ist(2026, time.October, 14, 9, 15):  true,
		ist(2026, time.October, 14, 13, 15): true,
		ist(2026, time.October, 14, 13, 16): false,
		ist(2026, time.October, 14, 9, 10):  false,
	}
	for at, want := range cases {
		if got := w.Contains(at); got != want {
			t.Errorf("Contains(%v) = %v, want %v", at.Format("15:04"), got, want)
		}
	}
}
