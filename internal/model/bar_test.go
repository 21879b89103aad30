package model

import (
	"testing"
	"time"
)

func TestToIST_ConvertsUTCInstant(t *testing.T) {
	got := ToIST(time.Date(2026, time.October, 15, 3, 45, 0, 0, time.UTC))
	if got.Location() != IST || got.Hour() != 9 || got.Minute() != 15 {
		t.Fatalf("03:45Z = %v, want 09:15 IST", got)
	}
}

func TestParseIST(t *testing.T) {
	tests := []struct {
		layout, in string
		hour, min  int
	}{
		{"2006-01-02T15:04:05", "2026-10-15T09:15:00", 9, 15},
		{time.RFC3339, "2026-10-15T09:15:00+05:30", 9, 15},
		{time.RFC3339, "2026-10-15T03:45:00Z", 9, 15},
		{time.DateOnly, "2026-10-15", 0, 0},
	}
	for _, tt := range tests {
		got, err := ParseIST(tt.layout, tt.in)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if got.Location() != IST || got.Hour() != tt.hour || got.Minute() != tt.min || got.Day() != 15 {
			t.Errorf("%s = %v", tt.in, got)
		}
	}
	if _, err := ParseIST(time.DateOnly, "15/10/2026"); err == nil {
		t.Error("bad date accepted")
	}
}
