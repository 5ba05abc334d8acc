package domain

import (
	"testing"
	"time"
)

func TestMidnight(t *testing.T) {
	in := time.Date(2025, 3, 14, 15, 9, 26, 535, time.FixedZone("CST", 8*3600))
	got := Midnight(in)

	want := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Midnight = %v, want %v", got, want)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	d, err := ParseDate("2025-01-06")
	if err != nil {
		t.Fatalf("ParseDate returned error: %v", err)
	}
	if got := FormatDate(d); got != "2025-01-06" {
		t.Errorf("FormatDate = %s, want 2025-01-06", got)
	}
}

func TestParseDateRejectsCompactForm(t *testing.T) {
	if _, err := ParseDate("20250106"); err == nil {
		t.Error("ParseDate should reject YYYYMMDD")
	}
}

func TestInstrumentActiveOn(t *testing.T) {
	day := func(s string) time.Time {
		d, err := ParseDate(s)
		if err != nil {
			t.Fatalf("bad date %s: %v", s, err)
		}
		return d
	}

	inst := Instrument{
		TsCode:     "000001.SZ",
		ListDate:   day("2020-06-01"),
		DelistDate: day("2024-06-01"),
	}

	cases := []struct {
		date string
		want bool
	}{
		{"2020-05-29", false},
		{"2020-06-01", true},
		{"2022-01-10", true},
		{"2024-05-31", true},
		{"2024-06-01", false}, // delist date itself has no bar
	}
	for _, tc := range cases {
		if got := inst.ActiveOn(day(tc.date)); got != tc.want {
			t.Errorf("ActiveOn(%s) = %v, want %v", tc.date, got, tc.want)
		}
	}
}

func TestInstrumentActiveOnZeroDates(t *testing.T) {
	inst := Instrument{TsCode: "000001.SZ", Status: Listed}
	d, _ := ParseDate("2025-01-06")
	if !inst.ActiveOn(d) {
		t.Error("instrument without list/delist dates should always be active")
	}
}
