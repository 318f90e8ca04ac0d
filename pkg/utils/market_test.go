package utils

import (
	"testing"
	"time"

	"oi-trader/internal/errors"
)

func TestClosestExpiryFrom(t *testing.T) {
	tue := time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)  // Tuesday
	thu := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)  // Thursday
	thu2 := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	candidates := []time.Time{thu2, tue, thu}

	got, err := ClosestExpiryFrom(candidates, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC), false)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(tue) {
		t.Fatalf("closest = %v, want the Tuesday expiry", got)
	}

	// Skipping Monday/Tuesday expiries moves to the Thursday.
	got, err = ClosestExpiryFrom(candidates, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC), true)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(thu) {
		t.Fatalf("closest = %v, want the Thursday expiry", got)
	}

	// An expiry on the query date itself still qualifies.
	got, err = ClosestExpiryFrom(candidates, thu, false)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(thu) {
		t.Fatalf("same-day expiry = %v, want %v", got, thu)
	}

	if _, err := ClosestExpiryFrom(candidates, thu2.AddDate(0, 0, 1), false); !errors.Is(err, errors.ErrNoExpiry) {
		t.Fatalf("expected ErrNoExpiry, got %v", err)
	}
}

func TestMonthlyExpiries(t *testing.T) {
	jan1 := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	jan2 := time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC)
	feb1 := time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)

	got := MonthlyExpiries([]time.Time{feb1, jan1, jan2})
	if len(got) != 2 {
		t.Fatalf("monthly expiries = %v, want two", got)
	}
	if !got[0].Equal(jan2) || !got[1].Equal(feb1) {
		t.Fatalf("monthly expiries = %v, want last of each month in order", got)
	}
}

func TestNextCandleAlign(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 22, 30, 0, time.UTC)
	next := NextCandleAlign(now, 5*time.Minute)
	want := time.Date(2026, 1, 5, 9, 25, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("aligned = %v, want %v", next, want)
	}

	// Exactly on a boundary moves to the following one.
	next = NextCandleAlign(want, 5*time.Minute)
	if !next.Equal(want.Add(5 * time.Minute)) {
		t.Fatalf("aligned = %v, want %v", next, want.Add(5*time.Minute))
	}
}

func TestMarketStatusAt(t *testing.T) {
	open := time.Date(2026, 1, 5, 10, 0, 0, 0, IndiaLocation) // Monday
	if MarketStatusAt(open) != MarketOpen {
		t.Fatal("10:00 IST on a weekday should be open")
	}
	preOpen := time.Date(2026, 1, 5, 9, 5, 0, 0, IndiaLocation)
	if MarketStatusAt(preOpen) != MarketPreOpen {
		t.Fatal("09:05 IST should be pre-open")
	}
	weekend := time.Date(2026, 1, 4, 10, 0, 0, 0, IndiaLocation) // Sunday
	if MarketStatusAt(weekend) != MarketClosed {
		t.Fatal("Sunday should be closed")
	}
}
