package strategy

import (
	"math"
	"testing"
	"time"

	"oi-trader/internal/models"
)

func testBar(ts time.Time, high, low, close float64, volume int64, oi float64) models.Bar {
	return models.Bar{
		Timestamp:    ts,
		Strike:       24500,
		Type:         models.Call,
		Expiry:       time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC),
		High:         high,
		Low:          low,
		Close:        close,
		Volume:       volume,
		OpenInterest: oi,
	}
}

func TestVWAPAccumulator_EmptyHasNoValue(t *testing.T) {
	acc := NewVWAPAccumulator()
	if _, ok := acc.Value(); ok {
		t.Fatal("empty accumulator should report no value")
	}
}

func TestVWAPAccumulator_MatchesBatchComputation(t *testing.T) {
	start := time.Date(2026, 1, 5, 9, 15, 0, 0, time.UTC)
	bars := []models.Bar{
		testBar(start, 102, 98, 100, 1000, 0),
		testBar(start.Add(5*time.Minute), 106, 101, 104, 500, 0),
		testBar(start.Add(10*time.Minute), 104, 99, 101, 2500, 0),
		testBar(start.Add(15*time.Minute), 108, 103, 107, 750, 0),
	}

	acc := NewVWAPAccumulator()
	var tpv, vol float64
	for _, b := range bars {
		acc.Update(b)
		tpv += b.TypicalPrice() * float64(b.Volume)
		vol += float64(b.Volume)
	}

	got, ok := acc.Value()
	if !ok {
		t.Fatal("expected a value")
	}
	want := tpv / vol
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("incremental VWAP %v != batch VWAP %v", got, want)
	}
}

func TestVWAPAccumulator_ZeroVolumeCountsAsOne(t *testing.T) {
	ts := time.Date(2026, 1, 5, 9, 15, 0, 0, time.UTC)
	acc := NewVWAPAccumulator()
	acc.Update(testBar(ts, 0, 0, 100, 0, 0))
	acc.Update(testBar(ts.Add(5*time.Minute), 0, 0, 200, 0, 0))

	got, ok := acc.Value()
	if !ok {
		t.Fatal("expected a value")
	}
	if got != 150 {
		t.Fatalf("expected 150 with unit volumes, got %v", got)
	}
}

func TestVWAPAccumulator_FirstBarEqualsTypicalPrice(t *testing.T) {
	// A fresh accumulator at the first bar of a day must equal that bar's
	// typical price, proving no carry-over from a prior day.
	ts := time.Date(2026, 1, 6, 9, 15, 0, 0, time.UTC)
	bar := testBar(ts, 110, 100, 105, 3000, 0)

	acc := NewVWAPAccumulator()
	acc.Update(bar)

	got, ok := acc.Value()
	if !ok {
		t.Fatal("expected a value")
	}
	if math.Abs(got-bar.TypicalPrice()) > 1e-9 {
		t.Fatalf("first-bar VWAP %v != typical price %v", got, bar.TypicalPrice())
	}
}

func TestVWAPAccumulator_RestoreRoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 5, 9, 15, 0, 0, time.UTC)
	acc := NewVWAPAccumulator()
	acc.Update(testBar(ts, 102, 98, 100, 1000, 0))
	acc.Update(testBar(ts.Add(5*time.Minute), 106, 101, 104, 500, 0))

	tpv, vol := acc.Totals()
	restored := RestoreVWAP(tpv, vol)

	want, _ := acc.Value()
	got, ok := restored.Value()
	if !ok || got != want {
		t.Fatalf("restored VWAP %v != original %v", got, want)
	}
}
