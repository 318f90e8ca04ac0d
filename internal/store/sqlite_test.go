package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"oi-trader/internal/errors"
	"oi-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBar(ts time.Time, close, oi float64) models.Bar {
	return models.Bar{
		Timestamp:    ts,
		Strike:       24500,
		Type:         models.Call,
		Expiry:       time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC),
		Open:         close, High: close, Low: close, Close: close,
		Volume:       1000,
		OpenInterest: oi,
	}
}

func TestSQLiteStore_BarsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC)
	t1 := t0.Add(5 * time.Minute)
	if err := s.SaveBars(ctx, []models.Bar{testBar(t0, 100, 5_000_000), testBar(t1, 104, 4_800_000)}); err != nil {
		t.Fatal(err)
	}

	key := models.OptionKey{Strike: 24500, Type: models.Call, Expiry: time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC)}

	// At-or-before picks the earlier candle between the two.
	got, err := s.GetBar(ctx, key, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if got.Close != 100 || got.OpenInterest != 5_000_000 {
		t.Fatalf("bar = %+v, want the t0 candle", got)
	}
	if !got.Expiry.Equal(key.Expiry) {
		t.Fatalf("expiry = %v, want %v", got.Expiry, key.Expiry)
	}

	// Before any data the lookup reports missing data.
	if _, err := s.GetBar(ctx, key, t0.Add(-time.Minute)); !errors.Is(err, errors.ErrMissingData) {
		t.Fatalf("expected missing data, got %v", err)
	}

	window, err := s.GetBarsWindow(ctx, key, t0, t1)
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 2 {
		t.Fatalf("window = %d bars, want 2", len(window))
	}
}

func TestSQLiteStore_UpsertReplacesBar(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC)
	if err := s.SaveBars(ctx, []models.Bar{testBar(t0, 100, 5_000_000)}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBars(ctx, []models.Bar{testBar(t0, 102, 4_900_000)}); err != nil {
		t.Fatal(err)
	}

	key := models.OptionKey{Strike: 24500, Type: models.Call, Expiry: time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC)}
	got, err := s.GetBar(ctx, key, t0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Close != 102 {
		t.Fatalf("close = %v, want the upserted 102", got.Close)
	}

	window, _ := s.GetBarsWindow(ctx, key, t0, t0)
	if len(window) != 1 {
		t.Fatalf("upsert must not duplicate rows, got %d", len(window))
	}
}

func TestSQLiteStore_GetChainAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expiry := time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC)

	t0 := time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC)
	t1 := t0.Add(5 * time.Minute)
	bars := []models.Bar{
		{Timestamp: t0, Strike: 24500, Type: models.Call, Expiry: expiry, Close: 100, OpenInterest: 5_000_000},
		{Timestamp: t1, Strike: 24500, Type: models.Call, Expiry: expiry, Close: 104, OpenInterest: 4_800_000},
		{Timestamp: t0, Strike: 24400, Type: models.Put, Expiry: expiry, Close: 70, OpenInterest: 6_000_000},
		{Timestamp: t0, Strike: 25000, Type: models.Call, Expiry: expiry, Close: 20, OpenInterest: 9_000_000},
	}
	if err := s.SaveBars(ctx, bars); err != nil {
		t.Fatal(err)
	}

	// Strikes outside [low, high] are excluded; per contract only the
	// latest bar at or before ts is returned.
	chain, err := s.GetChainAt(ctx, expiry, t1, 24300, 24600)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain = %d rows, want 2", len(chain))
	}
	for _, b := range chain {
		if b.Strike == 24500 && b.OpenInterest != 4_800_000 {
			t.Fatalf("24500CE OI = %v, want the latest bar", b.OpenInterest)
		}
	}
}

func TestSQLiteStore_SpotSeries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC)
	err := s.SaveSpot(ctx, []models.SpotBar{
		{Timestamp: t0, Close: 24460},
		{Timestamp: t0.Add(5 * time.Minute), Close: 24480},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSpot(ctx, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if got != 24460 {
		t.Fatalf("spot = %v, want 24460", got)
	}

	if _, err := s.GetSpot(ctx, t0.Add(-time.Hour)); !errors.Is(err, errors.ErrMissingData) {
		t.Fatalf("expected missing data, got %v", err)
	}
}

func TestSQLiteStore_TradesFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expiry := time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC)

	mk := func(day int, pnl float64, reason models.ExitReason) models.Trade {
		return models.Trade{
			EntryTime:  time.Date(2026, 1, day, 9, 45, 0, 0, time.UTC),
			ExitTime:   time.Date(2026, 1, day, 11, 0, 0, 0, time.UTC),
			Strike:     24500,
			Type:       models.Call,
			Expiry:     expiry,
			EntryPrice: 100,
			ExitPrice:  100 + pnl/75,
			Size:       75,
			PnL:        pnl,
			ExitReason: reason,
		}
	}
	for _, tr := range []models.Trade{
		mk(5, -1968.75, models.ExitStopLoss),
		mk(6, 750, models.ExitEOD),
		mk(7, 300, models.ExitTrailingStop),
	} {
		if err := s.LogTrade(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.GetTrades(ctx, TradeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("trades = %d, want 3", len(all))
	}
	if !all[0].EntryTime.Before(all[1].EntryTime) {
		t.Fatal("trades must come back oldest first")
	}
	if all[0].ExitReason != models.ExitStopLoss {
		t.Fatalf("exit reason = %q", all[0].ExitReason)
	}

	byReason, err := s.GetTrades(ctx, TradeFilter{ExitReason: string(models.ExitEOD)})
	if err != nil {
		t.Fatal(err)
	}
	if len(byReason) != 1 || byReason[0].PnL != 750 {
		t.Fatalf("filtered = %+v", byReason)
	}

	ranged, err := s.GetTrades(ctx, TradeFilter{
		StartDate: time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC),
		Limit:     1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranged) != 1 || ranged[0].ExitReason != models.ExitEOD {
		t.Fatalf("ranged = %+v", ranged)
	}
}

func TestSQLiteStore_SnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	date := time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC)

	if _, err := s.GetSnapshot(ctx, date); !errors.Is(err, errors.ErrMissingData) {
		t.Fatalf("expected missing data, got %v", err)
	}

	if err := s.SaveSnapshot(ctx, date, []byte(`{"trades_taken":1}`)); err != nil {
		t.Fatal(err)
	}
	// Same calendar date at a different time overwrites.
	if err := s.SaveSnapshot(ctx, date.Add(time.Hour), []byte(`{"trades_taken":2}`)); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSnapshot(ctx, date)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"trades_taken":2}` {
		t.Fatalf("snapshot = %s", got)
	}
}

func TestSQLiteStore_TradingDates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d1 := time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC)
	d2 := time.Date(2026, 1, 6, 9, 20, 0, 0, time.UTC)
	if err := s.SaveBars(ctx, []models.Bar{testBar(d1, 100, 1), testBar(d1.Add(time.Hour), 101, 1), testBar(d2, 99, 1)}); err != nil {
		t.Fatal(err)
	}

	dates, err := s.TradingDates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dates) != 2 {
		t.Fatalf("dates = %v, want two distinct", dates)
	}
	if !dates[0].Before(dates[1]) {
		t.Fatal("dates must be ordered")
	}
}
