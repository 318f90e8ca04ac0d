package strategy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"oi-trader/internal/errors"
	"oi-trader/internal/models"
)

type stubMarket struct {
	spot   map[time.Time]float64
	bars   map[models.OptionKey][]models.Bar
	window []models.Bar
	expiry time.Time
}

func (m *stubMarket) SpotPrice(ts time.Time) (float64, error) {
	if v, ok := m.spot[ts]; ok {
		return v, nil
	}
	return 0, errors.NewDataError("spot", ts.Format(time.RFC3339), nil)
}

func (m *stubMarket) Bar(key models.OptionKey, atOrBefore time.Time) (*models.Bar, error) {
	bars := m.bars[key]
	for i := len(bars) - 1; i >= 0; i-- {
		if !bars[i].Timestamp.After(atOrBefore) {
			b := bars[i]
			return &b, nil
		}
	}
	return nil, errors.NewDataError("bar", key.String(), nil)
}

func (m *stubMarket) BarsWindow(key models.OptionKey, from, to time.Time) ([]models.Bar, error) {
	var out []models.Bar
	for _, b := range m.bars[key] {
		if !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *stubMarket) StrikesNear(spot float64, above, below int, expiry time.Time, ts time.Time) ([]models.Bar, error) {
	if len(m.window) == 0 {
		return nil, errors.NewDataError("chain", "window", nil)
	}
	return m.window, nil
}

func (m *stubMarket) ClosestExpiry(date time.Time) (time.Time, error) {
	return m.expiry, nil
}

type captureRecorder struct {
	resets  []time.Time
	opened  []models.Position
	closed  []models.Trade
	updated int
}

func (r *captureRecorder) OnTradeClosed(t models.Trade)       { r.closed = append(r.closed, t) }
func (r *captureRecorder) OnPositionOpened(p models.Position) { r.opened = append(r.opened, p) }
func (r *captureRecorder) OnPositionUpdated(models.Position)  { r.updated++ }
func (r *captureRecorder) OnSessionReset(d time.Time)         { r.resets = append(r.resets, d) }

// newScenarioMarket builds a day where 24500CE open interest unwinds
// 5,000,000 -> 4,500,000 with price 105 above VWAP, then the price gaps
// down through the initial stop, then a fresh perfect setup appears.
func newScenarioMarket() (*stubMarket, []time.Time) {
	expiry := time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC)
	key := models.OptionKey{Strike: 24500, Type: models.Call, Expiry: expiry}

	t0 := time.Date(2026, 1, 5, 9, 25, 0, 0, time.UTC)
	t1 := t0.Add(5 * time.Minute)
	t2 := t0.Add(10 * time.Minute)
	t3 := t0.Add(15 * time.Minute)

	m := &stubMarket{
		spot: map[time.Time]float64{
			t0: 24460, t1: 24460, t2: 24460, t3: 24460,
		},
		bars: map[models.OptionKey][]models.Bar{
			key: {
				{Timestamp: t0, Strike: 24500, Type: models.Call, Expiry: expiry, Close: 98, Volume: 1000, OpenInterest: 5_000_000},
				{Timestamp: t1, Strike: 24500, Type: models.Call, Expiry: expiry, Close: 105, Volume: 1000, OpenInterest: 4_500_000},
				{Timestamp: t2, Strike: 24500, Type: models.Call, Expiry: expiry, Close: 70, Volume: 1000, OpenInterest: 4_500_000},
				{Timestamp: t3, Strike: 24500, Type: models.Call, Expiry: expiry, Close: 106, Volume: 1000, OpenInterest: 4_000_000},
			},
		},
		window: []models.Bar{
			{Timestamp: t0, Strike: 24500, Type: models.Call, Expiry: expiry, OpenInterest: 8_000_000},
			{Timestamp: t0, Strike: 24300, Type: models.Put, Expiry: expiry, OpenInterest: 7_000_000},
		},
		expiry: expiry,
	}
	return m, []time.Time{t0, t1, t2, t3}
}

func TestOrchestrator_EntryStopAndBlockedReentry(t *testing.T) {
	m, ticks := newScenarioMarket()
	rec := &captureRecorder{}
	o := NewOrchestrator(testParams(), m, rec, zerolog.Nop())

	// First candle: direction CALL selected, OI baseline primed, no entry.
	if err := o.ProcessTick(ticks[0], false); err != nil {
		t.Fatal(err)
	}
	if o.OpenPosition() != nil {
		t.Fatal("first OI observation must not open a position")
	}

	// Second candle: OI unwinds and price 105 > VWAP -> entry fires at 105.
	if err := o.ProcessTick(ticks[1], false); err != nil {
		t.Fatal(err)
	}
	pos := o.OpenPosition()
	if pos == nil {
		t.Fatal("expected an open position")
	}
	if pos.EntryPrice != 105 {
		t.Fatalf("entry price = %v, want 105", pos.EntryPrice)
	}
	if pos.Key.Strike != 24500 || pos.Key.Type != models.Call {
		t.Fatalf("entered %v, want 24500CE", pos.Key)
	}
	if len(rec.opened) != 1 {
		t.Fatalf("recorder saw %d opens, want 1", len(rec.opened))
	}

	// Third candle: price 70 gaps through the stop; strict exit at 78.75.
	if err := o.ProcessTick(ticks[2], false); err != nil {
		t.Fatal(err)
	}
	trades := o.Trades()
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	if trades[0].ExitPrice != 78.75 || trades[0].PnLPercent != -25.0 {
		t.Fatalf("exit = %v pnl_pct = %v, want 78.75 and -25.0", trades[0].ExitPrice, trades[0].PnLPercent)
	}
	if trades[0].ExitReason != models.ExitStopLoss {
		t.Fatalf("exit reason = %v", trades[0].ExitReason)
	}

	// Fourth candle: a perfect setup reappears but the daily cap is spent.
	if err := o.ProcessTick(ticks[3], false); err != nil {
		t.Fatal(err)
	}
	if o.OpenPosition() != nil {
		t.Fatal("re-entry must stay blocked after the daily cap is reached")
	}
	if len(o.Trades()) != 1 {
		t.Fatal("no further trades expected")
	}
}

func TestOrchestrator_SessionResetOnNewDate(t *testing.T) {
	m, ticks := newScenarioMarket()
	rec := &captureRecorder{}
	o := NewOrchestrator(testParams(), m, rec, zerolog.Nop())

	if err := o.ProcessTick(ticks[0], false); err != nil {
		t.Fatal(err)
	}

	// Next calendar day: new session, spot/bars absent so the cycle skips,
	// but the reset itself must fire.
	nextDay := ticks[0].Add(24 * time.Hour)
	if err := o.ProcessTick(nextDay, false); err != nil {
		t.Fatal(err)
	}
	if len(rec.resets) != 2 {
		t.Fatalf("recorder saw %d resets, want 2", len(rec.resets))
	}
	if !rec.resets[1].Equal(midnight(nextDay)) {
		t.Fatalf("second reset date = %v", rec.resets[1])
	}
}

func TestOrchestrator_MissingDataSkipsAndCounts(t *testing.T) {
	m, ticks := newScenarioMarket()
	o := NewOrchestrator(testParams(), m, nil, zerolog.Nop())

	unknown := ticks[0].Add(2 * time.Minute) // no spot for this timestamp
	if err := o.ProcessTick(unknown, false); err != nil {
		t.Fatal(err)
	}
	if o.SkippedCycles() != 1 {
		t.Fatalf("skipped cycles = %d, want 1", o.SkippedCycles())
	}
}

func TestOrchestrator_LastCandleForcesEODExit(t *testing.T) {
	m, ticks := newScenarioMarket()
	o := NewOrchestrator(testParams(), m, nil, zerolog.Nop())

	if err := o.ProcessTick(ticks[0], false); err != nil {
		t.Fatal(err)
	}
	if err := o.ProcessTick(ticks[1], false); err != nil {
		t.Fatal(err)
	}
	if o.OpenPosition() == nil {
		t.Fatal("expected an open position")
	}

	// Mark the next candle as the day's last; price 106 is nowhere near a
	// stop but the position must still close.
	if err := o.ProcessTick(ticks[3], true); err != nil {
		t.Fatal(err)
	}
	trades := o.Trades()
	if len(trades) != 1 || trades[0].ExitReason != models.ExitEOD {
		t.Fatalf("trades = %+v, want one EOD exit", trades)
	}
	if trades[0].ExitPrice != 106 {
		t.Fatalf("EOD exit price = %v, want observed 106", trades[0].ExitPrice)
	}
}

func TestOrchestrator_MonitorExitClosesPosition(t *testing.T) {
	m, ticks := newScenarioMarket()
	o := NewOrchestrator(testParams(), m, nil, zerolog.Nop())

	if err := o.ProcessTick(ticks[0], false); err != nil {
		t.Fatal(err)
	}
	if err := o.ProcessTick(ticks[1], false); err != nil {
		t.Fatal(err)
	}

	// The fine monitor sees the t2 bar between strategy cycles.
	if err := o.MonitorExit(ticks[2]); err != nil {
		t.Fatal(err)
	}
	if o.OpenPosition() != nil {
		t.Fatal("monitor should have closed the position")
	}
	trades := o.Trades()
	if len(trades) != 1 || trades[0].ExitReason != models.ExitStopLoss {
		t.Fatalf("trades = %+v, want one stop-loss exit", trades)
	}
}

func TestOrchestrator_MonitorExitNoopWithoutPosition(t *testing.T) {
	m, ticks := newScenarioMarket()
	o := NewOrchestrator(testParams(), m, nil, zerolog.Nop())

	if err := o.MonitorExit(ticks[0]); err != nil {
		t.Fatal(err)
	}
	if len(o.Trades()) != 0 {
		t.Fatal("no trades expected")
	}
}

func TestOrchestrator_SnapshotRestoreSameDay(t *testing.T) {
	m, ticks := newScenarioMarket()
	o := NewOrchestrator(testParams(), m, nil, zerolog.Nop())

	if err := o.ProcessTick(ticks[0], false); err != nil {
		t.Fatal(err)
	}
	if err := o.ProcessTick(ticks[1], false); err != nil {
		t.Fatal(err)
	}
	snap := o.Snapshot()
	if snap == nil || snap.Position == nil {
		t.Fatal("snapshot should carry the open position")
	}
	if snap.TradesTaken != 1 {
		t.Fatalf("snapshot trades taken = %d, want 1", snap.TradesTaken)
	}

	// A fresh orchestrator resumes mid-day and still exits correctly.
	o2 := NewOrchestrator(testParams(), m, nil, zerolog.Nop())
	if !o2.Restore(snap, ticks[2]) {
		t.Fatal("same-day snapshot must restore")
	}
	pos := o2.OpenPosition()
	if pos == nil || pos.EntryPrice != 105 {
		t.Fatalf("restored position = %+v", pos)
	}

	if err := o2.ProcessTick(ticks[2], false); err != nil {
		t.Fatal(err)
	}
	trades := o2.Trades()
	if len(trades) != 1 || trades[0].ExitPrice != 78.75 {
		t.Fatalf("restored session trades = %+v", trades)
	}

	// And the spent cap survives the restart.
	if err := o2.ProcessTick(ticks[3], false); err != nil {
		t.Fatal(err)
	}
	if o2.OpenPosition() != nil {
		t.Fatal("trade cap must survive restore")
	}
}

func TestOrchestrator_StaleSnapshotIgnored(t *testing.T) {
	m, ticks := newScenarioMarket()
	o := NewOrchestrator(testParams(), m, nil, zerolog.Nop())
	if err := o.ProcessTick(ticks[0], false); err != nil {
		t.Fatal(err)
	}
	snap := o.Snapshot()

	o2 := NewOrchestrator(testParams(), m, nil, zerolog.Nop())
	if o2.Restore(snap, ticks[0].Add(24*time.Hour)) {
		t.Fatal("yesterday's snapshot must not restore")
	}
}
