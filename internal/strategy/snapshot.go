package strategy

import (
	"time"

	"oi-trader/internal/models"
)

// Snapshot is the serializable image of one trading day's state, written
// after every position event so a restart can resume mid-day.
type Snapshot struct {
	Date         time.Time         `json:"date"`
	Direction    models.Direction  `json:"direction"`
	ActiveStrike float64           `json:"active_strike"`
	Expiry       time.Time         `json:"expiry"`
	TradesTaken  int               `json:"trades_taken"`
	Position     *models.Position  `json:"position,omitempty"`
	VWAPs        []VWAPSnapshot    `json:"vwaps"`
	OIBaselines  []OIBaselineEntry `json:"oi_baselines"`
	LastBars     []LastBarEntry    `json:"last_bars"`
}

// VWAPSnapshot captures one accumulator's running totals.
type VWAPSnapshot struct {
	Key    models.OptionKey `json:"key"`
	TPV    float64          `json:"tpv"`
	Volume float64          `json:"volume"`
}

// OIBaselineEntry captures one rolling OI baseline.
type OIBaselineEntry struct {
	Key models.OptionKey `json:"key"`
	OI  float64          `json:"oi"`
}

// LastBarEntry captures the last bar timestamp applied per contract.
type LastBarEntry struct {
	Key models.OptionKey `json:"key"`
	TS  time.Time        `json:"ts"`
}

// Snapshot captures the current session state. Returns nil before the
// first tick of any day.
func (o *Orchestrator) Snapshot() *Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.state
	if s == nil {
		return nil
	}

	snap := &Snapshot{
		Date:         s.Date,
		Direction:    s.Direction,
		ActiveStrike: s.ActiveStrike,
		Expiry:       s.Expiry,
		TradesTaken:  s.TradesTaken,
	}
	if s.Position.IsOpen() {
		p := *s.Position
		snap.Position = &p
	}
	for key, acc := range s.vwaps {
		tpv, vol := acc.Totals()
		snap.VWAPs = append(snap.VWAPs, VWAPSnapshot{Key: key, TPV: tpv, Volume: vol})
	}
	for key, oi := range s.oi.Baselines() {
		snap.OIBaselines = append(snap.OIBaselines, OIBaselineEntry{Key: key, OI: oi})
	}
	for key, ts := range s.lastBar {
		snap.LastBars = append(snap.LastBars, LastBarEntry{Key: key, TS: ts})
	}
	return snap
}

// Restore resumes from a snapshot taken earlier the same day. A snapshot
// from a different calendar date is ignored; the next tick starts a fresh
// session per the normal new-day rules. Returns true when the snapshot
// was applied.
func (o *Orchestrator) Restore(snap *Snapshot, now time.Time) bool {
	if snap == nil || !snap.Date.Equal(midnight(now)) {
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	s := newSessionState(snap.Date)
	s.Direction = snap.Direction
	s.ActiveStrike = snap.ActiveStrike
	s.Expiry = snap.Expiry
	s.TradesTaken = snap.TradesTaken
	if snap.Position != nil && snap.Position.State == models.PositionOpen {
		p := *snap.Position
		s.Position = &p
	}
	for _, v := range snap.VWAPs {
		s.vwaps[v.Key] = RestoreVWAP(v.TPV, v.Volume)
	}
	for _, b := range snap.OIBaselines {
		s.oi.RecordBaseline(b.Key, b.OI)
	}
	for _, lb := range snap.LastBars {
		s.lastBar[lb.Key] = lb.TS
	}
	o.state = s
	return true
}
