// Package strategy implements the intraday momentum OI unwinding engine:
// running VWAP tracking, open-interest deltas, daily direction selection,
// entry signals and the layered stop-loss state machine.
package strategy

import "oi-trader/internal/models"

// VWAPAccumulator maintains a session-cumulative volume-weighted average
// price for one contract. Bars must be applied in non-decreasing timestamp
// order and exactly once each; re-applying a bar corrupts the average.
type VWAPAccumulator struct {
	tpv    float64 // cumulative typical_price * volume
	volume float64 // cumulative volume
}

// NewVWAPAccumulator returns an empty accumulator.
func NewVWAPAccumulator() *VWAPAccumulator {
	return &VWAPAccumulator{}
}

// Update folds one bar into the running totals. Zero volume counts as one
// unit so a dead bar still moves the average instead of starving it.
func (a *VWAPAccumulator) Update(bar models.Bar) {
	vol := float64(bar.Volume)
	if vol == 0 {
		vol = 1
	}
	a.tpv += bar.TypicalPrice() * vol
	a.volume += vol
}

// Value returns the current VWAP. ok is false until at least one bar has
// been applied; callers must treat that as insufficient history and fail
// any gate that depends on VWAP.
func (a *VWAPAccumulator) Value() (float64, bool) {
	if a.volume <= 0 {
		return 0, false
	}
	return a.tpv / a.volume, true
}

// Totals exposes the raw running sums for snapshotting.
func (a *VWAPAccumulator) Totals() (tpv, volume float64) {
	return a.tpv, a.volume
}

// RestoreVWAP rebuilds an accumulator from snapshotted totals.
func RestoreVWAP(tpv, volume float64) *VWAPAccumulator {
	return &VWAPAccumulator{tpv: tpv, volume: volume}
}
