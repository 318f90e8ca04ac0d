package strategy

import "oi-trader/internal/models"

// OITracker keeps per-contract open-interest baselines and computes deltas
// against them. The entry signal uses a rolling baseline (previous cycle's
// OI), so Observe both reports the change and advances the baseline. The
// OI-increase stop uses a baseline fixed at entry time and reads it through
// Change without advancing.
type OITracker struct {
	baselines map[models.OptionKey]float64
}

// NewOITracker returns an empty tracker.
func NewOITracker() *OITracker {
	return &OITracker{baselines: make(map[models.OptionKey]float64)}
}

// RecordBaseline stores the baseline OI for a key, overwriting any previous
// value.
func (t *OITracker) RecordBaseline(key models.OptionKey, oi float64) {
	t.baselines[key] = oi
}

// Change computes (absolute, percent) delta of current against the stored
// baseline. A key with no baseline yet reports a neutral zero delta; the
// first observation never triggers unwinding or a stop.
func (t *OITracker) Change(key models.OptionKey, current float64) (delta, pct float64) {
	baseline, ok := t.baselines[key]
	if !ok {
		return 0, 0
	}
	delta = current - baseline
	if baseline > 0 {
		pct = delta / baseline * 100
	}
	return delta, pct
}

// Observe reports the change against the previous observation for the key
// and then rolls the baseline forward to current. unwinding is true only
// when OI strictly decreased since the last cycle.
func (t *OITracker) Observe(key models.OptionKey, current float64) (delta, pct float64, unwinding bool) {
	delta, pct = t.Change(key, current)
	t.baselines[key] = current
	return delta, pct, delta < 0
}

// Baselines exposes a copy of the stored baselines for snapshotting.
func (t *OITracker) Baselines() map[models.OptionKey]float64 {
	out := make(map[models.OptionKey]float64, len(t.baselines))
	for k, v := range t.baselines {
		out[k] = v
	}
	return out
}

// RestoreOITracker rebuilds a tracker from snapshotted baselines.
func RestoreOITracker(baselines map[models.OptionKey]float64) *OITracker {
	t := NewOITracker()
	for k, v := range baselines {
		t.baselines[k] = v
	}
	return t
}
