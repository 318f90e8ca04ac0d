package strategy

import "oi-trader/internal/models"

// EntrySignal carries the fill price and the VWAP/OI snapshot taken at the
// instant the entry gate fired.
type EntrySignal struct {
	Price       float64
	VWAP        float64
	OI          float64
	OIChangePct float64
}

// CheckEntry evaluates the unwinding+VWAP gate for one bar. It rolls the
// OI baseline forward for the bar's contract, so the unwinding comparison
// re-arms every cycle against the previous observation. The caller must
// have already folded the bar into the accumulator; CheckEntry only reads
// it.
//
// The signal fires iff OI strictly decreased since the previous cycle AND
// the bar's close sits above the running VWAP. An unknown VWAP or a first
// OI observation fails the gate quietly.
func CheckEntry(bar models.Bar, tracker *OITracker, acc *VWAPAccumulator) *EntrySignal {
	_, pct, unwinding := tracker.Observe(bar.Key(), bar.OpenInterest)

	vwap, ok := acc.Value()
	if !ok {
		return nil
	}
	if !unwinding || bar.Close <= vwap {
		return nil
	}
	return &EntrySignal{
		Price:       bar.Close,
		VWAP:        vwap,
		OI:          bar.OpenInterest,
		OIChangePct: pct,
	}
}
