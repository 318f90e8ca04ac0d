package strategy

import (
	"testing"
	"time"

	"oi-trader/internal/models"
)

var oiKey = models.OptionKey{
	Strike: 24500,
	Type:   models.Call,
	Expiry: time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC),
}

func TestOITracker_FirstObservationIsNeutral(t *testing.T) {
	tr := NewOITracker()
	delta, pct, unwinding := tr.Observe(oiKey, 5_000_000)
	if delta != 0 || pct != 0 || unwinding {
		t.Fatalf("first observation must be neutral, got delta=%v pct=%v unwinding=%v", delta, pct, unwinding)
	}
}

func TestOITracker_UnwindingSemantics(t *testing.T) {
	cases := []struct {
		name      string
		prev, cur float64
		unwinding bool
	}{
		{"strict decrease", 5_000_000, 4_500_000, true},
		{"equal", 5_000_000, 5_000_000, false},
		{"increase", 5_000_000, 5_500_000, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewOITracker()
			tr.RecordBaseline(oiKey, tc.prev)
			_, _, unwinding := tr.Observe(oiKey, tc.cur)
			if unwinding != tc.unwinding {
				t.Fatalf("prev=%v cur=%v: unwinding=%v, want %v", tc.prev, tc.cur, unwinding, tc.unwinding)
			}
		})
	}
}

func TestOITracker_ObserveRollsBaselineForward(t *testing.T) {
	tr := NewOITracker()
	tr.Observe(oiKey, 5_000_000)
	tr.Observe(oiKey, 4_500_000)

	// Baseline is now 4.5M; a flat reading is no longer unwinding.
	_, _, unwinding := tr.Observe(oiKey, 4_500_000)
	if unwinding {
		t.Fatal("flat OI against rolled baseline must not be unwinding")
	}
}

func TestOITracker_ChangeDoesNotAdvanceBaseline(t *testing.T) {
	tr := NewOITracker()
	tr.RecordBaseline(oiKey, 4_000_000)

	delta, pct := tr.Change(oiKey, 4_400_000)
	if delta != 400_000 {
		t.Fatalf("delta = %v, want 400000", delta)
	}
	if pct != 10 {
		t.Fatalf("pct = %v, want 10", pct)
	}

	// Reading again against the same baseline must give the same answer.
	delta2, pct2 := tr.Change(oiKey, 4_400_000)
	if delta2 != delta || pct2 != pct {
		t.Fatal("Change must not move the baseline")
	}
}

func TestOITracker_ZeroBaselineReportsZeroPct(t *testing.T) {
	tr := NewOITracker()
	tr.RecordBaseline(oiKey, 0)
	delta, pct := tr.Change(oiKey, 1000)
	if delta != 1000 || pct != 0 {
		t.Fatalf("zero baseline: delta=%v pct=%v, want 1000, 0", delta, pct)
	}
}

func TestOITracker_KeysAreIndependent(t *testing.T) {
	other := oiKey
	other.Strike = 24550

	tr := NewOITracker()
	tr.RecordBaseline(oiKey, 5_000_000)

	// A different strike has no baseline; its first observation is neutral.
	_, _, unwinding := tr.Observe(other, 1_000_000)
	if unwinding {
		t.Fatal("fresh key must not inherit another key's baseline")
	}
}
