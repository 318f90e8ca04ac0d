package strategy

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"oi-trader/internal/models"
)

// Property: feeding a bar sequence through the incremental accumulator
// yields the same VWAP as the one-shot batch formula sum(p_i*v_i)/sum(v_i).
func TestProperty_VWAPIncrementalMatchesBatch(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	barsGen := gen.SliceOfN(20, gen.Struct(
		reflect.TypeOf(models.Bar{}),
		map[string]gopter.Gen{
			"Close":  gen.Float64Range(1, 500),
			"Volume": gen.Int64Range(0, 100000),
		},
	))

	properties.Property("incremental VWAP equals batch VWAP", prop.ForAll(
		func(bars []models.Bar) bool {
			acc := NewVWAPAccumulator()
			var tpv, vol float64
			for _, b := range bars {
				acc.Update(b)
				v := float64(b.Volume)
				if v == 0 {
					v = 1
				}
				tpv += b.TypicalPrice() * v
				vol += v
			}
			got, ok := acc.Value()
			if len(bars) == 0 {
				return !ok
			}
			want := tpv / vol
			return ok && math.Abs(got-want) < 1e-6*math.Max(1, math.Abs(want))
		},
		barsGen,
	))

	properties.TestingRun(t)
}

// Property: whenever the observed price sits at or below the initial stop,
// the strict exit pins the loss to exactly the configured fraction.
func TestProperty_StrictStopBoundsLoss(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	params := testParams()

	properties.Property("strict stop exit yields pnl_pct == -25", prop.ForAll(
		func(entryPrice, gapFraction float64) bool {
			key := models.OptionKey{Strike: 24500, Type: models.Call}
			pos, err := OpenPosition(key, time.Now(), entryPrice, 75, params, entryPrice, 1_000_000, 0)
			if err != nil {
				return false
			}

			// Observed price gaps somewhere at or below the stop.
			observed := pos.StopLossPrice * gapFraction
			tick := midDayTick(observed, 1_000_000, entryPrice)
			decision, err := EvaluateExit(pos, tick, params)
			if err != nil || decision == nil || decision.Reason != models.ExitStopLoss {
				return false
			}

			trade := BuildTrade(pos, decision.Price, tick.Time, decision.Reason, 0, 0)
			return math.Abs(trade.PnLPercent-(-params.InitialStopLossPct*100)) < 1e-9
		},
		gen.Float64Range(10, 1000),
		gen.Float64Range(0.1, 1.0),
	))

	properties.TestingRun(t)
}

// Property: the OI-stop interpolated price always lies between the current
// price and the entry price, and matches the linear formula exactly.
func TestProperty_OIStopInterpolation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	params := testParams()

	properties.Property("interpolated exit lies on the entry-current segment", prop.ForAll(
		func(entryPrice, dropFraction, oiIncreasePct float64) bool {
			key := models.OptionKey{Strike: 24500, Type: models.Call}
			oiAtEntry := 4_000_000.0
			pos, err := OpenPosition(key, time.Now(), entryPrice, 75, params, entryPrice, oiAtEntry, 0)
			if err != nil {
				return false
			}

			// Losing but above the initial stop, VWAP kept out of the way.
			current := entryPrice * dropFraction
			currentOI := oiAtEntry * (1 + oiIncreasePct/100)
			tick := midDayTick(current, currentOI, current)
			decision, err := EvaluateExit(pos, tick, params)
			if err != nil || decision == nil || decision.Reason != models.ExitOIStop {
				return false
			}

			want := entryPrice + (current-entryPrice)*(params.OIIncreaseStopPct/oiIncreasePct)
			if math.Abs(decision.Price-want) > 1e-9*math.Max(1, entryPrice) {
				return false
			}
			return decision.Price >= current-1e-9 && decision.Price <= entryPrice+1e-9
		},
		gen.Float64Range(10, 1000),
		gen.Float64Range(0.80, 0.99), // stays above the 25% initial stop
		gen.Float64Range(10.5, 200),  // above the 10% threshold
	))

	properties.TestingRun(t)
}

// Property: over any price path the trailing stop, once active, never
// moves down.
func TestProperty_TrailingStopRatchetsUpward(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	params := testParams()

	properties.Property("trailing stop is monotonically non-decreasing", prop.ForAll(
		func(fractions []float64) bool {
			key := models.OptionKey{Strike: 24500, Type: models.Call}
			entry := 100.0
			pos, err := OpenPosition(key, time.Now(), entry, 75, params, entry, 1_000_000, 0)
			if err != nil {
				return false
			}

			prevStop := 0.0
			for _, f := range fractions {
				price := entry * f
				updateTrailing(pos, price, params)
				if pos.TrailingStopActive {
					if pos.TrailingStopPrice < prevStop {
						return false
					}
					prevStop = pos.TrailingStopPrice
				}
			}
			return true
		},
		gen.SliceOfN(30, gen.Float64Range(0.8, 2.0)),
	))

	properties.TestingRun(t)
}
