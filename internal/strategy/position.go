package strategy

import (
	"time"

	"oi-trader/internal/config"
	"oi-trader/internal/errors"
	"oi-trader/internal/models"
)

// Tick is one fresh market observation for the open position's contract.
// The exit evaluator never caches ticks across cycles; callers re-fetch
// price, OI and VWAP every time.
type Tick struct {
	Time         time.Time
	Price        float64
	OI           float64
	VWAP         float64
	VWAPKnown    bool
	IsLastCandle bool
}

// ExitDecision names the stop that fired and the price the trade closes at.
type ExitDecision struct {
	Reason models.ExitReason
	Price  float64
}

// OpenPosition creates a new open position from an entry fill.
func OpenPosition(key models.OptionKey, entryTime time.Time, entryPrice float64, size int, params Params, vwapAtEntry, oiAtEntry, oiChangePct float64) (*models.Position, error) {
	if size <= 0 {
		return nil, errors.Wrapf(errors.ErrInvariant, "position size %d", size)
	}
	if entryPrice <= 0 {
		return nil, errors.Wrapf(errors.ErrInvariant, "entry price %v", entryPrice)
	}
	return &models.Position{
		State:              models.PositionOpen,
		Key:                key,
		EntryTime:          entryTime,
		EntryPrice:         entryPrice,
		Size:               size,
		StopLossPrice:      entryPrice * (1 - params.InitialStopLossPct),
		HighestSinceEntry:  entryPrice,
		VWAPAtEntry:        vwapAtEntry,
		OIAtEntry:          oiAtEntry,
		OIChangePctAtEntry: oiChangePct,
	}, nil
}

// EvaluateExit runs one cycle of the stop-loss state machine against a
// fresh tick. Checks run in strict priority order and the first match wins:
// initial stop, VWAP stop, OI-increase stop, trailing stop, then the
// time-window forced exit. The VWAP and OI stops only arm while the
// position is under water. Trailing state (highest price, activation,
// ratchet) is updated between the loss-side checks and the trailing check
// regardless of whether anything fires.
//
// With strict exits enabled the returned price is the threshold value
// itself rather than the observed price, so realized losses stay exactly
// bound by configuration even when price gaps between polling cycles. The
// time exit always uses the observed price; a deadline has no threshold.
func EvaluateExit(pos *models.Position, tick Tick, params Params) (*ExitDecision, error) {
	if pos == nil || pos.State != models.PositionOpen {
		return nil, errors.Wrap(errors.ErrInvariant, "exit evaluation on non-open position")
	}
	if pos.Size <= 0 {
		return nil, errors.Wrapf(errors.ErrInvariant, "open position with size %d", pos.Size)
	}

	losing := tick.Price < pos.EntryPrice

	// 1. Initial stop loss.
	if tick.Price <= pos.StopLossPrice {
		return decide(models.ExitStopLoss, pos.StopLossPrice, tick.Price, params), nil
	}

	// 2. VWAP stop, loss side only.
	if losing && tick.VWAPKnown {
		threshold := tick.VWAP * (1 - params.VWAPStopPct)
		if tick.Price < threshold {
			return decide(models.ExitVWAPStop, threshold, tick.Price, params), nil
		}
	}

	// 3. OI-increase stop, loss side only. The strict price interpolates
	// back to where price stood when OI had grown by exactly the threshold,
	// assuming linear co-movement since entry.
	if losing && pos.OIAtEntry > 0 {
		oiIncreasePct := (tick.OI - pos.OIAtEntry) / pos.OIAtEntry * 100
		if oiIncreasePct > params.OIIncreaseStopPct {
			strict := tick.Price
			if oiIncreasePct > 0 {
				strict = pos.EntryPrice + (tick.Price-pos.EntryPrice)*(params.OIIncreaseStopPct/oiIncreasePct)
			}
			return decide(models.ExitOIStop, strict, tick.Price, params), nil
		}
	}

	updateTrailing(pos, tick.Price, params)

	// 4. Trailing stop, only once activated.
	if pos.TrailingStopActive && tick.Price <= pos.TrailingStopPrice {
		return decide(models.ExitTrailingStop, pos.TrailingStopPrice, tick.Price, params), nil
	}

	// 5. Time-based forced exit.
	if tick.IsLastCandle || config.Contains(params.ExitStart, params.ExitEnd, tick.Time) {
		return &ExitDecision{Reason: models.ExitEOD, Price: tick.Price}, nil
	}

	return nil, nil
}

func decide(reason models.ExitReason, strictPrice, observedPrice float64, params Params) *ExitDecision {
	price := observedPrice
	if params.StrictExits {
		price = strictPrice
	}
	return &ExitDecision{Reason: reason, Price: price}
}

// updateTrailing advances the peak price, activates the trailing stop once
// price reaches entry*(1+profit_threshold), and ratchets the stop upward
// as the peak grows. The stop never moves down.
func updateTrailing(pos *models.Position, price float64, params Params) {
	if price > pos.HighestSinceEntry {
		pos.HighestSinceEntry = price
	}
	if !pos.TrailingStopActive && price >= pos.EntryPrice*(1+params.ProfitThresholdPct) {
		pos.TrailingStopActive = true
	}
	if pos.TrailingStopActive {
		candidate := pos.HighestSinceEntry * (1 - params.TrailingStopPct)
		if candidate > pos.TrailingStopPrice {
			pos.TrailingStopPrice = candidate
		}
	}
}
