package strategy

import (
	"math"

	"oi-trader/internal/errors"
	"oi-trader/internal/models"
)

// DirectionSelection is the outcome of the once-per-day direction scan.
type DirectionSelection struct {
	Direction     models.Direction
	MaxCallStrike float64
	MaxPutStrike  float64
	CallDistance  float64
	PutDistance   float64
}

// SelectDirection scans a strike window around spot, finds the strike
// carrying the maximum call OI and the strike carrying the maximum put OI,
// and picks the side whose crowded strike sits closer to spot. Rows with
// missing or NaN OI are dropped. On equal maximum OI the lowest strike
// wins, keeping the selection deterministic. Called twice with identical
// inputs it returns identical results.
func SelectDirection(spot float64, window []models.Bar) (*DirectionSelection, error) {
	var (
		maxCallOI, maxCallStrike = math.Inf(-1), 0.0
		maxPutOI, maxPutStrike   = math.Inf(-1), 0.0
		haveCall, havePut        bool
	)

	for _, row := range window {
		if math.IsNaN(row.OpenInterest) {
			continue
		}
		switch row.Type {
		case models.Call:
			if row.OpenInterest > maxCallOI ||
				(row.OpenInterest == maxCallOI && row.Strike < maxCallStrike) {
				maxCallOI, maxCallStrike = row.OpenInterest, row.Strike
				haveCall = true
			}
		case models.Put:
			if row.OpenInterest > maxPutOI ||
				(row.OpenInterest == maxPutOI && row.Strike < maxPutStrike) {
				maxPutOI, maxPutStrike = row.OpenInterest, row.Strike
				havePut = true
			}
		}
	}

	if !haveCall || !havePut {
		return nil, errors.NewDataError("oi", "strike window", errors.ErrInsufficientHistory)
	}

	sel := &DirectionSelection{
		MaxCallStrike: maxCallStrike,
		MaxPutStrike:  maxPutStrike,
		CallDistance:  maxCallStrike - spot,
		PutDistance:   spot - maxPutStrike,
	}
	if sel.CallDistance < sel.PutDistance {
		sel.Direction = models.DirectionCall
	} else {
		sel.Direction = models.DirectionPut
	}
	return sel, nil
}

// NearestStrike recomputes the at-the-money strike for the active
// direction: the nearest strike at or above spot for calls, the nearest
// strike strictly below spot for puts.
func NearestStrike(spot, step float64, dir models.Direction) float64 {
	if dir == models.DirectionPut {
		strike := math.Floor(spot/step) * step
		if strike >= spot {
			strike -= step
		}
		return strike
	}
	return math.Ceil(spot/step) * step
}
