package utils

import (
	"math"
	"sort"
	"time"

	"oi-trader/internal/errors"
)

// RoundToStep rounds a price to the nearest multiple of step.
func RoundToStep(price, step float64) float64 {
	if step <= 0 {
		return price
	}
	return math.Round(price/step) * step
}

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// MarketStatus represents the NSE session state.
type MarketStatus string

const (
	MarketClosed  MarketStatus = "CLOSED"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketOpen    MarketStatus = "OPEN"
)

// MarketStatusAt returns the market status at a given time.
func MarketStatusAt(t time.Time) MarketStatus {
	now := t.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-open: 9:00 - 9:15
	if timeMinutes >= 540 && timeMinutes < 555 {
		return MarketPreOpen
	}

	// Market open: 9:15 - 15:30
	if timeMinutes >= 555 && timeMinutes < 930 {
		return MarketOpen
	}

	return MarketClosed
}

// GetMarketStatus returns the current market status.
func GetMarketStatus() MarketStatus {
	return MarketStatusAt(time.Now())
}

// IsMarketOpen returns true if the market is currently open.
func IsMarketOpen() bool {
	return GetMarketStatus() == MarketOpen
}

// GetNextMarketOpen returns the next market opening time.
func GetNextMarketOpen() time.Time {
	now := time.Now().In(IndiaLocation)

	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, IndiaLocation)
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// MarketCloseOn returns the market close time on the given date.
func MarketCloseOn(date time.Time) time.Time {
	d := date.In(IndiaLocation)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, IndiaLocation)
}

// NextCandleAlign returns the next wall-clock instant aligned to the given
// interval, measured from midnight. The paper loops sleep until these
// boundaries so 5-minute ticks land on :00, :05, :10 and so on.
func NextCandleAlign(now time.Time, interval time.Duration) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	elapsed := now.Sub(day)
	next := day.Add(elapsed.Truncate(interval) + interval)
	return next
}

// ClosestExpiryFrom picks the earliest expiry at or after date from the
// candidate list, optionally skipping expiries falling on a Monday or
// Tuesday. Returns ErrNoExpiry when nothing qualifies.
func ClosestExpiryFrom(candidates []time.Time, date time.Time, skipMonTue bool) (time.Time, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())

	sorted := make([]time.Time, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	for _, exp := range sorted {
		if exp.Before(day) {
			continue
		}
		if skipMonTue && (exp.Weekday() == time.Monday || exp.Weekday() == time.Tuesday) {
			continue
		}
		return exp, nil
	}
	return time.Time{}, errors.ErrNoExpiry
}

// MonthlyExpiries filters a candidate list down to the last expiry of each
// calendar month.
func MonthlyExpiries(candidates []time.Time) []time.Time {
	sorted := make([]time.Time, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	byMonth := make(map[string]time.Time)
	var order []string
	for _, exp := range sorted {
		key := exp.Format("2006-01")
		if _, seen := byMonth[key]; !seen {
			order = append(order, key)
		}
		byMonth[key] = exp
	}

	out := make([]time.Time, 0, len(order))
	for _, key := range order {
		out = append(out, byMonth[key])
	}
	return out
}
