package feed

import (
	"sort"
	"time"

	"oi-trader/internal/errors"
	"oi-trader/internal/models"
	"oi-trader/pkg/utils"
)

// MemoryFeed serves a fully loaded bar set for deterministic backtests.
// All lookups are read-only after construction.
type MemoryFeed struct {
	bars       map[models.OptionKey][]models.Bar
	spot       []models.SpotBar
	expiries   []time.Time
	kind       models.ExpiryKind
	skipMonTue bool
}

// NewMemoryFeed indexes bars and the spot series. Bars are sorted per
// contract; the expiry universe is derived from the data itself.
func NewMemoryFeed(bars []models.Bar, spot []models.SpotBar, kind models.ExpiryKind, skipMonTue bool) *MemoryFeed {
	f := &MemoryFeed{
		bars:       make(map[models.OptionKey][]models.Bar),
		spot:       append([]models.SpotBar(nil), spot...),
		kind:       kind,
		skipMonTue: skipMonTue,
	}

	seen := make(map[time.Time]bool)
	for _, b := range bars {
		key := b.Key()
		f.bars[key] = append(f.bars[key], b)
		if !seen[b.Expiry] {
			seen[b.Expiry] = true
			f.expiries = append(f.expiries, b.Expiry)
		}
	}
	for key := range f.bars {
		series := f.bars[key]
		sort.Slice(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	}
	sort.Slice(f.spot, func(i, j int) bool { return f.spot[i].Timestamp.Before(f.spot[j].Timestamp) })
	sort.Slice(f.expiries, func(i, j int) bool { return f.expiries[i].Before(f.expiries[j]) })
	return f
}

// SpotPrice returns the latest spot close at or before ts.
func (f *MemoryFeed) SpotPrice(ts time.Time) (float64, error) {
	idx := sort.Search(len(f.spot), func(i int) bool { return f.spot[i].Timestamp.After(ts) })
	if idx == 0 {
		return 0, errors.NewDataError("spot", ts.Format(time.RFC3339), nil)
	}
	return f.spot[idx-1].Close, nil
}

// Bar returns the contract's latest bar at or before ts.
func (f *MemoryFeed) Bar(key models.OptionKey, atOrBefore time.Time) (*models.Bar, error) {
	series := f.bars[key]
	idx := sort.Search(len(series), func(i int) bool { return series[i].Timestamp.After(atOrBefore) })
	if idx == 0 {
		return nil, errors.NewDataError("bar", key.String(), nil)
	}
	b := series[idx-1]
	return &b, nil
}

// BarsWindow returns the contract's bars in [from, to], time-ordered.
func (f *MemoryFeed) BarsWindow(key models.OptionKey, from, to time.Time) ([]models.Bar, error) {
	var out []models.Bar
	for _, b := range f.bars[key] {
		if !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

// StrikesNear returns the latest bar per strike and type at or before ts,
// for the nearest `above` strikes at-or-above spot and `below` strikes
// below spot that actually exist in the data for the expiry.
func (f *MemoryFeed) StrikesNear(spot float64, above, below int, expiry time.Time, ts time.Time) ([]models.Bar, error) {
	strikeSet := make(map[float64]bool)
	for key := range f.bars {
		if key.Expiry.Equal(expiry) {
			strikeSet[key.Strike] = true
		}
	}
	if len(strikeSet) == 0 {
		return nil, errors.NewDataError("chain", expiry.Format("2006-01-02"), nil)
	}

	strikes := make([]float64, 0, len(strikeSet))
	for s := range strikeSet {
		strikes = append(strikes, s)
	}
	sort.Float64s(strikes)

	var selected []float64
	countBelow := 0
	for i := len(strikes) - 1; i >= 0 && countBelow < below; i-- {
		if strikes[i] < spot {
			selected = append(selected, strikes[i])
			countBelow++
		}
	}
	countAbove := 0
	for _, s := range strikes {
		if s >= spot && countAbove < above {
			selected = append(selected, s)
			countAbove++
		}
	}

	var out []models.Bar
	for _, strike := range selected {
		for _, typ := range []models.OptionType{models.Call, models.Put} {
			key := models.OptionKey{Strike: strike, Type: typ, Expiry: expiry}
			if bar, err := f.Bar(key, ts); err == nil {
				out = append(out, *bar)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.NewDataError("chain", expiry.Format("2006-01-02"), nil)
	}
	return out, nil
}

// ClosestExpiry picks the feed's earliest eligible expiry at or after date.
func (f *MemoryFeed) ClosestExpiry(date time.Time) (time.Time, error) {
	candidates := f.expiries
	if f.kind == models.ExpiryMonthly {
		candidates = utils.MonthlyExpiries(candidates)
	}
	return utils.ClosestExpiryFrom(candidates, date, f.skipMonTue)
}

// Dates lists the distinct calendar dates covered by the loaded bars.
func (f *MemoryFeed) Dates() []time.Time {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, series := range f.bars {
		for _, b := range series {
			d := time.Date(b.Timestamp.Year(), b.Timestamp.Month(), b.Timestamp.Day(), 0, 0, 0, 0, b.Timestamp.Location())
			if !seen[d] {
				seen[d] = true
				dates = append(dates, d)
			}
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// Timestamps lists the distinct bar timestamps on one calendar date,
// time-ordered. The backtest runner replays these as its candle clock.
func (f *MemoryFeed) Timestamps(date time.Time) []time.Time {
	seen := make(map[time.Time]bool)
	var out []time.Time
	for _, series := range f.bars {
		for _, b := range series {
			if b.Timestamp.Year() == date.Year() && b.Timestamp.YearDay() == date.YearDay() {
				if !seen[b.Timestamp] {
					seen[b.Timestamp] = true
					out = append(out, b.Timestamp)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
