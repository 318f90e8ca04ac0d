package feed

import (
	"context"
	"time"

	"oi-trader/internal/models"
	"oi-trader/internal/store"
	"oi-trader/pkg/utils"
)

// StoreFeed adapts the SQLite store to the engine's market data interface.
// In paper mode a fetcher writes fresh chain snapshots into the store and
// the engine reads them back through this feed, so no network call ever
// happens inside the engine's lock.
type StoreFeed struct {
	store      store.DataStore
	ctx        context.Context
	strikeStep float64
	expiries   []time.Time
	kind       models.ExpiryKind
	skipMonTue bool
}

// NewStoreFeed wraps a data store. expiries is the known expiry universe,
// usually taken from the broker's instrument dump at startup.
func NewStoreFeed(ctx context.Context, st store.DataStore, strikeStep float64, expiries []time.Time, kind models.ExpiryKind, skipMonTue bool) *StoreFeed {
	return &StoreFeed{
		store:      st,
		ctx:        ctx,
		strikeStep: strikeStep,
		expiries:   expiries,
		kind:       kind,
		skipMonTue: skipMonTue,
	}
}

// SpotPrice returns the latest stored spot close at or before ts.
func (f *StoreFeed) SpotPrice(ts time.Time) (float64, error) {
	return f.store.GetSpot(f.ctx, ts)
}

// Bar returns the contract's latest stored bar at or before ts.
func (f *StoreFeed) Bar(key models.OptionKey, atOrBefore time.Time) (*models.Bar, error) {
	return f.store.GetBar(f.ctx, key, atOrBefore)
}

// BarsWindow returns the contract's stored bars in [from, to].
func (f *StoreFeed) BarsWindow(key models.OptionKey, from, to time.Time) ([]models.Bar, error) {
	return f.store.GetBarsWindow(f.ctx, key, from, to)
}

// StrikesNear returns the latest stored bar per strike and type around
// spot, bounded by the configured strike step.
func (f *StoreFeed) StrikesNear(spot float64, above, below int, expiry time.Time, ts time.Time) ([]models.Bar, error) {
	low := spot - float64(below)*f.strikeStep
	high := spot + float64(above)*f.strikeStep
	return f.store.GetChainAt(f.ctx, expiry, ts, low, high)
}

// ClosestExpiry picks the earliest eligible expiry at or after date.
func (f *StoreFeed) ClosestExpiry(date time.Time) (time.Time, error) {
	candidates := f.expiries
	if f.kind == models.ExpiryMonthly {
		candidates = utils.MonthlyExpiries(candidates)
	}
	return utils.ClosestExpiryFrom(candidates, date, f.skipMonTue)
}
