// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"oi-trader/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Option bars
	SaveBars(ctx context.Context, bars []models.Bar) error
	GetBar(ctx context.Context, key models.OptionKey, atOrBefore time.Time) (*models.Bar, error)
	GetBarsWindow(ctx context.Context, key models.OptionKey, from, to time.Time) ([]models.Bar, error)
	// GetChainAt returns the latest bar per strike and type at or before ts
	// for one expiry, restricted to strikes in [low, high].
	GetChainAt(ctx context.Context, expiry time.Time, ts time.Time, low, high float64) ([]models.Bar, error)
	// TradingDates lists the distinct calendar dates covered by stored bars.
	TradingDates(ctx context.Context) ([]time.Time, error)

	// Spot series
	SaveSpot(ctx context.Context, bars []models.SpotBar) error
	GetSpot(ctx context.Context, atOrBefore time.Time) (float64, error)

	// Closed trades
	LogTrade(ctx context.Context, trade models.Trade) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)

	// Session snapshots for crash recovery, one JSON blob per date.
	SaveSnapshot(ctx context.Context, date time.Time, snapshot []byte) error
	GetSnapshot(ctx context.Context, date time.Time) ([]byte, error)

	// Lifecycle
	Close() error
}

// TradeFilter represents filters for querying closed trades.
type TradeFilter struct {
	StartDate  time.Time
	EndDate    time.Time
	ExitReason string
	Limit      int
}
