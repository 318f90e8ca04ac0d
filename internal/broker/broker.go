// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"time"

	"oi-trader/internal/models"
)

// Broker defines the operations the trading loops need from a live broker.
// The implementation is chosen once at startup from configuration, never
// sniffed at runtime.
type Broker interface {
	// Authentication
	Connect(ctx context.Context) error
	IsAuthenticated() bool

	// Market data
	IsMarketOpen() bool
	SpotPrice(ctx context.Context, symbol string) (float64, error)
	// OptionChain returns one row per strike and type for the requested
	// strikes at the current moment.
	OptionChain(ctx context.Context, symbol string, expiry time.Time, strikes []float64) ([]models.ChainRow, error)
	// Expiries lists the option expiry dates the broker knows for a symbol.
	Expiries(ctx context.Context, symbol string) ([]time.Time, error)

	// Lifecycle
	Close() error
}

// Instrument is one row of a broker's instrument master restricted to the
// fields the chain fetcher needs.
type Instrument struct {
	Token      uint32
	Symbol     string
	Name       string
	Strike     float64
	Type       models.OptionType
	Expiry     time.Time
	Exchange   string
	LotSize    int
	StrikeStep float64
}
