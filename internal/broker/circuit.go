package broker

import (
	"context"
	"sync"
	"time"

	"oi-trader/internal/errors"
	"oi-trader/internal/models"
)

// CircuitState represents the state of the quote-fetch breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// BreakerConfig tunes the circuit breaker around broker market data calls.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open state
	// needed to close again.
	SuccessThreshold int
	// Cooldown is how long an open circuit rejects calls before probing.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns sensible defaults for a live session.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// guardedBroker wraps a Broker so repeated market data failures stop
// hammering the API for a cooldown period. Rejected calls surface as
// broker failures, which the engine's skip accounting already absorbs.
type guardedBroker struct {
	Broker
	cfg BreakerConfig

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
}

// WithCircuitBreaker decorates a broker's market data calls with a circuit
// breaker. Authentication and lifecycle calls pass through untouched.
func WithCircuitBreaker(b Broker, cfg BreakerConfig) Broker {
	return &guardedBroker{Broker: b, cfg: cfg, state: CircuitClosed}
}

func (g *guardedBroker) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	if err := g.allow(); err != nil {
		return 0, err
	}
	price, err := g.Broker.SpotPrice(ctx, symbol)
	g.record(err)
	return price, err
}

func (g *guardedBroker) OptionChain(ctx context.Context, symbol string, expiry time.Time, strikes []float64) ([]models.ChainRow, error) {
	if err := g.allow(); err != nil {
		return nil, err
	}
	rows, err := g.Broker.OptionChain(ctx, symbol, expiry, strikes)
	g.record(err)
	return rows, err
}

func (g *guardedBroker) Expiries(ctx context.Context, symbol string) ([]time.Time, error) {
	if err := g.allow(); err != nil {
		return nil, err
	}
	out, err := g.Broker.Expiries(ctx, symbol)
	g.record(err)
	return out, err
}

// State returns the current circuit state.
func (g *guardedBroker) State() CircuitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *guardedBroker) allow() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(g.openedAt) >= g.cfg.Cooldown {
			g.state = CircuitHalfOpen
			g.successes = 0
			return nil
		}
		return errors.NewBrokerError("circuit", "OPEN", "market data circuit open", errors.ErrBrokerFailure)
	default: // half-open, allow the probe
		return nil
	}
}

func (g *guardedBroker) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err != nil {
		g.failures++
		g.successes = 0
		if g.state == CircuitHalfOpen || g.failures >= g.cfg.FailureThreshold {
			g.state = CircuitOpen
			g.openedAt = time.Now()
			g.failures = 0
		}
		return
	}

	switch g.state {
	case CircuitHalfOpen:
		g.successes++
		if g.successes >= g.cfg.SuccessThreshold {
			g.state = CircuitClosed
			g.failures = 0
		}
	case CircuitClosed:
		g.failures = 0
	}
}
