package broker

import (
	"context"
	"testing"
	"time"

	"oi-trader/internal/errors"
	"oi-trader/internal/models"
)

// flakyBroker fails SpotPrice until `failures` calls have happened.
type flakyBroker struct {
	calls    int
	failures int
}

func (f *flakyBroker) Connect(context.Context) error { return nil }
func (f *flakyBroker) IsAuthenticated() bool         { return true }
func (f *flakyBroker) IsMarketOpen() bool            { return true }
func (f *flakyBroker) Close() error                  { return nil }

func (f *flakyBroker) SpotPrice(context.Context, string) (float64, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, errors.NewBrokerError("test", "FAIL", "simulated outage", errors.ErrBrokerFailure)
	}
	return 24500, nil
}

func (f *flakyBroker) OptionChain(context.Context, string, time.Time, []float64) ([]models.ChainRow, error) {
	return nil, nil
}

func (f *flakyBroker) Expiries(context.Context, string) ([]time.Time, error) {
	return nil, nil
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	inner := &flakyBroker{failures: 100}
	g := WithCircuitBreaker(inner, BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         time.Hour,
	}).(*guardedBroker)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := g.SpotPrice(ctx, "NIFTY"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if g.State() != CircuitOpen {
		t.Fatalf("state = %v, want open after threshold", g.State())
	}

	// While open the inner broker is not called.
	before := inner.calls
	_, err := g.SpotPrice(ctx, "NIFTY")
	if !errors.Is(err, errors.ErrBrokerFailure) {
		t.Fatalf("open circuit error = %v, want broker failure", err)
	}
	if inner.calls != before {
		t.Fatal("open circuit must not call the broker")
	}
	if !errors.IsSkippable(err) {
		t.Fatal("open circuit error must be skippable by the engine")
	}
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	inner := &flakyBroker{failures: 3}
	g := WithCircuitBreaker(inner, BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         0,
	}).(*guardedBroker)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		g.SpotPrice(ctx, "NIFTY")
	}
	if g.State() != CircuitOpen {
		t.Fatalf("state = %v, want open", g.State())
	}

	// Zero cooldown lets the next call probe immediately.
	if _, err := g.SpotPrice(ctx, "NIFTY"); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if g.State() != CircuitHalfOpen {
		t.Fatalf("state = %v, want half-open after one success", g.State())
	}
	if _, err := g.SpotPrice(ctx, "NIFTY"); err != nil {
		t.Fatalf("second probe failed: %v", err)
	}
	if g.State() != CircuitClosed {
		t.Fatalf("state = %v, want closed after success threshold", g.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	inner := &flakyBroker{failures: 4}
	g := WithCircuitBreaker(inner, BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         0,
	}).(*guardedBroker)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		g.SpotPrice(ctx, "NIFTY")
	}
	// Probe fails once more, circuit reopens immediately.
	g.SpotPrice(ctx, "NIFTY")
	if g.State() != CircuitOpen {
		t.Fatalf("state = %v, want reopened", g.State())
	}
}
