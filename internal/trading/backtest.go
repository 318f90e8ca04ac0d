// Package trading runs the strategy engine in its two execution modes:
// candle-by-candle replay over recorded data, and the live dual-loop paper
// session against a broker feed.
package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"oi-trader/internal/broker"
	"oi-trader/internal/errors"
	"oi-trader/internal/feed"
	"oi-trader/internal/models"
	"oi-trader/internal/strategy"
)

// BacktestResult summarizes a completed replay.
type BacktestResult struct {
	StartDate time.Time
	EndDate   time.Time
	Days      int

	Trades      []models.Trade
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64
	TotalPnL    float64
	AvgWin      float64
	AvgLoss     float64
	MaxDrawdown float64

	ExitReasons   map[models.ExitReason]int
	SkippedCycles int

	StartingCash float64
	FinalCash    float64
}

// BacktestEngine replays recorded option and spot bars through the
// orchestrator, one candle timestamp at a time, in recorded order.
type BacktestEngine struct {
	params strategy.Params
	feed   *feed.MemoryFeed
	ledger *broker.PaperBroker
	log    zerolog.Logger
}

// NewBacktestEngine builds a replay engine over an in-memory feed.
func NewBacktestEngine(params strategy.Params, f *feed.MemoryFeed, log zerolog.Logger) *BacktestEngine {
	return &BacktestEngine{
		params: params,
		feed:   f,
		ledger: broker.NewPaperBroker(params.Capital),
		log:    log,
	}
}

// Run replays every recorded trading day. The final timestamp of each day
// is flagged as the last candle so any open position is force closed before
// the next session starts. ctx cancellation stops the replay between
// candles; trades settled so far are still returned.
func (be *BacktestEngine) Run(ctx context.Context) (*BacktestResult, error) {
	dates := be.feed.Dates()
	if len(dates) == 0 {
		return nil, errors.NewDataError("backtest", "no trading dates in feed", errors.ErrMissingData)
	}

	orch := strategy.NewOrchestrator(be.params, be.feed, be.ledger, be.log)

	for _, date := range dates {
		stamps := be.feed.Timestamps(date)
		for i, ts := range stamps {
			select {
			case <-ctx.Done():
				return be.summarize(orch, dates), ctx.Err()
			default:
			}

			last := i == len(stamps)-1
			if err := orch.ProcessTick(ts, last); err != nil {
				// Skippable cycles are already counted by the engine.
				if !errors.IsSkippable(err) {
					return nil, err
				}
			}
		}
	}

	return be.summarize(orch, dates), nil
}

func (be *BacktestEngine) summarize(orch *strategy.Orchestrator, dates []time.Time) *BacktestResult {
	trades := orch.Trades()
	stats := be.ledger.Stats()

	res := &BacktestResult{
		StartDate:     dates[0],
		EndDate:       dates[len(dates)-1],
		Days:          len(dates),
		Trades:        trades,
		TotalTrades:   stats.TotalTrades,
		Wins:          stats.Wins,
		Losses:        stats.Losses,
		WinRate:       stats.WinRate,
		TotalPnL:      stats.TotalPnL,
		AvgWin:        stats.AvgWin,
		AvgLoss:       stats.AvgLoss,
		MaxDrawdown:   maxDrawdown(trades),
		ExitReasons:   make(map[models.ExitReason]int),
		SkippedCycles: orch.SkippedCycles(),
		StartingCash:  stats.StartingCash,
		FinalCash:     stats.Cash,
	}
	for _, t := range trades {
		res.ExitReasons[t.ExitReason]++
	}
	return res
}

// maxDrawdown is the largest peak-to-trough fall of the cumulative PnL
// curve, reported as a positive number.
func maxDrawdown(trades []models.Trade) float64 {
	var equity, peak, worst float64
	for _, t := range trades {
		equity += t.PnL
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > worst {
			worst = dd
		}
	}
	return worst
}
