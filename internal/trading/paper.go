package trading

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"oi-trader/internal/broker"
	"oi-trader/internal/errors"
	"oi-trader/internal/feed"
	"oi-trader/internal/models"
	"oi-trader/internal/store"
	"oi-trader/internal/strategy"
	"oi-trader/pkg/utils"
)

// PaperConfig carries the runtime knobs of a paper session.
type PaperConfig struct {
	Symbol           string
	StrategyInterval time.Duration
	MonitorInterval  time.Duration
}

// PaperSession runs the live dual-loop: a coarse strategy loop on the
// candle interval and a fine exit monitor in between. Each cycle first
// pulls fresh data from the broker into the store, then drives the engine
// against the store, so the engine itself never touches the network.
type PaperSession struct {
	cfg    PaperConfig
	params strategy.Params
	brk    broker.Broker
	st     store.DataStore
	feed   *feed.StoreFeed
	ledger *broker.PaperBroker
	orch   *strategy.Orchestrator
	log    zerolog.Logger
}

// NewPaperSession wires a paper session. The broker must already be
// connected; the expiry universe is read from it once here. Extra
// recorders receive the same engine events as the ledger and the store.
func NewPaperSession(ctx context.Context, cfg PaperConfig, params strategy.Params, brk broker.Broker, st store.DataStore, kind models.ExpiryKind, skipMonTue bool, log zerolog.Logger, extra ...strategy.Recorder) (*PaperSession, error) {
	expiries, err := brk.Expiries(ctx, cfg.Symbol)
	if err != nil {
		return nil, errors.Wrap(err, "load expiry universe")
	}

	f := feed.NewStoreFeed(ctx, st, params.StrikeStep, expiries, kind, skipMonTue)
	ledger := broker.NewPaperBroker(params.Capital)
	rec := multiRecorder{ledger, &storeRecorder{ctx: ctx, st: st, log: log}}
	rec = append(rec, extra...)
	orch := strategy.NewOrchestrator(params, f, rec, log)

	s := &PaperSession{
		cfg:    cfg,
		params: params,
		brk:    brk,
		st:     st,
		feed:   f,
		ledger: ledger,
		orch:   orch,
		log:    log,
	}
	s.restore(ctx)
	return s, nil
}

// Ledger exposes the session's paper cash ledger.
func (s *PaperSession) Ledger() *broker.PaperBroker { return s.ledger }

// Run blocks until ctx is cancelled, alternating strategy cycles on the
// candle boundary with exit-monitor cycles in between. An open position is
// deliberately left open on shutdown; the snapshot restores it next start.
func (s *PaperSession) Run(ctx context.Context) error {
	s.log.Info().
		Str("symbol", s.cfg.Symbol).
		Dur("strategy_interval", s.cfg.StrategyInterval).
		Dur("monitor_interval", s.cfg.MonitorInterval).
		Msg("paper session started")

	for {
		now := time.Now().In(utils.IndiaLocation)
		nextCandle := utils.NextCandleAlign(now, s.cfg.StrategyInterval)
		nextMonitor := utils.NextCandleAlign(now, s.cfg.MonitorInterval)

		wake := nextMonitor
		if nextCandle.Before(wake) {
			wake = nextCandle
		}

		select {
		case <-ctx.Done():
			if pos := s.orch.OpenPosition(); pos != nil {
				s.log.Warn().
					Str("contract", pos.Key.String()).
					Float64("entry_price", pos.EntryPrice).
					Msg("shutting down with an open position, snapshot will restore it")
			}
			return ctx.Err()
		case <-time.After(time.Until(wake)):
		}

		if !utils.IsMarketOpen() {
			continue
		}

		if !wake.Before(nextCandle) {
			s.strategyCycle(ctx, wake)
		} else {
			s.monitorCycle(ctx, wake)
		}
	}
}

// strategyCycle runs one coarse cycle: full chain refresh, ProcessTick,
// snapshot persist.
func (s *PaperSession) strategyCycle(ctx context.Context, ts time.Time) {
	if err := s.refreshChain(ctx, ts); err != nil {
		s.log.Warn().Err(err).Msg("chain refresh failed, cycle skipped")
		return
	}

	last := !ts.Add(s.cfg.StrategyInterval).Before(utils.MarketCloseOn(ts))
	if err := s.orch.ProcessTick(ts, last); err != nil && !errors.IsSkippable(err) {
		s.log.Error().Err(err).Msg("strategy cycle failed")
	}
	s.persistSnapshot(ctx, ts)
}

// monitorCycle refreshes only the open contract's quote and runs the fine
// exit check. Without a position it is a no-op.
func (s *PaperSession) monitorCycle(ctx context.Context, ts time.Time) {
	pos := s.orch.OpenPosition()
	if pos == nil {
		return
	}

	rows, err := s.brk.OptionChain(ctx, s.cfg.Symbol, pos.Key.Expiry, []float64{pos.Key.Strike})
	if err != nil {
		s.log.Warn().Err(err).Msg("monitor quote failed")
		return
	}
	bars := make([]models.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, r.ToBar(ts))
	}
	if err := s.st.SaveBars(ctx, bars); err != nil {
		s.log.Warn().Err(err).Msg("monitor bar persist failed")
		return
	}

	if err := s.orch.MonitorExit(ts); err != nil && !errors.IsSkippable(err) {
		s.log.Error().Err(err).Msg("exit monitor failed")
	}
	s.persistSnapshot(ctx, ts)
}

// refreshChain pulls spot plus the configured strike window into the store.
func (s *PaperSession) refreshChain(ctx context.Context, ts time.Time) error {
	spot, err := s.brk.SpotPrice(ctx, s.cfg.Symbol)
	if err != nil {
		return errors.Wrap(err, "spot")
	}
	if err := s.st.SaveSpot(ctx, []models.SpotBar{{Timestamp: ts, Close: spot}}); err != nil {
		return errors.Wrap(err, "save spot")
	}

	expiry, err := s.feed.ClosestExpiry(ts)
	if err != nil {
		return errors.Wrap(err, "expiry")
	}

	atm := utils.RoundToStep(spot, s.params.StrikeStep)
	var strikes []float64
	for i := -s.params.StrikesBelowSpot; i <= s.params.StrikesAboveSpot; i++ {
		strikes = append(strikes, atm+float64(i)*s.params.StrikeStep)
	}

	rows, err := s.brk.OptionChain(ctx, s.cfg.Symbol, expiry, strikes)
	if err != nil {
		return errors.Wrap(err, "chain")
	}
	bars := make([]models.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, r.ToBar(ts))
	}
	return s.st.SaveBars(ctx, bars)
}

func (s *PaperSession) persistSnapshot(ctx context.Context, ts time.Time) {
	snap := s.orch.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		s.log.Error().Err(err).Msg("snapshot marshal failed")
		return
	}
	if err := s.st.SaveSnapshot(ctx, ts, data); err != nil {
		s.log.Warn().Err(err).Msg("snapshot persist failed")
	}
}

// restore reloads today's snapshot, if one exists, so a crash or restart
// mid-session resumes with the same direction, trade count and position.
func (s *PaperSession) restore(ctx context.Context) {
	now := time.Now().In(utils.IndiaLocation)
	data, err := s.st.GetSnapshot(ctx, now)
	if err != nil {
		return
	}
	var snap strategy.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn().Err(err).Msg("snapshot unmarshal failed, starting fresh")
		return
	}
	if s.orch.Restore(&snap, now) {
		s.log.Info().
			Time("session_date", snap.Date).
			Int("trades_taken", snap.TradesTaken).
			Bool("position_open", snap.Position != nil).
			Msg("session restored from snapshot")
	}
}

// storeRecorder persists closed trades to the data store.
type storeRecorder struct {
	ctx context.Context
	st  store.DataStore
	log zerolog.Logger
}

func (r *storeRecorder) OnTradeClosed(t models.Trade) {
	if err := r.st.LogTrade(r.ctx, t); err != nil {
		r.log.Error().Err(err).Msg("trade persist failed")
	}
}

func (r *storeRecorder) OnPositionOpened(models.Position)  {}
func (r *storeRecorder) OnPositionUpdated(models.Position) {}
func (r *storeRecorder) OnSessionReset(time.Time)          {}

// multiRecorder fans events out to several recorders.
type multiRecorder []strategy.Recorder

func (m multiRecorder) OnTradeClosed(t models.Trade) {
	for _, r := range m {
		r.OnTradeClosed(t)
	}
}

func (m multiRecorder) OnPositionOpened(p models.Position) {
	for _, r := range m {
		r.OnPositionOpened(p)
	}
}

func (m multiRecorder) OnPositionUpdated(p models.Position) {
	for _, r := range m {
		r.OnPositionUpdated(p)
	}
}

func (m multiRecorder) OnSessionReset(d time.Time) {
	for _, r := range m {
		r.OnSessionReset(d)
	}
}
