package strategy

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"oi-trader/internal/config"
	"oi-trader/internal/errors"
	"oi-trader/internal/logging"
	"oi-trader/internal/models"
)

// MarketData is the pull interface the engine uses to observe the market.
// Implementations return errors wrapping ErrMissingData when a requested
// key or timestamp has no data; the orchestrator treats that as "no signal
// this cycle".
type MarketData interface {
	SpotPrice(ts time.Time) (float64, error)
	Bar(key models.OptionKey, atOrBefore time.Time) (*models.Bar, error)
	BarsWindow(key models.OptionKey, from, to time.Time) ([]models.Bar, error)
	StrikesNear(spot float64, above, below int, expiry time.Time, ts time.Time) ([]models.Bar, error)
	ClosestExpiry(date time.Time) (time.Time, error)
}

// Recorder receives lifecycle events for persistence and reporting. Calls
// are fire-and-forget from the engine's perspective.
type Recorder interface {
	OnTradeClosed(models.Trade)
	OnPositionOpened(models.Position)
	OnPositionUpdated(models.Position)
	OnSessionReset(date time.Time)
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) OnTradeClosed(models.Trade)       {}
func (NopRecorder) OnPositionOpened(models.Position) {}
func (NopRecorder) OnPositionUpdated(models.Position) {}
func (NopRecorder) OnSessionReset(time.Time) {}

// SessionState is the per-trading-day mutable state. It is created at the
// first tick of a new calendar date and fully discarded at the next date
// change; VWAP totals and OI baselines never carry across days.
type SessionState struct {
	Date         time.Time
	Direction    models.Direction
	Selection    *DirectionSelection
	ActiveStrike float64
	Expiry       time.Time
	TradesTaken  int
	Position     *models.Position

	vwaps   map[models.OptionKey]*VWAPAccumulator
	oi      *OITracker
	lastBar map[models.OptionKey]time.Time
}

func newSessionState(date time.Time) *SessionState {
	return &SessionState{
		Date:    date,
		vwaps:   make(map[models.OptionKey]*VWAPAccumulator),
		oi:      NewOITracker(),
		lastBar: make(map[models.OptionKey]time.Time),
	}
}

func (s *SessionState) vwapFor(key models.OptionKey) *VWAPAccumulator {
	acc, ok := s.vwaps[key]
	if !ok {
		acc = NewVWAPAccumulator()
		s.vwaps[key] = acc
	}
	return acc
}

// applyBar folds a bar into the contract's accumulator exactly once.
// Re-seeing the same or an older timestamp is a no-op.
func (s *SessionState) applyBar(bar models.Bar) {
	key := bar.Key()
	if last, ok := s.lastBar[key]; ok && !bar.Timestamp.After(last) {
		return
	}
	s.vwapFor(key).Update(bar)
	s.lastBar[key] = bar.Timestamp
}

// Orchestrator sequences the trading day: direction selection once per
// date, per-candle entry evaluation, per-tick exit evaluation, and the
// forced end-of-day close. All shared state lives behind one mutex so the
// coarse strategy loop and the fine exit monitor can run concurrently.
// MarketData implementations used in paper mode must be local reads; data
// is fetched from the network before calling into the orchestrator.
type Orchestrator struct {
	params Params
	md     MarketData
	rec    Recorder
	log    zerolog.Logger

	mu            sync.Mutex
	state         *SessionState
	trades        []models.Trade
	skippedCycles int
}

// NewOrchestrator builds an orchestrator. A nil recorder is replaced with
// NopRecorder.
func NewOrchestrator(params Params, md MarketData, rec Recorder, log zerolog.Logger) *Orchestrator {
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Orchestrator{params: params, md: md, rec: rec, log: log}
}

// ProcessTick drives one coarse strategy cycle at ts: session reset on a
// new date, direction selection if unset, exit evaluation when a position
// is open, otherwise entry evaluation. lastCandle marks the final bar of
// the trading day and forces the EOD exit path.
func (o *Orchestrator) ProcessTick(ts time.Time, lastCandle bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.ensureSession(ts)
	s := o.state

	if s.Expiry.IsZero() {
		expiry, err := o.md.ClosestExpiry(ts)
		if err != nil {
			return o.skip("expiry", err)
		}
		s.Expiry = expiry
	}

	spot, err := o.md.SpotPrice(ts)
	if err != nil {
		return o.skip("spot", err)
	}

	if s.Direction == models.DirectionNone {
		if err := o.selectDirection(spot, ts); err != nil {
			return o.skip("direction", err)
		}
	}

	if s.Position.IsOpen() {
		return o.evaluateExit(ts, lastCandle, true)
	}

	return o.evaluateEntry(spot, ts, lastCandle)
}

// MonitorExit drives one fine exit-monitor cycle at ts. It only acts when
// a position is open, re-fetching price and OI fresh; it never updates
// VWAP accumulators, which advance on the coarse candle stream.
func (o *Orchestrator) MonitorExit(ts time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == nil || !o.state.Position.IsOpen() {
		return nil
	}
	return o.evaluateExit(ts, false, false)
}

// ensureSession resets per-day state when the calendar date changes.
func (o *Orchestrator) ensureSession(ts time.Time) {
	date := midnight(ts)
	if o.state != nil && o.state.Date.Equal(date) {
		return
	}
	o.state = newSessionState(date)
	o.rec.OnSessionReset(date)
	logging.LogSessionReset(o.log, date)
}

func (o *Orchestrator) selectDirection(spot float64, ts time.Time) error {
	s := o.state
	window, err := o.md.StrikesNear(spot, o.params.StrikesAboveSpot, o.params.StrikesBelowSpot, s.Expiry, ts)
	if err != nil {
		return err
	}
	sel, err := SelectDirection(spot, window)
	if err != nil {
		return err
	}
	s.Direction = sel.Direction
	s.Selection = sel
	s.ActiveStrike = NearestStrike(spot, o.params.StrikeStep, sel.Direction)
	o.log.Info().
		Str("direction", string(sel.Direction)).
		Float64("max_call_strike", sel.MaxCallStrike).
		Float64("max_put_strike", sel.MaxPutStrike).
		Float64("active_strike", s.ActiveStrike).
		Msg("Direction selected")
	return nil
}

func (o *Orchestrator) evaluateEntry(spot float64, ts time.Time, lastCandle bool) error {
	s := o.state
	if lastCandle {
		return nil
	}
	if s.TradesTaken >= o.params.MaxTradesPerDay {
		return nil
	}
	if !config.Contains(o.params.EntryStart, o.params.EntryEnd, ts) {
		return nil
	}
	if s.Direction == models.DirectionNone || s.Expiry.IsZero() {
		return nil
	}

	// Re-center to stay nearest the money; a strike change restarts the
	// rolling OI baseline since the tracker keys by contract.
	s.ActiveStrike = NearestStrike(spot, o.params.StrikeStep, s.Direction)
	key := models.OptionKey{Strike: s.ActiveStrike, Type: s.Direction.OptionType(), Expiry: s.Expiry}

	bar, err := o.md.Bar(key, ts)
	if err != nil {
		return o.skip("entry bar", err)
	}
	s.applyBar(*bar)

	sig := CheckEntry(*bar, s.oi, s.vwapFor(key))
	if sig == nil {
		return nil
	}

	size := o.params.PositionSize(sig.Price)
	pos, err := OpenPosition(key, ts, sig.Price, size, o.params, sig.VWAP, sig.OI, sig.OIChangePct)
	if err != nil {
		return err
	}
	s.Position = pos
	s.TradesTaken++
	o.rec.OnPositionOpened(*pos)
	logging.LogEntrySignal(o.log, key.String(), sig.Price, sig.VWAP, sig.OIChangePct)
	return nil
}

// evaluateExit runs the stop-loss state machine against a fresh tick.
// updateVWAP is true only on the coarse candle stream.
func (o *Orchestrator) evaluateExit(ts time.Time, lastCandle, updateVWAP bool) error {
	s := o.state
	pos := s.Position

	bar, err := o.md.Bar(pos.Key, ts)
	if err != nil {
		return o.skip("exit bar", err)
	}
	if updateVWAP {
		s.applyBar(*bar)
	}
	vwap, vwapOK := s.vwapFor(pos.Key).Value()

	tick := Tick{
		Time:         ts,
		Price:        bar.Close,
		OI:           bar.OpenInterest,
		VWAP:         vwap,
		VWAPKnown:    vwapOK,
		IsLastCandle: lastCandle,
	}

	decision, err := EvaluateExit(pos, tick, o.params)
	if err != nil {
		return err
	}
	if decision == nil {
		o.rec.OnPositionUpdated(*pos)
		return nil
	}

	trade := BuildTrade(pos, decision.Price, ts, decision.Reason, vwap, bar.OpenInterest)
	pos.State = models.PositionClosed
	s.Position = nil
	o.trades = append(o.trades, trade)
	o.rec.OnTradeClosed(trade)
	logging.LogTradeClosed(o.log, pos.Key.String(),
		trade.EntryPrice, trade.ExitPrice, trade.PnL, trade.PnLPercent, string(trade.ExitReason))
	return nil
}

// skip records a skipped evaluation cycle for data-shaped absence and
// propagates anything else.
func (o *Orchestrator) skip(stage string, err error) error {
	if errors.IsSkippable(err) {
		o.skippedCycles++
		logging.LogSkippedCycle(o.log, stage, err)
		return nil
	}
	return err
}

// Trades returns a copy of the closed trades recorded so far.
func (o *Orchestrator) Trades() []models.Trade {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Trade, len(o.trades))
	copy(out, o.trades)
	return out
}

// OpenPosition returns a copy of the current open position, if any.
func (o *Orchestrator) OpenPosition() *models.Position {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil || !o.state.Position.IsOpen() {
		return nil
	}
	p := *o.state.Position
	return &p
}

// SkippedCycles reports how many evaluation cycles were skipped for
// missing data; health reporting for the monitoring loops.
func (o *Orchestrator) SkippedCycles() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.skippedCycles
}

func midnight(ts time.Time) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
}
