package strategy

import (
	"oi-trader/internal/config"
	"oi-trader/internal/errors"
)

// Params holds the flat strategy parameters the engine consumes. Fractions
// are expressed as 0..1 except OIIncreaseStopPct which is a percent.
type Params struct {
	EntryStart config.Clock
	EntryEnd   config.Clock
	ExitStart  config.Clock
	ExitEnd    config.Clock

	StrikeStep       float64
	StrikesAboveSpot int
	StrikesBelowSpot int

	InitialStopLossPct float64
	ProfitThresholdPct float64
	TrailingStopPct    float64
	VWAPStopPct        float64
	OIIncreaseStopPct  float64 // percent, e.g. 10.0

	LotSize         int
	Lots            int
	MaxTradesPerDay int
	StrictExits     bool

	RiskSizing   bool
	RiskPerTrade float64
	Capital      float64
}

// ParamsFromConfig builds Params from validated configuration.
func ParamsFromConfig(cfg *config.Config) (Params, error) {
	s := cfg.Strategy

	p := Params{
		StrikeStep:         s.StrikeStep,
		StrikesAboveSpot:   s.StrikesAboveSpot,
		StrikesBelowSpot:   s.StrikesBelowSpot,
		InitialStopLossPct: s.InitialStopLossPct,
		ProfitThresholdPct: s.ProfitThresholdPct,
		TrailingStopPct:    s.TrailingStopPct,
		VWAPStopPct:        s.VWAPStopPct,
		OIIncreaseStopPct:  s.OIIncreaseStopPct,
		LotSize:            s.LotSize,
		Lots:               s.Lots,
		MaxTradesPerDay:    s.MaxTradesPerDay,
		StrictExits:        s.StrictExits,
		RiskSizing:         s.RiskSizing,
		RiskPerTrade:       s.RiskPerTrade,
		Capital:            cfg.Trading.Capital,
	}

	var err error
	if p.EntryStart, err = config.ParseClock(s.EntryWindowStart); err != nil {
		return Params{}, errors.Wrap(err, "entry_window_start")
	}
	if p.EntryEnd, err = config.ParseClock(s.EntryWindowEnd); err != nil {
		return Params{}, errors.Wrap(err, "entry_window_end")
	}
	if p.ExitStart, err = config.ParseClock(s.ExitWindowStart); err != nil {
		return Params{}, errors.Wrap(err, "exit_window_start")
	}
	if p.ExitEnd, err = config.ParseClock(s.ExitWindowEnd); err != nil {
		return Params{}, errors.Wrap(err, "exit_window_end")
	}
	return p, nil
}

// PositionSize returns the quantity to buy at the given entry price. With
// risk sizing disabled this is lots*lot_size; otherwise the size is derived
// from the capital at risk per trade against the initial stop distance,
// rounded down to whole lots, minimum one lot.
func (p Params) PositionSize(entryPrice float64) int {
	base := p.Lots * p.LotSize
	if !p.RiskSizing || entryPrice <= 0 {
		return base
	}
	riskPerUnit := entryPrice * p.InitialStopLossPct
	if riskPerUnit <= 0 {
		return base
	}
	units := int(p.Capital * p.RiskPerTrade / riskPerUnit)
	lots := units / p.LotSize
	if lots < 1 {
		lots = 1
	}
	return lots * p.LotSize
}
