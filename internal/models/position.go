package models

import "time"

// PositionState tags the lifecycle state of a position.
type PositionState string

const (
	PositionOpen   PositionState = "OPEN"
	PositionClosed PositionState = "CLOSED"
)

// ExitReason identifies which exit rule closed a position.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "Stop Loss"
	ExitVWAPStop     ExitReason = "VWAP Stop"
	ExitOIStop       ExitReason = "OI Increase Stop"
	ExitTrailingStop ExitReason = "Trailing Stop"
	ExitEOD          ExitReason = "EOD Exit"
)

// Position represents the single open option position. At most one position
// is open at a time; a new entry always creates a new Position.
type Position struct {
	State      PositionState
	Key        OptionKey
	EntryTime  time.Time
	EntryPrice float64
	Size       int

	StopLossPrice       float64
	TrailingStopActive  bool
	TrailingStopPrice   float64
	HighestSinceEntry   float64
	VWAPAtEntry         float64
	OIAtEntry           float64
	OIChangePctAtEntry  float64
}

// IsOpen reports whether the position is still live.
func (p *Position) IsOpen() bool {
	return p != nil && p.State == PositionOpen
}

// Trade represents a completed round trip. Immutable once built.
type Trade struct {
	EntryTime  time.Time  `csv:"entry_time"`
	ExitTime   time.Time  `csv:"exit_time"`
	Strike     float64    `csv:"strike"`
	Type       OptionType `csv:"option_type"`
	Expiry     time.Time  `csv:"expiry"`
	EntryPrice float64    `csv:"entry_price"`
	ExitPrice  float64    `csv:"exit_price"`
	Size       int        `csv:"size"`
	PnL        float64    `csv:"pnl"`
	PnLPercent float64    `csv:"pnl_pct"`

	VWAPAtEntry     float64    `csv:"vwap_at_entry"`
	VWAPAtExit      float64    `csv:"vwap_at_exit"`
	OIAtEntry       float64    `csv:"oi_at_entry"`
	OIChangeAtEntry float64    `csv:"oi_change_at_entry"`
	OIAtExit        float64    `csv:"oi_at_exit"`
	ExitReason      ExitReason `csv:"exit_reason"`
}
