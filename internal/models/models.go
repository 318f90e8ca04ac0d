// Package models provides domain models for the trading application.
package models

import (
	"fmt"
	"time"
)

// OptionType represents the side of an option contract.
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// Direction represents the daily trade direction.
type Direction string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
	DirectionNone Direction = ""
)

// OptionType maps a direction to the option side it trades.
func (d Direction) OptionType() OptionType {
	if d == DirectionPut {
		return Put
	}
	return Call
}

// ExpiryKind represents the expiry cycle to trade.
type ExpiryKind string

const (
	ExpiryWeekly  ExpiryKind = "WEEKLY"
	ExpiryMonthly ExpiryKind = "MONTHLY"
)

// OptionKey identifies a single option contract series.
type OptionKey struct {
	Strike float64
	Type   OptionType
	Expiry time.Time
}

// String returns a compact representation like "24500CE 2026-01-29".
func (k OptionKey) String() string {
	return fmt.Sprintf("%.0f%s %s", k.Strike, k.Type, k.Expiry.Format("2006-01-02"))
}

// Bar represents OHLCV plus open interest for one option contract at one
// timestamp. Bars are immutable once loaded.
type Bar struct {
	Timestamp    time.Time  `csv:"timestamp"`
	Strike       float64    `csv:"strike"`
	Type         OptionType `csv:"option_type"`
	Expiry       time.Time  `csv:"expiry"`
	Open         float64    `csv:"open"`
	High         float64    `csv:"high"`
	Low          float64    `csv:"low"`
	Close        float64    `csv:"close"`
	Volume       int64      `csv:"volume"`
	OpenInterest float64    `csv:"oi"`
}

// Key returns the contract series key for the bar.
func (b Bar) Key() OptionKey {
	return OptionKey{Strike: b.Strike, Type: b.Type, Expiry: b.Expiry}
}

// TypicalPrice returns (high+low+close)/3, falling back to close when the
// high/low fields are absent.
func (b Bar) TypicalPrice() float64 {
	if b.High == 0 && b.Low == 0 {
		return b.Close
	}
	return (b.High + b.Low + b.Close) / 3
}

// SpotBar represents an index spot price observation.
type SpotBar struct {
	Timestamp time.Time `csv:"timestamp"`
	Close     float64   `csv:"close"`
}

// ChainRow represents a single row of a live option chain snapshot.
type ChainRow struct {
	Strike       float64
	Type         OptionType
	Expiry       time.Time
	LastPrice    float64
	Volume       int64
	OpenInterest float64
}

// ToBar converts a chain row into a bar stamped at the given time. Live
// snapshots carry only the last price, so OHLC collapse to it.
func (r ChainRow) ToBar(ts time.Time) Bar {
	return Bar{
		Timestamp:    ts,
		Strike:       r.Strike,
		Type:         r.Type,
		Expiry:       r.Expiry,
		Close:        r.LastPrice,
		Volume:       r.Volume,
		OpenInterest: r.OpenInterest,
	}
}
