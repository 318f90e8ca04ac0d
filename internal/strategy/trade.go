package strategy

import (
	"time"

	"oi-trader/internal/models"
)

// BuildTrade converts an open position plus an exit fill into an immutable
// trade record. Pure function; the caller appends the record to its log.
func BuildTrade(pos *models.Position, exitPrice float64, exitTime time.Time, reason models.ExitReason, vwapAtExit, oiAtExit float64) models.Trade {
	pnl := (exitPrice - pos.EntryPrice) * float64(pos.Size)
	pnlPct := (exitPrice - pos.EntryPrice) / pos.EntryPrice * 100

	return models.Trade{
		EntryTime:       pos.EntryTime,
		ExitTime:        exitTime,
		Strike:          pos.Key.Strike,
		Type:            pos.Key.Type,
		Expiry:          pos.Key.Expiry,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       exitPrice,
		Size:            pos.Size,
		PnL:             pnl,
		PnLPercent:      pnlPct,
		VWAPAtEntry:     pos.VWAPAtEntry,
		VWAPAtExit:      vwapAtExit,
		OIAtEntry:       pos.OIAtEntry,
		OIChangeAtEntry: pos.OIChangePctAtEntry,
		OIAtExit:        oiAtExit,
		ExitReason:      reason,
	}
}
