package broker

import (
	"sync"
	"time"

	"oi-trader/internal/models"
)

// PaperBroker keeps a simulated cash ledger. It subscribes to engine
// lifecycle events and applies each closed trade's PnL to the ledger, so
// paper and backtest runs report account equity without any order routing.
type PaperBroker struct {
	mu             sync.Mutex
	startingCash   float64
	cash           float64
	trades         []models.Trade
	openPosition   *models.Position
	lastUpdateTime time.Time
}

// NewPaperBroker creates a ledger seeded with the configured capital.
func NewPaperBroker(capital float64) *PaperBroker {
	return &PaperBroker{
		startingCash: capital,
		cash:         capital,
	}
}

// OnPositionOpened records the open position.
func (p *PaperBroker) OnPositionOpened(pos models.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openPosition = &pos
	p.lastUpdateTime = pos.EntryTime
}

// OnPositionUpdated tracks the latest mark on the open position.
func (p *PaperBroker) OnPositionUpdated(pos models.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openPosition = &pos
}

// OnTradeClosed settles the trade against the cash ledger.
func (p *PaperBroker) OnTradeClosed(trade models.Trade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash += trade.PnL
	p.trades = append(p.trades, trade)
	p.openPosition = nil
	p.lastUpdateTime = trade.ExitTime
}

// OnSessionReset clears any stale open position marker.
func (p *PaperBroker) OnSessionReset(time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openPosition = nil
}

// Cash returns the current ledger balance.
func (p *PaperBroker) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// Trades returns a copy of all settled trades.
func (p *PaperBroker) Trades() []models.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// OpenPosition returns the currently held position, if any.
func (p *PaperBroker) OpenPosition() *models.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openPosition == nil {
		return nil
	}
	cp := *p.openPosition
	return &cp
}

// LedgerStats summarizes a paper ledger.
type LedgerStats struct {
	StartingCash float64
	Cash         float64
	TotalPnL     float64
	TotalTrades  int
	Wins         int
	Losses       int
	WinRate      float64
	AvgWin       float64
	AvgLoss      float64
}

// Stats computes summary statistics over the settled trades.
func (p *PaperBroker) Stats() LedgerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := LedgerStats{
		StartingCash: p.startingCash,
		Cash:         p.cash,
		TotalPnL:     p.cash - p.startingCash,
		TotalTrades:  len(p.trades),
	}
	var winSum, lossSum float64
	for _, t := range p.trades {
		if t.PnL > 0 {
			stats.Wins++
			winSum += t.PnL
		} else {
			stats.Losses++
			lossSum += t.PnL
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades) * 100
	}
	if stats.Wins > 0 {
		stats.AvgWin = winSum / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLoss = lossSum / float64(stats.Losses)
	}
	return stats
}
