package broker

import (
	"testing"
	"time"

	"oi-trader/internal/models"
)

func sampleTrade(pnl float64) models.Trade {
	return models.Trade{
		EntryTime:  time.Date(2026, 1, 5, 9, 40, 0, 0, time.UTC),
		ExitTime:   time.Date(2026, 1, 5, 11, 10, 0, 0, time.UTC),
		Strike:     24500,
		Type:       models.Call,
		EntryPrice: 100,
		ExitPrice:  100 + pnl/75,
		Size:       75,
		PnL:        pnl,
	}
}

func TestPaperBroker_LedgerSettlement(t *testing.T) {
	p := NewPaperBroker(100000)

	p.OnTradeClosed(sampleTrade(1500))
	p.OnTradeClosed(sampleTrade(-600))

	if got := p.Cash(); got != 100900 {
		t.Fatalf("cash = %v, want 100900", got)
	}
	if got := len(p.Trades()); got != 2 {
		t.Fatalf("trades = %d, want 2", got)
	}
}

func TestPaperBroker_Stats(t *testing.T) {
	p := NewPaperBroker(100000)
	p.OnTradeClosed(sampleTrade(1000))
	p.OnTradeClosed(sampleTrade(500))
	p.OnTradeClosed(sampleTrade(-300))

	stats := p.Stats()
	if stats.TotalTrades != 3 || stats.Wins != 2 || stats.Losses != 1 {
		t.Fatalf("counts = %+v", stats)
	}
	if stats.TotalPnL != 1200 {
		t.Fatalf("total pnl = %v, want 1200", stats.TotalPnL)
	}
	if stats.WinRate < 66.6 || stats.WinRate > 66.7 {
		t.Fatalf("win rate = %v, want ~66.67", stats.WinRate)
	}
	if stats.AvgWin != 750 {
		t.Fatalf("avg win = %v, want 750", stats.AvgWin)
	}
	if stats.AvgLoss != -300 {
		t.Fatalf("avg loss = %v, want -300", stats.AvgLoss)
	}
}

func TestPaperBroker_PositionLifecycle(t *testing.T) {
	p := NewPaperBroker(100000)

	pos := models.Position{
		State:      models.PositionOpen,
		EntryTime:  time.Date(2026, 1, 5, 9, 40, 0, 0, time.UTC),
		EntryPrice: 100,
		Size:       75,
	}
	p.OnPositionOpened(pos)
	if p.OpenPosition() == nil {
		t.Fatal("expected an open position after OnPositionOpened")
	}

	p.OnTradeClosed(sampleTrade(100))
	if p.OpenPosition() != nil {
		t.Fatal("position must clear after settlement")
	}

	p.OnPositionOpened(pos)
	p.OnSessionReset(time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC))
	if p.OpenPosition() != nil {
		t.Fatal("session reset must clear the position marker")
	}
}

func TestCanonicalMonth(t *testing.T) {
	got := canonicalMonth("29JAN2026")
	if got != "29Jan2026" {
		t.Fatalf("canonicalMonth = %q, want 29Jan2026", got)
	}
	if _, err := time.Parse("02Jan2006", got); err != nil {
		t.Fatalf("normalized expiry must parse: %v", err)
	}
}
