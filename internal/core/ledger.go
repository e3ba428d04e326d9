package core

import (
	"time"

	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/shopspring/decimal"
)

// Ledger is a session's in-memory trade log. It keeps the running stats
// and BUY cost basis in step with the trades so neither has to be refolded
// on every fill.
type Ledger struct {
	trades []domain.Trade
	stats  domain.TradingStats
	basis  domain.CostBasis
}

// NewLedger builds a ledger from trades in chronological order.
func NewLedger(trades []domain.Trade) *Ledger {
	l := &Ledger{}
	for _, t := range trades {
		l.Append(t)
	}
	return l
}

func (l *Ledger) Append(t domain.Trade) {
	l.trades = append(l.trades, t)
	l.stats = l.stats.Add(t)
	l.basis = l.basis.Add(t)
}

func (l *Ledger) Len() int { return len(l.trades) }

func (l *Ledger) Stats() domain.TradingStats { return l.stats }

func (l *Ledger) CostBasis() domain.CostBasis { return l.basis }

// Recent returns up to limit trades, most recent first. limit <= 0 returns all.
func (l *Ledger) Recent(limit int) []domain.Trade {
	n := len(l.trades)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Trade, 0, n)
	for i := len(l.trades) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.trades[i])
	}
	return out
}

func (l *Ledger) Last() (domain.Trade, bool) {
	if len(l.trades) == 0 {
		return domain.Trade{}, false
	}
	return l.trades[len(l.trades)-1], true
}

// LossSince sums the realized losses of trades at or after from, as a
// positive amount.
func (l *Ledger) LossSince(from time.Time) decimal.Decimal {
	loss := decimal.Zero
	for i := len(l.trades) - 1; i >= 0; i-- {
		t := l.trades[i]
		if t.OccurredAt.Before(from) {
			break
		}
		if t.RealizedPnl.IsNegative() {
			loss = loss.Sub(t.RealizedPnl)
		}
	}
	return loss
}
