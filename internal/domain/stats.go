package domain

import "github.com/shopspring/decimal"

// TradingStats is derived from the ledger and never stored on its own.
type TradingStats struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	TotalPnl      decimal.Decimal `json:"total_pnl"`
}

func (s TradingStats) Add(t Trade) TradingStats {
	s.TotalTrades++
	if t.RealizedPnl.IsPositive() {
		s.WinningTrades++
	}
	s.TotalPnl = s.TotalPnl.Add(t.RealizedPnl)
	return s
}

func FoldStats(trades []Trade) TradingStats {
	var s TradingStats
	for _, t := range trades {
		s = s.Add(t)
	}
	return s
}

// CostBasis accumulates BUY fills for the volume-weighted average cost.
type CostBasis struct {
	Cost   decimal.Decimal
	Amount decimal.Decimal
}

func (c CostBasis) Add(t Trade) CostBasis {
	if t.Side != Buy {
		return c
	}
	c.Cost = c.Cost.Add(t.Notional())
	c.Amount = c.Amount.Add(t.BaseAmount)
	return c
}

// Average returns zero when no BUY has been recorded.
func (c CostBasis) Average() decimal.Decimal {
	if !c.Amount.IsPositive() {
		return decimal.Zero
	}
	return c.Cost.Div(c.Amount)
}

func FoldCostBasis(trades []Trade) CostBasis {
	var c CostBasis
	for _, t := range trades {
		c = c.Add(t)
	}
	return c
}
