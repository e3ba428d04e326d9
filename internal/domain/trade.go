package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one simulated fill. Trades are never modified after creation.
type Trade struct {
	ID            string          `json:"id"`
	Side          Side            `json:"side"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Notional is the quote-currency value of the fill.
func (t Trade) Notional() decimal.Decimal {
	return t.BaseAmount.Mul(t.ExecutedPrice)
}
