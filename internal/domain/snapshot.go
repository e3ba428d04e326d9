package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Balances struct {
	QuoteAmount decimal.Decimal `json:"quote_amount"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

func NewBalances(quote, base, price decimal.Decimal) Balances {
	b := Balances{QuoteAmount: quote, BaseAmount: base}
	return b.Revalue(price)
}

// Revalue returns a copy with TotalValue = quote + base*price.
func (b Balances) Revalue(price decimal.Decimal) Balances {
	b.TotalValue = b.QuoteAmount.Add(b.BaseAmount.Mul(price))
	return b
}

type MarketState struct {
	LastPrice     decimal.Decimal `json:"last_price"`
	PercentChange decimal.Decimal `json:"percent_change"`
	Source        string          `json:"source,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Next derives the market state that follows m when price is observed.
// The first observation has a zero percent change.
func (m MarketState) Next(price decimal.Decimal, source string, at time.Time) MarketState {
	change := decimal.Zero
	if m.LastPrice.IsPositive() {
		change = price.Sub(m.LastPrice).Div(m.LastPrice).Mul(decimal.NewFromInt(100))
	}
	return MarketState{
		LastPrice:     price,
		PercentChange: change,
		Source:        source,
		UpdatedAt:     at,
	}
}

// PortfolioSnapshot is the read model served to the presentation layer.
type PortfolioSnapshot struct {
	UserID   string       `json:"user_id"`
	Balances Balances     `json:"balances"`
	Market   MarketState  `json:"market"`
	Stats    TradingStats `json:"stats"`
	Running  bool         `json:"running"`
}
