package core

import (
	"fmt"
	"time"

	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

const sizePrecision int32 = 16

// TradeStamp carries the identity of a fill so ApplyTrade itself has no
// hidden clock or randomness.
type TradeStamp struct {
	ID string
	At time.Time
}

// ExecutedPrice applies adverse slippage: BUY pays more, SELL receives less.
func ExecutedPrice(side domain.Side, referencePrice, slippagePercent decimal.Decimal) decimal.Decimal {
	slip := slippagePercent.Div(hundred)
	if side == domain.Buy {
		return referencePrice.Mul(one.Add(slip))
	}
	return referencePrice.Mul(one.Sub(slip))
}

// ApplyTrade fills amount base units at referencePrice adjusted by slippage.
// On success the trade is appended to ledger and the new balances are
// returned valued at referencePrice. On any failed precondition nothing is
// touched and the error wraps domain.ErrInsufficientFunds.
func ApplyTrade(
	side domain.Side,
	amount, referencePrice, slippagePercent decimal.Decimal,
	ledger *Ledger,
	balances domain.Balances,
	stamp TradeStamp,
) (domain.Trade, domain.Balances, error) {
	if !amount.IsPositive() {
		return domain.Trade{}, balances, fmt.Errorf("%w: amount must be > 0", domain.ErrInsufficientFunds)
	}
	if !referencePrice.IsPositive() {
		return domain.Trade{}, balances, fmt.Errorf("%w: reference price must be > 0", domain.ErrInsufficientFunds)
	}

	executed := ExecutedPrice(side, referencePrice, slippagePercent)
	if !executed.IsPositive() {
		return domain.Trade{}, balances, fmt.Errorf("%w: executed price must be > 0", domain.ErrInsufficientFunds)
	}
	notional := amount.Mul(executed)

	next := balances
	pnl := decimal.Zero
	switch side {
	case domain.Buy:
		if notional.GreaterThan(balances.QuoteAmount) {
			return domain.Trade{}, balances, fmt.Errorf("%w: need %s quote, have %s",
				domain.ErrInsufficientFunds, notional.String(), balances.QuoteAmount.String())
		}
		next.QuoteAmount = balances.QuoteAmount.Sub(notional)
		next.BaseAmount = balances.BaseAmount.Add(amount)
	case domain.Sell:
		if amount.GreaterThan(balances.BaseAmount) {
			return domain.Trade{}, balances, fmt.Errorf("%w: need %s base, have %s",
				domain.ErrInsufficientFunds, amount.String(), balances.BaseAmount.String())
		}
		next.QuoteAmount = balances.QuoteAmount.Add(notional)
		next.BaseAmount = balances.BaseAmount.Sub(amount)
		pnl = executed.Sub(ledger.CostBasis().Average()).Mul(amount)
	default:
		return domain.Trade{}, balances, fmt.Errorf("%w: unknown side %q", domain.ErrInsufficientFunds, side)
	}

	t := domain.Trade{
		ID:            stamp.ID,
		Side:          side,
		BaseAmount:    amount,
		ExecutedPrice: executed,
		RealizedPnl:   pnl,
		OccurredAt:    stamp.At,
	}
	ledger.Append(t)
	return t, next.Revalue(referencePrice), nil
}

type StrategyParams struct {
	BuyThreshold  decimal.Decimal
	SellThreshold decimal.Decimal
	SellFraction  decimal.Decimal
	MinQuote      decimal.Decimal
	MinBase       decimal.Decimal
}

func DefaultStrategyParams() StrategyParams {
	return StrategyParams{
		BuyThreshold:  decimal.RequireFromString("-1.5"),
		SellThreshold: decimal.RequireFromString("2.0"),
		SellFraction:  decimal.RequireFromString("0.3"),
		MinQuote:      decimal.NewFromInt(1),
		MinBase:       decimal.RequireFromString("0.001"),
	}
}

// BuySize converts riskPercent of quote into base units at price. The
// quotient is truncated so the fill at price never costs more than quote.
func BuySize(quote, riskPercent, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	spend := quote.Mul(riskPercent).Shift(-2)
	q, _ := spend.QuoRem(price, sizePrecision)
	return q
}

// EvaluateStrategy is a mean-reversion/momentum rule: buy the dip, trim
// into strength. BUY is checked first and the first match wins, so if the
// thresholds are ever configured to overlap a BUY takes precedence.
func EvaluateStrategy(market domain.MarketState, balances domain.Balances, riskPercent decimal.Decimal, p StrategyParams) *domain.TradeIntent {
	if !market.LastPrice.IsPositive() {
		return nil
	}
	if market.PercentChange.LessThanOrEqual(p.BuyThreshold) && balances.QuoteAmount.GreaterThan(p.MinQuote) {
		return &domain.TradeIntent{
			Side:   domain.Buy,
			Amount: BuySize(balances.QuoteAmount, riskPercent, market.LastPrice),
			Reason: fmt.Sprintf("price moved %s%%, buying the dip", market.PercentChange.StringFixed(2)),
		}
	}
	if market.PercentChange.GreaterThanOrEqual(p.SellThreshold) && balances.BaseAmount.GreaterThan(p.MinBase) {
		return &domain.TradeIntent{
			Side:   domain.Sell,
			Amount: balances.BaseAmount.Mul(p.SellFraction),
			Reason: fmt.Sprintf("price moved +%s%%, taking profit", market.PercentChange.StringFixed(2)),
		}
	}
	return nil
}
