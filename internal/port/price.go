package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceProvider fails with domain.ErrPriceUnavailable on network or parse
// errors; callers fall back.
type PriceProvider interface {
	Name() string
	GetPrice(ctx context.Context, baseAsset, quoteAsset string) (decimal.Decimal, error)
}
