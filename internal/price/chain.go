package price

import (
	"context"
	"time"

	"github.com/olyamironova/solbot-sim/internal/port"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	SyntheticSource = "synthetic"
	// CancelledSource marks a price handed back unchanged because the
	// caller's context ended before a fetch.
	CancelledSource = "cancelled"
)

// Chain tries each provider in order, each bounded by timeout, and falls
// back to its generator. It always yields a price.
type Chain struct {
	providers []port.PriceProvider
	timeout   time.Duration
	fallback  Generator
	logger    *zap.Logger
}

func NewChain(providers []port.PriceProvider, timeout time.Duration, fallback Generator, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		providers: providers,
		timeout:   timeout,
		fallback:  fallback,
		logger:    logger,
	}
}

// Price returns the price and the name of the source that produced it.
// A cancelled context returns last as is and leaves the generator alone,
// unless there is no last price yet.
func (c *Chain) Price(ctx context.Context, baseAsset, quoteAsset string, last decimal.Decimal) (decimal.Decimal, string) {
	if ctx.Err() != nil && last.IsPositive() {
		return last, CancelledSource
	}
	for _, p := range c.providers {
		if ctx.Err() != nil {
			break
		}
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		px, err := p.GetPrice(pctx, baseAsset, quoteAsset)
		cancel()
		if err == nil && px.IsPositive() {
			return px, p.Name()
		}
		c.logger.Debug("price provider failed",
			zap.String("provider", p.Name()),
			zap.String("base", baseAsset),
			zap.Error(err))
	}
	return c.fallback.Next(last), SyntheticSource
}
