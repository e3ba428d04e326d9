package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("invalid side: %q", s)
}

// TradeIntent is what the strategy wants done on this tick. The caller
// decides whether and how to apply it.
type TradeIntent struct {
	Side   Side
	Amount decimal.Decimal
	Reason string
}
