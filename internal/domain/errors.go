package domain

import "errors"

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRateLimited       = errors.New("rate limited")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrInvalidConfig     = errors.New("invalid config")
	ErrUnavailable       = errors.New("unavailable")
	ErrNotFound          = errors.New("not found")
)
