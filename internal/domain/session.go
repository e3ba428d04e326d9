package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SessionConfig is owned by exactly one logical session per user.
type SessionConfig struct {
	Capital         decimal.Decimal `json:"capital"`
	RiskPercent     decimal.Decimal `json:"risk_percent"`
	SlippagePercent decimal.Decimal `json:"slippage_percent"`
	TokenAddress    string          `json:"token_address"`
	Running         bool            `json:"running"`
	StartedAt       time.Time       `json:"started_at,omitempty"`
	LastTradeAt     time.Time       `json:"last_trade_at,omitempty"`
}

func (c SessionConfig) Validate() error {
	if !c.Capital.IsPositive() {
		return fmt.Errorf("%w: capital must be > 0", ErrInvalidConfig)
	}
	if !c.RiskPercent.IsPositive() || c.RiskPercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: risk percent must be in (0, 100]", ErrInvalidConfig)
	}
	if c.SlippagePercent.IsNegative() || !c.SlippagePercent.LessThan(hundred) {
		return fmt.Errorf("%w: slippage percent must be in [0, 100)", ErrInvalidConfig)
	}
	if err := ValidateTokenAddress(c.TokenAddress); err != nil {
		return err
	}
	return nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidateTokenAddress checks the shape of a mint address. It does not
// decode it.
func ValidateTokenAddress(addr string) error {
	if len(addr) < 32 || len(addr) > 44 {
		return fmt.Errorf("%w: invalid token address format", ErrInvalidConfig)
	}
	for _, r := range addr {
		if !strings.ContainsRune(base58Alphabet, r) {
			return fmt.Errorf("%w: token address is not base58", ErrInvalidConfig)
		}
	}
	return nil
}

// ValidateWalletKey accepts a 12..24 word seed phrase or a 30..200 char
// encoded key. The key itself is never kept.
func ValidateWalletKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: wallet key is required", ErrInvalidConfig)
	}
	if strings.Contains(key, " ") {
		if n := len(strings.Fields(key)); n < 12 || n > 24 {
			return fmt.Errorf("%w: seed phrase must have 12-24 words", ErrInvalidConfig)
		}
		return nil
	}
	if len(key) < 30 || len(key) > 200 {
		return fmt.Errorf("%w: private key has invalid length", ErrInvalidConfig)
	}
	return nil
}
