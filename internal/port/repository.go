package port

import (
	"context"

	"github.com/olyamironova/solbot-sim/internal/domain"
)

// TradeLedger is append-only. ListTrades returns the most recent first;
// limit <= 0 returns every trade.
type TradeLedger interface {
	AppendTrade(ctx context.Context, userID string, t domain.Trade) error
	ListTrades(ctx context.Context, userID string, limit int) ([]domain.Trade, error)
}

// PortfolioStore returns (nil, nil) for unknown users.
type PortfolioStore interface {
	GetPortfolio(ctx context.Context, userID string) (*domain.Balances, error)
	UpsertPortfolio(ctx context.Context, userID string, b domain.Balances) error
	// InitPortfolio inserts b only when the user has no portfolio yet and
	// reports whether it did.
	InitPortfolio(ctx context.Context, userID string, b domain.Balances) (bool, error)
}

type Repository interface {
	TradeLedger
	PortfolioStore
	SessionStore
	BeginTx(ctx context.Context) (Tx, error)
	Close(ctx context.Context)
}

type Tx interface {
	AppendTrade(ctx context.Context, userID string, t domain.Trade) error
	UpsertPortfolio(ctx context.Context, userID string, b domain.Balances) error
	// ResetAccount deletes the user's trades and portfolio row.
	ResetAccount(ctx context.Context, userID string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
