package in_memory

import (
	"context"
	"sync"

	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/olyamironova/solbot-sim/internal/port"
)

var (
	_ port.Repository = (*MemoryRepo)(nil)
	_ port.Tx         = (*memoryTx)(nil)
)

// MemoryRepo keeps everything in process. Trades are stored in append
// order per user.
type MemoryRepo struct {
	mu         sync.Mutex
	trades     map[string][]domain.Trade
	portfolios map[string]domain.Balances
	sessions   map[string]domain.SessionConfig
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		trades:     make(map[string][]domain.Trade),
		portfolios: make(map[string]domain.Balances),
		sessions:   make(map[string]domain.SessionConfig),
	}
}

func (r *MemoryRepo) AppendTrade(ctx context.Context, userID string, t domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades[userID] = append(r.trades[userID], t)
	return nil
}

func (r *MemoryRepo) ListTrades(ctx context.Context, userID string, limit int) ([]domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.trades[userID]
	n := len(all)
	if limit > 0 && limit < n {
		n = limit
	}
	res := make([]domain.Trade, 0, n)
	for i := len(all) - 1; i >= 0 && len(res) < n; i-- {
		res = append(res, all[i])
	}
	return res, nil
}

func (r *MemoryRepo) GetPortfolio(ctx context.Context, userID string) (*domain.Balances, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.portfolios[userID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *MemoryRepo) UpsertPortfolio(ctx context.Context, userID string, b domain.Balances) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.portfolios[userID] = b
	return nil
}

func (r *MemoryRepo) InitPortfolio(ctx context.Context, userID string, b domain.Balances) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.portfolios[userID]; ok {
		return false, nil
	}
	r.portfolios[userID] = b
	return true, nil
}

func (r *MemoryRepo) LoadSession(ctx context.Context, userID string) (*domain.SessionConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.sessions[userID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (r *MemoryRepo) SaveSession(ctx context.Context, userID string, cfg domain.SessionConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = cfg
	return nil
}

func (r *MemoryRepo) DeleteSession(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
	return nil
}

func (r *MemoryRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	return &memoryTx{repo: r}, nil
}

func (r *MemoryRepo) Close(ctx context.Context) {}

// memoryTx buffers writes and applies them under one lock on Commit.
type memoryTx struct {
	repo *MemoryRepo
	ops  []func(r *MemoryRepo)
	done bool
}

func (tx *memoryTx) AppendTrade(ctx context.Context, userID string, t domain.Trade) error {
	tx.ops = append(tx.ops, func(r *MemoryRepo) {
		r.trades[userID] = append(r.trades[userID], t)
	})
	return nil
}

func (tx *memoryTx) UpsertPortfolio(ctx context.Context, userID string, b domain.Balances) error {
	tx.ops = append(tx.ops, func(r *MemoryRepo) {
		r.portfolios[userID] = b
	})
	return nil
}

func (tx *memoryTx) ResetAccount(ctx context.Context, userID string) error {
	tx.ops = append(tx.ops, func(r *MemoryRepo) {
		delete(r.trades, userID)
		delete(r.portfolios, userID)
	})
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, op := range tx.ops {
		op(tx.repo)
	}
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	tx.done = true
	tx.ops = nil
	return nil
}
