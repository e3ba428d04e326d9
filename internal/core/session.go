package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// session is one user's simulator state. Every field is guarded by mu.
type session struct {
	mu     sync.Mutex
	userID string
	loaded bool

	cfg      *domain.SessionConfig // nil until the first start
	balances *domain.Balances      // nil until a portfolio exists
	market   domain.MarketState
	ledger   *Ledger
	feed     PriceFeed
}

func (s *session) running() bool {
	return s.cfg != nil && s.cfg.Running
}

func (s *session) botStatus() domain.BotStatus {
	if s.running() {
		return domain.BotRunning
	}
	return domain.BotStopped
}

// observe records a new price and revalues the portfolio at it.
func (s *session) observe(px decimal.Decimal, source string, at time.Time) {
	s.market = s.market.Next(px, source, at)
	if s.balances != nil {
		b := s.balances.Revalue(px)
		s.balances = &b
	}
}

// session returns the user's session, creating an unloaded one on first use.
func (e *Engine) session(userID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[userID]
	if !ok {
		s = &session{
			userID: userID,
			ledger: NewLedger(nil),
			feed:   e.feeds(userID),
		}
		e.sessions[userID] = s
	}
	return s
}

// ensureLoaded hydrates s from the stores the first time it is touched.
// Store failures are reported on res and the session continues from
// whatever could be read. Callers hold s.mu.
func (e *Engine) ensureLoaded(ctx context.Context, s *session, res *domain.Result) {
	if s.loaded {
		return
	}
	s.loaded = true

	cfg, err := e.loadSessionConfig(ctx, s.userID)
	if err != nil {
		e.degraded(res, s.userID, "load session", err)
	} else {
		s.cfg = cfg
	}

	b, err := e.repo.GetPortfolio(ctx, s.userID)
	if err != nil {
		e.degraded(res, s.userID, "load portfolio", err)
	} else {
		s.balances = b
	}

	trades, err := e.repo.ListTrades(ctx, s.userID, 0)
	if err != nil {
		e.degraded(res, s.userID, "load trades", err)
	} else {
		chronological := make([]domain.Trade, len(trades))
		for i, t := range trades {
			chronological[len(trades)-1-i] = t
		}
		s.ledger = NewLedger(chronological)
	}

	if s.running() {
		if s.balances == nil {
			b := domain.NewBalances(s.cfg.Capital, decimal.Zero, decimal.Zero)
			s.balances = &b
		}
		e.sched.Schedule(s.userID, e.opts.TickInterval, e.scheduledTick(s.userID))
		e.logger.Info("resumed running session", zap.String("user_id", s.userID))
	}
}

// loadSessionConfig reads through the session cache, filling it on a miss.
func (e *Engine) loadSessionConfig(ctx context.Context, userID string) (*domain.SessionConfig, error) {
	if e.cache != nil {
		cfg, err := e.cache.LoadSession(ctx, userID)
		if err == nil && cfg != nil {
			return cfg, nil
		}
		if err != nil {
			e.logger.Debug("session cache miss", zap.String("user_id", userID), zap.Error(err))
		}
	}
	cfg, err := e.repo.LoadSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cfg != nil && e.cache != nil {
		if err := e.cache.SaveSession(ctx, userID, *cfg); err != nil {
			e.logger.Debug("session cache fill failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return cfg, nil
}

// saveSession writes the config through to the repository and the cache.
func (e *Engine) saveSession(ctx context.Context, s *session, res *domain.Result) {
	if s.cfg == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.repo.SaveSession(ctx, s.userID, *s.cfg); err != nil {
		e.degraded(res, s.userID, "save session", err)
	}
	if e.cache != nil {
		if err := e.cache.SaveSession(ctx, s.userID, *s.cfg); err != nil {
			e.logger.Warn("session cache write failed", zap.String("user_id", s.userID), zap.Error(err))
		}
	}
}

func (e *Engine) savePortfolio(ctx context.Context, s *session, res *domain.Result) {
	if s.balances == nil {
		return
	}
	if err := e.repo.UpsertPortfolio(context.WithoutCancel(ctx), s.userID, *s.balances); err != nil {
		e.degraded(res, s.userID, "save portfolio", err)
	}
}

func (e *Engine) degraded(res *domain.Result, userID, op string, err error) {
	e.logger.Warn("store unavailable",
		zap.String("user_id", userID),
		zap.String("op", op),
		zap.Error(err))
	res.Warn(fmt.Sprintf("%s failed: %v", op, err))
}
