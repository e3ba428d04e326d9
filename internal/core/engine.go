package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/olyamironova/solbot-sim/internal/id"
	"github.com/olyamironova/solbot-sim/internal/port"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceFeed always yields a price, falling back to a synthetic one, and
// names the source it used.
type PriceFeed interface {
	Price(ctx context.Context, baseAsset, quoteAsset string, last decimal.Decimal) (decimal.Decimal, string)
}

// FeedFactory builds the price feed for one user. Feeds are never shared
// between sessions.
type FeedFactory func(userID string) PriceFeed

type Options struct {
	TickInterval    time.Duration // 0 disables scheduled ticks
	Cooldown        time.Duration // minimum gap between trades, 0 disables
	MaxDailyLoss    decimal.Decimal
	DefaultRisk     decimal.Decimal
	DefaultSlippage decimal.Decimal
	QuoteAsset      string
	TradeListLimit  int
	Strategy        StrategyParams

	Clock func() time.Time
	NewID func() string
}

type StartParams struct {
	WalletKey       string
	Capital         decimal.Decimal
	RiskPercent     decimal.NullDecimal
	SlippagePercent decimal.NullDecimal
	TokenAddress    string
}

// Engine owns every user's session. Commands on one session are
// serialized; sessions never share mutable state.
type Engine struct {
	repo   port.Repository
	cache  port.SessionStore
	feeds  FeedFactory
	opts   Options
	logger *zap.Logger
	sched  *Scheduler
	events *PubSub

	mu       sync.Mutex
	sessions map[string]*session
}

// NewEngine wires the engine. cache may be nil.
func NewEngine(repo port.Repository, cache port.SessionStore, feeds FeedFactory, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = id.NewTradeID
	}
	if opts.TradeListLimit <= 0 {
		opts.TradeListLimit = 100
	}
	if !opts.DefaultRisk.IsPositive() {
		opts.DefaultRisk = decimal.NewFromInt(1)
	}
	if !opts.Strategy.SellFraction.IsPositive() {
		opts.Strategy = DefaultStrategyParams()
	}
	return &Engine{
		repo:     repo,
		cache:    cache,
		feeds:    feeds,
		opts:     opts,
		logger:   logger,
		sched:    NewScheduler(),
		events:   NewPubSub(),
		sessions: make(map[string]*session),
	}
}

// Events exposes the per-user result stream.
func (e *Engine) Events() *PubSub { return e.events }

// Close stops every scheduled tick and waits for in-flight ones.
func (e *Engine) Close() { e.sched.Shutdown() }

func (e *Engine) Start(ctx context.Context, userID string, p StartParams) domain.Result {
	if userID == "" {
		return invalidResult(fmt.Errorf("%w: user id is required", domain.ErrInvalidConfig))
	}

	s := e.session(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.Result
	e.ensureLoaded(ctx, s, &res)

	if err := domain.ValidateWalletKey(p.WalletKey); err != nil {
		return e.finish(s, &res, domain.StatusError, err.Error())
	}
	cfg := domain.SessionConfig{
		Capital:         p.Capital,
		RiskPercent:     e.opts.DefaultRisk,
		SlippagePercent: e.opts.DefaultSlippage,
		TokenAddress:    strings.TrimSpace(p.TokenAddress),
	}
	if p.RiskPercent.Valid {
		cfg.RiskPercent = p.RiskPercent.Decimal
	}
	if p.SlippagePercent.Valid {
		cfg.SlippagePercent = p.SlippagePercent.Decimal
	}
	if err := cfg.Validate(); err != nil {
		return e.finish(s, &res, domain.StatusError, err.Error())
	}

	now := e.opts.Clock()
	if s.running() {
		if s.cfg.TokenAddress != cfg.TokenAddress {
			s.market = domain.MarketState{}
		}
		s.cfg.RiskPercent = cfg.RiskPercent
		s.cfg.SlippagePercent = cfg.SlippagePercent
		s.cfg.TokenAddress = cfg.TokenAddress
		e.saveSession(ctx, s, &res)
		return e.finish(s, &res, domain.StatusSuccess, "Trading bot already running, configuration updated")
	}

	if s.cfg != nil {
		cfg.LastTradeAt = s.cfg.LastTradeAt
		if s.cfg.TokenAddress != cfg.TokenAddress {
			s.market = domain.MarketState{}
		}
		// A portfolio with trades stays on the capital it was seeded with so
		// reset returns to it. Without trades it is reseeded.
		if s.balances != nil && !s.cfg.Capital.Equal(cfg.Capital) {
			if s.ledger.Len() > 0 && s.cfg.Capital.IsPositive() {
				res.Warn(fmt.Sprintf("capital %s ignored: portfolio already trades on %s, reset to change it",
					cfg.Capital, s.cfg.Capital))
				cfg.Capital = s.cfg.Capital
			} else {
				b := domain.NewBalances(cfg.Capital, decimal.Zero, decimal.Zero)
				s.balances = &b
			}
		}
	}
	cfg.Running = true
	cfg.StartedAt = now
	s.cfg = &cfg

	if s.balances == nil {
		b := domain.NewBalances(cfg.Capital, decimal.Zero, decimal.Zero)
		if _, err := e.repo.InitPortfolio(context.WithoutCancel(ctx), userID, b); err != nil {
			e.degraded(&res, userID, "init portfolio", err)
		}
		s.balances = &b
	}

	px, src := s.feed.Price(ctx, cfg.TokenAddress, e.opts.QuoteAsset, s.market.LastPrice)
	s.observe(px, src, now)
	e.savePortfolio(ctx, s, &res)
	e.saveSession(ctx, s, &res)
	e.sched.Schedule(userID, e.opts.TickInterval, e.scheduledTick(userID))

	e.logger.Info("session started",
		zap.String("user_id", userID),
		zap.String("token", cfg.TokenAddress),
		zap.String("capital", cfg.Capital.String()))
	return e.finish(s, &res, domain.StatusSuccess, "Trading bot started successfully")
}

// Stop is idempotent: stopping a stopped session changes nothing.
func (e *Engine) Stop(ctx context.Context, userID string) domain.Result {
	s := e.session(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.Result
	e.ensureLoaded(ctx, s, &res)
	e.sched.Cancel(userID)

	was := s.running()
	res.WasRunning = &was
	if !was {
		return e.finish(s, &res, domain.StatusSuccess, "Trading bot is not running")
	}
	s.cfg.Running = false
	e.saveSession(ctx, s, &res)

	e.logger.Info("session stopped", zap.String("user_id", userID))
	return e.finish(s, &res, domain.StatusSuccess, "Trading bot has been stopped")
}

func (e *Engine) Tick(ctx context.Context, userID string) domain.Result {
	s := e.session(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.Result
	e.ensureLoaded(ctx, s, &res)
	if !s.running() {
		return e.finish(s, &res, domain.StatusPaused, "Trading bot is not running")
	}
	now := e.opts.Clock()
	if wait := e.cooldownLeft(s, now); wait > 0 {
		return e.finish(s, &res, domain.StatusRateLimited,
			fmt.Sprintf("trade cooldown active, retry in %s", wait.Round(time.Millisecond)))
	}
	if e.dailyLossReached(s, now) {
		return e.finish(s, &res, domain.StatusPaused, "daily loss limit reached")
	}

	if ctx.Err() != nil {
		return e.finish(s, &res, domain.StatusPaused, "tick cancelled")
	}
	px, src := s.feed.Price(ctx, s.cfg.TokenAddress, e.opts.QuoteAsset, s.market.LastPrice)
	if ctx.Err() != nil {
		return e.finish(s, &res, domain.StatusPaused, "tick cancelled")
	}
	s.observe(px, src, now)

	intent := EvaluateStrategy(s.market, *s.balances, s.cfg.RiskPercent, e.opts.Strategy)
	if intent == nil {
		e.savePortfolio(ctx, s, &res)
		return e.finish(s, &res, domain.StatusSuccess, "no trade signal")
	}
	if err := e.fill(ctx, s, intent.Side, intent.Amount, now, &res); err != nil {
		e.savePortfolio(ctx, s, &res)
		return e.finish(s, &res, domain.StatusSuccess, "signal skipped: "+err.Error())
	}
	return e.finish(s, &res, domain.StatusSuccess, intent.Reason)
}

// ManualTrade executes a user-initiated trade at the last observed price.
// A zero amount is sized the way the strategy would size it.
func (e *Engine) ManualTrade(ctx context.Context, userID string, side domain.Side, amount decimal.Decimal) domain.Result {
	s := e.session(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.Result
	e.ensureLoaded(ctx, s, &res)
	if side != domain.Buy && side != domain.Sell {
		return e.finish(s, &res, domain.StatusError, fmt.Sprintf("%v: unknown side %q", domain.ErrInvalidConfig, side))
	}
	if !s.running() {
		return e.finish(s, &res, domain.StatusPaused, "Trading bot is not running")
	}
	now := e.opts.Clock()
	if wait := e.cooldownLeft(s, now); wait > 0 {
		return e.finish(s, &res, domain.StatusRateLimited,
			fmt.Sprintf("trade cooldown active, retry in %s", wait.Round(time.Millisecond)))
	}
	if e.dailyLossReached(s, now) {
		return e.finish(s, &res, domain.StatusPaused, "daily loss limit reached")
	}

	if !s.market.LastPrice.IsPositive() {
		px, src := s.feed.Price(ctx, s.cfg.TokenAddress, e.opts.QuoteAsset, s.market.LastPrice)
		if ctx.Err() != nil {
			return e.finish(s, &res, domain.StatusPaused, "trade cancelled")
		}
		s.observe(px, src, now)
	}
	if amount.IsZero() {
		amount = e.defaultSize(s, side)
	}
	if err := e.fill(ctx, s, side, amount, now, &res); err != nil {
		return e.finish(s, &res, domain.StatusError, err.Error())
	}
	return e.finish(s, &res, domain.StatusSuccess, fmt.Sprintf("manual %s executed", side))
}

// Reset returns the account to its starting capital and stops the bot.
func (e *Engine) Reset(ctx context.Context, userID string) domain.Result {
	s := e.session(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.Result
	e.ensureLoaded(ctx, s, &res)
	e.sched.Cancel(userID)

	capital := decimal.Zero
	if s.cfg != nil {
		capital = s.cfg.Capital
		s.cfg.Running = false
		s.cfg.LastTradeAt = time.Time{}
	}
	s.ledger = NewLedger(nil)
	s.market = domain.MarketState{}
	s.balances = nil
	if capital.IsPositive() {
		b := domain.NewBalances(capital, decimal.Zero, decimal.Zero)
		s.balances = &b
	}

	err := withTx(context.WithoutCancel(ctx), e.repo, func(ctx context.Context, tx port.Tx) error {
		if err := tx.ResetAccount(ctx, userID); err != nil {
			return err
		}
		if s.balances != nil {
			return tx.UpsertPortfolio(ctx, userID, *s.balances)
		}
		return nil
	})
	if err != nil {
		e.degraded(&res, userID, "reset account", err)
	}
	e.saveSession(ctx, s, &res)

	e.logger.Info("account reset", zap.String("user_id", userID))
	return e.finish(s, &res, domain.StatusSuccess, "Account reset successfully")
}

// Status reports the bot state together with the current snapshot.
func (e *Engine) Status(ctx context.Context, userID string) domain.Result {
	s := e.session(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.Result
	e.ensureLoaded(ctx, s, &res)
	return e.snapshot(s, &res, domain.StatusSuccess, "")
}

func (e *Engine) Portfolio(ctx context.Context, userID string) domain.PortfolioSnapshot {
	s := e.session(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.Result
	e.ensureLoaded(ctx, s, &res)
	snap := domain.PortfolioSnapshot{
		UserID:  userID,
		Market:  s.market,
		Stats:   s.ledger.Stats(),
		Running: s.running(),
	}
	if s.balances != nil {
		snap.Balances = *s.balances
	}
	return snap
}

// Trades returns up to limit trades, most recent first. limit <= 0 uses the
// configured default.
func (e *Engine) Trades(ctx context.Context, userID string, limit int) []domain.Trade {
	if limit <= 0 {
		limit = e.opts.TradeListLimit
	}
	s := e.session(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.Result
	e.ensureLoaded(ctx, s, &res)
	return s.ledger.Recent(limit)
}

func (e *Engine) Stats(ctx context.Context, userID string) domain.TradingStats {
	s := e.session(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.Result
	e.ensureLoaded(ctx, s, &res)
	return s.ledger.Stats()
}

// fill applies a trade and persists it with the new balances in one
// transaction. Persistence failures are warnings; the in-memory fill stands.
func (e *Engine) fill(ctx context.Context, s *session, side domain.Side, amount decimal.Decimal, now time.Time, res *domain.Result) error {
	stamp := TradeStamp{ID: e.opts.NewID(), At: now}
	t, next, err := ApplyTrade(side, amount, s.market.LastPrice, s.cfg.SlippagePercent, s.ledger, *s.balances, stamp)
	if err != nil {
		return err
	}
	s.balances = &next
	s.cfg.LastTradeAt = now
	res.Trade = &t

	err = withTx(context.WithoutCancel(ctx), e.repo, func(ctx context.Context, tx port.Tx) error {
		if err := tx.AppendTrade(ctx, s.userID, t); err != nil {
			return err
		}
		return tx.UpsertPortfolio(ctx, s.userID, next)
	})
	if err != nil {
		e.degraded(res, s.userID, "persist trade", err)
	}
	e.saveSession(ctx, s, res)

	e.logger.Info("trade executed",
		zap.String("user_id", s.userID),
		zap.String("trade_id", t.ID),
		zap.String("side", string(t.Side)),
		zap.String("amount", t.BaseAmount.String()),
		zap.String("price", t.ExecutedPrice.String()),
		zap.String("pnl", t.RealizedPnl.String()))
	return nil
}

func (e *Engine) defaultSize(s *session, side domain.Side) decimal.Decimal {
	if side == domain.Sell {
		return s.balances.BaseAmount.Mul(e.opts.Strategy.SellFraction)
	}
	return BuySize(s.balances.QuoteAmount, s.cfg.RiskPercent, s.market.LastPrice)
}

func (e *Engine) cooldownLeft(s *session, now time.Time) time.Duration {
	if e.opts.Cooldown <= 0 || s.cfg.LastTradeAt.IsZero() {
		return 0
	}
	return e.opts.Cooldown - now.Sub(s.cfg.LastTradeAt)
}

func (e *Engine) dailyLossReached(s *session, now time.Time) bool {
	if !e.opts.MaxDailyLoss.IsPositive() {
		return false
	}
	y, m, d := now.UTC().Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return s.ledger.LossSince(midnight).GreaterThanOrEqual(e.opts.MaxDailyLoss)
}

func (e *Engine) scheduledTick(userID string) func(ctx context.Context) {
	return func(ctx context.Context) {
		r := e.Tick(ctx, userID)
		e.logger.Debug("scheduled tick",
			zap.String("user_id", userID),
			zap.String("status", string(r.Status)),
			zap.String("message", r.Message))
	}
}

// finish completes res from the session state and publishes it.
func (e *Engine) finish(s *session, res *domain.Result, status domain.Status, msg string) domain.Result {
	out := e.snapshot(s, res, status, msg)
	e.events.Publish(s.userID, out)
	return out
}

func (e *Engine) snapshot(s *session, res *domain.Result, status domain.Status, msg string) domain.Result {
	res.Status = status
	res.Message = msg
	res.BotStatus = s.botStatus()
	stats := s.ledger.Stats()
	res.Stats = &stats
	if s.balances != nil {
		b := *s.balances
		res.Balances = &b
	}
	if s.market.LastPrice.IsPositive() {
		m := s.market
		res.Market = &m
	}
	return *res
}

func invalidResult(err error) domain.Result {
	return domain.Result{
		Status:    domain.StatusError,
		BotStatus: domain.BotStopped,
		Message:   err.Error(),
	}
}
