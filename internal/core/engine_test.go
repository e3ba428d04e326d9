package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olyamironova/solbot-sim/internal/adapter/in_memory"
	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/olyamironova/solbot-sim/internal/port"
	"github.com/olyamironova/solbot-sim/internal/price"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testWallet = "4NwBcF9zVq8kQbXcUe1sPJ3mT5yHkLrD2aGvW7xZs9Qe"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func seqFeeds(prices ...string) FeedFactory {
	return func(string) PriceFeed {
		ps := make([]decimal.Decimal, len(prices))
		for i, p := range prices {
			ps[i] = d(p)
		}
		return price.NewChain(nil, time.Second, price.NewSequence(ps...), zap.NewNop())
	}
}

type harness struct {
	eng   *Engine
	repo  port.Repository
	clock *fakeClock
}

func newHarness(t *testing.T, repo port.Repository, opts Options, prices ...string) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)}
	var n atomic.Int64
	opts.Clock = clock.Now
	opts.NewID = func() string { return fmt.Sprintf("t%03d", n.Add(1)) }
	eng := NewEngine(repo, nil, seqFeeds(prices...), opts, zap.NewNop())
	t.Cleanup(eng.Close)
	return &harness{eng: eng, repo: repo, clock: clock}
}

func startParams(capital, risk, slippage string) StartParams {
	return StartParams{
		WalletKey:       testWallet,
		Capital:         d(capital),
		RiskPercent:     decimal.NewNullDecimal(d(risk)),
		SlippagePercent: decimal.NewNullDecimal(d(slippage)),
		TokenAddress:    price.SOLMint,
	}
}

func assertNonNegative(t *testing.T, b *domain.Balances) {
	t.Helper()
	require.NotNil(t, b)
	assert.False(t, b.QuoteAmount.IsNegative(), "quote %s", b.QuoteAmount)
	assert.False(t, b.BaseAmount.IsNegative(), "base %s", b.BaseAmount)
}

func TestStartValidatesConfig(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{}, "150")

	res := h.eng.Start(ctx, "u1", startParams("0", "1", "0.5"))
	assert.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, domain.BotStopped, res.BotStatus)
	assert.Contains(t, res.Message, "capital")

	p := startParams("1000", "1", "0.5")
	p.WalletKey = ""
	res = h.eng.Start(ctx, "u1", p)
	assert.Equal(t, domain.StatusError, res.Status)

	p = startParams("1000", "1", "0.5")
	p.TokenAddress = "short"
	res = h.eng.Start(ctx, "u1", p)
	assert.Equal(t, domain.StatusError, res.Status)

	res = h.eng.Start(ctx, "", startParams("1000", "1", "0.5"))
	assert.Equal(t, domain.StatusError, res.Status)

	b, err := h.repo.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestStartInitialisesPortfolioAndSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{}, "150")

	res := h.eng.Start(ctx, "u1", startParams("1000", "1", "0.5"))
	require.Equal(t, domain.StatusSuccess, res.Status, res.Message)
	assert.Equal(t, domain.BotRunning, res.BotStatus)
	require.NotNil(t, res.Market)
	assertDec(t, "150", res.Market.LastPrice)
	assert.Equal(t, price.SyntheticSource, res.Market.Source)
	assertDec(t, "1000", res.Balances.QuoteAmount)
	assertDec(t, "1000", res.Balances.TotalValue)

	stored, err := h.repo.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assertDec(t, "1000", stored.QuoteAmount)

	cfg, err := h.repo.LoadSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(t, cfg.Running)

	again := h.eng.Start(ctx, "u1", startParams("5000", "2", "0.5"))
	assert.Equal(t, domain.StatusSuccess, again.Status)
	assert.Contains(t, again.Message, "already running")
	assertDec(t, "1000", again.Balances.QuoteAmount)
	cfg, _ = h.repo.LoadSession(ctx, "u1")
	assertDec(t, "2", cfg.RiskPercent)
}

func TestTickPausedWhenNotRunning(t *testing.T) {
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{}, "150")

	res := h.eng.Tick(context.Background(), "nobody")
	assert.Equal(t, domain.StatusPaused, res.Status)
	assert.Equal(t, domain.BotStopped, res.BotStatus)
	assert.Nil(t, res.Trade)
	assert.Empty(t, h.eng.Trades(context.Background(), "nobody", 0))
}

func TestTicksTradeAndKeepLedgerConsistent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{}, "150", "147", "151")
	require.Equal(t, domain.StatusSuccess, h.eng.Start(ctx, "u1", startParams("1000", "10", "0")).Status)

	buy := h.eng.Tick(ctx, "u1")
	require.Equal(t, domain.StatusSuccess, buy.Status)
	require.NotNil(t, buy.Trade)
	assert.Equal(t, domain.Buy, buy.Trade.Side)
	assertDec(t, "0.6802721088435374", buy.Trade.BaseAmount)
	assertDec(t, "147", buy.Trade.ExecutedPrice)
	assertNonNegative(t, buy.Balances)

	h.clock.Advance(time.Minute)
	sell := h.eng.Tick(ctx, "u1")
	require.NotNil(t, sell.Trade)
	assert.Equal(t, domain.Sell, sell.Trade.Side)
	assert.True(t, sell.Trade.RealizedPnl.IsPositive())
	assertNonNegative(t, sell.Balances)

	flat := h.eng.Tick(ctx, "u1")
	assert.Equal(t, domain.StatusSuccess, flat.Status)
	assert.Nil(t, flat.Trade)
	assert.Equal(t, "no trade signal", flat.Message)

	trades := h.eng.Trades(ctx, "u1", 0)
	assert.Equal(t, []string{sell.Trade.ID, buy.Trade.ID}, ids(trades))
	assert.Equal(t, []string{sell.Trade.ID}, ids(h.eng.Trades(ctx, "u1", 1)))

	stats := h.eng.Stats(ctx, "u1")
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.True(t, stats.TotalPnl.Equal(sell.Trade.RealizedPnl))
	assert.Equal(t, domain.FoldStats([]domain.Trade{trades[1], trades[0]}), stats)

	stored, err := h.repo.ListTrades(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, ids(trades), ids(stored))

	snap := h.eng.Portfolio(ctx, "u1")
	persisted, err := h.repo.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, snap.Balances.QuoteAmount.Equal(persisted.QuoteAmount))
	assert.True(t, snap.Balances.BaseAmount.Equal(persisted.BaseAmount))
	assert.True(t, snap.Running)
}

func TestStopIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{}, "150", "147")
	h.eng.Start(ctx, "u1", startParams("1000", "10", "0"))
	h.eng.Tick(ctx, "u1")

	first := h.eng.Stop(ctx, "u1")
	assert.Equal(t, domain.StatusSuccess, first.Status)
	assert.Equal(t, domain.BotStopped, first.BotStatus)
	require.NotNil(t, first.WasRunning)
	assert.True(t, *first.WasRunning)
	require.NotNil(t, first.Stats)
	assert.Equal(t, 1, first.Stats.TotalTrades)

	second := h.eng.Stop(ctx, "u1")
	require.NotNil(t, second.WasRunning)
	assert.False(t, *second.WasRunning)
	assert.Equal(t, first.Stats, second.Stats)
	assert.Equal(t, first.Balances, second.Balances)

	assert.Equal(t, domain.StatusPaused, h.eng.Tick(ctx, "u1").Status)
	cfg, _ := h.repo.LoadSession(ctx, "u1")
	assert.False(t, cfg.Running)
}

func TestCooldownRateLimitsTrades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{Cooldown: time.Minute}, "150", "147", "140")
	h.eng.Start(ctx, "u1", startParams("1000", "10", "0"))

	require.NotNil(t, h.eng.Tick(ctx, "u1").Trade)

	h.clock.Advance(10 * time.Second)
	limited := h.eng.Tick(ctx, "u1")
	assert.Equal(t, domain.StatusRateLimited, limited.Status)
	assert.Nil(t, limited.Trade)
	assertDec(t, "147", limited.Market.LastPrice)
	assert.Len(t, h.eng.Trades(ctx, "u1", 0), 1)

	manual := h.eng.ManualTrade(ctx, "u1", domain.Buy, d("0.1"))
	assert.Equal(t, domain.StatusRateLimited, manual.Status)

	h.clock.Advance(time.Minute)
	res := h.eng.Tick(ctx, "u1")
	assert.Equal(t, domain.StatusSuccess, res.Status)
	require.NotNil(t, res.Trade)
	assert.Len(t, h.eng.Trades(ctx, "u1", 0), 2)
}

func TestDailyLossLimitPauses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{MaxDailyLoss: d("1")}, "150", "147", "150")
	h.eng.Start(ctx, "u1", startParams("1000", "10", "5"))

	buy := h.eng.Tick(ctx, "u1")
	require.NotNil(t, buy.Trade)
	assertDec(t, "154.35", buy.Trade.ExecutedPrice)

	sell := h.eng.Tick(ctx, "u1")
	require.NotNil(t, sell.Trade)
	assert.True(t, sell.Trade.RealizedPnl.IsNegative())

	paused := h.eng.Tick(ctx, "u1")
	assert.Equal(t, domain.StatusPaused, paused.Status)
	assert.Equal(t, "daily loss limit reached", paused.Message)
	assert.Equal(t, domain.BotRunning, paused.BotStatus)

	h.clock.Advance(24 * time.Hour)
	assert.Equal(t, domain.StatusSuccess, h.eng.Tick(ctx, "u1").Status)
}

func TestCancelledTickDoesNotMutate(t *testing.T) {
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{}, "150", "140")
	h.eng.Start(context.Background(), "u1", startParams("1000", "10", "0"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.eng.Tick(ctx, "u1")
	assert.Equal(t, domain.StatusPaused, res.Status)
	assertDec(t, "150", res.Market.LastPrice)
	assert.Nil(t, res.Trade)
	assert.Empty(t, h.eng.Trades(context.Background(), "u1", 0))

	// the cancelled tick must not have consumed the 140 quote
	next := h.eng.Tick(context.Background(), "u1")
	require.Equal(t, domain.StatusSuccess, next.Status, next.Message)
	assertDec(t, "140", next.Market.LastPrice)
	require.NotNil(t, next.Trade)
	assert.Equal(t, domain.Buy, next.Trade.Side)
}

func TestFullRiskBuyFitsQuoteBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{}, "150", "141")
	require.Equal(t, domain.StatusSuccess, h.eng.Start(ctx, "u1", startParams("1000", "100", "0")).Status)

	res := h.eng.Tick(ctx, "u1")
	require.Equal(t, domain.StatusSuccess, res.Status, res.Message)
	require.NotNil(t, res.Trade, res.Message)
	assert.Equal(t, domain.Buy, res.Trade.Side)
	assertDec(t, "7.0921985815602836", res.Trade.BaseAmount)
	assert.True(t, res.Trade.Notional().LessThanOrEqual(d("1000")))
	assertNonNegative(t, res.Balances)
}

func TestRestartKeepsSeededCapitalOnceTraded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{}, "150", "147")
	require.Equal(t, domain.StatusSuccess, h.eng.Start(ctx, "u1", startParams("1000", "10", "0")).Status)
	require.NotNil(t, h.eng.Tick(ctx, "u1").Trade)
	h.eng.Stop(ctx, "u1")

	res := h.eng.Start(ctx, "u1", startParams("5000", "10", "0"))
	require.Equal(t, domain.StatusSuccess, res.Status)
	assert.True(t, res.Balances.QuoteAmount.LessThan(d("1000")), "existing balances kept")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "capital 5000 ignored")

	reset := h.eng.Reset(ctx, "u1")
	assertDec(t, "1000", reset.Balances.QuoteAmount)
	assertDec(t, "0", reset.Balances.BaseAmount)

	// with an empty ledger the next start reseeds
	res = h.eng.Start(ctx, "u1", startParams("5000", "10", "0"))
	require.Equal(t, domain.StatusSuccess, res.Status)
	assert.Empty(t, res.Warnings)
	assertDec(t, "5000", res.Balances.QuoteAmount)
	b, err := h.repo.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "5000", b.QuoteAmount)

	h.eng.Stop(ctx, "u1")
	reset = h.eng.Reset(ctx, "u1")
	assertDec(t, "5000", reset.Balances.QuoteAmount)
}

func TestManualTrade(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{}, "150")

	assert.Equal(t, domain.StatusPaused, h.eng.ManualTrade(ctx, "u1", domain.Buy, d("1")).Status)

	h.eng.Start(ctx, "u1", startParams("1000", "10", "0"))
	buy := h.eng.ManualTrade(ctx, "u1", domain.Buy, d("1"))
	require.Equal(t, domain.StatusSuccess, buy.Status, buy.Message)
	assertDec(t, "850", buy.Balances.QuoteAmount)
	assertDec(t, "1", buy.Balances.BaseAmount)

	tooMuch := h.eng.ManualTrade(ctx, "u1", domain.Sell, d("5"))
	assert.Equal(t, domain.StatusError, tooMuch.Status)
	assert.Contains(t, tooMuch.Message, "insufficient funds")
	assertDec(t, "1", tooMuch.Balances.BaseAmount)

	sized := h.eng.ManualTrade(ctx, "u1", domain.Buy, decimal.Zero)
	require.Equal(t, domain.StatusSuccess, sized.Status)
	assertDec(t, "0.5666666666666666", sized.Trade.BaseAmount)

	bad := h.eng.ManualTrade(ctx, "u1", domain.Side("HOLD"), d("1"))
	assert.Equal(t, domain.StatusError, bad.Status)

	assert.Len(t, h.eng.Trades(ctx, "u1", 0), 2)
}

func TestResetRestoresCapital(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{}, "150", "147", "151")
	h.eng.Start(ctx, "u1", startParams("1000", "10", "0"))
	h.eng.Tick(ctx, "u1")
	h.eng.Tick(ctx, "u1")
	require.Len(t, h.eng.Trades(ctx, "u1", 0), 2)

	res := h.eng.Reset(ctx, "u1")
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.Equal(t, domain.BotStopped, res.BotStatus)
	assertDec(t, "1000", res.Balances.QuoteAmount)
	assertDec(t, "0", res.Balances.BaseAmount)
	assertDec(t, "1000", res.Balances.TotalValue)
	assert.Equal(t, 0, res.Stats.TotalTrades)
	assert.Empty(t, h.eng.Trades(ctx, "u1", 0))

	stored, err := h.repo.ListTrades(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
	b, err := h.repo.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	assertDec(t, "1000", b.QuoteAmount)

	unknown := h.eng.Reset(ctx, "nobody")
	assert.Equal(t, domain.StatusSuccess, unknown.Status)
	assert.Nil(t, unknown.Balances)
}

func TestSessionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	repo := in_memory.NewMemoryRepo()
	first := newHarness(t, repo, Options{}, "150", "147", "151")
	first.eng.Start(ctx, "u1", startParams("1000", "10", "0"))
	first.eng.Tick(ctx, "u1")
	first.eng.Tick(ctx, "u1")
	wantTrades := first.eng.Trades(ctx, "u1", 0)
	wantStats := first.eng.Stats(ctx, "u1")
	wantBalances := first.eng.Portfolio(ctx, "u1").Balances
	first.eng.Close()

	second := newHarness(t, repo, Options{}, "151")
	assert.Equal(t, ids(wantTrades), ids(second.eng.Trades(ctx, "u1", 0)))
	assert.Equal(t, wantStats.TotalTrades, second.eng.Stats(ctx, "u1").TotalTrades)
	assert.True(t, wantStats.TotalPnl.Equal(second.eng.Stats(ctx, "u1").TotalPnl))
	got := second.eng.Portfolio(ctx, "u1")
	assert.True(t, wantBalances.QuoteAmount.Equal(got.Balances.QuoteAmount))
	assert.True(t, got.Running)
	assert.Equal(t, domain.BotRunning, second.eng.Status(ctx, "u1").BotStatus)
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{}, "150", "147", "151", "148", "145", "150")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		user := fmt.Sprintf("u%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.eng.Start(ctx, user, startParams("1000", "10", "0.5"))
			for j := 0; j < 6; j++ {
				h.eng.Tick(ctx, user)
			}
		}()
	}
	wg.Wait()

	want := h.eng.Stats(ctx, "u0")
	for i := 1; i < 8; i++ {
		user := fmt.Sprintf("u%d", i)
		got := h.eng.Stats(ctx, user)
		assert.Equal(t, want.TotalTrades, got.TotalTrades, user)
		assert.True(t, want.TotalPnl.Equal(got.TotalPnl), user)
		assert.Len(t, h.eng.Trades(ctx, user, 0), got.TotalTrades)
	}
}

func TestScheduledTicksStopOnStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, in_memory.NewMemoryRepo(), Options{TickInterval: 5 * time.Millisecond}, "150", "147", "151")
	events, unsubscribe := h.eng.Events().Subscribe("u1", 64)
	defer unsubscribe()

	h.eng.Start(ctx, "u1", startParams("1000", "10", "0"))
	assert.True(t, h.eng.sched.Active("u1"))

	deadline := time.After(2 * time.Second)
	ticks := 0
	for ticks < 3 {
		select {
		case r := <-events:
			if r.Message != "Trading bot started successfully" {
				ticks++
			}
		case <-deadline:
			t.Fatalf("only %d scheduled ticks observed", ticks)
		}
	}

	h.eng.Stop(ctx, "u1")
	assert.False(t, h.eng.sched.Active("u1"))
	assert.Equal(t, 2, h.eng.Stats(ctx, "u1").TotalTrades)
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) AppendTrade(ctx context.Context, userID string, t domain.Trade) error {
	return m.Called(ctx, userID, t).Error(0)
}

func (m *mockRepo) ListTrades(ctx context.Context, userID string, limit int) ([]domain.Trade, error) {
	args := m.Called(ctx, userID, limit)
	trades, _ := args.Get(0).([]domain.Trade)
	return trades, args.Error(1)
}

func (m *mockRepo) GetPortfolio(ctx context.Context, userID string) (*domain.Balances, error) {
	args := m.Called(ctx, userID)
	b, _ := args.Get(0).(*domain.Balances)
	return b, args.Error(1)
}

func (m *mockRepo) UpsertPortfolio(ctx context.Context, userID string, b domain.Balances) error {
	return m.Called(ctx, userID, b).Error(0)
}

func (m *mockRepo) InitPortfolio(ctx context.Context, userID string, b domain.Balances) (bool, error) {
	args := m.Called(ctx, userID, b)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) LoadSession(ctx context.Context, userID string) (*domain.SessionConfig, error) {
	args := m.Called(ctx, userID)
	cfg, _ := args.Get(0).(*domain.SessionConfig)
	return cfg, args.Error(1)
}

func (m *mockRepo) SaveSession(ctx context.Context, userID string, cfg domain.SessionConfig) error {
	return m.Called(ctx, userID, cfg).Error(0)
}

func (m *mockRepo) DeleteSession(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	args := m.Called(ctx)
	tx, _ := args.Get(0).(port.Tx)
	return tx, args.Error(1)
}

func (m *mockRepo) Close(ctx context.Context) {}

func TestStoreOutageDegradesToMemory(t *testing.T) {
	ctx := context.Background()
	down := fmt.Errorf("%w: connection refused", domain.ErrUnavailable)

	repo := &mockRepo{}
	repo.On("LoadSession", mock.Anything, "u1").Return(nil, down)
	repo.On("GetPortfolio", mock.Anything, "u1").Return(nil, down)
	repo.On("ListTrades", mock.Anything, "u1", 0).Return(nil, down)
	repo.On("InitPortfolio", mock.Anything, "u1", mock.Anything).Return(false, down)
	repo.On("UpsertPortfolio", mock.Anything, "u1", mock.Anything).Return(down)
	repo.On("SaveSession", mock.Anything, "u1", mock.Anything).Return(down)
	repo.On("BeginTx", mock.Anything).Return(nil, down)

	h := newHarness(t, repo, Options{}, "150", "147")

	start := h.eng.Start(ctx, "u1", startParams("1000", "10", "0"))
	assert.Equal(t, domain.StatusSuccess, start.Status)
	assert.Equal(t, domain.BotRunning, start.BotStatus)
	assert.NotEmpty(t, start.Warnings)

	tick := h.eng.Tick(ctx, "u1")
	assert.Equal(t, domain.StatusSuccess, tick.Status)
	require.NotNil(t, tick.Trade)
	assert.NotEmpty(t, tick.Warnings)
	assert.Equal(t, 1, h.eng.Stats(ctx, "u1").TotalTrades)

	repo.AssertCalled(t, "BeginTx", mock.Anything)
	repo.AssertNumberOfCalls(t, "ListTrades", 1)
}
