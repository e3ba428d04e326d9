package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/olyamironova/solbot-sim/internal/adapter/in_memory"
	"github.com/olyamironova/solbot-sim/internal/api/dto"
	"github.com/olyamironova/solbot-sim/internal/core"
	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/olyamironova/solbot-sim/internal/middleware"
	"github.com/olyamironova/solbot-sim/internal/price"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testUser   = "alice"
	testWallet = "4NwBcF9zVq8kQbXcUe1sPJ3mT5yHkLrD2aGvW7xZs9Qe"
)

// newTestServer serves 150 on start and 147 on the first tick, which
// triggers a buy.
func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	feeds := func(string) core.PriceFeed {
		seq := price.NewSequence(decimal.NewFromInt(150), decimal.NewFromInt(147))
		return price.NewChain(nil, time.Second, seq, nil)
	}
	eng := core.NewEngine(in_memory.NewMemoryRepo(), nil, feeds, core.Options{}, zap.NewNop())
	t.Cleanup(eng.Close)
	return NewHTTPServer(eng, 0, zap.NewNop())
}

func call(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.UserIDHeader, testUser)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func startBody() map[string]any {
	return map[string]any{
		"wallet_key":    testWallet,
		"capital":       1000,
		"token_address": price.SOLMint,
	}
}

func TestHealthz(t *testing.T) {
	r := newTestServer(t).Router()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMissingUserHeader(t *testing.T) {
	r := newTestServer(t).Router()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	r := newTestServer(t).Router()

	body := startBody()
	body["capital"] = 0
	w := call(t, r, http.MethodPost, "/api/start", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	res := decode[domain.Result](t, w)
	assert.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, domain.BotStopped, res.BotStatus)

	req := httptest.NewRequest(http.MethodPost, "/api/start", strings.NewReader("{not json"))
	req.Header.Set(middleware.UserIDHeader, testUser)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTradingFlow(t *testing.T) {
	r := newTestServer(t).Router()

	w := call(t, r, http.MethodPost, "/api/start", startBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[domain.Result](t, w)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.Equal(t, domain.BotRunning, res.BotStatus)

	w = call(t, r, http.MethodPost, "/api/tick", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[domain.Result](t, w)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	require.NotNil(t, res.Trade)
	assert.Equal(t, domain.Buy, res.Trade.Side)

	w = call(t, r, http.MethodGet, "/api/trades?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	trades := decode[dto.TradesResponse](t, w)
	assert.Equal(t, testUser, trades.UserID)
	assert.Equal(t, 1, trades.Count)

	w = call(t, r, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[dto.StatsResponse](t, w)
	assert.Equal(t, 1, stats.TotalTrades)
	assert.True(t, stats.WinRate.IsZero())

	w = call(t, r, http.MethodGet, "/api/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[domain.PortfolioSnapshot](t, w)
	assert.True(t, snap.Running)

	w = call(t, r, http.MethodPost, "/api/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[domain.Result](t, w)
	assert.Equal(t, domain.BotStopped, res.BotStatus)
	require.NotNil(t, res.WasRunning)
	assert.True(t, *res.WasRunning)

	w = call(t, r, http.MethodGet, "/api/tick", nil)
	res = decode[domain.Result](t, w)
	assert.Equal(t, domain.StatusPaused, res.Status)

	w = call(t, r, http.MethodPost, "/api/reset", nil)
	res = decode[domain.Result](t, w)
	assert.Equal(t, domain.StatusSuccess, res.Status)

	w = call(t, r, http.MethodGet, "/api/trades", nil)
	trades = decode[dto.TradesResponse](t, w)
	assert.Equal(t, 0, trades.Count)
	assert.NotNil(t, trades.Trades)
}

func TestTradeAndTradesValidation(t *testing.T) {
	r := newTestServer(t).Router()

	w := call(t, r, http.MethodPost, "/api/trade", map[string]any{"side": "HOLD"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(t, r, http.MethodGet, "/api/trades?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = call(t, r, http.MethodGet, "/api/trades?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(t, r, http.MethodPost, "/api/trade", map[string]any{"side": "BUY"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[domain.Result](t, w)
	assert.Equal(t, domain.StatusPaused, res.Status, "manual trades need a running bot")
}

func TestStreamPushesResults(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	header := http.Header{}
	header.Set(middleware.UserIDHeader, testUser)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = resp.Body.Close()

	require.Eventually(t, func() bool {
		return s.Eng.Events().Subscribers(testUser) == 1
	}, 2*time.Second, 10*time.Millisecond)

	res := s.Eng.Start(context.Background(), testUser, dto.StartRequest{
		WalletKey:    testWallet,
		Capital:      decimal.NewFromInt(1000),
		TokenAddress: price.SOLMint,
	}.Params())
	require.Equal(t, domain.StatusSuccess, res.Status, res.Message)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got domain.Result
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.Equal(t, domain.BotRunning, got.BotStatus)
}
