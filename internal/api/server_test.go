package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"quicktrade-sim-go/internal/database"
	"quicktrade-sim-go/internal/ledger"
	"quicktrade-sim-go/internal/market"
	"quicktrade-sim-go/internal/models"
	"quicktrade-sim-go/internal/outcome"
	"quicktrade-sim-go/internal/settlement"
	"quicktrade-sim-go/internal/trading"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server *Server
	sim    *market.Simulator
	store  *ledger.Store
	ctrl   *trading.Controller
}

func setupStore(t *testing.T) *ledger.Store {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	return ledger.NewStore(db, 1000)
}

func setupEnv(t *testing.T) *testEnv {
	logger := zap.NewNop()

	sim := market.NewSimulator(logger, market.NewGenerator(market.DefaultPriceScale, market.DefaultMinPrice), time.Hour)
	require.NoError(t, sim.Initialize([]models.Instrument{
		{ID: 1, Symbol: "EUR/USD", Name: "Euro / US Dollar", BasePrice: 1.085, Spread: 0.0008, Volatility: 0.0001},
		{ID: 2, Symbol: "USD/JPY", Name: "US Dollar / Japanese Yen", BasePrice: 150.25, Spread: 0.02, Volatility: 0.0002},
	}))
	t.Cleanup(sim.Stop)

	store := setupStore(t)
	ctrl := trading.NewController(logger, trading.Config{
		DefaultDuration: time.Minute,
		MaxDuration:     time.Hour,
		SweepInterval:   time.Second,
		CreditRetries:   1,
	}, sim, outcome.NewDecider(), settlement.NewEngine(), store, store, nil)

	srv := NewServer(0, logger, sim, ctrl, store)
	t.Cleanup(srv.hub.Close)
	return &testEnv{server: srv, sim: sim, store: store, ctrl: ctrl}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

type tradeResponse struct {
	Data  models.Trade `json:"data"`
	Error string       `json:"error"`
}

func decodeTrade(t *testing.T, w *httptest.ResponseRecorder) tradeResponse {
	var resp tradeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthAndStatus(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK\n", w.Body.String())

	w = env.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, env.server.UUID, status["uuid"])
	assert.Equal(t, "RUNNING", status["market"])
	assert.Equal(t, float64(2), status["instruments"])
	assert.Equal(t, float64(0), status["open_trades"])
}

func TestQuotes(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodGet, "/api/quotes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []quoteView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
	assert.Equal(t, "EUR/USD", list.Data[0].Symbol)
	assert.Equal(t, "1.0850", list.Data[0].Display.Last)
	assert.Equal(t, "150.25", list.Data[1].Display.Last)

	w = env.do(t, http.MethodGet, "/api/quotes/eur/usd", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var one struct {
		Data quoteView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, "EUR/USD", one.Data.Symbol)
	assert.InDelta(t, 0.0008, one.Data.Ask-one.Data.Bid, 1e-9)

	w = env.do(t, http.MethodGet, "/api/quotes/FOO/BAR", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/instruments", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "US Dollar / Japanese Yen")
}

func TestOpenTrade(t *testing.T) {
	tests := []struct {
		name string
		body any
		code int
	}{
		{"Valid", gin.H{"user_id": "alice", "symbol": "eur/usd", "side": "buy", "amount": 100}, http.StatusCreated},
		{"ZeroAmount", gin.H{"user_id": "alice", "symbol": "EUR/USD", "side": "BUY", "amount": 0}, http.StatusBadRequest},
		{"BadSide", gin.H{"user_id": "alice", "symbol": "EUR/USD", "side": "HOLD", "amount": 10}, http.StatusBadRequest},
		{"MissingUser", gin.H{"symbol": "EUR/USD", "side": "BUY", "amount": 10}, http.StatusBadRequest},
		{"TooLong", gin.H{"user_id": "alice", "symbol": "EUR/USD", "side": "BUY", "amount": 10, "duration_seconds": 7200}, http.StatusBadRequest},
		{"UnknownInstrument", gin.H{"user_id": "alice", "symbol": "FOO/BAR", "side": "BUY", "amount": 10}, http.StatusNotFound},
		{"InsufficientBalance", gin.H{"user_id": "alice", "symbol": "EUR/USD", "side": "SELL", "amount": 5000}, http.StatusUnprocessableEntity},
		{"NotJSON", "{", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t)
			w := env.do(t, http.MethodPost, "/api/trades", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())

			resp := decodeTrade(t, w)
			if tt.code == http.StatusCreated {
				assert.Equal(t, models.TradeStatusOpen, resp.Data.Status)
				assert.Equal(t, "EUR/USD", resp.Data.Symbol)
				assert.Equal(t, models.SideBuy, resp.Data.Side)
				assert.Equal(t, 1.085, resp.Data.EntryPrice)
			} else {
				assert.NotEmpty(t, resp.Error)
				assert.Equal(t, 0, env.ctrl.OpenCount())
			}
		})
	}
}

func TestTradeLifecycleOverHTTP(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/trades", gin.H{
		"user_id": "alice", "symbol": "EUR/USD", "side": "BUY", "amount": 250, "duration_seconds": 120,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	opened := decodeTrade(t, w).Data
	assert.Equal(t, 120.0, opened.DurationSeconds)

	w = env.do(t, http.MethodGet, "/api/trades/"+opened.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, opened.ID, decodeTrade(t, w).Data.ID)

	w = env.do(t, http.MethodGet, "/api/users/alice/account", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tradable_balance":750`)

	w = env.do(t, http.MethodPost, "/api/trades/"+opened.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cancelled := decodeTrade(t, w).Data
	assert.Equal(t, models.TradeStatusClosed, cancelled.Status)
	assert.Equal(t, models.CloseReasonCancelled, cancelled.CloseReason)

	w = env.do(t, http.MethodGet, "/api/users/alice/account", nil)
	assert.Contains(t, w.Body.String(), `"tradable_balance":1000`)

	w = env.do(t, http.MethodGet, "/api/users/alice/trades", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []models.Trade `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, models.CloseReasonCancelled, list.Data[0].CloseReason)

	w = env.do(t, http.MethodGet, "/api/trades/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPost, "/api/trades/does-not-exist/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodGet, "/api/users/nobody/account", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuoteStream(t *testing.T) {
	env := setupEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/quotes"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() quotesMessage {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg quotesMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	first := read()
	assert.Equal(t, "quotes", first.Type)
	require.Len(t, first.Quotes, 2)

	assert.Eventually(t, func() bool { return env.server.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	env.sim.Step()

	next := read()
	require.Len(t, next.Quotes, 2)
	assert.True(t, next.Quotes[0].Timestamp.After(first.Quotes[0].Timestamp) ||
		next.Quotes[0].Timestamp.Equal(first.Quotes[0].Timestamp))
	assert.Equal(t, uint64(1), env.sim.TickCount())

	env.server.hub.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, env.server.hub.ClientCount())
}
