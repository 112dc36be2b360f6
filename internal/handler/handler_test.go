package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/matching-core/internal/domain"
	"github.com/nathanyu/matching-core/internal/ledger"
	"github.com/nathanyu/matching-core/internal/matching"
	"github.com/nathanyu/matching-core/internal/ordermanager"
	"github.com/nathanyu/matching-core/internal/sequencer"
	"github.com/nathanyu/matching-core/internal/tradefeed"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := matching.NewEngine(matching.ReserveAtLimit)
	seq := sequencer.NewSequencer(engine, 100)
	feed := tradefeed.NewFeed(nil, nil)
	go feed.Run(t.Context(), seq.ExecutionOut)
	t.Cleanup(func() {
		seq.Stop()
		<-feed.Done()
	})

	manager := ordermanager.NewManager(ledger.NewRegistry(), seq, []string{"AAPL"})

	r := gin.New()
	NewHandler(manager, engine, feed).RegisterRoutes(r)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func seedAccounts(t *testing.T, r *gin.Engine) {
	t.Helper()
	for _, id := range []string{"broker1", "broker2"} {
		w := do(t, r, http.MethodPost, "/v1/brokers", gin.H{"broker_id": id, "credit": 10_000_000})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	for _, id := range []string{"user1", "user2"} {
		w := do(t, r, http.MethodPost, "/v1/shareholders", gin.H{"shareholder_id": id, "positions": gin.H{"AAPL": 5000}})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
}

func orderBody(side domain.Side, price, qty int64, broker, shareholder string) gin.H {
	return gin.H{
		"symbol":         "AAPL",
		"side":           side,
		"price":          price,
		"quantity":       qty,
		"broker_id":      broker,
		"shareholder_id": shareholder,
	}
}

func TestHealth(t *testing.T) {
	r := setupRouter(t)
	w := do(t, r, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "limit", body["reservation_policy"])
}

func TestPlaceOrder_Match(t *testing.T) {
	r := setupRouter(t)
	seedAccounts(t, r)

	w := do(t, r, http.MethodPost, "/v1/order", orderBody(domain.SideSell, 10010, 100, "broker2", "user2"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sell := decode[domain.MatchResult](t, w)

	w = do(t, r, http.MethodPost, "/v1/order", orderBody(domain.SideBuy, 10010, 40, "broker1", "user1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	buy := decode[domain.MatchResult](t, w)
	assert.Equal(t, domain.OutcomeExecuted, buy.Outcome)
	require.Len(t, buy.Trades, 1)
	assert.Equal(t, sell.Remainder.OrderID, buy.Trades[0].Maker.OrderID)
	assert.Equal(t, uint64(1), buy.Trades[0].SequenceID)

	w = do(t, r, http.MethodGet, "/v1/order/"+sell.Remainder.OrderID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	maker := decode[domain.OrderSnapshot](t, w)
	assert.Equal(t, int64(60), maker.RemainingQuantity)

	w = do(t, r, http.MethodGet, "/v1/brokers/broker1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	broker := decode[map[string]any](t, w)
	assert.EqualValues(t, 10_000_000-40*10010, broker["credit"])

	w = do(t, r, http.MethodGet, "/v1/orderbook/AAPL?depth=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	book := decode[domain.L2OrderBook](t, w)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, int64(60), book.Asks[0].Quantity)

	w = do(t, r, http.MethodGet, "/v1/orderbook/AAPL/orders?side=sell", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]domain.OrderSnapshot](t, w), 1)

	w = do(t, r, http.MethodGet, "/v1/orderbook/AAPL/orders/"+sell.Remainder.OrderID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(60), decode[domain.OrderSnapshot](t, w).RemainingQuantity)

	w = do(t, r, http.MethodGet, "/v1/orderbook/AAPL/orders/"+buy.Remainder.OrderID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "filled orders leave the book")

	w = do(t, r, http.MethodGet, "/v1/symbols", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"AAPL"}, decode[[]string](t, w))
}

func TestPlaceOrder_Rejected(t *testing.T) {
	r := setupRouter(t)
	seedAccounts(t, r)

	w := do(t, r, http.MethodPost, "/v1/order", orderBody(domain.SideBuy, 10010, 1000, "broker1", "user1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.OutcomeNotEnoughCredit, decode[domain.MatchResult](t, w).Outcome)
}

func TestPlaceOrder_BadRequests(t *testing.T) {
	r := setupRouter(t)
	seedAccounts(t, r)

	tests := []struct {
		name   string
		body   gin.H
		status int
	}{
		{"missing fields", gin.H{"symbol": "AAPL"}, http.StatusBadRequest},
		{"bad side", orderBody("hold", 10010, 1, "broker1", "user1"), http.StatusBadRequest},
		{"unknown symbol", func() gin.H {
			b := orderBody(domain.SideBuy, 10010, 1, "broker1", "user1")
			b["symbol"] = "MSFT"
			return b
		}(), http.StatusBadRequest},
		{"notional overflows", orderBody(domain.SideBuy, 1<<32, 1<<32, "broker1", "user1"), http.StatusBadRequest},
		{"unknown broker", orderBody(domain.SideBuy, 10010, 1, "nobody", "user1"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/v1/order", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Contains(t, decode[map[string]string](t, w), "error")
		})
	}
}

func TestCancelOrder(t *testing.T) {
	r := setupRouter(t)
	seedAccounts(t, r)

	w := do(t, r, http.MethodPost, "/v1/order", orderBody(domain.SideSell, 10010, 100, "broker2", "user2"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[domain.MatchResult](t, w).Remainder.OrderID

	w = do(t, r, http.MethodDelete, "/v1/order/AAPL/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.OrderStatusCanceled, decode[domain.OrderSnapshot](t, w).Status)

	w = do(t, r, http.MethodGet, "/v1/shareholders/user2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sh struct {
		Positions map[string]int64 `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sh))
	assert.Equal(t, int64(5000), sh.Positions["AAPL"])

	w = do(t, r, http.MethodDelete, "/v1/order/AAPL/"+id, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodDelete, "/v1/order/AAPL/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLedgerAdmin(t *testing.T) {
	r := setupRouter(t)
	seedAccounts(t, r)

	w := do(t, r, http.MethodPost, "/v1/brokers", gin.H{"broker_id": "broker1", "credit": 1})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPost, "/v1/brokers", gin.H{"broker_id": "neg", "credit": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/v1/brokers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"broker1", "broker2"}, decode[[]string](t, w))

	w = do(t, r, http.MethodGet, "/v1/brokers/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/v1/shareholders/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTrades(t *testing.T) {
	r := setupRouter(t)

	w := do(t, r, http.MethodGet, "/v1/trades?symbol=AAPL", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]domain.Trade](t, w))

	w = do(t, r, http.MethodGet, "/v1/trades?count=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/v1/orderbook/AAPL?depth=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/v1/orderbook/AAPL/orders?side=up", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
