package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
	"github.com/eddiefleurent/wheel_tracker/internal/wheel"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, token string) *Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := storage.NewMemoryStorage(storage.WithIDGenerator(storage.SequentialIDs("t")))
	return NewServer(Config{Port: 0, AuthToken: token}, wheel.NewEngine(store, logger), logger)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

const spyPut = `{
	"underlying_ticker": "SPY",
	"trade_type": "Sell Put",
	"strike_price": "400",
	"expiration_date": "2025-02-21",
	"premium_received": "5.0",
	"number_of_contracts": 2,
	"transaction_date": "2025-01-02",
	"fees": "0.66"
}`

func TestHealth(t *testing.T) {
	s := newTestServer(t, "secret")
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, "secret")

	rec := do(t, s, http.MethodGet, "/api/trades/", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/trades/", nil)
	req.Header.Set("X-Auth-Token", "secret")
	ok := httptest.NewRecorder()
	s.Handler().ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	query := do(t, s, http.MethodGet, "/api/trades/?token=secret", "")
	assert.Equal(t, http.StatusOK, query.Code)
}

func TestTradeLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, "")

	rec := do(t, s, http.MethodPost, "/api/trades/", spyPut)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Trade
	decodeBody(t, rec, &created)
	assert.Equal(t, models.StatusOpen, created.Status)
	require.NotEmpty(t, created.ID)

	rec = do(t, s, http.MethodGet, "/api/trades/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/trades/"+created.ID+"/close",
		`{"buy_back_price": "2.0", "buy_back_date": "2025-01-30", "closing_fees": "0.66"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var closed models.Trade
	decodeBody(t, rec, &closed)
	assert.Equal(t, models.StatusClosed, closed.Status)
	assert.Equal(t, "598.68", closed.NetPremiumReceived.Decimal.StringFixed(2))

	rec = do(t, s, http.MethodPut, "/api/trades/"+created.ID+"/expire", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	var apiErr errorResponse
	decodeBody(t, rec, &apiErr)
	assert.Contains(t, apiErr.Error, models.ErrInvalidTransition.Error())
}

func TestRollOverHTTP(t *testing.T) {
	s := newTestServer(t, "")
	rec := do(t, s, http.MethodPost, "/api/trades/", spyPut)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Trade
	decodeBody(t, rec, &created)

	rec = do(t, s, http.MethodPost, "/api/trades/"+created.ID+"/roll", `{
		"new_expiration_date": "2025-03-21",
		"strike_price": "395",
		"premium_received": "6.10",
		"fees": "1.32",
		"closing_fees": "1.32",
		"roll_date": "2025-02-14"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var successor models.Trade
	decodeBody(t, rec, &successor)
	assert.Equal(t, created.ID, successor.RolledFromID)
	assert.Equal(t, models.StatusOpen, successor.Status)

	rec = do(t, s, http.MethodGet, "/api/trades/?status=Rolled", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rolled []models.Trade
	decodeBody(t, rec, &rolled)
	require.Len(t, rolled, 1)
	assert.Equal(t, created.ID, rolled[0].ID)
}

func TestListTradesQuery(t *testing.T) {
	s := newTestServer(t, "")
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/trades/", spyPut).Code)
	}

	rec := do(t, s, http.MethodGet, "/api/trades/?ticker=spy&skip=1&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page []models.Trade
	decodeBody(t, rec, &page)
	require.Len(t, page, 1)
	assert.Equal(t, "t-2", page[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/trades/?limit=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/trades/?status=Pending", "").Code)
}

func TestListTradesDefaultLimit(t *testing.T) {
	s := newTestServer(t, "")
	for i := 0; i < defaultListLimit+5; i++ {
		require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/trades/", spyPut).Code)
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "no limit", query: "", want: defaultListLimit},
		{name: "explicit limit", query: "?limit=7", want: 7},
		{name: "zero lists everything", query: "?limit=0", want: defaultListLimit + 5},
		{name: "skip past the default", query: "?skip=100", want: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, "/api/trades/"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code)
			var page []models.Trade
			decodeBody(t, rec, &page)
			assert.Len(t, page, tt.want)
		})
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	s := newTestServer(t, "")
	require.NoError(t, s.Shutdown(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, http.ErrServerClosed), err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start kept serving after Shutdown")
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown trade", http.MethodGet, "/api/trades/nope", "", http.StatusNotFound},
		{"assign unknown trade", http.MethodPut, "/api/trades/nope/assign", "", http.StatusNotFound},
		{"malformed body", http.MethodPost, "/api/trades/", "{", http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/trades/", `{"symbol": "SPY"}`, http.StatusBadRequest},
		{"invalid trade", http.MethodPost, "/api/trades/", strings.Replace(spyPut, `"number_of_contracts": 2`, `"number_of_contracts": 0`, 1), http.StatusBadRequest},
		{"missing anchor", http.MethodGet, "/api/cost_basis/AAPL", "", http.StatusNotFound},
		{"stock sale without date", http.MethodPost, "/api/sell_stock", `{"ticker": "F", "sell_price": "9"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(gobreaker.ErrOpenState))
	assert.Equal(t, http.StatusConflict, statusFor(storage.ErrImmutableField))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestWheelQueriesOverHTTP(t *testing.T) {
	s := newTestServer(t, "")

	rec := do(t, s, http.MethodPost, "/api/trades/", `{
		"underlying_ticker": "TQQQ", "trade_type": "Sell Put", "strike_price": "100",
		"expiration_date": "2025-01-17", "premium_received": "5.0", "number_of_contracts": 1,
		"transaction_date": "2025-01-02", "fees": "0.66"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var put models.Trade
	decodeBody(t, rec, &put)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPut, "/api/trades/"+put.ID+"/assign", "").Code)

	rec = do(t, s, http.MethodGet, "/api/cost_basis/tqqq", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var basis wheel.CostBasis
	decodeBody(t, rec, &basis)
	assert.Equal(t, put.ID, basis.AnchorTradeID)
	assert.Equal(t, "95.0066", basis.AdjustedCostBasis.String())

	rec = do(t, s, http.MethodPost, "/api/sell_stock",
		`{"ticker": "TQQQ", "sell_price": "110", "sell_date": "2025-02-03", "fees": "0.05"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sale models.StockSale
	decodeBody(t, rec, &sale)
	assert.Equal(t, 100, sale.Shares)

	rec = do(t, s, http.MethodGet, "/api/cumulative_pnl/TQQQ", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pnl wheel.CumulativePnL
	decodeBody(t, rec, &pnl)
	assert.Equal(t, sale.ID, pnl.StockSaleID)

	rec = do(t, s, http.MethodGet, "/api/dashboard/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary wheel.Summary
	decodeBody(t, rec, &summary)
	assert.Equal(t, 1, summary.TotalTrades)
	assert.Equal(t, "499.34", summary.TotalPremiumCollected.String())
}
