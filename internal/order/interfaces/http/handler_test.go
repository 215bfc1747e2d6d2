package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/exchangecore/internal/order/application"
	"github.com/wyfcoding/exchangecore/internal/order/domain"
	"github.com/wyfcoding/exchangecore/internal/order/infrastructure/messaging"
	"github.com/wyfcoding/exchangecore/internal/order/infrastructure/persistence/mysql"
	"github.com/wyfcoding/exchangecore/pkg/db/dbtest"
)

type noopFunds struct{}

func (noopFunds) LockFunds(context.Context, uint64, string, decimal.Decimal, uint) error {
	return nil
}

func (noopFunds) UnlockFunds(context.Context, uint64, string, decimal.Decimal, uint) error {
	return nil
}

type emptyBook struct{}

func (emptyBook) Snapshot(_ context.Context, marketID string) (*domain.Snapshot, error) {
	return domain.NewSnapshot(marketID, nil, nil, time.Now()), nil
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	d := dbtest.New(t, &domain.Order{}, &messaging.OutboxMessage{})
	markets, err := domain.NewMarketRegistry(&domain.Market{
		ID: "btcusdt", BaseUnit: "btc", QuoteUnit: "usdt",
		AskFee: decimal.Zero, BidFee: decimal.Zero,
		PricePrecision: 2, AmountPrecision: 4,
	})
	require.NoError(t, err)

	repo := mysql.NewOrderRepository(d.DB)
	cmd := application.NewOrderCommandService(application.Deps{
		Repo:      repo,
		Funds:     noopFunds{},
		Book:      emptyBook{},
		Publisher: messaging.NewOutboxEventPublisher(d.DB),
		Tx:        d,
		Markets:   markets,
	})

	r := gin.New()
	NewOrderHandler(cmd, application.NewOrderQueryService(repo)).RegisterRoutes(&r.RouterGroup)
	return r
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, r *gin.Engine, method, path, member string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if member != "" {
		req.Header.Set(MemberHeader, member)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestOrderRoutes(t *testing.T) {
	r := newRouter(t)

	w, env := do(t, r, http.MethodPost, "/api/v1/orders", "7", gin.H{
		"market": "btcusdt", "side": "ask", "ord_type": "limit", "price": "100", "volume": "1.5",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var created domain.Order
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, domain.StateWait, created.State)
	assert.True(t, created.Locked.Equal(decimal.RequireFromString("1.5")))

	path := fmt.Sprintf("/api/v1/orders/%d", created.ID)

	w, _ = do(t, r, http.MethodGet, path, "7", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodGet, path, "8", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = do(t, r, http.MethodGet, path+"/matching", "7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var attrs domain.MatchingAttributes
	require.NoError(t, json.Unmarshal(env.Data, &attrs))
	assert.Equal(t, created.ID, attrs.ID)
	assert.Equal(t, domain.SideAsk, attrs.Side)

	w, _ = do(t, r, http.MethodPost, path+"/cancel", "7", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, r, http.MethodPost, path+"/cancel", "7", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, env = do(t, r, http.MethodGet, "/api/v1/orders?state=cancel", "7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, int64(1), list.Total)
}

func TestOrderRoutesErrors(t *testing.T) {
	r := newRouter(t)

	w, _ := do(t, r, http.MethodPost, "/api/v1/orders", "", gin.H{"market": "btcusdt"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/orders", "7", gin.H{
		"market": "btcusdt", "side": "ask", "ord_type": "limit", "volume": "1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/orders", "7", gin.H{
		"market": "btcusdt", "side": "bid", "ord_type": "market", "volume": "1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/orders", "7", gin.H{
		"market": "btcusdt", "side": "buy", "ord_type": "limit", "price": "1", "volume": "1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/orders/999", "7", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusOf(fmt.Errorf("wrap: %w", domain.ErrStaleState)))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusOf(domain.ErrInsufficientFunds))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(fmt.Errorf("boom")))
}
