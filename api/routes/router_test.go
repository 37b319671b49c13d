package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/shopfront-backend/internal/orders"
	"github.com/threadline/shopfront-backend/internal/payments"
	pkgauth "github.com/threadline/shopfront-backend/pkg/auth"
	"github.com/threadline/shopfront-backend/pkg/config"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/logger"
)

const (
	customerID = "507f1f77bcf86cd799439011"
	adminID    = "507f1f77bcf86cd799439099"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type memoryRedis struct {
	mu   sync.Mutex
	data map[string]string
	hits map[string]int64
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, hits: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string { return "sf:idempotency:" + scope + ":" + id }

func (m *memoryRedis) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "sf:rate_limit:" + scope
	m.hits[key]++
	return m.hits[key] <= limit, m.hits[key], nil
}

func (m *memoryRedis) Ping(context.Context) error { return nil }

type stubOrders struct {
	orders.Service
}

func (stubOrders) SettleDirect(_ context.Context, userID string, input orders.DirectInput) (*models.Order, error) {
	return &models.Order{
		ID:            "507f1f77bcf86cd799439022",
		UserID:        userID,
		PaymentMethod: input.PaymentMethod,
		Status:        enums.OrderStatusPending,
	}, nil
}

func (stubOrders) List(context.Context, orders.ListParams) (*orders.ListResult, error) {
	return &orders.ListResult{}, nil
}

func (stubOrders) ListAll(context.Context, orders.ListParams) (*orders.ListResult, error) {
	return &orders.ListResult{}, nil
}

type stubReconciler struct{}

func (stubReconciler) Reconcile(context.Context, string, url.Values) (*payments.Reconciliation, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid signature")
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "router-test-secret", Issuer: "shopfront", ExpirationMinutes: 10},
		Checkout: config.CheckoutConfig{
			RateLimitWindow:   time.Minute,
			RateLimitRequests: 1,
		},
		VNPay: config.VNPayConfig{AppDeepLink: "shopfront://payment/result"},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "router-test", Level: zerolog.ErrorLevel, Output: io.Discard})
	return NewRouter(cfg, logg, Dependencies{
		DB:         stubPinger{},
		Redis:      newMemoryRedis(),
		Gatherer:   prometheus.NewRegistry(),
		Orders:     stubOrders{},
		Reconciler: stubReconciler{},
	})
}

func bearer(t *testing.T, cfg *config.Config, userID string, role enums.Role) string {
	t.Helper()
	token, err := pkgauth.MintAccessToken(cfg.JWT, time.Now(), pkgauth.AccessTokenPayload{UserID: userID, Role: role})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	router := newTestRouter(t, testConfig())

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, resp.Code, path)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	router := newTestRouter(t, testConfig())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestCustomerCanListOwnOrders(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", bearer(t, cfg, customerID, enums.RoleCustomer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	req.Header.Set("Authorization", bearer(t, cfg, customerID, enums.RoleCustomer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	req.Header.Set("Authorization", bearer(t, cfg, adminID, enums.RoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestVNPayIPNIsPublicAndAlwaysOK(t *testing.T) {
	router := newTestRouter(t, testConfig())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/payment/vnpay/ipn?vnp_TxnRef=X", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var ack payments.IPNResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ack))
	assert.Equal(t, "97", ack.RspCode)
}

func TestVNPayCallbackRedirectsWithoutAuth(t *testing.T) {
	router := newTestRouter(t, testConfig())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/payment/vnpay/callback", nil))
	require.Equal(t, http.StatusFound, resp.Code)
	assert.True(t, strings.HasPrefix(resp.Header().Get("Location"), "shopfront://payment/result"))
}

func TestDirectCheckoutIsIdempotentAndRateLimited(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)
	token := bearer(t, cfg, customerID, enums.RoleCustomer)
	body := `{"paymentMethod":"cod","shippingAddress":{"fullName":"Nguyen Van A","phone":"0901234567","address":"1 Le Loi","city":"HCM"}}`

	post := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
		req.Header.Set("Authorization", token)
		req.Header.Set("Idempotency-Key", key)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	missing := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	missing.Header.Set("Authorization", token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, missing)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	first := post("key-1")
	require.Equal(t, http.StatusCreated, first.Code)
	replay := post("key-1")
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, first.Body.String(), replay.Body.String())

	assert.Equal(t, http.StatusTooManyRequests, post("key-2").Code)
}
