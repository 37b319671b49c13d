package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/shopfront-backend/api/middleware"
	internalorders "github.com/threadline/shopfront-backend/internal/orders"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
)

const (
	testUserID  = "507f1f77bcf86cd799439011"
	testOrderID = "507f1f77bcf86cd799439022"
)

type stubOrdersService struct {
	settleDirect     func(ctx context.Context, userID string, input internalorders.DirectInput) (*models.Order, error)
	settleFromIntent func(ctx context.Context, userID, intentID string) (*internalorders.SettleResult, error)
	cancel           func(ctx context.Context, actor internalorders.Actor, orderID string) (*internalorders.CancelResult, error)
	updateStatus     func(ctx context.Context, actor internalorders.Actor, orderID string, update internalorders.StatusUpdate) (*models.Order, error)
	list             func(ctx context.Context, params internalorders.ListParams) (*internalorders.ListResult, error)
}

func (s *stubOrdersService) SettleDirect(ctx context.Context, userID string, input internalorders.DirectInput) (*models.Order, error) {
	return s.settleDirect(ctx, userID, input)
}

func (s *stubOrdersService) SettleFromIntent(ctx context.Context, userID, intentID string) (*internalorders.SettleResult, error) {
	return s.settleFromIntent(ctx, userID, intentID)
}

func (s *stubOrdersService) Cancel(ctx context.Context, actor internalorders.Actor, orderID string) (*internalorders.CancelResult, error) {
	return s.cancel(ctx, actor, orderID)
}

func (s *stubOrdersService) UpdateStatus(ctx context.Context, actor internalorders.Actor, orderID string, update internalorders.StatusUpdate) (*models.Order, error) {
	return s.updateStatus(ctx, actor, orderID, update)
}

func (s *stubOrdersService) List(ctx context.Context, params internalorders.ListParams) (*internalorders.ListResult, error) {
	return s.list(ctx, params)
}

func (s *stubOrdersService) ListAll(ctx context.Context, params internalorders.ListParams) (*internalorders.ListResult, error) {
	return s.list(ctx, params)
}

func authed(req *http.Request, role enums.Role) *http.Request {
	ctx := middleware.WithUserID(req.Context(), testUserID)
	ctx = middleware.WithRole(ctx, role)
	return req.WithContext(ctx)
}

func withOrderParam(req *http.Request, id string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("orderId", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

type envelope struct {
	Data  map[string]any `json:"data"`
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) envelope {
	t.Helper()
	var body envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func TestCreateSettlesDirectOrder(t *testing.T) {
	var captured internalorders.DirectInput
	svc := &stubOrdersService{
		settleDirect: func(_ context.Context, userID string, input internalorders.DirectInput) (*models.Order, error) {
			assert.Equal(t, testUserID, userID)
			captured = input
			return &models.Order{ID: testOrderID, OrderNumber: "#439022", Status: enums.OrderStatusPending}, nil
		},
	}

	body := `{"paymentMethod":"COD","shippingAddress":{"fullName":"Lan","phone":"0900000000","address":"1 Le Loi","city":"HCM"},"selectedItemIds":["507f1f77bcf86cd799439033"]}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body)), enums.RoleCustomer)
	resp := httptest.NewRecorder()
	Create(svc, nil)(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, enums.PaymentMethodCOD, captured.PaymentMethod)
	assert.Equal(t, []string{"507f1f77bcf86cd799439033"}, captured.SelectedItemIDs)
	assert.Equal(t, "#439022", decode(t, resp).Data["orderNumber"])
}

func TestCreateRejectsUnknownFieldsAndMissingName(t *testing.T) {
	svc := &stubOrdersService{}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"paymentMethod":"cod","extra":1}`)), enums.RoleCustomer)
	resp := httptest.NewRecorder()
	Create(svc, nil)(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	body := `{"paymentMethod":"cod","shippingAddress":{"fullName":"","phone":"1","address":"a","city":"b"}}`
	req = authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body)), enums.RoleCustomer)
	resp = httptest.NewRecorder()
	Create(svc, nil)(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), decode(t, resp).Error.Code)
}

func TestCreateRejectsUnsupportedPaymentMethod(t *testing.T) {
	body := `{"paymentMethod":"card","shippingAddress":{"fullName":"Lan","phone":"1","address":"a","city":"b"}}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body)), enums.RoleCustomer)
	resp := httptest.NewRecorder()
	Create(&stubOrdersService{}, nil)(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCreateFromIntentStatusReflectsReplay(t *testing.T) {
	existing := false
	svc := &stubOrdersService{
		settleFromIntent: func(_ context.Context, _ string, intentID string) (*internalorders.SettleResult, error) {
			assert.Equal(t, "507f1f77bcf86cd799439044", intentID)
			return &internalorders.SettleResult{Order: &models.Order{ID: testOrderID}, Existing: existing}, nil
		},
	}

	body := `{"intentId":"507F1F77BCF86CD799439044"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders/create-from-intent", strings.NewReader(body)), enums.RoleCustomer)
	resp := httptest.NewRecorder()
	CreateFromIntent(svc, nil)(resp, req)
	assert.Equal(t, http.StatusCreated, resp.Code)

	existing = true
	req = authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders/create-from-intent", strings.NewReader(body)), enums.RoleCustomer)
	resp = httptest.NewRecorder()
	CreateFromIntent(svc, nil)(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestCreateFromIntentMapsPaymentNotConfirmed(t *testing.T) {
	svc := &stubOrdersService{
		settleFromIntent: func(context.Context, string, string) (*internalorders.SettleResult, error) {
			return nil, pkgerrors.New(pkgerrors.CodePaymentNotConfirmed, "payment not confirmed")
		},
	}
	req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"intentId":"507f1f77bcf86cd799439044"}`)), enums.RoleCustomer)
	resp := httptest.NewRecorder()
	CreateFromIntent(svc, nil)(resp, req)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, string(pkgerrors.CodePaymentNotConfirmed), decode(t, resp).Error.Code)
}

func TestCancelPassesActor(t *testing.T) {
	svc := &stubOrdersService{
		cancel: func(_ context.Context, actor internalorders.Actor, orderID string) (*internalorders.CancelResult, error) {
			assert.Equal(t, testUserID, actor.UserID)
			assert.Equal(t, enums.RoleCustomer, actor.Role)
			assert.Equal(t, testOrderID, orderID)
			return &internalorders.CancelResult{Order: &models.Order{ID: orderID, Status: enums.OrderStatusCancelled}}, nil
		},
	}
	req := authed(httptest.NewRequest(http.MethodPut, "/", nil), enums.RoleCustomer)
	req = withOrderParam(req, testOrderID)
	resp := httptest.NewRecorder()
	Cancel(svc, nil)(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "cancelled", decode(t, resp).Data["status"])
}

func TestCancelRejectsMalformedID(t *testing.T) {
	req := authed(httptest.NewRequest(http.MethodPut, "/", nil), enums.RoleCustomer)
	req = withOrderParam(req, "nope")
	resp := httptest.NewRecorder()
	Cancel(&stubOrdersService{}, nil)(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUpdateStatusRequiresAdmin(t *testing.T) {
	req := authed(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"status":"shipping"}`)), enums.RoleCustomer)
	req = withOrderParam(req, testOrderID)
	resp := httptest.NewRecorder()
	UpdateStatus(&stubOrdersService{}, nil)(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestUpdateStatusParsesTarget(t *testing.T) {
	svc := &stubOrdersService{
		updateStatus: func(_ context.Context, actor internalorders.Actor, _ string, update internalorders.StatusUpdate) (*models.Order, error) {
			assert.True(t, actor.IsAdmin())
			assert.Equal(t, enums.OrderStatusShipping, update.Status)
			require.NotNil(t, update.TrackingNumber)
			assert.Equal(t, "GHN123", *update.TrackingNumber)
			return &models.Order{ID: testOrderID, Status: update.Status, TrackingNumber: update.TrackingNumber}, nil
		},
	}
	req := authed(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"status":"Shipping","trackingNumber":"GHN123"}`)), enums.RoleAdmin)
	req = withOrderParam(req, testOrderID)
	resp := httptest.NewRecorder()
	UpdateStatus(svc, nil)(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "GHN123", decode(t, resp).Data["trackingNumber"])
}

func TestListScopesToCaller(t *testing.T) {
	svc := &stubOrdersService{
		list: func(_ context.Context, params internalorders.ListParams) (*internalorders.ListResult, error) {
			assert.Equal(t, testUserID, params.UserID)
			assert.Equal(t, 10, params.Limit)
			require.NotNil(t, params.Status)
			assert.Equal(t, enums.OrderStatusPending, *params.Status)
			return &internalorders.ListResult{Orders: []models.Order{{ID: testOrderID}}, NextCursor: "next"}, nil
		},
	}
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=10&status=pending", nil), enums.RoleCustomer)
	resp := httptest.NewRecorder()
	List(svc, nil)(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	body := decode(t, resp)
	assert.Equal(t, "next", body.Data["nextCursor"])
	assert.Len(t, body.Data["orders"], 1)
}

func TestListRequiresUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	resp := httptest.NewRecorder()
	List(&stubOrdersService{}, nil)(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
