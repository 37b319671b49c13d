package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/shopfront-backend/api/middleware"
	internalnotifications "github.com/threadline/shopfront-backend/internal/notifications"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
)

const (
	testUserID         = "507f1f77bcf86cd799439011"
	testNotificationID = "507f1f77bcf86cd799439066"
)

type testNotificationsService struct {
	listFn        func(ctx context.Context, params internalnotifications.ListParams) (*internalnotifications.ListResult, error)
	markReadFn    func(ctx context.Context, userID, notificationID string) error
	markAllReadFn func(ctx context.Context, userID string) (int64, error)
}

func (s *testNotificationsService) List(ctx context.Context, params internalnotifications.ListParams) (*internalnotifications.ListResult, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return &internalnotifications.ListResult{}, nil
}

func (s *testNotificationsService) MarkRead(ctx context.Context, userID, notificationID string) error {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, userID, notificationID)
	}
	return nil
}

func (s *testNotificationsService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if s.markAllReadFn != nil {
		return s.markAllReadFn(ctx, userID)
	}
	return 0, nil
}

func authed(req *http.Request) *http.Request {
	return req.WithContext(middleware.WithUserID(req.Context(), testUserID))
}

func TestListScopesToCaller(t *testing.T) {
	var got internalnotifications.ListParams
	svc := &testNotificationsService{
		listFn: func(_ context.Context, params internalnotifications.ListParams) (*internalnotifications.ListResult, error) {
			got = params
			return &internalnotifications.ListResult{
				Items: []models.Notification{{
					ID:        testNotificationID,
					UserID:    testUserID,
					Type:      enums.NotificationTypeOrder,
					Title:     "Order placed",
					Message:   "Order #439011 was placed",
					CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				}},
				Cursor: "next",
			}, nil
		},
	}
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=5&unreadOnly=true", nil))
	resp := httptest.NewRecorder()
	List(svc, nil)(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, testUserID, got.UserID)
	assert.Equal(t, 5, got.Limit)
	assert.True(t, got.UnreadOnly)

	var body struct {
		Data struct {
			Items  []map[string]any `json:"items"`
			Cursor string           `json:"cursor"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Data.Items, 1)
	assert.Equal(t, testNotificationID, body.Data.Items[0]["id"])
	assert.Equal(t, "next", body.Data.Cursor)
}

func TestListRejectsBadUnreadFlag(t *testing.T) {
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?unreadOnly=maybe", nil))
	resp := httptest.NewRecorder()
	List(&testNotificationsService{}, nil)(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListRequiresUser(t *testing.T) {
	resp := httptest.NewRecorder()
	List(&testNotificationsService{}, nil)(resp, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestMarkReadPassesRouteParam(t *testing.T) {
	var gotUser, gotID string
	svc := &testNotificationsService{
		markReadFn: func(_ context.Context, userID, notificationID string) error {
			gotUser, gotID = userID, notificationID
			return nil
		},
	}
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/"+testNotificationID+"/read", nil))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("notificationId", testNotificationID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	resp := httptest.NewRecorder()
	MarkRead(svc, nil)(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, testUserID, gotUser)
	assert.Equal(t, testNotificationID, gotID)
}

func TestMarkReadNotFound(t *testing.T) {
	svc := &testNotificationsService{
		markReadFn: func(context.Context, string, string) error {
			return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
		},
	}
	req := authed(httptest.NewRequest(http.MethodPost, "/", nil))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("notificationId", testNotificationID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	resp := httptest.NewRecorder()
	MarkRead(svc, nil)(resp, req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestMarkAllReadReturnsCount(t *testing.T) {
	svc := &testNotificationsService{
		markAllReadFn: func(_ context.Context, userID string) (int64, error) {
			assert.Equal(t, testUserID, userID)
			return 3, nil
		},
	}
	resp := httptest.NewRecorder()
	MarkAllRead(svc, nil)(resp, authed(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/read-all", nil)))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"data":{"updated":3}}`, resp.Body.String())
}
