package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/threadline/shopfront-backend/api/middleware"
	"github.com/threadline/shopfront-backend/api/responses"
	"github.com/threadline/shopfront-backend/api/validators"
	internalpayments "github.com/threadline/shopfront-backend/internal/payments"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/logger"
)

// Reconciler applies gateway results to intents.
type Reconciler interface {
	Reconcile(ctx context.Context, channel string, params url.Values) (*internalpayments.Reconciliation, error)
}

type createPaymentRequest struct {
	IntentID string `json:"intentId" validate:"required,len=24,hexadecimal"`
}

// VNPayCreate returns the gateway redirect for one of the caller's intents.
func VNPayCreate(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload createPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		link, err := svc.CreateVNPayPayment(r.Context(), userID, strings.ToLower(payload.IntentID), middleware.ClientIP(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, link)
	}
}

// VNPayCallback handles the customer's browser returning from the gateway and
// redirects to the app deep link. Every failure degrades to success=false.
func VNPayCallback(rec Reconciler, deepLink string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			result *internalpayments.Reconciliation
			err    error
		)
		if rec == nil {
			err = pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable")
		} else {
			result, err = rec.Reconcile(r.Context(), internalpayments.ChannelCallback, r.URL.Query())
		}
		if err != nil && logg != nil {
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "vnpay.callback.rejected")
		}
		http.Redirect(w, r, internalpayments.CallbackRedirect(deepLink, result, err), http.StatusFound)
	}
}

// VNPayIPN acknowledges the gateway's server-to-server notification. The
// gateway only reads the body, so the status is always 200.
func VNPayIPN(rec Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		if rec == nil {
			err = pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable")
		} else {
			_, err = rec.Reconcile(r.Context(), internalpayments.ChannelIPN, r.URL.Query())
		}
		ack := internalpayments.IPNAck(err)
		if err != nil && logg != nil {
			logCtx := logg.WithFields(r.Context(), map[string]any{
				"rsp_code": ack.RspCode,
				"error":    err.Error(),
			})
			logg.Warn(logCtx, "vnpay.ipn.rejected")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(ack)
	}
}
