package paymentintents

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/threadline/shopfront-backend/api/controllers/dto"
	"github.com/threadline/shopfront-backend/api/middleware"
	"github.com/threadline/shopfront-backend/api/responses"
	"github.com/threadline/shopfront-backend/api/validators"
	internalintents "github.com/threadline/shopfront-backend/internal/paymentintents"
	"github.com/threadline/shopfront-backend/pkg/enums"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/ids"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/types"
)

type createIntentRequest struct {
	PaymentMethod   string                `json:"paymentMethod" validate:"required"`
	ShippingAddress types.ShippingAddress `json:"shippingAddress" validate:"required"`
	VoucherID       string                `json:"voucherId,omitempty" validate:"omitempty,len=24,hexadecimal"`
	VoucherCode     string                `json:"voucherCode,omitempty" validate:"omitempty,max=64"`
	SelectedItemIDs []string              `json:"selectedItemIds,omitempty" validate:"omitempty,dive,len=24,hexadecimal"`
}

type cancelIntentResponse struct {
	Intent         *dto.IntentResponse `json:"intent"`
	RequiresRefund bool                `json:"requiresRefund"`
}

// Create stages the caller's cart into a priced, time-boxed payment intent.
func Create(svc internalintents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment intent service unavailable"))
			return
		}
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload createIntentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		intent, err := svc.Create(r.Context(), userID, internalintents.CreateInput{
			PaymentMethod:   method,
			ShippingAddress: payload.ShippingAddress,
			VoucherID:       strings.ToLower(payload.VoucherID),
			VoucherCode:     payload.VoucherCode,
			SelectedItemIDs: payload.SelectedItemIDs,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewIntentResponse(intent, false))
	}
}

// Get returns one of the caller's intents.
func Get(svc internalintents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment intent service unavailable"))
			return
		}
		userID, intentID, err := callerAndIntent(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Get(r.Context(), userID, intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewIntentResponse(view.Intent, view.Expired))
	}
}

// Cancel abandons one of the caller's unsettled intents.
func Cancel(svc internalintents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment intent service unavailable"))
			return
		}
		userID, intentID, err := callerAndIntent(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Cancel(r.Context(), userID, intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cancelIntentResponse{
			Intent:         dto.NewIntentResponse(result.Intent, false),
			RequiresRefund: result.RequiresRefund,
		})
	}
}

func callerAndIntent(r *http.Request) (string, string, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return "", "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	raw := strings.TrimSpace(chi.URLParam(r, "intentId"))
	if raw == "" {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "intent id is required")
	}
	intentID, ok := ids.Normalize(raw)
	if !ok {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "invalid intent id")
	}
	return userID, intentID, nil
}
