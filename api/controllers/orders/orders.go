package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/threadline/shopfront-backend/api/controllers/dto"
	"github.com/threadline/shopfront-backend/api/middleware"
	"github.com/threadline/shopfront-backend/api/responses"
	"github.com/threadline/shopfront-backend/api/validators"
	internalorders "github.com/threadline/shopfront-backend/internal/orders"
	"github.com/threadline/shopfront-backend/pkg/enums"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/ids"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/pagination"
	"github.com/threadline/shopfront-backend/pkg/types"
)

type createOrderRequest struct {
	PaymentMethod   string                `json:"paymentMethod" validate:"required"`
	ShippingAddress types.ShippingAddress `json:"shippingAddress" validate:"required"`
	VoucherID       string                `json:"voucherId,omitempty" validate:"omitempty,len=24,hexadecimal"`
	VoucherCode     string                `json:"voucherCode,omitempty" validate:"omitempty,max=64"`
	SelectedItemIDs []string              `json:"selectedItemIds,omitempty" validate:"omitempty,dive,len=24,hexadecimal"`
	Notes           string                `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type createFromIntentRequest struct {
	IntentID string `json:"intentId" validate:"required,len=24,hexadecimal"`
}

type updateStatusRequest struct {
	Status         string  `json:"status" validate:"required"`
	TrackingNumber *string `json:"trackingNumber,omitempty" validate:"omitempty,max=64"`
	Notes          *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// Create settles the caller's cart straight into an order.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		order, err := svc.SettleDirect(r.Context(), userID, internalorders.DirectInput{
			PaymentMethod:   method,
			ShippingAddress: payload.ShippingAddress,
			VoucherID:       strings.ToLower(payload.VoucherID),
			VoucherCode:     payload.VoucherCode,
			SelectedItemIDs: payload.SelectedItemIDs,
			Notes:           validators.SanitizeString(payload.Notes, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewOrderResponse(order))
	}
}

// CreateFromIntent settles a paid payment intent. Replays return the order
// already linked to the intent with 200.
func CreateFromIntent(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createFromIntentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.SettleFromIntent(r.Context(), userID, strings.ToLower(payload.IntentID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusCreated
		if result.Existing {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, dto.NewOrderResponse(result.Order))
	}
}

// List returns the caller's orders, newest first.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := listParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params.UserID = userID

		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrderListResponse(result.Orders, result.NextCursor))
	}
}

// AdminList returns every order, newest first.
func AdminList(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		params, err := listParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("userId")); raw != "" {
			id, ok := ids.Normalize(raw)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid userId"))
				return
			}
			params.UserID = id
		}

		result, err := svc.ListAll(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrderListResponse(result.Orders, result.NextCursor))
	}
}

// Cancel cancels a pending order owned by the caller.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Cancel(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrderResponse(result.Order))
	}
}

// UpdateStatus moves an order along the fulfilment state machine. Admin only.
func UpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !actor.IsAdmin() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderStatus(strings.ToLower(strings.TrimSpace(payload.Status)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		order, err := svc.UpdateStatus(r.Context(), actor, orderID, internalorders.StatusUpdate{
			Status:         status,
			TrackingNumber: payload.TrackingNumber,
			Notes:          payload.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrderResponse(order))
	}
}

func requireUser(r *http.Request) (string, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return userID, nil
}

func requireActor(r *http.Request) (internalorders.Actor, error) {
	userID, err := requireUser(r)
	if err != nil {
		return internalorders.Actor{}, err
	}
	return internalorders.Actor{UserID: userID, Role: middleware.RoleFromContext(r.Context())}, nil
}

func parseOrderID(r *http.Request) (string, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	id, ok := ids.Normalize(raw)
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid order id")
	}
	return id, nil
}

func listParams(r *http.Request) (internalorders.ListParams, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return internalorders.ListParams{}, err
	}
	params := internalorders.ListParams{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(strings.ToLower(raw))
		if err != nil {
			return internalorders.ListParams{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		params.Status = &status
	}
	return params, nil
}
