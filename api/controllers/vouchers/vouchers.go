package vouchers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/threadline/shopfront-backend/api/controllers/dto"
	"github.com/threadline/shopfront-backend/api/responses"
	"github.com/threadline/shopfront-backend/api/validators"
	internalvouchers "github.com/threadline/shopfront-backend/internal/vouchers"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/ids"
	"github.com/threadline/shopfront-backend/pkg/logger"
)

type applyRequest struct {
	Code        string `json:"code" validate:"required,max=64"`
	TotalAmount int64  `json:"totalAmount" validate:"gte=0"`
}

type createRequest struct {
	Code            string          `json:"code" validate:"required,max=64"`
	Description     string          `json:"description,omitempty" validate:"omitempty,max=255"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	MaxDiscount     int64           `json:"maxDiscount" validate:"gte=0"`
	MinOrderValue   int64           `json:"minOrderValue" validate:"gte=0"`
	Quantity        int             `json:"quantity" validate:"gte=0"`
	ExpiredAt       time.Time       `json:"expiredAt" validate:"required"`
	Active          *bool           `json:"active,omitempty"`
}

type updateRequest struct {
	Description     *string          `json:"description,omitempty" validate:"omitempty,max=255"`
	DiscountPercent *decimal.Decimal `json:"discountPercent,omitempty"`
	MaxDiscount     *int64           `json:"maxDiscount,omitempty" validate:"omitempty,gte=0"`
	MinOrderValue   *int64           `json:"minOrderValue,omitempty" validate:"omitempty,gte=0"`
	Quantity        *int             `json:"quantity,omitempty" validate:"omitempty,gte=0"`
	ExpiredAt       *time.Time       `json:"expiredAt,omitempty"`
	Active          *bool            `json:"active,omitempty"`
}

// List returns the vouchers shoppers can currently redeem.
func List(svc internalvouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "voucher service unavailable"))
			return
		}
		rows, err := svc.List(r.Context(), true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewVoucherListResponse(rows))
	}
}

// Apply previews a code against a cart total without consuming it.
func Apply(svc internalvouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "voucher service unavailable"))
			return
		}
		var payload applyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		preview, err := svc.Preview(r.Context(), payload.Code, payload.TotalAmount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, preview)
	}
}

// Create adds a voucher. Admin only.
func Create(svc internalvouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "voucher service unavailable"))
			return
		}
		var payload createRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		voucher, err := svc.Create(r.Context(), internalvouchers.CreateInput{
			Code:            payload.Code,
			Description:     validators.SanitizeString(payload.Description, 255),
			DiscountPercent: payload.DiscountPercent,
			MaxDiscount:     payload.MaxDiscount,
			MinOrderValue:   payload.MinOrderValue,
			Quantity:        payload.Quantity,
			ExpiredAt:       payload.ExpiredAt.UTC(),
			Active:          payload.Active,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewVoucherResponse(voucher))
	}
}

// Update patches the supplied voucher fields. Admin only.
func Update(svc internalvouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "voucher service unavailable"))
			return
		}
		voucherID, err := parseVoucherID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload updateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.ExpiredAt != nil {
			utc := payload.ExpiredAt.UTC()
			payload.ExpiredAt = &utc
		}
		voucher, err := svc.Update(r.Context(), voucherID, internalvouchers.UpdateInput{
			Description:     payload.Description,
			DiscountPercent: payload.DiscountPercent,
			MaxDiscount:     payload.MaxDiscount,
			MinOrderValue:   payload.MinOrderValue,
			Quantity:        payload.Quantity,
			ExpiredAt:       payload.ExpiredAt,
			Active:          payload.Active,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewVoucherResponse(voucher))
	}
}

// Delete removes a voucher. Admin only.
func Delete(svc internalvouchers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "voucher service unavailable"))
			return
		}
		voucherID, err := parseVoucherID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), voucherID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"id": voucherID})
	}
}

func parseVoucherID(r *http.Request) (string, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "voucherId"))
	id, ok := ids.Normalize(raw)
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid voucher id")
	}
	return id, nil
}
