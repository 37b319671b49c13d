package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/threadline/shopfront-backend/pkg/db/models"
)

// VoucherResponse is the public shape of a voucher.
type VoucherResponse struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	Description     string          `json:"description"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	MaxDiscount     int64           `json:"maxDiscount"`
	MinOrderValue   int64           `json:"minOrderValue"`
	Quantity        int             `json:"quantity"`
	ExpiredAt       time.Time       `json:"expiredAt"`
	Active          bool            `json:"active"`
}

func NewVoucherResponse(v *models.Voucher) *VoucherResponse {
	if v == nil {
		return nil
	}
	return &VoucherResponse{
		ID:              v.ID,
		Code:            v.Code,
		Description:     v.Description,
		DiscountPercent: v.DiscountPercent,
		MaxDiscount:     v.MaxDiscount,
		MinOrderValue:   v.MinOrderValue,
		Quantity:        v.Quantity,
		ExpiredAt:       v.ExpiredAt,
		Active:          v.Active,
	}
}

func NewVoucherListResponse(vouchers []models.Voucher) []VoucherResponse {
	out := make([]VoucherResponse, 0, len(vouchers))
	for i := range vouchers {
		out = append(out, *NewVoucherResponse(&vouchers[i]))
	}
	return out
}
