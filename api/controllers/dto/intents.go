package dto

import (
	"time"

	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/types"
)

// IntentResponse is the public shape of a payment intent. Raw gateway
// payloads stay server side.
type IntentResponse struct {
	ID              string                `json:"id"`
	Items           types.LineItems       `json:"items"`
	VoucherCode     *string               `json:"voucherCode,omitempty"`
	Discount        int64                 `json:"discount"`
	ShippingFee     int64                 `json:"shippingFee"`
	OriginalAmount  int64                 `json:"originalAmount"`
	TotalAmount     int64                 `json:"totalAmount"`
	PaymentMethod   enums.PaymentMethod   `json:"paymentMethod"`
	PaymentStatus   enums.PaymentStatus   `json:"paymentStatus"`
	ShippingAddress types.ShippingAddress `json:"shippingAddress"`
	TransactionRef  *string               `json:"transactionRef,omitempty"`
	ResponseCode    *string               `json:"responseCode,omitempty"`
	PaidAt          *time.Time            `json:"paidAt,omitempty"`
	OrderID         *string               `json:"orderId,omitempty"`
	ExpiresAt       time.Time             `json:"expiresAt"`
	Expired         bool                  `json:"expired"`
	CreatedAt       time.Time             `json:"createdAt"`
}

func NewIntentResponse(intent *models.PaymentIntent, expired bool) *IntentResponse {
	if intent == nil {
		return nil
	}
	return &IntentResponse{
		ID:              intent.ID,
		Items:           intent.Items,
		VoucherCode:     intent.VoucherCode,
		Discount:        intent.Discount,
		ShippingFee:     intent.ShippingFee,
		OriginalAmount:  intent.OriginalAmount,
		TotalAmount:     intent.TotalAmount,
		PaymentMethod:   intent.PaymentMethod,
		PaymentStatus:   intent.PaymentStatus,
		ShippingAddress: intent.ShippingAddress,
		TransactionRef:  intent.TransactionRef,
		ResponseCode:    intent.ResponseCode,
		PaidAt:          intent.PaidAt,
		OrderID:         intent.OrderID,
		ExpiresAt:       intent.ExpiresAt,
		Expired:         expired,
		CreatedAt:       intent.CreatedAt,
	}
}
