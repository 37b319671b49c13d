package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/ids"
	"github.com/threadline/shopfront-backend/pkg/types"
)

// PaymentIntent is the priced, time-boxed checkout snapshot awaiting payment.
type PaymentIntent struct {
	ID                    string                `gorm:"column:id;type:char(24);primaryKey"`
	UserID                string                `gorm:"column:user_id;type:char(24);not null;index:idx_intents_user_status,priority:1"`
	Items                 types.LineItems       `gorm:"column:items;type:jsonb;not null"`
	VoucherID             *string               `gorm:"column:voucher_id;type:char(24)"`
	VoucherCode           *string               `gorm:"column:voucher_code"`
	Discount              int64                 `gorm:"column:discount;not null;default:0"`
	ShippingFee           int64                 `gorm:"column:shipping_fee;not null"`
	OriginalAmount        int64                 `gorm:"column:original_amount;not null"`
	TotalAmount           int64                 `gorm:"column:total_amount;not null"`
	PaymentMethod         enums.PaymentMethod   `gorm:"column:payment_method;type:payment_method;not null"`
	PaymentStatus         enums.PaymentStatus   `gorm:"column:payment_status;type:payment_status;not null;index:idx_intents_user_status,priority:2"`
	ShippingAddress       types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;not null"`
	TransactionRef        *string               `gorm:"column:transaction_ref;index"`
	ProviderTransactionNo *string               `gorm:"column:provider_transaction_no"`
	ResponseCode          *string               `gorm:"column:response_code"`
	BankCode              *string               `gorm:"column:bank_code"`
	CardType              *string               `gorm:"column:card_type"`
	GatewayPayload        types.GatewayPayload  `gorm:"column:gateway_payload;type:jsonb"`
	PaidAt                *time.Time            `gorm:"column:paid_at"`
	OrderID               *string               `gorm:"column:order_id;type:char(24);uniqueIndex"`
	ExpiresAt             time.Time             `gorm:"column:expires_at;not null"`
	CreatedAt             time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentIntent) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	return nil
}

// IsExpired reports whether the intent's window has closed at now.
func (p PaymentIntent) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// HasOrder reports whether the intent has already been settled into an order.
func (p PaymentIntent) HasOrder() bool {
	return p.OrderID != nil && *p.OrderID != ""
}
