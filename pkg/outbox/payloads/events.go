package payloads

import (
	"time"

	"github.com/threadline/shopfront-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when either settlement path commits an order.
type OrderCreatedEvent struct {
	OrderID         string                   `json:"order_id"`
	OrderNumber     string                   `json:"order_number"`
	UserID          string                   `json:"user_id"`
	PaymentIntentID *string                  `json:"payment_intent_id,omitempty"`
	PaymentMethod   enums.PaymentMethod      `json:"payment_method"`
	Status          enums.OrderStatus        `json:"status"`
	PaymentStatus   enums.OrderPaymentStatus `json:"payment_status"`
	TotalAmount     int64                    `json:"total_amount"`
	Discount        int64                    `json:"discount"`
	ItemCount       int                      `json:"item_count"`
	VoucherCode     *string                  `json:"voucher_code,omitempty"`
}

// OrderCancelledEvent is emitted on a guarded pending -> cancelled transition.
type OrderCancelledEvent struct {
	OrderID        string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	UserID         string `json:"user_id"`
	CancelledBy    string `json:"cancelled_by"`
	StockReleased  bool   `json:"stock_released"`
	RequiresRefund bool   `json:"requires_refund"`
}

// OrderStatusChangedEvent is emitted on every admin-driven status change.
type OrderStatusChangedEvent struct {
	OrderID        string            `json:"order_id"`
	OrderNumber    string            `json:"order_number"`
	UserID         string            `json:"user_id"`
	From           enums.OrderStatus `json:"from"`
	To             enums.OrderStatus `json:"to"`
	TrackingNumber *string           `json:"tracking_number,omitempty"`
}

// PaymentIntentEvent describes an intent lifecycle step (created, paid, failed, cancelled).
type PaymentIntentEvent struct {
	IntentID       string              `json:"intent_id"`
	UserID         string              `json:"user_id"`
	PaymentMethod  enums.PaymentMethod `json:"payment_method"`
	PaymentStatus  enums.PaymentStatus `json:"payment_status"`
	TotalAmount    int64               `json:"total_amount"`
	TransactionRef *string             `json:"transaction_ref,omitempty"`
	ResponseCode   *string             `json:"response_code,omitempty"`
	ExpiresAt      time.Time           `json:"expires_at"`
}

// RefundRequiredEvent flags money captured by the gateway that no order will consume.
type RefundRequiredEvent struct {
	IntentID              string  `json:"intent_id"`
	UserID                string  `json:"user_id"`
	TotalAmount           int64   `json:"total_amount"`
	TransactionRef        *string `json:"transaction_ref,omitempty"`
	ProviderTransactionNo *string `json:"provider_transaction_no,omitempty"`
	Reason                string  `json:"reason"`
}

// VoucherExpiredEvent is emitted when the expiry sweep disables a voucher.
type VoucherExpiredEvent struct {
	VoucherID string    `json:"voucher_id"`
	Code      string    `json:"code"`
	ExpiredAt time.Time `json:"expired_at"`
	Remaining int       `json:"remaining"`
}
