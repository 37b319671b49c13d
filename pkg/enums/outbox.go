package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder         OutboxAggregateType = "order"
	AggregatePaymentIntent OutboxAggregateType = "payment_intent"
	AggregateVoucher       OutboxAggregateType = "voucher"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePaymentIntent,
	AggregateVoucher,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated                OutboxEventType = "order_created"
	EventOrderCancelled              OutboxEventType = "order_cancelled"
	EventOrderStatusChanged          OutboxEventType = "order_status_changed"
	EventPaymentIntentCreated        OutboxEventType = "payment_intent_created"
	EventPaymentIntentPaid           OutboxEventType = "payment_intent_paid"
	EventPaymentIntentFailed         OutboxEventType = "payment_intent_failed"
	EventPaymentIntentCancelled      OutboxEventType = "payment_intent_cancelled"
	EventPaymentIntentRefundRequired OutboxEventType = "payment_intent_refund_required"
	EventVoucherExpired              OutboxEventType = "voucher_expired"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderCancelled,
	EventOrderStatusChanged,
	EventPaymentIntentCreated,
	EventPaymentIntentPaid,
	EventPaymentIntentFailed,
	EventPaymentIntentCancelled,
	EventPaymentIntentRefundRequired,
	EventVoucherExpired,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
