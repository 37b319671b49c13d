package paymentintents

import (
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/outbox"
	"github.com/threadline/shopfront-backend/pkg/outbox/payloads"
)

// Event builds the outbox event describing an intent lifecycle step.
func Event(intent *models.PaymentIntent, eventType enums.OutboxEventType, actor *outbox.ActorRef) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Actor:         actor,
		Data: payloads.PaymentIntentEvent{
			IntentID:       intent.ID,
			UserID:         intent.UserID,
			PaymentMethod:  intent.PaymentMethod,
			PaymentStatus:  intent.PaymentStatus,
			TotalAmount:    intent.TotalAmount,
			TransactionRef: intent.TransactionRef,
			ResponseCode:   intent.ResponseCode,
			ExpiresAt:      intent.ExpiresAt,
		},
	}
}

// RefundRequiredEvent flags a captured payment that must be refunded by hand.
func RefundRequiredEvent(intent *models.PaymentIntent, reason string, actor *outbox.ActorRef) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventPaymentIntentRefundRequired,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Actor:         actor,
		Data: payloads.RefundRequiredEvent{
			IntentID:              intent.ID,
			UserID:                intent.UserID,
			TotalAmount:           intent.TotalAmount,
			TransactionRef:        intent.TransactionRef,
			ProviderTransactionNo: intent.ProviderTransactionNo,
			Reason:                reason,
		},
	}
}

func customer(userID string) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: userID, Role: string(enums.RoleCustomer)}
}
