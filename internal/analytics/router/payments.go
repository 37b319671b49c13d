package router

import (
	"context"
	"fmt"

	"github.com/threadline/shopfront-backend/internal/analytics/types"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/outbox/payloads"
)

// paymentIntentHandler covers created, paid, failed and cancelled; they share one payload.
type paymentIntentHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newPaymentIntentHandler(writer Writer, logg *logger.Logger) Handler {
	return &paymentIntentHandler{writer: writer, logg: logg}
}

func (h *paymentIntentHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.PaymentIntentEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}

	fields := map[string]any{
		"event_type":     envelope.EventType,
		"intent_id":      event.IntentID,
		"payment_status": event.PaymentStatus,
	}
	return insert(ctx, h.writer, h.logg, fields, func() (types.OrderEventRow, error) {
		row, err := baseRow(envelope, event)
		if err != nil {
			return row, err
		}
		row.IntentID = stringPtr(event.IntentID)
		row.UserID = stringPtr(event.UserID)
		row.PaymentMethod = stringPtr(string(event.PaymentMethod))
		row.PaymentStatus = stringPtr(string(event.PaymentStatus))
		row.GrossAmount = int64Ptr(event.TotalAmount)
		if event.ResponseCode != nil {
			row.Reason = stringPtr("response_code_" + *event.ResponseCode)
		}
		return row, nil
	})
}

type refundRequiredHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newRefundRequiredHandler(writer Writer, logg *logger.Logger) Handler {
	return &refundRequiredHandler{writer: writer, logg: logg}
}

func (h *refundRequiredHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.RefundRequiredEvent)
	if !ok {
		return fmt.Errorf("invalid payload for payment_intent_refund_required")
	}

	fields := map[string]any{
		"event_type": envelope.EventType,
		"intent_id":  event.IntentID,
		"reason":     event.Reason,
	}
	return insert(ctx, h.writer, h.logg, fields, func() (types.OrderEventRow, error) {
		row, err := baseRow(envelope, event)
		if err != nil {
			return row, err
		}
		row.IntentID = stringPtr(event.IntentID)
		row.UserID = stringPtr(event.UserID)
		row.RefundAmount = int64Ptr(event.TotalAmount)
		row.Reason = stringPtr(event.Reason)
		return row, nil
	})
}
