package router

import (
	"context"
	"fmt"

	"github.com/threadline/shopfront-backend/internal/analytics/types"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/outbox/payloads"
)

type orderCreatedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newOrderCreatedHandler(writer Writer, logg *logger.Logger) Handler {
	return &orderCreatedHandler{writer: writer, logg: logg}
}

func (h *orderCreatedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderCreatedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_created")
	}

	fields := map[string]any{
		"event_type":     envelope.EventType,
		"order_id":       event.OrderID,
		"payment_method": event.PaymentMethod,
	}
	return insert(ctx, h.writer, h.logg, fields, func() (types.OrderEventRow, error) {
		return buildOrderCreatedRow(envelope, event)
	})
}

func buildOrderCreatedRow(envelope types.Envelope, event *payloads.OrderCreatedEvent) (types.OrderEventRow, error) {
	row, err := baseRow(envelope, event)
	if err != nil {
		return row, err
	}
	row.OrderID = stringPtr(event.OrderID)
	row.UserID = stringPtr(event.UserID)
	if event.PaymentIntentID != nil {
		row.IntentID = stringPtr(*event.PaymentIntentID)
	}
	row.PaymentMethod = stringPtr(string(event.PaymentMethod))
	row.Status = stringPtr(string(event.Status))
	row.PaymentStatus = stringPtr(string(event.PaymentStatus))
	row.GrossAmount = int64Ptr(event.TotalAmount)
	row.DiscountAmount = int64Ptr(event.Discount)
	row.ItemCount = int64Ptr(int64(event.ItemCount))
	return row, nil
}

type orderCancelledHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newOrderCancelledHandler(writer Writer, logg *logger.Logger) Handler {
	return &orderCancelledHandler{writer: writer, logg: logg}
}

func (h *orderCancelledHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderCancelledEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_cancelled")
	}

	fields := map[string]any{
		"event_type":      envelope.EventType,
		"order_id":        event.OrderID,
		"requires_refund": event.RequiresRefund,
	}
	return insert(ctx, h.writer, h.logg, fields, func() (types.OrderEventRow, error) {
		row, err := baseRow(envelope, event)
		if err != nil {
			return row, err
		}
		row.OrderID = stringPtr(event.OrderID)
		row.UserID = stringPtr(event.UserID)
		row.Status = stringPtr(string(enums.OrderStatusCancelled))
		row.Reason = stringPtr("cancelled_by_" + event.CancelledBy)
		if event.RequiresRefund {
			row.PaymentStatus = stringPtr(string(enums.OrderPaymentPaid))
		}
		return row, nil
	})
}

type orderStatusChangedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newOrderStatusChangedHandler(writer Writer, logg *logger.Logger) Handler {
	return &orderStatusChangedHandler{writer: writer, logg: logg}
}

func (h *orderStatusChangedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderStatusChangedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_status_changed")
	}

	fields := map[string]any{
		"event_type": envelope.EventType,
		"order_id":   event.OrderID,
		"from":       event.From,
		"to":         event.To,
	}
	return insert(ctx, h.writer, h.logg, fields, func() (types.OrderEventRow, error) {
		row, err := baseRow(envelope, event)
		if err != nil {
			return row, err
		}
		row.OrderID = stringPtr(event.OrderID)
		row.UserID = stringPtr(event.UserID)
		row.Status = stringPtr(string(event.To))
		row.Reason = stringPtr(fmt.Sprintf("%s->%s", event.From, event.To))
		return row, nil
	})
}
