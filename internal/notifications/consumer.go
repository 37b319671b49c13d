package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/outbox"
	"github.com/threadline/shopfront-backend/pkg/outbox/idempotency"
	"github.com/threadline/shopfront-backend/pkg/outbox/payloads"
)

const notificationConsumer = "order-notifications"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

type payloadDecoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error)
}

type processedTracker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer turns order and payment events into customer notifications.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	idempotency  processedTracker
	decoders     payloadDecoder
	logg         *logger.Logger
}

// NewConsumer builds the notification consumer.
func NewConsumer(repo repository, subscription *pubsub.Subscriber, manager *idempotency.Manager, decoders payloadDecoder, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("commerce subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	c, err := newConsumer(repo, manager, decoders, logg)
	if err != nil {
		return nil, err
	}
	c.subscription = subscription
	return c, nil
}

func newConsumer(repo repository, tracker processedTracker, decoders payloadDecoder, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if decoders == nil {
		return nil, fmt.Errorf("payload decoders required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{repo: repo, idempotency: tracker, decoders: decoders, logg: logg}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logCtx := c.logg.WithField(ctx, "message_id", msg.ID)
		result := c.process(logCtx, msg.Attributes["event_type"], msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, eventType string, data []byte) processResult {
	logCtx := c.logg.WithField(ctx, "event_type", eventType)

	if !handled(enums.OutboxEventType(eventType)) {
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", envelope.EventID)

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, notificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	payload, err := c.decoders.Decode(enums.OutboxEventType(eventType), envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.idempotency.Delete(ctx, notificationConsumer, eventID)
		return processResult{nack: true}
	}
	notification, err := build(enums.OutboxEventType(eventType), payload)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.idempotency.Delete(ctx, notificationConsumer, eventID)
		return processResult{nack: true}
	}
	if notification == nil {
		return processResult{ack: true}
	}
	if notification.UserID == "" {
		c.logg.Warn(logCtx, "event carries no user id")
		return processResult{ack: true}
	}

	if err := c.repo.Create(ctx, notification); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Delete(ctx, notificationConsumer, eventID)
		return processResult{nack: true}
	}
	logCtx = c.logg.WithUserID(logCtx, notification.UserID)
	c.logg.Info(logCtx, "customer notified")
	return processResult{ack: true}
}

func handled(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventOrderCreated,
		enums.EventOrderCancelled,
		enums.EventOrderStatusChanged,
		enums.EventPaymentIntentPaid,
		enums.EventPaymentIntentFailed:
		return true
	}
	return false
}

var statusTitles = map[enums.OrderStatus]string{
	enums.OrderStatusConfirmed: "Đơn hàng đã được xác nhận",
	enums.OrderStatusShipping:  "Đơn hàng đang được vận chuyển",
	enums.OrderStatusCompleted: "Đơn hàng đã được giao thành công",
}

var statusMessages = map[enums.OrderStatus]string{
	enums.OrderStatusConfirmed: "Đơn hàng %s đã được xác nhận và đang được chuẩn bị.",
	enums.OrderStatusShipping:  "Đơn hàng %s đang trên đường giao đến bạn.",
	enums.OrderStatusCompleted: "Đơn hàng %s đã được giao thành công. Cảm ơn bạn đã mua hàng!",
}

// build renders the notification for one decoded event; nil means nothing to tell the customer.
func build(eventType enums.OutboxEventType, decoded interface{}) (*models.Notification, error) {
	switch payload := decoded.(type) {
	case *payloads.OrderCreatedEvent:
		return orderNotification(payload.UserID, payload.OrderID,
			"Đơn hàng đã được tạo",
			fmt.Sprintf("Đơn hàng %s với tổng giá trị %sđ đã được tạo thành công.", payload.OrderNumber, formatVND(payload.TotalAmount))), nil
	case *payloads.OrderCancelledEvent:
		message := fmt.Sprintf("Đơn hàng %s đã bị hủy. Liên hệ chúng tôi nếu cần hỗ trợ.", payload.OrderNumber)
		if payload.RequiresRefund {
			message = fmt.Sprintf("Đơn hàng %s đã bị hủy. Khoản thanh toán sẽ được hoàn lại.", payload.OrderNumber)
		}
		return orderNotification(payload.UserID, payload.OrderID, "Đơn hàng đã bị hủy", message), nil
	case *payloads.OrderStatusChangedEvent:
		title, ok := statusTitles[payload.To]
		if !ok {
			return nil, nil
		}
		return orderNotification(payload.UserID, payload.OrderID, title, fmt.Sprintf(statusMessages[payload.To], payload.OrderNumber)), nil
	case *payloads.PaymentIntentEvent:
		if payload.UserID == "" {
			return nil, fmt.Errorf("user id missing")
		}
		title := "Thanh toán thành công"
		message := fmt.Sprintf("Đã nhận thanh toán %sđ qua VNPay.", formatVND(payload.TotalAmount))
		if eventType == enums.EventPaymentIntentFailed {
			title = "Thanh toán thất bại"
			message = "Giao dịch VNPay không thành công. Vui lòng thử lại."
		}
		return &models.Notification{
			UserID:  payload.UserID,
			Type:    enums.NotificationTypePayment,
			Title:   title,
			Message: message,
			Link:    stringPtr("/payment/intent/" + payload.IntentID),
		}, nil
	}
	return nil, fmt.Errorf("unexpected payload %T for %s", decoded, eventType)
}

func orderNotification(userID, orderID, title, message string) *models.Notification {
	return &models.Notification{
		UserID:  userID,
		Type:    enums.NotificationTypeOrder,
		Title:   title,
		Message: strings.TrimSpace(message),
		Link:    stringPtr("/orders/" + orderID),
	}
}

// formatVND groups thousands with dots: 215000 -> 215.000.
func formatVND(amount int64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if negative {
		return "-" + b.String()
	}
	return b.String()
}

func stringPtr(value string) *string {
	return &value
}
