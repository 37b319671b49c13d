package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/threadline/shopfront-backend/internal/analytics/router"
	"github.com/threadline/shopfront-backend/internal/analytics/types"
	"github.com/threadline/shopfront-backend/internal/analytics/writer"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/outbox"
)

const analyticsConsumerName = "analytics"

// Handler turns one commerce event into analytics rows.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	return fn(ctx, envelope)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type disposition int

const (
	ack disposition = iota
	redeliver
)

// Consumer feeds the analytics subscription into BigQuery. Malformed,
// unroutable and BigQuery-rejected events are acknowledged; anything else that
// fails is released for redelivery.
type Consumer struct {
	subscription receiver
	handler      Handler
	seen         idempotencyChecker
	logg         *logger.Logger
}

// NewConsumer wires the analytics subscription to its handler.
func NewConsumer(subscription *gcppubsub.Subscriber, handler Handler, seen idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("analytics subscription is required")
	}
	return newConsumer(subscription, handler, seen, logg)
}

func newConsumer(subscription receiver, handler Handler, seen idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	switch {
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case seen == nil:
		return nil, errors.New("idempotency manager is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Consumer{subscription: subscription, handler: handler, seen: seen, logg: logg}, nil
}

// Run receives until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if c.handle(msgCtx, msg) == redeliver {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (c *Consumer) handle(ctx context.Context, msg *gcppubsub.Message) disposition {
	fields := map[string]any{"message_id": msg.ID}
	if msg.DeliveryAttempt != nil {
		fields["delivery_attempt"] = *msg.DeliveryAttempt
	}
	logCtx := c.logg.WithFields(ctx, fields)

	envelope, err := decodeMessage(msg)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "dropping malformed analytics message")
		return ack
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":     envelope.EventID,
		"event_type":   envelope.EventType,
		"aggregate_id": envelope.AggregateID,
	})

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Warn(logCtx, "dropping analytics message with invalid event id")
		return ack
	}

	already, err := c.seen.CheckAndMarkProcessed(logCtx, analyticsConsumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return redeliver
	}
	if already {
		c.logg.Info(logCtx, "analytics event already recorded")
		return ack
	}

	err = c.handler.Handle(logCtx, envelope)
	var rejected *writer.RejectedRowsError
	switch {
	case err == nil:
		return ack
	case errors.Is(err, router.ErrUnsupportedEventType):
		c.logg.Info(logCtx, "analytics event type not routed")
		return ack
	case errors.As(err, &rejected):
		c.logg.Error(logCtx, "bigquery rejected analytics rows", err)
		return ack
	default:
		c.logg.Error(logCtx, "analytics handler failed", err)
		if err := c.seen.Delete(logCtx, analyticsConsumerName, eventID); err != nil {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "failed to clear idempotency mark")
		}
		return redeliver
	}
}

// decodeMessage rebuilds the envelope from the relayed outbox payload and the
// routing attributes the relay attaches.
func decodeMessage(msg *gcppubsub.Message) (types.Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return types.Envelope{}, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseOutboxEventType(attribute(msg, "event_type"))
	if err != nil {
		return types.Envelope{}, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attribute(msg, "aggregate_type"))
	if err != nil {
		return types.Envelope{}, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attribute(msg, "aggregate_id")
	if aggregateID == "" {
		return types.Envelope{}, errors.New("aggregate_id missing")
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = attribute(msg, "event_id")
	}
	if eventID == "" {
		return types.Envelope{}, errors.New("event_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attribute(msg, "created_at")); err == nil {
			occurredAt = parsed
		}
	}

	return types.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, nil
}

func attribute(msg *gcppubsub.Message, key string) string {
	return strings.TrimSpace(msg.Attributes[key])
}
