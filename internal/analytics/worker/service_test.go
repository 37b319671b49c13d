package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
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

func TestDecodeMessage(t *testing.T) {
	payload := outbox.PayloadEnvelope{
		EventID:    "evt-1",
		OccurredAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:       json.RawMessage(`{"order_id":"507f1f77bcf86cd799439011"}`),
	}
	msg := buildMessage(payload, map[string]string{
		"event_type":     "order_created",
		"aggregate_type": "order",
		"aggregate_id":   " 507f1f77bcf86cd799439011 ",
	})

	env, err := decodeMessage(msg)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if env.EventType != enums.EventOrderCreated || env.AggregateType != enums.AggregateOrder {
		t.Fatalf("unexpected routing %v/%v", env.EventType, env.AggregateType)
	}
	if env.AggregateID != "507f1f77bcf86cd799439011" {
		t.Fatalf("unexpected aggregate id %q", env.AggregateID)
	}
	if env.EventID != "evt-1" {
		t.Fatalf("unexpected event id %s", env.EventID)
	}
	if !env.OccurredAt.Equal(payload.OccurredAt) {
		t.Fatalf("unexpected occurred at %v", env.OccurredAt)
	}
}

func TestDecodeMessageFallsBackToAttributes(t *testing.T) {
	eventID := uuid.NewString()
	msg := buildMessage(outbox.PayloadEnvelope{Data: json.RawMessage(`{}`)}, map[string]string{
		"event_id":       eventID,
		"event_type":     "voucher_expired",
		"aggregate_type": "voucher",
		"aggregate_id":   "507f1f77bcf86cd799439013",
		"created_at":     "2026-04-01T08:00:00Z",
	})

	env, err := decodeMessage(msg)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if env.EventID != eventID {
		t.Fatalf("expected event id from attributes, got %s", env.EventID)
	}
	if !env.OccurredAt.Equal(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected occurred_at from created_at, got %v", env.OccurredAt)
	}
}

func TestDecodeMessageRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown event type": {"event_type": "ad_click", "aggregate_type": "order", "aggregate_id": "507f1f77bcf86cd799439011"},
		"unknown aggregate":  {"event_type": "order_created", "aggregate_type": "cart", "aggregate_id": "507f1f77bcf86cd799439011"},
		"missing aggregate":  {"event_type": "order_created", "aggregate_type": "order"},
		"missing event id":   {"event_type": "order_created", "aggregate_type": "order", "aggregate_id": "507f1f77bcf86cd799439011"},
	}
	for name, attrs := range cases {
		t.Run(name, func(t *testing.T) {
			payload := outbox.PayloadEnvelope{EventID: uuid.NewString(), Data: json.RawMessage(`{}`)}
			if name == "missing event id" {
				payload.EventID = ""
			}
			if _, err := decodeMessage(buildMessage(payload, attrs)); err == nil {
				t.Fatal("expected message to be rejected")
			}
		})
	}
}

func TestHandleAlreadyRecorded(t *testing.T) {
	seen := &stubManager{checkResult: true}
	handler := &stubHandler{}
	consumer := newTestConsumer(t, handler, seen)

	if got := consumer.handle(context.Background(), buildAnalyticsMessage(t)); got != ack {
		t.Fatalf("expected ack, got %v", got)
	}
	if handler.called {
		t.Fatal("handler should not run for a recorded event")
	}
	if len(seen.checked) != 1 {
		t.Fatalf("expected one idempotency check, got %d", len(seen.checked))
	}
}

func TestHandleFailureRedeliversAndClearsMark(t *testing.T) {
	seen := &stubManager{}
	handler := &stubHandler{err: errors.New("bigquery unavailable")}
	consumer := newTestConsumer(t, handler, seen)

	if got := consumer.handle(context.Background(), buildAnalyticsMessage(t)); got != redeliver {
		t.Fatalf("expected redeliver on handler error")
	}
	if !handler.called {
		t.Fatal("handler should be invoked")
	}
	if len(seen.deleted) != 1 || seen.deleted[0] != seen.checked[0] {
		t.Fatalf("expected idempotency mark cleared, got %v", seen.deleted)
	}
}

func TestHandleIdempotencyErrorRedelivers(t *testing.T) {
	seen := &stubManager{checkErr: errors.New("redis down")}
	handler := &stubHandler{}
	consumer := newTestConsumer(t, handler, seen)

	if got := consumer.handle(context.Background(), buildAnalyticsMessage(t)); got != redeliver {
		t.Fatalf("expected redeliver when idempotency is unavailable")
	}
	if handler.called {
		t.Fatal("handler should not run without an idempotency mark")
	}
}

func TestHandleAcksMalformedMessage(t *testing.T) {
	seen := &stubManager{}
	handler := &stubHandler{}
	consumer := newTestConsumer(t, handler, seen)

	if got := consumer.handle(context.Background(), &gcppubsub.Message{Data: []byte("invalid json")}); got != ack {
		t.Fatalf("malformed message should ack")
	}
	if handler.called || len(seen.checked) != 0 {
		t.Fatal("malformed message must not reach the handler or idempotency store")
	}
}

func TestHandleAcksNonUUIDEventID(t *testing.T) {
	seen := &stubManager{}
	consumer := newTestConsumer(t, &stubHandler{}, seen)
	msg := buildMessage(outbox.PayloadEnvelope{EventID: "evt-1", Data: json.RawMessage(`{}`)}, map[string]string{
		"event_type":     "order_created",
		"aggregate_type": "order",
		"aggregate_id":   "507f1f77bcf86cd799439011",
	})

	if got := consumer.handle(context.Background(), msg); got != ack {
		t.Fatalf("expected ack for invalid event id")
	}
	if len(seen.checked) != 0 {
		t.Fatal("idempotency store should not be touched")
	}
}

func TestHandleAcksUnroutedAndRejectedEvents(t *testing.T) {
	cases := map[string]error{
		"unrouted": router.ErrUnsupportedEventType,
		"rejected": fmt.Errorf("insert row: %w", &writer.RejectedRowsError{Table: "order_events", EventIDs: []string{"evt-1"}}),
	}
	for name, handlerErr := range cases {
		t.Run(name, func(t *testing.T) {
			seen := &stubManager{}
			consumer := newTestConsumer(t, &stubHandler{err: handlerErr}, seen)

			if got := consumer.handle(context.Background(), buildAnalyticsMessage(t)); got != ack {
				t.Fatalf("expected ack, got %v", got)
			}
			if len(seen.deleted) != 0 {
				t.Fatal("idempotency mark should stay in place")
			}
		})
	}
}

func TestRunHandlesEveryDelivery(t *testing.T) {
	first := buildAnalyticsMessage(t)
	second := buildAnalyticsMessage(t)
	sub := &stubReceiver{messages: []*gcppubsub.Message{first, second}}
	var handled []string
	handler := HandlerFunc(func(_ context.Context, env types.Envelope) error {
		handled = append(handled, env.EventID)
		return nil
	})
	consumer, err := newConsumer(sub, handler, &stubManager{}, testLogger())
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	if err := consumer.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(handled) != 2 || handled[0] != mustEventID(t, first) || handled[1] != mustEventID(t, second) {
		t.Fatalf("unexpected handled events %v", handled)
	}
}

func TestNewConsumerValidation(t *testing.T) {
	if _, err := NewConsumer(nil, &stubHandler{}, &stubManager{}, testLogger()); err == nil {
		t.Fatal("expected subscription to be required")
	}
	if _, err := newConsumer(&stubReceiver{}, nil, &stubManager{}, testLogger()); err == nil {
		t.Fatal("expected handler to be required")
	}
	if _, err := newConsumer(&stubReceiver{}, &stubHandler{}, nil, testLogger()); err == nil {
		t.Fatal("expected idempotency manager to be required")
	}
}

func buildAnalyticsMessage(t *testing.T) *gcppubsub.Message {
	t.Helper()
	payload := outbox.PayloadEnvelope{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"intent_id":"507f1f77bcf86cd799439012"}`),
	}
	return buildMessage(payload, map[string]string{
		"event_type":     "payment_intent_paid",
		"aggregate_type": "payment_intent",
		"aggregate_id":   "507f1f77bcf86cd799439012",
	})
}

func buildMessage(payload outbox.PayloadEnvelope, attrs map[string]string) *gcppubsub.Message {
	data, _ := json.Marshal(payload)
	return &gcppubsub.Message{
		ID:         "msg-1",
		Data:       data,
		Attributes: attrs,
	}
}

func mustEventID(t *testing.T, msg *gcppubsub.Message) string {
	t.Helper()
	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env.EventID
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "analytics-test", Output: io.Discard})
}

func newTestConsumer(t *testing.T, handler Handler, seen *stubManager) *Consumer {
	t.Helper()
	consumer, err := newConsumer(&stubReceiver{}, handler, seen, testLogger())
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	return consumer
}

type stubReceiver struct {
	messages []*gcppubsub.Message
}

func (s *stubReceiver) Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error {
	for _, msg := range s.messages {
		f(ctx, msg)
	}
	return nil
}

type stubHandler struct {
	called   bool
	envelope types.Envelope
	err      error
}

func (h *stubHandler) Handle(ctx context.Context, envelope types.Envelope) error {
	h.called = true
	h.envelope = envelope
	return h.err
}

type stubManager struct {
	checkResult bool
	checkErr    error
	deleteErr   error
	checked     []uuid.UUID
	deleted     []uuid.UUID
}

func (s *stubManager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	s.checked = append(s.checked, eventID)
	return s.checkResult, s.checkErr
}

func (s *stubManager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	s.deleted = append(s.deleted, eventID)
	return s.deleteErr
}
