package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/config"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/ids"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/outbox"
	"github.com/threadline/shopfront-backend/pkg/outbox/payloads"
	"github.com/threadline/shopfront-backend/pkg/outbox/registry"
)

func TestDrainDefersLaterEventsOfFailedAggregate(t *testing.T) {
	orderID := ids.New()
	otherOrderID := ids.New()
	created := orderEvent(t, enums.EventOrderCreated, orderID)
	cancelled := orderEvent(t, enums.EventOrderCancelled, orderID)
	other := orderEvent(t, enums.EventOrderCreated, otherOrderID)

	repo := &fakeRepo{events: []models.OutboxEvent{created, other, cancelled}}
	pub := &fakePublisher{
		results: []publishResult{
			fakePublishResult{err: errors.New("transient")},
			fakePublishResult{},
		},
	}
	relay := newTestRelay(t, repo, pub, &fakeRegistry{resolved: ordersResolved()}, &fakeDLQRepo{}, nil)

	stats, err := relay.drain(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	want := batchStats{fetched: 3, published: 1, retried: 1, deferred: 1}
	if stats != want {
		t.Fatalf("unexpected stats %+v, want %+v", stats, want)
	}
	if len(repo.failed) != 1 || repo.failed[0] != created.ID {
		t.Fatalf("expected only the first order event marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != other.ID {
		t.Fatalf("expected the unrelated order published, got %v", repo.published)
	}
	if len(pub.messages) != 2 {
		t.Fatalf("cancelled event must not be sent ahead of created, sent %d", len(pub.messages))
	}
	if len(pub.resumed) != 1 || pub.resumed[0] != "order:"+orderID {
		t.Fatalf("expected ordering key resumed after failure, got %v", pub.resumed)
	}
}

func TestPublishSetsRoutingAttributesAndOrderingKey(t *testing.T) {
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentIntentPaid,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   ids.New(),
		Payload:       mustEnvelopePayload(t, "paid"),
		CreatedAt:     time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "commerce-events"},
		Payload:    &payloads.PaymentIntentEvent{},
	}
	relay := newTestRelay(t, repo, pub, &fakeRegistry{resolved: resolved}, &fakeDLQRepo{}, nil)
	relay.publishers = func(topic string) publisher {
		if topic != "commerce-events" {
			t.Fatalf("unexpected topic %q", topic)
		}
		return pub
	}

	if _, err := relay.drain(context.Background()); err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.OrderingKey != "payment_intent:"+event.AggregateID {
		t.Fatalf("unexpected ordering key %q", msg.OrderingKey)
	}
	attrs := msg.Attributes
	if attrs["event_type"] != "payment_intent_paid" {
		t.Fatalf("unexpected event_type %q", attrs["event_type"])
	}
	if attrs["aggregate_type"] != "payment_intent" || attrs["aggregate_id"] != event.AggregateID {
		t.Fatalf("unexpected aggregate attributes %+v", attrs)
	}
	if attrs["event_id"] != event.ID.String() {
		t.Fatalf("expected event_id to match outbox id, got %q", attrs["event_id"])
	}
	if attrs["created_at"] != "2026-04-01T08:00:00Z" {
		t.Fatalf("unexpected created_at %q", attrs["created_at"])
	}
	if !bytes.Equal(msg.Data, event.Payload) {
		t.Fatalf("expected envelope forwarded verbatim")
	}
	if len(repo.published) != 1 {
		t.Fatalf("expected published row recorded once, got %d", len(repo.published))
	}
	if len(pub.resumed) != 0 {
		t.Fatalf("successful publish must not resume, got %v", pub.resumed)
	}
}

func TestDrainDeadLettersWhenPublisherMissing(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventVoucherExpired,
		AggregateType: enums.AggregateVoucher,
		AggregateID:   ids.New(),
		Payload:       mustEnvelopePayload(t, "voucher"),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "missing-topic"},
		Payload:    &payloads.VoucherExpiredEvent{},
	}
	dlqRepo := &fakeDLQRepo{}
	relay := newTestRelay(t, repo, nil, &fakeRegistry{resolved: resolved}, dlqRepo, nil)
	relay.publishers = func(string) publisher { return nil }

	stats, err := relay.drain(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if stats.deadLettered != 1 {
		t.Fatalf("expected one dead-lettered row, got %+v", stats)
	}
	if len(dlqRepo.entries) != 1 || dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("expected a non-retryable dlq entry, got %+v", dlqRepo.entries)
	}
	if dlqRepo.entries[0].AggregateID != event.AggregateID {
		t.Fatalf("dlq aggregate id mismatch")
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("expected row marked terminal, got %v", repo.terminal)
	}
}

func TestDrainDeadLetterDoesNotBlockAggregate(t *testing.T) {
	orderID := ids.New()
	first := orderEvent(t, enums.EventOrderCreated, orderID)
	second := orderEvent(t, enums.EventOrderStatusChanged, orderID)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	reg := &fakeRegistry{
		resolved: ordersResolved(),
		failFor:  map[uuid.UUID]error{first.ID: registry.NewNonRetryableError(errors.New("invalid payload"))},
	}
	dlqRepo := &fakeDLQRepo{}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	relay := newTestRelay(t, repo, pub, reg, dlqRepo, nil)

	stats, err := relay.drain(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if stats.deadLettered != 1 || stats.published != 1 || stats.deferred != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != first.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if !bytes.Equal(entry.Payload, first.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if len(repo.published) != 1 || repo.published[0] != second.ID {
		t.Fatalf("expected the follow-up event published, got %v", repo.published)
	}
}

func TestDrainDeadLettersOnMaxAttempts(t *testing.T) {
	event := orderEvent(t, enums.EventOrderCreated, ids.New())
	event.AttemptCount = 1
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("transient")}}}
	dlqRepo := &fakeDLQRepo{}
	relay := newTestRelay(t, repo, pub, &fakeRegistry{resolved: ordersResolved()}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	stats, err := relay.drain(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if stats.deadLettered != 1 || stats.retried != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	if dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", dlqRepo.entries[0].ErrorReason)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal row must not be marked for retry")
	}
}

func TestDrainPropagatesBookkeepingErrors(t *testing.T) {
	event := orderEvent(t, enums.EventOrderCreated, ids.New())
	repo := &fakeRepo{events: []models.OutboxEvent{event}, markErr: errors.New("db down")}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	relay := newTestRelay(t, repo, pub, &fakeRegistry{resolved: ordersResolved()}, &fakeDLQRepo{}, nil)

	if _, err := relay.drain(context.Background()); err == nil {
		t.Fatalf("expected drain to fail so the transaction rolls back")
	}
}

func TestPollBackoffDoublesAndCaps(t *testing.T) {
	b := newPollBackoff(time.Second, 5*time.Second)
	if got := b.next(); got != 2*time.Second {
		t.Fatalf("unexpected first backoff %s", got)
	}
	if got := b.next(); got != 4*time.Second {
		t.Fatalf("unexpected second backoff %s", got)
	}
	if got := b.next(); got != 5*time.Second {
		t.Fatalf("expected cap, got %s", got)
	}
	b.reset()
	if got := b.next(); got != 2*time.Second {
		t.Fatalf("expected reset to restart, got %s", got)
	}
}

func TestNewRelayAppliesDefaults(t *testing.T) {
	relay := newTestRelay(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, &config.OutboxConfig{})
	if relay.batchSize != defaultBatchSize || relay.maxAttempts != defaultMaxAttempts || relay.interval != defaultPollInterval {
		t.Fatalf("unexpected defaults: batch=%d attempts=%d interval=%s", relay.batchSize, relay.maxAttempts, relay.interval)
	}

	if _, err := NewRelay(RelayParams{Logger: relay.logg}); err == nil {
		t.Fatalf("expected missing dependencies to be rejected")
	}
}

func newTestRelay(t *testing.T, repo outboxRepository, pub publisher, reg registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Relay {
	outboxCfg := config.OutboxConfig{
		BatchSize:      10,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	relay, err := NewRelay(RelayParams{
		Outbox:     outboxCfg,
		Logger:     logg,
		DB:         &fakeDB{},
		PubSub:     &fakePubSubClient{},
		Events:     repo,
		Registry:   reg,
		DLQ:        dlq,
		Publishers: func(_ string) publisher { return pub },
		Now:        func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("failed to construct relay: %v", err)
	}
	return relay
}

func orderEvent(tb testing.TB, eventType enums.OutboxEventType, orderID string) models.OutboxEvent {
	tb.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       mustEnvelopePayload(tb, string(eventType)+"-"+orderID),
	}
}

func ordersResolved() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "commerce-events",
			AggregateType: enums.AggregateOrder,
		},
		Payload: &payloads.OrderCreatedEvent{},
	}
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
	markErr   error
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error {
	return nil
}

func (f *fakePubSubClient) Publisher(name string) *gcppubsub.Publisher {
	return nil
}

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
	resumed  []string
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

func (f *fakePublisher) ResumePublish(orderingKey string) {
	f.resumed = append(f.resumed, orderingKey)
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	failFor  map[uuid.UUID]error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if err, ok := f.failFor[event.ID]; ok {
		return nil, err
	}
	if f.resolved == nil {
		return nil, registry.NewNonRetryableError(errors.New("unresolved"))
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
