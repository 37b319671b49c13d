package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/config"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	// ResumePublish unblocks an ordering key after a failed publish.
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// RelayParams wires the outbox relay.
type RelayParams struct {
	Outbox     config.OutboxConfig
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Events     outboxRepository
	Registry   registryResolver
	DLQ        dlqRepository
	Publishers publisherFactory
	Now        func() time.Time
}

// Relay moves committed outbox rows onto Pub/Sub. Events of one aggregate are
// published in commit order: the aggregate id is the ordering key and an
// aggregate whose publish failed is deferred for the rest of the batch.
type Relay struct {
	logg        *logger.Logger
	db          dbClient
	pubsub      pubSubClient
	events      outboxRepository
	registry    registryResolver
	dlq         dlqRepository
	publishers  publisherFactory
	now         func() time.Time
	batchSize   int
	maxAttempts int
	interval    time.Duration
}

type relayOutcome int

const (
	outcomePublished relayOutcome = iota
	outcomeRetry
	outcomeDeadLettered
)

// batchStats counts what one drain did.
type batchStats struct {
	fetched      int
	published    int
	retried      int
	deadLettered int
	deferred     int
}

func (b batchStats) fields() map[string]any {
	return map[string]any{
		"fetched":       b.fetched,
		"published":     b.published,
		"retried":       b.retried,
		"dead_lettered": b.deadLettered,
		"deferred":      b.deferred,
	}
}

// NewRelay validates params and applies publisher defaults.
func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Events == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	}

	r := &Relay{
		logg:        params.Logger,
		db:          params.DB,
		pubsub:      params.PubSub,
		events:      params.Events,
		registry:    params.Registry,
		dlq:         params.DLQ,
		publishers:  params.Publishers,
		now:         params.Now,
		batchSize:   params.Outbox.BatchSize,
		maxAttempts: params.Outbox.MaxAttempts,
		interval:    time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if r.publishers == nil {
		r.publishers = r.orderedPublisher
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.interval <= 0 {
		r.interval = defaultPollInterval
	}
	return r, nil
}

func (r *Relay) orderedPublisher(topic string) publisher {
	p := r.pubsub.Publisher(topic)
	if p == nil {
		return nil
	}
	if !p.EnableMessageOrdering {
		p.EnableMessageOrdering = true
	}
	return &gcpPublisher{Publisher: p}
}

// Run drains the outbox until ctx is cancelled. An empty or failed drain
// waits; a full one loops immediately.
func (r *Relay) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": r.db.Ping, "pubsub": r.pubsub.Ping} {
		if err := ping(ctx); err != nil {
			r.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	wait := newPollBackoff(r.interval, maxIdleBackoff)
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay context canceled")
			return err
		}

		stats, err := r.drain(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch error", err)
			if err := sleep(ctx, withJitter(wait.next())); err != nil {
				return err
			}
		case stats.fetched == 0:
			wait.reset()
			if err := sleep(ctx, withJitter(r.interval)); err != nil {
				return err
			}
		default:
			wait.reset()
			r.logg.Info(r.logg.WithFields(ctx, stats.fields()), "outbox batch relayed")
		}
	}
}

// drain relays one locked batch inside a single transaction.
func (r *Relay) drain(ctx context.Context) (batchStats, error) {
	var stats batchStats
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		stats = batchStats{}
		rows, err := r.events.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		stats.fetched = len(rows)

		blocked := map[string]bool{}
		for _, event := range rows {
			key := orderingKey(event)
			if blocked[key] {
				stats.deferred++
				continue
			}
			outcome, err := r.relay(ctx, tx, event)
			if err != nil {
				return err
			}
			switch outcome {
			case outcomePublished:
				stats.published++
			case outcomeRetry:
				stats.retried++
				blocked[key] = true
			case outcomeDeadLettered:
				stats.deadLettered++
			}
		}
		return nil
	})
	return stats, err
}

// relay publishes one row and records its fate; the error is reserved for bookkeeping failures.
func (r *Relay) relay(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (relayOutcome, error) {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"attempt_count":  event.AttemptCount,
	})

	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return outcomeDeadLettered, r.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}
	logCtx = r.logg.WithField(logCtx, "topic", resolved.Descriptor.Topic)

	err = r.publish(ctx, event, resolved.Descriptor.Topic)
	if err == nil {
		if err := r.events.MarkPublishedTx(tx, event.ID); err != nil {
			return outcomePublished, fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.logg.Info(logCtx, "outbox event published")
		return outcomePublished, nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return outcomeDeadLettered, r.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}
	if event.AttemptCount+1 >= r.maxAttempts {
		err = fmt.Errorf("max publish attempts reached: %w", err)
		return outcomeDeadLettered, r.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonMaxAttempts, err)
	}

	r.logg.Warn(r.logg.WithField(logCtx, "error", err.Error()), "outbox publish failed; will retry")
	if err := r.events.MarkFailedTx(tx, event.ID, err); err != nil {
		return outcomeRetry, fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return outcomeRetry, nil
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, topic string) error {
	pub := r.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	key := orderingKey(event)
	msg := &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: key,
		Attributes: map[string]string{
			"event_id":       event.ID.String(),
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID,
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	if _, err := result.Get(publishCtx); err != nil {
		pub.ResumePublish(key)
		return err
	}
	return nil
}

// deadLetter parks the row in the DLQ and stops retrying it.
func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	logCtx := r.logg.WithFields(ctx, map[string]any{"error_reason": reason, "error": cause.Error()})
	r.logg.Warn(logCtx, "outbox event dead-lettered")

	message := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  event.AttemptCount,
		FailedAt:      r.now().UTC(),
	}
	if err := r.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := r.events.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

// orderingKey groups the events of one order or intent.
func orderingKey(event models.OutboxEvent) string {
	return string(event.AggregateType) + ":" + event.AggregateID
}

// pollBackoff doubles the wait after each failed drain up to max.
type pollBackoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func newPollBackoff(base, ceiling time.Duration) *pollBackoff {
	return &pollBackoff{base: base, max: ceiling}
}

func (b *pollBackoff) next() time.Duration {
	if b.current <= 0 {
		b.current = b.base
	}
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

func (b *pollBackoff) reset() {
	b.current = 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
