package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/threadline/shopfront-backend/internal/analytics/types"
	pkgbigquery "github.com/threadline/shopfront-backend/pkg/bigquery"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second

	// row error reason BigQuery reports for a row that can never be stored.
	reasonInvalid = "invalid"
)

// Config controls the order event sink.
type Config struct {
	OrderEventsTable string
	BatchSize        int
	RetryPolicy      RetryPolicy
}

// RetryPolicy bounds streaming insert retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

// RejectedRowsError names events BigQuery refused as invalid. They are dropped
// from the buffer; retrying cannot store them.
type RejectedRowsError struct {
	Table    string
	EventIDs []string
}

func (e *RejectedRowsError) Error() string {
	return fmt.Sprintf("%s rejected %d rows: %s", e.Table, len(e.EventIDs), strings.Join(e.EventIDs, ","))
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []cbigquery.ValueSaver) error
}

// OrderEventSink buffers order_events rows and streams them to BigQuery.
// Safe for concurrent use by subscription callbacks.
type OrderEventSink struct {
	client    tableInserter
	table     string
	batchSize int
	retry     RetryPolicy

	mu     sync.Mutex
	buffer []types.OrderEventRow
}

// OrderEventsTable declares the order_events table, partitioned by day on occurred_at.
func OrderEventsTable(name string) pkgbigquery.TableSpec {
	return pkgbigquery.TableSpec{
		Name:           strings.TrimSpace(name),
		Schema:         types.OrderEventSchema,
		PartitionField: "occurred_at",
		Clustering:     []string{"event_type", "aggregate_type"},
	}
}

// New builds a sink on a shared BigQuery client.
func New(client *pkgbigquery.Client, cfg Config) (*OrderEventSink, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.OrderEventsTable)
	if table == "" {
		return nil, errors.New("order events table is required")
	}

	sink := &OrderEventSink{
		client:    client,
		table:     table,
		batchSize: cfg.BatchSize,
		retry:     cfg.RetryPolicy,
	}
	if sink.batchSize <= 0 {
		sink.batchSize = defaultBatchSize
	}
	if sink.retry.MaxAttempts <= 0 {
		sink.retry.MaxAttempts = defaultMaxAttempts
	}
	if sink.retry.InitialBackoff <= 0 {
		sink.retry.InitialBackoff = defaultInitialBackoff
	}
	if sink.retry.MaximumBackoff <= 0 {
		sink.retry.MaximumBackoff = defaultMaximumBackoff
	}
	if sink.retry.MaximumBackoff < sink.retry.InitialBackoff {
		sink.retry.MaximumBackoff = sink.retry.InitialBackoff
	}
	return sink, nil
}

// InsertOrderEvent buffers row and flushes once the batch is full. Rows
// already buffered under the same event id are ignored.
func (s *OrderEventSink) InsertOrderEvent(ctx context.Context, row types.OrderEventRow) error {
	if strings.TrimSpace(row.EventID) == "" {
		return errors.New("order event row requires an event id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, buffered := range s.buffer {
		if buffered.EventID == row.EventID {
			return nil
		}
	}
	s.buffer = append(s.buffer, row)
	if len(s.buffer) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

// Flush writes buffered rows immediately.
func (s *OrderEventSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Buffered reports rows waiting for a flush.
func (s *OrderEventSink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// flushLocked retries only the rows that failed. Rows still failing when the
// budget runs out stay buffered; invalid rows are dropped and reported.
func (s *OrderEventSink) flushLocked(ctx context.Context) error {
	pending := append([]types.OrderEventRow(nil), s.buffer...)
	pause := gax.Backoff{
		Initial:    s.retry.InitialBackoff,
		Max:        s.retry.MaximumBackoff,
		Multiplier: 2,
	}
	var rejected []string

	for attempt := 1; len(pending) > 0; attempt++ {
		err := s.client.InsertRows(ctx, s.table, savers(pending))
		if err == nil {
			break
		}

		outcome := classifyInsert(err, pending)
		rejected = append(rejected, outcome.rejected...)
		pending = outcome.retry
		if len(pending) == 0 {
			break
		}
		if outcome.permanent || attempt >= s.retry.MaxAttempts {
			s.buffer = pending
			return fmt.Errorf("insert %s: %d rows unsaved after %d attempts: %w", s.table, len(pending), attempt, err)
		}
		if err := gax.Sleep(ctx, pause.Pause()); err != nil {
			s.buffer = pending
			return err
		}
	}

	s.buffer = s.buffer[:0]
	if len(rejected) > 0 {
		return &RejectedRowsError{Table: s.table, EventIDs: rejected}
	}
	return nil
}

func savers(rows []types.OrderEventRow) []cbigquery.ValueSaver {
	out := make([]cbigquery.ValueSaver, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out
}

type insertOutcome struct {
	retry     []types.OrderEventRow
	rejected  []string
	permanent bool
}

// classifyInsert splits a failed insert into rows worth resending and rows
// BigQuery refused outright. Request-level failures apply to every row.
func classifyInsert(err error, pending []types.OrderEventRow) insertOutcome {
	var rowErrs cbigquery.PutMultiError
	if errors.As(err, &rowErrs) {
		var out insertOutcome
		for _, rowErr := range rowErrs {
			if rowErr.RowIndex < 0 || rowErr.RowIndex >= len(pending) {
				continue
			}
			row := pending[rowErr.RowIndex]
			if rowInvalid(rowErr.Errors) {
				out.rejected = append(out.rejected, row.EventID)
				continue
			}
			out.retry = append(out.retry, row)
		}
		return out
	}
	return insertOutcome{retry: pending, permanent: !requestRetryable(err)}
}

// rowInvalid reports a row rejected for its content. Rows stopped because a
// sibling was invalid are retried.
func rowInvalid(errs cbigquery.MultiError) bool {
	for _, err := range errs {
		var bqErr *cbigquery.Error
		if errors.As(err, &bqErr) && bqErr.Reason == reasonInvalid {
			return true
		}
	}
	return false
}

func requestRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout:
			return true
		default:
			return apiErr.Code >= http.StatusInternalServerError
		}
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}

// EncodeJSON renders payload for a BigQuery JSON column; empty input stays NULL.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	var raw []byte
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		marshaled, err := json.Marshal(payload)
		if err != nil {
			return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
		}
		raw = marshaled
	}
	if len(raw) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}, nil
}
