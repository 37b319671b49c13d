package router

import (
	"fmt"
	"time"

	"github.com/threadline/shopfront-backend/internal/analytics/types"
	analyticswriter "github.com/threadline/shopfront-backend/internal/analytics/writer"
)

// baseRow fills the envelope columns and the raw payload shared by every row.
func baseRow(envelope types.Envelope, payload any) (types.OrderEventRow, error) {
	payloadJSON, err := analyticswriter.EncodeJSON(payload)
	if err != nil {
		return types.OrderEventRow{}, fmt.Errorf("encode payload json: %w", err)
	}

	occurred := envelope.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	return types.OrderEventRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		AggregateType: string(envelope.AggregateType),
		AggregateID:   envelope.AggregateID,
		OccurredAt:    occurred.UTC(),
		Payload:       payloadJSON,
	}, nil
}
