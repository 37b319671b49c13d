package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// OrderEventRow mirrors the order_events BigQuery schema. Amounts are whole VND.
type OrderEventRow struct {
	EventID        string             `bigquery:"event_id"`
	EventType      string             `bigquery:"event_type"`
	AggregateType  string             `bigquery:"aggregate_type"`
	AggregateID    string             `bigquery:"aggregate_id"`
	OccurredAt     time.Time          `bigquery:"occurred_at"`
	OrderID        *string            `bigquery:"order_id"`
	IntentID       *string            `bigquery:"intent_id"`
	VoucherID      *string            `bigquery:"voucher_id"`
	UserID         *string            `bigquery:"user_id"`
	PaymentMethod  *string            `bigquery:"payment_method"`
	Status         *string            `bigquery:"status"`
	PaymentStatus  *string            `bigquery:"payment_status"`
	GrossAmount    *int64             `bigquery:"gross_amount"`
	DiscountAmount *int64             `bigquery:"discount_amount"`
	RefundAmount   *int64             `bigquery:"refund_amount"`
	ItemCount      *int64             `bigquery:"item_count"`
	Reason         *string            `bigquery:"reason"`
	Payload        cbigquery.NullJSON `bigquery:"payload"`
}

// OrderEventSchema is the order_events table layout.
var OrderEventSchema = cbigquery.Schema{
	{Name: "event_id", Type: cbigquery.StringFieldType, Required: true},
	{Name: "event_type", Type: cbigquery.StringFieldType, Required: true},
	{Name: "aggregate_type", Type: cbigquery.StringFieldType, Required: true},
	{Name: "aggregate_id", Type: cbigquery.StringFieldType, Required: true},
	{Name: "occurred_at", Type: cbigquery.TimestampFieldType, Required: true},
	{Name: "order_id", Type: cbigquery.StringFieldType},
	{Name: "intent_id", Type: cbigquery.StringFieldType},
	{Name: "voucher_id", Type: cbigquery.StringFieldType},
	{Name: "user_id", Type: cbigquery.StringFieldType},
	{Name: "payment_method", Type: cbigquery.StringFieldType},
	{Name: "status", Type: cbigquery.StringFieldType},
	{Name: "payment_status", Type: cbigquery.StringFieldType},
	{Name: "gross_amount", Type: cbigquery.IntegerFieldType},
	{Name: "discount_amount", Type: cbigquery.IntegerFieldType},
	{Name: "refund_amount", Type: cbigquery.IntegerFieldType},
	{Name: "item_count", Type: cbigquery.IntegerFieldType},
	{Name: "reason", Type: cbigquery.StringFieldType},
	{Name: "payload", Type: cbigquery.JSONFieldType},
}

// Save implements bigquery.ValueSaver. The event id is the insert id, so a
// redelivered event streamed twice is deduplicated by BigQuery.
func (r *OrderEventRow) Save() (map[string]cbigquery.Value, string, error) {
	row := map[string]cbigquery.Value{
		"event_id":        r.EventID,
		"event_type":      r.EventType,
		"aggregate_type":  r.AggregateType,
		"aggregate_id":    r.AggregateID,
		"occurred_at":     r.OccurredAt.UTC(),
		"order_id":        nullable(r.OrderID),
		"intent_id":       nullable(r.IntentID),
		"voucher_id":      nullable(r.VoucherID),
		"user_id":         nullable(r.UserID),
		"payment_method":  nullable(r.PaymentMethod),
		"status":          nullable(r.Status),
		"payment_status":  nullable(r.PaymentStatus),
		"gross_amount":    nullable(r.GrossAmount),
		"discount_amount": nullable(r.DiscountAmount),
		"refund_amount":   nullable(r.RefundAmount),
		"item_count":      nullable(r.ItemCount),
		"reason":          nullable(r.Reason),
		"payload":         nil,
	}
	if r.Payload.Valid {
		row["payload"] = r.Payload.JSONVal
	}
	return row, r.EventID, nil
}

func nullable[T any](v *T) cbigquery.Value {
	if v == nil {
		return nil
	}
	return *v
}
