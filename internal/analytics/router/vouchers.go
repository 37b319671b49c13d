package router

import (
	"context"
	"fmt"

	"github.com/threadline/shopfront-backend/internal/analytics/types"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/outbox/payloads"
)

type voucherExpiredHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newVoucherExpiredHandler(writer Writer, logg *logger.Logger) Handler {
	return &voucherExpiredHandler{writer: writer, logg: logg}
}

func (h *voucherExpiredHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.VoucherExpiredEvent)
	if !ok {
		return fmt.Errorf("invalid payload for voucher_expired")
	}

	fields := map[string]any{
		"event_type": envelope.EventType,
		"voucher_id": event.VoucherID,
		"code":       event.Code,
	}
	return insert(ctx, h.writer, h.logg, fields, func() (types.OrderEventRow, error) {
		row, err := baseRow(envelope, event)
		if err != nil {
			return row, err
		}
		if !event.ExpiredAt.IsZero() {
			row.OccurredAt = event.ExpiredAt.UTC()
		}
		row.VoucherID = stringPtr(event.VoucherID)
		row.Reason = stringPtr(event.Code)
		return row, nil
	})
}
