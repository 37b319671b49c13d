package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/threadline/shopfront-backend/internal/paymentintents"
	"github.com/threadline/shopfront-backend/pkg/logger"
)

type IntentExpiryJobParams struct {
	Logger  *logger.Logger
	Intents intentExpirer
}

type intentExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (paymentintents.ExpirySummary, error)
}

// NewIntentExpiryJob sweeps payment intents past expires_at that never produced an order.
func NewIntentExpiryJob(params IntentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("payment intent service required")
	}
	return &intentExpiryJob{
		logg:    params.Logger,
		intents: params.Intents,
		now:     time.Now,
	}, nil
}

type intentExpiryJob struct {
	logg    *logger.Logger
	intents intentExpirer
	now     func() time.Time
}

func (j *intentExpiryJob) Name() string { return "intent-expiry" }

func (j *intentExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	summary, err := j.intents.ExpireStale(ctx, now)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cancelled":     summary.Cancelled,
		"deleted":       summary.Deleted,
		"paid_unlinked": summary.PaidUnlinked,
	})
	if err != nil {
		return fmt.Errorf("intent expiry: %w", err)
	}
	if summary.PaidUnlinked > 0 {
		j.logg.Warn(logCtx, "captured intents expired without an order; manual refund review required")
	}
	j.logg.Info(logCtx, "intent expiry sweep complete")
	return nil
}
