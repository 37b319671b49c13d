package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/threadline/shopfront-backend/pkg/logger"
)

type VoucherExpiryJobParams struct {
	Logger   *logger.Logger
	Vouchers voucherExpirer
}

type voucherExpirer interface {
	DisableExpired(ctx context.Context, now time.Time) (int, error)
}

func NewVoucherExpiryJob(params VoucherExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Vouchers == nil {
		return nil, fmt.Errorf("voucher service required")
	}
	return &voucherExpiryJob{
		logg:     params.Logger,
		vouchers: params.Vouchers,
		now:      time.Now,
	}, nil
}

type voucherExpiryJob struct {
	logg     *logger.Logger
	vouchers voucherExpirer
	now      func() time.Time
}

func (j *voucherExpiryJob) Name() string { return "voucher-expiry" }

func (j *voucherExpiryJob) Run(ctx context.Context) error {
	disabled, err := j.vouchers.DisableExpired(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("voucher expiry: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "vouchers_disabled", disabled), "voucher expiry sweep complete")
	return nil
}
