package vouchers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	dbpkg "github.com/threadline/shopfront-backend/pkg/db"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/outbox"
	"github.com/threadline/shopfront-backend/pkg/outbox/payloads"
)

// Reasons carried in VOUCHER_INVALID details.
const (
	ReasonNotFound     = "not_found"
	ReasonInactive     = "inactive"
	ReasonExpired      = "expired"
	ReasonDepleted     = "depleted"
	ReasonBelowMinimum = "below_minimum"
)

const expirySweepBatch = 200

var hundred = decimal.NewFromInt(100)

// Outcome is a validated voucher application against an order amount.
type Outcome struct {
	VoucherID string
	Code      string
	Discount  int64
}

// Preview is returned to shoppers trying a code before checkout.
type Preview struct {
	Code       string `json:"code"`
	Discount   int64  `json:"discount"`
	FinalPrice int64  `json:"finalPrice"`
}

// CreateInput describes a new voucher.
type CreateInput struct {
	Code            string
	Description     string
	DiscountPercent decimal.Decimal
	MaxDiscount     int64
	MinOrderValue   int64
	Quantity        int
	ExpiredAt       time.Time
	Active          *bool
}

// UpdateInput carries a partial voucher update; nil fields are left untouched.
type UpdateInput struct {
	Description     *string
	DiscountPercent *decimal.Decimal
	MaxDiscount     *int64
	MinOrderValue   *int64
	Quantity        *int
	ExpiredAt       *time.Time
	Active          *bool
}

// Service is the voucher engine.
type Service interface {
	Validate(ctx context.Context, code string, originalAmount int64) (*Outcome, error)
	ValidateByID(ctx context.Context, id string, originalAmount int64) (*Outcome, error)
	// Resolve validates by id when given, else by code. It returns nil when neither is set.
	Resolve(ctx context.Context, id, code string, originalAmount int64) (*Outcome, error)
	// Consume takes one redemption inside the checkout transaction.
	Consume(ctx context.Context, tx *gorm.DB, id string) error
	// Restore gives one redemption back. Callers must gate it on a transition that fires once.
	Restore(ctx context.Context, tx *gorm.DB, id string) error
	Preview(ctx context.Context, code string, totalAmount int64) (*Preview, error)
	List(ctx context.Context, activeOnly bool) ([]models.Voucher, error)
	Create(ctx context.Context, input CreateInput) (*models.Voucher, error)
	Update(ctx context.Context, id string, input UpdateInput) (*models.Voucher, error)
	Delete(ctx context.Context, id string) error
	DisableExpired(ctx context.Context, now time.Time) (int, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo    Repository
	tx      txRunner
	emitter outbox.Emitter
	logg    *logger.Logger
	now     func() time.Time
}

// NewService wires the voucher engine.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("voucher repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		emitter: emitter,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// NormalizeCode returns the canonical uppercase form of a voucher code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ComputeDiscount returns min(floor(amount * percent / 100), maxDiscount).
func ComputeDiscount(voucher models.Voucher, originalAmount int64) int64 {
	if originalAmount <= 0 || !voucher.DiscountPercent.IsPositive() {
		return 0
	}
	raw := decimal.NewFromInt(originalAmount).
		Mul(voucher.DiscountPercent).
		Div(hundred).
		Floor().
		IntPart()
	if raw > voucher.MaxDiscount {
		return voucher.MaxDiscount
	}
	return raw
}

func (s *service) Validate(ctx context.Context, code string, originalAmount int64) (*Outcome, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, invalid(ReasonNotFound, "voucher code required")
	}
	voucher, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return s.evaluate(*voucher, originalAmount)
}

func (s *service) ValidateByID(ctx context.Context, id string, originalAmount int64) (*Outcome, error) {
	voucher, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return s.evaluate(*voucher, originalAmount)
}

func (s *service) Resolve(ctx context.Context, id, code string, originalAmount int64) (*Outcome, error) {
	switch {
	case strings.TrimSpace(id) != "":
		return s.ValidateByID(ctx, strings.TrimSpace(id), originalAmount)
	case strings.TrimSpace(code) != "":
		return s.Validate(ctx, code, originalAmount)
	}
	return nil, nil
}

func (s *service) evaluate(voucher models.Voucher, originalAmount int64) (*Outcome, error) {
	switch {
	case !voucher.Active:
		return nil, invalid(ReasonInactive, "voucher is inactive")
	case voucher.ExpiredAt.Before(s.now()):
		return nil, invalid(ReasonExpired, "voucher has expired")
	case originalAmount < voucher.MinOrderValue:
		return nil, pkgerrors.New(pkgerrors.CodeVoucherInvalid, "order is below the voucher minimum").
			WithDetails(map[string]any{
				"reason":        ReasonBelowMinimum,
				"minOrderValue": voucher.MinOrderValue,
			})
	case voucher.Quantity <= 0:
		return nil, invalid(ReasonDepleted, "voucher has no redemptions left")
	}
	return &Outcome{
		VoucherID: voucher.ID,
		Code:      voucher.Code,
		Discount:  ComputeDiscount(voucher, originalAmount),
	}, nil
}

func (s *service) Consume(ctx context.Context, tx *gorm.DB, id string) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	rows, err := s.repo.WithTx(tx).Consume(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume voucher")
	}
	if rows == 0 {
		return invalid(ReasonDepleted, "voucher has no redemptions left")
	}
	return nil
}

func (s *service) Restore(ctx context.Context, tx *gorm.DB, id string) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	rows, err := s.repo.WithTx(tx).Restore(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore voucher")
	}
	if rows == 0 && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "voucher_id", id), "voucher restore skipped: voucher no longer exists")
	}
	return nil
}

func (s *service) Preview(ctx context.Context, code string, totalAmount int64) (*Preview, error) {
	if totalAmount < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "totalAmount must not be negative")
	}
	outcome, err := s.Validate(ctx, code, totalAmount)
	if err != nil {
		return nil, err
	}
	return &Preview{
		Code:       outcome.Code,
		Discount:   outcome.Discount,
		FinalPrice: totalAmount - outcome.Discount,
	}, nil
}

func (s *service) List(ctx context.Context, activeOnly bool) ([]models.Voucher, error) {
	vouchers, err := s.repo.List(ctx, ListFilter{ActiveOnly: activeOnly, Now: s.now()})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vouchers")
	}
	return vouchers, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Voucher, error) {
	code := NormalizeCode(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "code is required")
	}
	if err := validateTerms(input.DiscountPercent, input.MaxDiscount, input.MinOrderValue, input.Quantity); err != nil {
		return nil, err
	}
	if input.ExpiredAt.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expiredAt is required")
	}

	active := true
	if input.Active != nil {
		active = *input.Active
	}
	voucher := &models.Voucher{
		Code:            code,
		Description:     strings.TrimSpace(input.Description),
		DiscountPercent: input.DiscountPercent,
		MaxDiscount:     input.MaxDiscount,
		MinOrderValue:   input.MinOrderValue,
		Quantity:        input.Quantity,
		ExpiredAt:       input.ExpiredAt.UTC(),
		Active:          active,
	}
	if err := s.repo.Create(ctx, voucher); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "voucher code already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create voucher")
	}
	return voucher, nil
}

func (s *service) Update(ctx context.Context, id string, input UpdateInput) (*models.Voucher, error) {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapAdminLookupErr(err)
	}

	percent := current.DiscountPercent
	maxDiscount := current.MaxDiscount
	minOrder := current.MinOrderValue
	quantity := current.Quantity
	updates := map[string]any{}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
	}
	if input.DiscountPercent != nil {
		percent = *input.DiscountPercent
		updates["discount_percent"] = percent
	}
	if input.MaxDiscount != nil {
		maxDiscount = *input.MaxDiscount
		updates["max_discount"] = maxDiscount
	}
	if input.MinOrderValue != nil {
		minOrder = *input.MinOrderValue
		updates["min_order_value"] = minOrder
	}
	if input.Quantity != nil {
		quantity = *input.Quantity
		updates["quantity"] = quantity
	}
	if input.ExpiredAt != nil {
		updates["expired_at"] = input.ExpiredAt.UTC()
	}
	if input.Active != nil {
		updates["active"] = *input.Active
	}
	if err := validateTerms(percent, maxDiscount, minOrder, quantity); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return current, nil
	}

	if _, err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update voucher")
	}
	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapAdminLookupErr(err)
	}
	return updated, nil
}

func (s *service) Delete(ctx context.Context, id string) error {
	rows, err := s.repo.Delete(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete voucher")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
	}
	return nil
}

// DisableExpired deactivates active vouchers past expiry and emits voucher_expired once per voucher.
func (s *service) DisableExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.ListExpiredActive(ctx, now, expirySweepBatch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired vouchers")
	}

	var (
		disabled int
		errs     error
	)
	for _, voucher := range expired {
		flipped := false
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			rows, err := s.repo.WithTx(tx).Deactivate(ctx, voucher.ID, now)
			if err != nil || rows == 0 {
				return err
			}
			flipped = true
			return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventVoucherExpired,
				AggregateType: enums.AggregateVoucher,
				AggregateID:   voucher.ID,
				Data: payloads.VoucherExpiredEvent{
					VoucherID: voucher.ID,
					Code:      voucher.Code,
					ExpiredAt: voucher.ExpiredAt,
					Remaining: voucher.Quantity,
				},
			})
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("disable voucher %s: %w", voucher.ID, err))
			continue
		}
		if flipped {
			disabled++
		}
	}
	return disabled, errs
}

func validateTerms(percent decimal.Decimal, maxDiscount, minOrderValue int64, quantity int) error {
	switch {
	case !percent.IsPositive() || percent.GreaterThan(hundred):
		return pkgerrors.New(pkgerrors.CodeValidation, "discountPercent must be within (0, 100]")
	case maxDiscount < 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "maxDiscount must not be negative")
	case minOrderValue < 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "minOrderValue must not be negative")
	case quantity < 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	return nil
}

func invalid(reason, message string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeVoucherInvalid, message).
		WithDetails(map[string]any{"reason": reason})
}

func mapLookupErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return invalid(ReasonNotFound, "voucher not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load voucher")
}

func mapAdminLookupErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load voucher")
}
