package paymentintents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/internal/pricing"
	"github.com/threadline/shopfront-backend/internal/vouchers"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/outbox"
	"github.com/threadline/shopfront-backend/pkg/types"
)

const expirySweepBatch = 200

// Settings carries the commercial constants applied at creation.
type Settings struct {
	ShippingFee int64
	TTL         time.Duration
}

// CreateInput is the checkout request staged into an intent.
type CreateInput struct {
	PaymentMethod   enums.PaymentMethod
	ShippingAddress types.ShippingAddress
	VoucherID       string
	VoucherCode     string
	SelectedItemIDs []string
}

// View is an intent as seen by its owner.
type View struct {
	Intent  *models.PaymentIntent
	Expired bool
}

// CancelResult reports a cancelled intent and whether captured money must be refunded by hand.
type CancelResult struct {
	Intent         *models.PaymentIntent
	RequiresRefund bool
}

// ExpirySummary counts what one expiry sweep did.
type ExpirySummary struct {
	Cancelled    int
	Deleted      int
	PaidUnlinked int // expired without an order but holding a capture; kept for refund review
}

// Service is the payment intent manager.
type Service interface {
	Create(ctx context.Context, userID string, input CreateInput) (*models.PaymentIntent, error)
	Get(ctx context.Context, userID, id string) (*View, error)
	Cancel(ctx context.Context, userID, id string) (*CancelResult, error)
	ExpireStale(ctx context.Context, now time.Time) (ExpirySummary, error)
}

type cartResolver interface {
	Resolve(ctx context.Context, userID string, selectedIDs []string) (types.LineItems, error)
}

type voucherEngine interface {
	Resolve(ctx context.Context, id, code string, originalAmount int64) (*vouchers.Outcome, error)
	Consume(ctx context.Context, tx *gorm.DB, id string) error
	Restore(ctx context.Context, tx *gorm.DB, id string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo     Repository
	cart     cartResolver
	vouchers voucherEngine
	tx       txRunner
	emitter  outbox.Emitter
	logg     *logger.Logger
	settings Settings
	now      func() time.Time
}

// ServiceParams groups the collaborators of the intent manager.
type ServiceParams struct {
	Repo     Repository
	Cart     cartResolver
	Vouchers voucherEngine
	Tx       txRunner
	Emitter  outbox.Emitter
	Logger   *logger.Logger
	Settings Settings
}

// NewService builds the payment intent manager.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payment intent repository required")
	}
	if params.Cart == nil {
		return nil, fmt.Errorf("cart resolver required")
	}
	if params.Vouchers == nil {
		return nil, fmt.Errorf("voucher engine required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Settings.TTL <= 0 {
		return nil, fmt.Errorf("intent ttl must be positive")
	}
	return &service{
		repo:     params.Repo,
		cart:     params.Cart,
		vouchers: params.Vouchers,
		tx:       params.Tx,
		emitter:  params.Emitter,
		logg:     params.Logger,
		settings: params.Settings,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, userID string, input CreateInput) (*models.PaymentIntent, error) {
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	if strings.TrimSpace(input.ShippingAddress.FullName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required")
	}

	lines, err := s.cart.Resolve(ctx, userID, input.SelectedItemIDs)
	if err != nil {
		return nil, err
	}
	original, err := pricing.Price(lines, nil, 0)
	if err != nil {
		return nil, err
	}
	outcome, err := s.vouchers.Resolve(ctx, input.VoucherID, input.VoucherCode, original.OriginalAmount)
	if err != nil {
		return nil, err
	}
	quote, err := pricing.Price(lines, outcome, s.settings.ShippingFee)
	if err != nil {
		return nil, err
	}

	now := s.now()
	intent := &models.PaymentIntent{
		UserID:          userID,
		Items:           lines,
		Discount:        quote.Discount,
		ShippingFee:     quote.ShippingFee,
		OriginalAmount:  quote.OriginalAmount,
		TotalAmount:     quote.TotalAmount,
		PaymentMethod:   input.PaymentMethod,
		PaymentStatus:   enums.PaymentStatusPending,
		ShippingAddress: input.ShippingAddress,
		ExpiresAt:       now.Add(s.settings.TTL),
	}
	if outcome != nil {
		intent.VoucherID = &outcome.VoucherID
		intent.VoucherCode = &outcome.Code
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if outcome != nil {
			if err := s.vouchers.Consume(ctx, tx, outcome.VoucherID); err != nil {
				return err
			}
		}
		if err := s.repo.WithTx(tx).Create(ctx, intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
		}
		return s.emitter.Emit(ctx, tx, Event(intent, enums.EventPaymentIntentCreated, customer(userID)))
	})
	if err != nil {
		return nil, err
	}

	s.info(ctx, intent, "payment intent created")
	return intent, nil
}

func (s *service) Get(ctx context.Context, userID, id string) (*View, error) {
	intent, err := s.load(ctx, s.repo, userID, id)
	if err != nil {
		return nil, err
	}
	return &View{Intent: intent, Expired: intent.IsExpired(s.now())}, nil
}

func (s *service) Cancel(ctx context.Context, userID, id string) (*CancelResult, error) {
	var result *CancelResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		intent, err := s.load(ctx, repo, userID, id)
		if err != nil {
			return err
		}
		if intent.HasOrder() {
			return pkgerrors.New(pkgerrors.CodeForbidden, "intent already settled into an order")
		}
		if intent.PaymentStatus == enums.PaymentStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "intent already cancelled")
		}
		if intent.IsExpired(s.now()) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "intent has expired")
		}

		rows, err := repo.MarkCancelled(ctx, intent.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel payment intent")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "intent can no longer be cancelled")
		}
		if intent.VoucherID != nil {
			if err := s.vouchers.Restore(ctx, tx, *intent.VoucherID); err != nil {
				return err
			}
		}

		captured := intent.PaymentStatus == enums.PaymentStatusPaid && intent.ProviderTransactionNo != nil
		intent.PaymentStatus = enums.PaymentStatusCancelled
		actor := customer(userID)
		if err := s.emitter.Emit(ctx, tx, Event(intent, enums.EventPaymentIntentCancelled, actor)); err != nil {
			return err
		}
		if captured {
			if err := s.emitter.EmitIfNotExists(ctx, tx, RefundRequiredEvent(intent, "intent cancelled after capture", actor)); err != nil {
				return err
			}
		}
		result = &CancelResult{Intent: intent, RequiresRefund: captured}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.RequiresRefund {
		s.warn(ctx, result.Intent, "payment intent cancelled after capture; manual refund required")
	} else {
		s.info(ctx, result.Intent, "payment intent cancelled")
	}
	return result, nil
}

// ExpireStale cancels and removes expired intents that never produced an order.
// Intents holding a captured payment stay in place for refund review.
func (s *service) ExpireStale(ctx context.Context, now time.Time) (ExpirySummary, error) {
	var summary ExpirySummary
	held, err := s.repo.CountHeldForRefund(ctx, now)
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count captured intents")
	}
	summary.PaidUnlinked = int(held)

	expired, err := s.repo.ListExpired(ctx, now, expirySweepBatch)
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired intents")
	}

	var errs error
	for i := range expired {
		intent := &expired[i]
		if intent.PaymentStatus == enums.PaymentStatusPaid || intent.ProviderTransactionNo != nil {
			continue
		}

		var cancelled, deleted bool
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			rows, err := repo.MarkCancelled(ctx, intent.ID)
			if err != nil {
				return err
			}
			if rows == 1 {
				cancelled = true
				if intent.VoucherID != nil {
					if err := s.vouchers.Restore(ctx, tx, *intent.VoucherID); err != nil {
						return err
					}
				}
			}
			rows, err = repo.DeleteUnlinked(ctx, intent.ID)
			if err != nil {
				return err
			}
			deleted = rows == 1
			return nil
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire intent %s: %w", intent.ID, err))
			continue
		}
		if cancelled {
			summary.Cancelled++
		}
		if deleted {
			summary.Deleted++
		}
	}
	return summary, errs
}

func (s *service) load(ctx context.Context, repo Repository, userID, id string) (*models.PaymentIntent, error) {
	intent, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
	}
	if intent.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment intent belongs to another user")
	}
	return intent, nil
}

func (s *service) info(ctx context.Context, intent *models.PaymentIntent, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.fields(ctx, intent), msg)
}

func (s *service) warn(ctx context.Context, intent *models.PaymentIntent, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.fields(ctx, intent), msg)
}

func (s *service) fields(ctx context.Context, intent *models.PaymentIntent) context.Context {
	ctx = s.logg.WithIntentID(ctx, intent.ID)
	return s.logg.WithFields(ctx, map[string]any{
		"user_id":        intent.UserID,
		"payment_method": intent.PaymentMethod,
		"payment_status": intent.PaymentStatus,
		"total_amount":   intent.TotalAmount,
	})
}
