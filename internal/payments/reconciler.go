package payments

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/internal/paymentintents"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/metrics"
	"github.com/threadline/shopfront-backend/pkg/outbox"
	"github.com/threadline/shopfront-backend/pkg/types"
	"github.com/threadline/shopfront-backend/pkg/vnpay"
)

// Channels a gateway result can arrive on.
const (
	ChannelCallback = "callback"
	ChannelIPN      = "ipn"
)

const (
	refundReasonCancelled = "captured_after_cancel"
	refundReasonExpired   = "captured_after_expiry"
)

// Reconciliation describes what one gateway notification did to its intent.
type Reconciliation struct {
	IntentID         string
	TxnRef           string
	ResponseCode     string
	Success          bool
	AlreadyProcessed bool
	RefundRequired   bool
	Intent           *models.PaymentIntent
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ReconcilerParams groups the reconciler collaborators.
type ReconcilerParams struct {
	Intents paymentintents.Repository
	Gateway Gateway
	Tx      txRunner
	Emitter outbox.Emitter
	Logger  *logger.Logger
	Metrics *metrics.CheckoutMetrics
}

// Reconciler applies verified gateway results to payment intents. It never
// creates orders; settlement is always requested by the client afterwards.
type Reconciler struct {
	intents paymentintents.Repository
	gateway Gateway
	tx      txRunner
	emitter outbox.Emitter
	logg    *logger.Logger
	metrics *metrics.CheckoutMetrics
	now     func() time.Time
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	switch {
	case params.Intents == nil:
		return nil, fmt.Errorf("payment intent repository required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("vnpay gateway required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Emitter == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &Reconciler{
		intents: params.Intents,
		gateway: params.Gateway,
		tx:      params.Tx,
		emitter: params.Emitter,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Reconcile verifies params and records the outcome on the correlated intent.
// Browser callbacks and IPN calls for the same transaction are both safe to replay.
func (r *Reconciler) Reconcile(ctx context.Context, channel string, params url.Values) (*Reconciliation, error) {
	rec, err := r.reconcile(ctx, params)
	r.metrics.IncReconciliation(channel, reconcileOutcome(rec, err))
	if err != nil {
		if r.logg != nil {
			logCtx := r.logg.WithFields(ctx, map[string]any{
				"channel":    channel,
				"txn_ref":    params.Get("vnp_TxnRef"),
				"order_info": params.Get("vnp_OrderInfo"),
			})
			r.logg.Warn(logCtx, "gateway result rejected: "+err.Error())
		}
		return nil, err
	}
	if r.logg != nil {
		logCtx := r.logg.WithIntentID(ctx, rec.IntentID)
		logCtx = r.logg.WithFields(logCtx, map[string]any{
			"channel":           channel,
			"txn_ref":           rec.TxnRef,
			"response_code":     rec.ResponseCode,
			"success":           rec.Success,
			"already_processed": rec.AlreadyProcessed,
			"refund_required":   rec.RefundRequired,
		})
		r.logg.Info(logCtx, "gateway outcome recorded")
	}
	return rec, nil
}

func (r *Reconciler) reconcile(ctx context.Context, params url.Values) (*Reconciliation, error) {
	if !r.gateway.Verify(params) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid gateway signature")
	}
	result := vnpay.ParseResult(params)
	intentID, err := vnpay.ExtractIntentID(result.OrderInfo)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedToken, err, "invalid intent id")
	}

	rec := &Reconciliation{
		IntentID:     intentID,
		TxnRef:       result.TxnRef,
		ResponseCode: result.ResponseCode,
		Success:      result.Success(),
	}
	outcome := paymentintents.GatewayOutcome{
		Status:                enums.PaymentStatusFailed,
		TransactionRef:        result.TxnRef,
		ProviderTransactionNo: result.TransactionNo,
		ResponseCode:          result.ResponseCode,
		BankCode:              result.BankCode,
		CardType:              result.CardType,
		Payload:               types.GatewayPayload(result.Raw),
	}
	if rec.Success {
		outcome.Status = enums.PaymentStatusPaid
		paidAt := r.now()
		if result.PayDate != nil {
			paidAt = *result.PayDate
		}
		outcome.PaidAt = &paidAt
	}

	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.intents.WithTx(tx)
		intent, err := loadIntent(ctx, repo, intentID)
		if err != nil {
			return err
		}
		rec.Intent = intent
		if rec.Success && result.Amount <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "successful payment carries no amount")
		}
		if rec.Success && result.Amount != intent.TotalAmount {
			return pkgerrors.New(pkgerrors.CodeValidation, "amount does not match payment intent").
				WithDetails(map[string]any{"expected": intent.TotalAmount, "received": result.Amount})
		}
		return r.apply(ctx, tx, repo, rec, outcome)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Reconciler) apply(ctx context.Context, tx *gorm.DB, repo paymentintents.Repository, rec *Reconciliation, outcome paymentintents.GatewayOutcome) error {
	intent := rec.Intent

	if intent.PaymentStatus == enums.PaymentStatusPaid {
		// never downgrade a captured payment
		rec.AlreadyProcessed = true
		return nil
	}

	dead := intent.PaymentStatus == enums.PaymentStatusCancelled || intent.IsExpired(r.now())
	if dead {
		if !rec.Success {
			rec.AlreadyProcessed = intent.PaymentStatus == enums.PaymentStatusCancelled
			if rec.AlreadyProcessed {
				return nil
			}
			return r.record(ctx, tx, repo, rec, outcome)
		}
		return r.audit(ctx, tx, repo, rec, outcome)
	}
	return r.record(ctx, tx, repo, rec, outcome)
}

func (r *Reconciler) record(ctx context.Context, tx *gorm.DB, repo paymentintents.Repository, rec *Reconciliation, outcome paymentintents.GatewayOutcome) error {
	rows, err := repo.RecordOutcome(ctx, rec.IntentID, outcome)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record gateway outcome")
	}
	if rows == 0 {
		current, err := loadIntent(ctx, repo, rec.IntentID)
		if err != nil {
			return err
		}
		rec.Intent = current
		if current.PaymentStatus == enums.PaymentStatusPaid || current.PaymentStatus == enums.PaymentStatusCancelled {
			rec.AlreadyProcessed = true
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment intent changed concurrently")
	}

	applyOutcome(rec.Intent, outcome)
	eventType := enums.EventPaymentIntentFailed
	if rec.Success {
		eventType = enums.EventPaymentIntentPaid
	}
	return r.emitter.Emit(ctx, tx, paymentintents.Event(rec.Intent, eventType, nil))
}

// audit keeps the provider metadata of money captured for an intent nobody can settle anymore.
func (r *Reconciler) audit(ctx context.Context, tx *gorm.DB, repo paymentintents.Repository, rec *Reconciliation, outcome paymentintents.GatewayOutcome) error {
	rows, err := repo.RecordAudit(ctx, rec.IntentID, outcome)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record gateway audit")
	}
	if rows == 0 {
		rec.AlreadyProcessed = true
		return nil
	}
	status := rec.Intent.PaymentStatus
	applyOutcome(rec.Intent, outcome)
	rec.Intent.PaymentStatus = status
	rec.RefundRequired = true

	reason := refundReasonExpired
	if status == enums.PaymentStatusCancelled {
		reason = refundReasonCancelled
	}
	return r.emitter.EmitIfNotExists(ctx, tx, paymentintents.RefundRequiredEvent(rec.Intent, reason, nil))
}

func applyOutcome(intent *models.PaymentIntent, outcome paymentintents.GatewayOutcome) {
	intent.PaymentStatus = outcome.Status
	intent.TransactionRef = optional(outcome.TransactionRef)
	intent.ProviderTransactionNo = optional(outcome.ProviderTransactionNo)
	intent.ResponseCode = optional(outcome.ResponseCode)
	intent.BankCode = optional(outcome.BankCode)
	intent.CardType = optional(outcome.CardType)
	intent.GatewayPayload = outcome.Payload
	if outcome.PaidAt != nil {
		intent.PaidAt = outcome.PaidAt
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func reconcileOutcome(rec *Reconciliation, err error) string {
	switch {
	case err != nil:
		if appErr := pkgerrors.As(err); appErr != nil {
			return string(appErr.Code())
		}
		return "error"
	case rec.AlreadyProcessed:
		return "duplicate"
	case rec.RefundRequired:
		return "refund_required"
	case rec.Success:
		return "paid"
	default:
		return "failed"
	}
}
