package paymentintents

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/types"
)

// GatewayOutcome is the provider result recorded verbatim on an intent.
type GatewayOutcome struct {
	Status                enums.PaymentStatus
	TransactionRef        string
	ProviderTransactionNo string
	ResponseCode          string
	BankCode              string
	CardType              string
	Payload               types.GatewayPayload
	PaidAt                *time.Time
}

// Repository persists payment intents. Every mutating call is a guarded
// conditional update; callers inspect the affected row count.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, intent *models.PaymentIntent) error
	FindByID(ctx context.Context, id string) (*models.PaymentIntent, error)
	MarkCancelled(ctx context.Context, id string) (int64, error)
	LinkOrder(ctx context.Context, id, orderID string) (int64, error)
	SetTransactionRef(ctx context.Context, id, txnRef string) (int64, error)
	RecordOutcome(ctx context.Context, id string, outcome GatewayOutcome) (int64, error)
	RecordAudit(ctx context.Context, id string, outcome GatewayOutcome) (int64, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error)
	CountHeldForRefund(ctx context.Context, now time.Time) (int64, error)
	DeleteUnlinked(ctx context.Context, id string) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payment intent repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *repository) FindByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).First(&intent, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

// MarkCancelled transitions a not-yet-settled, not-yet-cancelled intent to cancelled.
func (r *repository) MarkCancelled(ctx context.Context, id string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND order_id IS NULL AND payment_status IN ?", id, []enums.PaymentStatus{
			enums.PaymentStatusPending,
			enums.PaymentStatusFailed,
			enums.PaymentStatusPaid,
		}).
		Update("payment_status", enums.PaymentStatusCancelled)
	return res.RowsAffected, res.Error
}

// LinkOrder claims a paid intent for an order; it succeeds at most once per intent.
func (r *repository) LinkOrder(ctx context.Context, id, orderID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND order_id IS NULL AND payment_status = ?", id, enums.PaymentStatusPaid).
		Update("order_id", orderID)
	return res.RowsAffected, res.Error
}

func (r *repository) SetTransactionRef(ctx context.Context, id, txnRef string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND order_id IS NULL AND payment_status IN ?", id, []enums.PaymentStatus{
			enums.PaymentStatusPending,
			enums.PaymentStatusFailed,
		}).
		Update("transaction_ref", txnRef)
	return res.RowsAffected, res.Error
}

// RecordOutcome stores a gateway result on an intent still awaiting payment.
func (r *repository) RecordOutcome(ctx context.Context, id string, outcome GatewayOutcome) (int64, error) {
	updates := outcomeColumns(outcome)
	updates["payment_status"] = outcome.Status
	if outcome.PaidAt != nil {
		updates["paid_at"] = *outcome.PaidAt
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND payment_status IN ?", id, []enums.PaymentStatus{
			enums.PaymentStatusPending,
			enums.PaymentStatusFailed,
		}).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// RecordAudit keeps the provider metadata of a capture that arrived for a dead
// intent without moving its status. A repeated capture affects no rows.
func (r *repository) RecordAudit(ctx context.Context, id string, outcome GatewayOutcome) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND (provider_transaction_no IS NULL OR provider_transaction_no <> ?)", id, outcome.ProviderTransactionNo).
		Updates(outcomeColumns(outcome))
	return res.RowsAffected, res.Error
}

func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("expires_at < ? AND order_id IS NULL", now).
		Where("payment_status <> ? AND provider_transaction_no IS NULL", enums.PaymentStatusPaid).
		Order("expires_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

// CountHeldForRefund counts expired, unsettled intents that captured money and must stay on record.
func (r *repository) CountHeldForRefund(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("expires_at < ? AND order_id IS NULL", now).
		Where("payment_status = ? OR provider_transaction_no IS NOT NULL", enums.PaymentStatusPaid).
		Count(&count).Error
	return count, err
}

// DeleteUnlinked never removes a row carrying gateway capture evidence.
func (r *repository) DeleteUnlinked(ctx context.Context, id string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND order_id IS NULL AND payment_status <> ? AND provider_transaction_no IS NULL", id, enums.PaymentStatusPaid).
		Delete(&models.PaymentIntent{})
	return res.RowsAffected, res.Error
}

func outcomeColumns(outcome GatewayOutcome) map[string]any {
	return map[string]any{
		"transaction_ref":         nullable(outcome.TransactionRef),
		"provider_transaction_no": nullable(outcome.ProviderTransactionNo),
		"response_code":           nullable(outcome.ResponseCode),
		"bank_code":               nullable(outcome.BankCode),
		"card_type":               nullable(outcome.CardType),
		"gateway_payload":         outcome.Payload,
	}
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
