package vouchers

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/db/models"
)

// Repository persists vouchers and their redemption counter.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id string) (*models.Voucher, error)
	FindByCode(ctx context.Context, code string) (*models.Voucher, error)
	List(ctx context.Context, filter ListFilter) ([]models.Voucher, error)
	Create(ctx context.Context, voucher *models.Voucher) error
	Update(ctx context.Context, id string, updates map[string]any) (int64, error)
	Delete(ctx context.Context, id string) (int64, error)
	Consume(ctx context.Context, id string) (int64, error)
	Restore(ctx context.Context, id string) (int64, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]models.Voucher, error)
	Deactivate(ctx context.Context, id string, now time.Time) (int64, error)
}

// ListFilter narrows voucher listings. ActiveOnly hides inactive, expired and depleted codes.
type ListFilter struct {
	ActiveOnly bool
	Now        time.Time
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a voucher repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id string) (*models.Voucher, error) {
	var voucher models.Voucher
	if err := r.db.WithContext(ctx).First(&voucher, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var voucher models.Voucher
	if err := r.db.WithContext(ctx).First(&voucher, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.Voucher, error) {
	query := r.db.WithContext(ctx).Model(&models.Voucher{})
	if filter.ActiveOnly {
		query = query.Where("active = ? AND quantity > 0 AND expired_at > ?", true, filter.Now)
	}
	var vouchers []models.Voucher
	if err := query.Order("created_at DESC").Order("id DESC").Find(&vouchers).Error; err != nil {
		return nil, err
	}
	return vouchers, nil
}

func (r *repository) Create(ctx context.Context, voucher *models.Voucher) error {
	return r.db.WithContext(ctx).Create(voucher).Error
}

func (r *repository) Update(ctx context.Context, id string, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Voucher{}).Where("id = ?", id).Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) Delete(ctx context.Context, id string) (int64, error) {
	res := r.db.WithContext(ctx).Delete(&models.Voucher{}, "id = ?", id)
	return res.RowsAffected, res.Error
}

// Consume takes one redemption only while quantity remains.
func (r *repository) Consume(ctx context.Context, id string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Voucher{}).
		Where("id = ? AND quantity > 0", id).
		Update("quantity", gorm.Expr("quantity - 1"))
	return res.RowsAffected, res.Error
}

func (r *repository) Restore(ctx context.Context, id string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Voucher{}).
		Where("id = ?", id).
		Update("quantity", gorm.Expr("quantity + 1"))
	return res.RowsAffected, res.Error
}

func (r *repository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]models.Voucher, error) {
	var vouchers []models.Voucher
	err := r.db.WithContext(ctx).
		Where("active = ? AND expired_at < ?", true, now).
		Order("expired_at ASC").
		Limit(limit).
		Find(&vouchers).Error
	return vouchers, err
}

// Deactivate flips active off only for a voucher that is still active and past expiry.
func (r *repository) Deactivate(ctx context.Context, id string, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Voucher{}).
		Where("id = ? AND active = ? AND expired_at < ?", id, true, now).
		Update("active", false)
	return res.RowsAffected, res.Error
}
