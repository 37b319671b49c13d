package inventory

import (
	"context"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/db/models"
)

// Repository persists variant stock and product sold counters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindVariant(ctx context.Context, key VariantKey) (*models.ProductVariant, error)
	DecrementStock(ctx context.Context, key VariantKey, qty int) (int64, error)
	IncrementStock(ctx context.Context, key VariantKey, qty int) (int64, error)
	AdjustSold(ctx context.Context, productID string, delta int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an inventory repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindVariant(ctx context.Context, key VariantKey) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND size = ? AND color = ?", key.ProductID, key.Size, key.Color).
		First(&variant).Error
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

// DecrementStock debits qty only while enough stock remains; zero rows means the guard failed.
func (r *repository) DecrementStock(ctx context.Context, key VariantKey, qty int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ProductVariant{}).
		Where("product_id = ? AND size = ? AND color = ? AND stock >= ?", key.ProductID, key.Size, key.Color, qty).
		Update("stock", gorm.Expr("stock - ?", qty))
	return res.RowsAffected, res.Error
}

func (r *repository) IncrementStock(ctx context.Context, key VariantKey, qty int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ProductVariant{}).
		Where("product_id = ? AND size = ? AND color = ?", key.ProductID, key.Size, key.Color).
		Update("stock", gorm.Expr("stock + ?", qty))
	return res.RowsAffected, res.Error
}

func (r *repository) AdjustSold(ctx context.Context, productID string, delta int) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", productID)
	if delta < 0 {
		query = query.Where("sold >= ?", -delta)
	}
	res := query.Update("sold", gorm.Expr("sold + ?", delta))
	return res.RowsAffected, res.Error
}
