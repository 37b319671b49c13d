package cart

import (
	"context"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/internal/inventory"
	"github.com/threadline/shopfront-backend/pkg/db/models"
)

// Repository exposes persistence operations for carts.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByUser loads the user's cart with its lines in insertion order.
func (r *Repository) FindByUser(ctx context.Context, userID string) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Order("id ASC")
		}).
		Where("user_id = ?", userID).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// DeleteItemsByID removes the listed lines from the cart.
func (r *Repository) DeleteItemsByID(ctx context.Context, cartID string, itemIDs []string) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("cart_id = ? AND id IN ?", cartID, itemIDs).
		Delete(&models.CartItem{})
	return res.RowsAffected, res.Error
}

// DeleteItemByVariant removes every line for the given variant.
func (r *Repository) DeleteItemByVariant(ctx context.Context, cartID string, key inventory.VariantKey) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ? AND size = ? AND color = ?", cartID, key.ProductID, key.Size, key.Color).
		Delete(&models.CartItem{})
	return res.RowsAffected, res.Error
}
