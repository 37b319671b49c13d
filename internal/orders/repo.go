package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order together with its items.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkCancelled is the single pending -> cancelled transition; zero rows means it already fired or never could.
func (r *repository) MarkCancelled(ctx context.Context, id string, now time.Time, requiresRefund bool) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, enums.OrderStatusPending).
		Updates(map[string]any{
			"status":          enums.OrderStatusCancelled,
			"cancelled_at":    now,
			"requires_refund": requiresRefund,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) TransitionStatus(ctx context.Context, id string, from enums.OrderStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) List(ctx context.Context, query listQuery) ([]models.Order, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(query.Limit)
	tx := r.db.WithContext(ctx).Model(&models.Order{}).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	})
	if query.UserID != "" {
		tx = tx.Where("user_id = ?", query.UserID)
	}
	if query.Status != nil {
		tx = tx.Where("status = ?", *query.Status)
	}
	if query.Cursor != nil {
		tx = tx.Where("(created_at < ? OR (created_at = ? AND id < ?))", query.Cursor.CreatedAt, query.Cursor.CreatedAt, query.Cursor.ID)
	}

	var orders []models.Order
	if err := tx.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&orders).Error; err != nil {
		return nil, nil, err
	}
	if len(orders) > limit {
		last := orders[limit-1]
		return orders[:limit], &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return orders, nil, nil
}
