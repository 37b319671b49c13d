package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/internal/vouchers"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/pagination"
	"github.com/threadline/shopfront-backend/pkg/types"
)

// Repository defines persistence operations for orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id string) (*models.Order, error)
	MarkCancelled(ctx context.Context, id string, now time.Time, requiresRefund bool) (int64, error)
	TransitionStatus(ctx context.Context, id string, from enums.OrderStatus, updates map[string]any) (int64, error)
	List(ctx context.Context, query listQuery) ([]models.Order, *pagination.Cursor, error)
}

type listQuery struct {
	UserID string
	Status *enums.OrderStatus
	Limit  int
	Cursor *pagination.Cursor
}

type cartResolver interface {
	Resolve(ctx context.Context, userID string, selectedIDs []string) (types.LineItems, error)
	RemoveLines(ctx context.Context, tx *gorm.DB, userID string, lines types.LineItems) error
}

type stockLedger interface {
	Reserve(ctx context.Context, tx *gorm.DB, lines types.LineItems) error
	Release(ctx context.Context, tx *gorm.DB, lines types.LineItems) error
}

type voucherEngine interface {
	Resolve(ctx context.Context, id, code string, originalAmount int64) (*vouchers.Outcome, error)
	Consume(ctx context.Context, tx *gorm.DB, id string) error
	Restore(ctx context.Context, tx *gorm.DB, id string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
