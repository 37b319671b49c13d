package cart

import (
	"context"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/internal/inventory"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/types"
)

// CartRepository defines the persistence surface required by the resolver.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindByUser(ctx context.Context, userID string) (*models.Cart, error)
	DeleteItemsByID(ctx context.Context, cartID string, itemIDs []string) (int64, error)
	DeleteItemByVariant(ctx context.Context, cartID string, key inventory.VariantKey) (int64, error)
}

// stockValidator is the read-only slice of the inventory ledger the resolver needs.
type stockValidator interface {
	Validate(ctx context.Context, lines types.LineItems) (types.LineItems, error)
}
