package cart

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/internal/inventory"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/types"
)

// Service resolves the checkout snapshot of a user's cart.
type Service interface {
	// Resolve returns the selected lines (all lines when selectedIDs is empty) priced at current variant prices.
	Resolve(ctx context.Context, userID string, selectedIDs []string) (types.LineItems, error)
	// RemoveLines drops settled lines from the user's cart, leaving every other line untouched.
	RemoveLines(ctx context.Context, tx *gorm.DB, userID string, lines types.LineItems) error
}

type service struct {
	repo  CartRepository
	stock stockValidator
	logg  *logger.Logger
}

// NewService builds the cart snapshot resolver.
func NewService(repo CartRepository, stock stockValidator, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock validator required")
	}
	return &service{repo: repo, stock: stock, logg: logg}, nil
}

func (s *service) Resolve(ctx context.Context, userID string, selectedIDs []string) (types.LineItems, error) {
	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	selected := make(map[string]struct{}, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = struct{}{}
	}

	lines := make(types.LineItems, 0, len(cart.Items))
	for _, item := range cart.Items {
		if len(selected) > 0 {
			if _, ok := selected[item.ID]; !ok {
				continue
			}
		}
		lines = append(lines, types.LineItem{
			CartItemID: item.ID,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			Size:       item.Size,
			Color:      item.Color,
		})
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no valid items selected")
	}

	return s.stock.Validate(ctx, lines)
}

func (s *service) RemoveLines(ctx context.Context, tx *gorm.DB, userID string, lines types.LineItems) error {
	repo := s.repo.WithTx(tx)
	cart, err := repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	itemIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.CartItemID != "" {
			itemIDs = append(itemIDs, line.CartItemID)
			continue
		}
		key := inventory.VariantKey{ProductID: line.ProductID, Size: line.Size, Color: line.Color}
		if _, err := repo.DeleteItemByVariant(ctx, cart.ID, key); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart line")
		}
	}
	removed, err := repo.DeleteItemsByID(ctx, cart.ID, itemIDs)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart lines")
	}
	if s.logg != nil && int(removed) < len(itemIDs) {
		logCtx := s.logg.WithFields(ctx, map[string]any{"user_id": userID, "expected": len(itemIDs), "removed": removed})
		s.logg.Warn(logCtx, "some settled cart lines were already gone")
	}
	return nil
}
