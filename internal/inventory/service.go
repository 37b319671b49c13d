package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/types"
)

// VariantKey identifies one stock-bearing variant.
type VariantKey struct {
	ProductID string
	Size      string
	Color     string
}

func keyOf(line types.LineItem) VariantKey {
	return VariantKey{ProductID: line.ProductID, Size: line.Size, Color: line.Color}
}

// Service is the inventory ledger used by checkout and settlement.
type Service interface {
	// Validate checks availability without mutating stock and returns the lines priced from their variants.
	Validate(ctx context.Context, lines types.LineItems) (types.LineItems, error)
	// Reserve debits every line inside tx; any failing line aborts the whole set.
	Reserve(ctx context.Context, tx *gorm.DB, lines types.LineItems) error
	// Release is the exact inverse of Reserve.
	Release(ctx context.Context, tx *gorm.DB, lines types.LineItems) error
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService builds the inventory ledger.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	return &service{repo: repo, logg: logg}, nil
}

func (s *service) Validate(ctx context.Context, lines types.LineItems) (types.LineItems, error) {
	if err := validateQuantities(lines); err != nil {
		return nil, err
	}
	requested := make(map[VariantKey]int, len(lines))
	for _, line := range lines {
		requested[keyOf(line)] += line.Quantity
	}

	priced := make(types.LineItems, 0, len(lines))
	for _, line := range lines {
		key := keyOf(line)
		variant, err := s.repo.FindVariant(ctx, key)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, variantNotFound(key)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product variant")
		}
		if variant.Stock < requested[key] {
			return nil, insufficientStock(key, requested[key], variant.Stock)
		}
		line.Price = variant.Price
		priced = append(priced, line)
	}
	return priced, nil
}

func (s *service) Reserve(ctx context.Context, tx *gorm.DB, lines types.LineItems) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if err := validateQuantities(lines); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	keys, qty := merge(lines)

	for _, key := range keys {
		rows, err := repo.DecrementStock(ctx, key, qty[key])
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
		}
		if rows == 1 {
			continue
		}
		variant, err := repo.FindVariant(ctx, key)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return variantNotFound(key)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product variant")
		}
		return insufficientStock(key, qty[key], variant.Stock)
	}

	for productID, sold := range soldByProduct(keys, qty) {
		if _, err := repo.AdjustSold(ctx, productID, sold); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment sold")
		}
	}
	return nil
}

func (s *service) Release(ctx context.Context, tx *gorm.DB, lines types.LineItems) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	keys, qty := merge(lines)

	released := make([]VariantKey, 0, len(keys))
	for _, key := range keys {
		if qty[key] <= 0 {
			continue
		}
		rows, err := repo.IncrementStock(ctx, key, qty[key])
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment stock")
		}
		if rows == 0 {
			s.warn(ctx, key, "release skipped: variant no longer exists")
			continue
		}
		released = append(released, key)
	}

	for productID, sold := range soldByProduct(released, qty) {
		rows, err := repo.AdjustSold(ctx, productID, -sold)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement sold")
		}
		if rows == 0 {
			s.warn(ctx, VariantKey{ProductID: productID}, "sold counter not decremented")
		}
	}
	return nil
}

func (s *service) warn(ctx context.Context, key VariantKey, msg string) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"product_id": key.ProductID,
		"size":       key.Size,
		"color":      key.Color,
	})
	s.logg.Warn(ctx, msg)
}

// merge collapses duplicate variants and returns keys in a stable order so
// concurrent reservations touch rows in the same sequence.
func merge(lines types.LineItems) ([]VariantKey, map[VariantKey]int) {
	qty := make(map[VariantKey]int, len(lines))
	keys := make([]VariantKey, 0, len(lines))
	for _, line := range lines {
		key := keyOf(line)
		if _, seen := qty[key]; !seen {
			keys = append(keys, key)
		}
		qty[key] += line.Quantity
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductID != keys[j].ProductID {
			return keys[i].ProductID < keys[j].ProductID
		}
		if keys[i].Size != keys[j].Size {
			return keys[i].Size < keys[j].Size
		}
		return keys[i].Color < keys[j].Color
	})
	return keys, qty
}

func soldByProduct(keys []VariantKey, qty map[VariantKey]int) map[string]int {
	sold := make(map[string]int)
	for _, key := range keys {
		sold[key.ProductID] += qty[key]
	}
	return sold
}

func validateQuantities(lines types.LineItems) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "no items to reserve")
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"productId": line.ProductID})
		}
	}
	return nil
}

func variantNotFound(key VariantKey) error {
	return pkgerrors.New(pkgerrors.CodeVariantNotFound, "product variant not found").
		WithDetails(map[string]any{
			"productId": key.ProductID,
			"size":      key.Size,
			"color":     key.Color,
		})
}

func insufficientStock(key VariantKey, requested, available int) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{
			"productId": key.ProductID,
			"size":      key.Size,
			"color":     key.Color,
			"requested": requested,
			"available": available,
		})
}
