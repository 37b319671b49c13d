package orders

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
)

// Cancel reverses a pending order. Customers may only cancel their own orders.
func (s *service) Cancel(ctx context.Context, actor Actor, orderID string) (*CancelResult, error) {
	var result *CancelResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return mapOrderErr(err)
		}
		if !actor.IsAdmin() && order.UserID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another user")
		}
		result, err = s.reverse(ctx, tx, order, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"cancelled_by":    actor.Role,
			"stock_released":  result.StockReleased,
			"requires_refund": result.RequiresRefund,
		})
		s.info(logCtx, result.Order, "order cancelled")
	}
	return result, nil
}

// reverse performs the single pending -> cancelled transition and undoes its side effects.
func (s *service) reverse(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor) (*CancelResult, error) {
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only pending orders can be cancelled").
			WithDetails(map[string]any{"status": order.Status})
	}

	now := s.now()
	requiresRefund := order.PaymentStatus == enums.OrderPaymentPaid
	rows, err := s.repo.WithTx(tx).MarkCancelled(ctx, order.ID, now, requiresRefund)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer pending")
	}

	result := &CancelResult{RequiresRefund: requiresRefund}
	if order.StockReserved {
		if err := s.inventory.Release(ctx, tx, order.LineItems()); err != nil {
			return nil, err
		}
		result.StockReleased = true
	}
	if order.VoucherID != nil && *order.VoucherID != "" {
		if err := s.vouchers.Restore(ctx, tx, *order.VoucherID); err != nil {
			return nil, err
		}
	}

	order.Status = enums.OrderStatusCancelled
	order.CancelledAt = &now
	order.RequiresRefund = requiresRefund
	result.Order = order

	if err := s.emitter.Emit(ctx, tx, orderCancelledEvent(order, result, actor)); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateStatus moves an order one step along the fulfillment state machine.
func (s *service) UpdateStatus(ctx context.Context, actor Actor, orderID string, update StatusUpdate) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if !update.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}

	var (
		updated *models.Order
		from    enums.OrderStatus
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return mapOrderErr(err)
		}
		from = order.Status
		if !from.CanTransitionTo(update.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "invalid status transition").
				WithDetails(map[string]any{"from": from, "to": update.Status})
		}

		if update.Status == enums.OrderStatusCancelled {
			result, err := s.reverse(ctx, tx, order, actor)
			if err != nil {
				return err
			}
			updated = result.Order
			return nil
		}

		updates := map[string]any{"status": update.Status}
		if update.TrackingNumber != nil {
			tracking := strings.TrimSpace(*update.TrackingNumber)
			updates["tracking_number"] = tracking
			order.TrackingNumber = &tracking
		}
		if update.Notes != nil {
			updates["notes"] = *update.Notes
			order.Notes = update.Notes
		}
		// Cash is collected on delivery.
		if update.Status == enums.OrderStatusCompleted &&
			order.PaymentMethod == enums.PaymentMethodCOD &&
			order.PaymentStatus == enums.OrderPaymentPending {
			updates["payment_status"] = enums.OrderPaymentPaid
			order.PaymentStatus = enums.OrderPaymentPaid
		}

		rows, err := repo.TransitionStatus(ctx, order.ID, from, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
		}
		order.Status = update.Status
		updated = order
		return s.emitter.Emit(ctx, tx, orderStatusChangedEvent(order, from, actor))
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"from": from, "to": updated.Status})
		s.info(logCtx, updated, "order status changed")
	}
	return updated, nil
}
