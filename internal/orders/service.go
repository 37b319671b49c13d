package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/internal/paymentintents"
	"github.com/threadline/shopfront-backend/internal/pricing"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/ids"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/metrics"
	"github.com/threadline/shopfront-backend/pkg/outbox"
	"github.com/threadline/shopfront-backend/pkg/pagination"
	"github.com/threadline/shopfront-backend/pkg/types"
)

const (
	pathDirect = "direct"
	pathIntent = "intent"
)

// Service is the settlement engine plus the order lifecycle around it.
type Service interface {
	SettleDirect(ctx context.Context, userID string, input DirectInput) (*models.Order, error)
	SettleFromIntent(ctx context.Context, userID, intentID string) (*SettleResult, error)
	Cancel(ctx context.Context, actor Actor, orderID string) (*CancelResult, error)
	UpdateStatus(ctx context.Context, actor Actor, orderID string, update StatusUpdate) (*models.Order, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	ListAll(ctx context.Context, params ListParams) (*ListResult, error)
}

// ServiceParams groups the collaborators of the settlement engine.
type ServiceParams struct {
	Repo        Repository
	Intents     paymentintents.Repository
	Cart        cartResolver
	Inventory   stockLedger
	Vouchers    voucherEngine
	Tx          txRunner
	Emitter     outbox.Emitter
	Logger      *logger.Logger
	Metrics     *metrics.CheckoutMetrics
	ShippingFee int64
}

type service struct {
	repo        Repository
	intents     paymentintents.Repository
	cart        cartResolver
	inventory   stockLedger
	vouchers    voucherEngine
	tx          txRunner
	emitter     outbox.Emitter
	logg        *logger.Logger
	metrics     *metrics.CheckoutMetrics
	shippingFee int64
	now         func() time.Time
}

// NewService wires the settlement engine.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Intents == nil:
		return nil, fmt.Errorf("payment intent repository required")
	case params.Cart == nil:
		return nil, fmt.Errorf("cart resolver required")
	case params.Inventory == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case params.Vouchers == nil:
		return nil, fmt.Errorf("voucher engine required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Emitter == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:        params.Repo,
		intents:     params.Intents,
		cart:        params.Cart,
		inventory:   params.Inventory,
		vouchers:    params.Vouchers,
		tx:          params.Tx,
		emitter:     params.Emitter,
		logg:        params.Logger,
		metrics:     params.Metrics,
		shippingFee: params.ShippingFee,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// SettleDirect commits a checkout straight into an order. Cash-on-delivery
// reserves stock and clears the settled cart lines now; gateway orders do
// neither, since stock is only ever reserved through a paid intent.
func (s *service) SettleDirect(ctx context.Context, userID string, input DirectInput) (*models.Order, error) {
	order, err := s.settleDirect(ctx, userID, input)
	s.record(pathDirect, input.PaymentMethod, err)
	return order, err
}

func (s *service) settleDirect(ctx context.Context, userID string, input DirectInput) (*models.Order, error) {
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	if strings.TrimSpace(input.ShippingAddress.FullName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required")
	}

	lines, err := s.cart.Resolve(ctx, userID, input.SelectedItemIDs)
	if err != nil {
		return nil, err
	}
	subtotal, err := pricing.Price(lines, nil, 0)
	if err != nil {
		return nil, err
	}
	outcome, err := s.vouchers.Resolve(ctx, input.VoucherID, input.VoucherCode, subtotal.OriginalAmount)
	if err != nil {
		return nil, err
	}
	quote, err := pricing.Price(lines, outcome, s.shippingFee)
	if err != nil {
		return nil, err
	}

	// gateway orders reserve stock only when a paid intent settles
	reserve := !input.PaymentMethod.IsGateway()
	order := &models.Order{
		ID:              ids.New(),
		UserID:          userID,
		Items:           orderItems(lines),
		Discount:        quote.Discount,
		ShippingFee:     quote.ShippingFee,
		OriginalAmount:  quote.OriginalAmount,
		TotalAmount:     quote.TotalAmount,
		PaymentMethod:   input.PaymentMethod,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.OrderPaymentPending,
		ShippingAddress: input.ShippingAddress,
		StockReserved:   reserve,
		Notes:           optional(input.Notes),
	}
	order.OrderNumber = models.OrderNumberFor(order.ID)
	if outcome != nil {
		order.VoucherID = &outcome.VoucherID
		order.VoucherCode = &outcome.Code
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if outcome != nil {
			if err := s.vouchers.Consume(ctx, tx, outcome.VoucherID); err != nil {
				return err
			}
		}
		if reserve {
			if err := s.inventory.Reserve(ctx, tx, lines); err != nil {
				return err
			}
		}
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if reserve {
			if err := s.cart.RemoveLines(ctx, tx, userID, lines); err != nil {
				return err
			}
		}
		return s.emitter.Emit(ctx, tx, orderCreatedEvent(order, customer(userID)))
	})
	if err != nil {
		return nil, err
	}

	s.info(ctx, order, "order created")
	return order, nil
}

// SettleFromIntent turns a paid intent into a confirmed order exactly once.
// Repeated calls return the order produced by the first.
func (s *service) SettleFromIntent(ctx context.Context, userID, intentID string) (*SettleResult, error) {
	result, err := s.settleFromIntent(ctx, userID, intentID)
	method := enums.PaymentMethodVNPay
	if result != nil {
		method = result.Order.PaymentMethod
	}
	s.record(pathIntent, method, err)
	return result, err
}

func (s *service) settleFromIntent(ctx context.Context, userID, intentID string) (*SettleResult, error) {
	intent, err := s.loadIntent(ctx, s.intents, userID, intentID)
	if err != nil {
		return nil, err
	}
	if intent.HasOrder() {
		return s.existing(ctx, s.repo, *intent.OrderID)
	}
	if err := s.checkSettleable(intent); err != nil {
		return nil, err
	}

	var result *SettleResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		intents := s.intents.WithTx(tx)
		repo := s.repo.WithTx(tx)
		orderID := ids.New()

		rows, err := intents.LinkOrder(ctx, intent.ID, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim payment intent")
		}
		if rows == 0 {
			current, err := s.loadIntent(ctx, intents, userID, intentID)
			if err != nil {
				return err
			}
			if current.HasOrder() {
				result, err = s.existing(ctx, repo, *current.OrderID)
				return err
			}
			if err := s.checkSettleable(current); err != nil {
				return err
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment intent could not be claimed")
		}

		if err := s.inventory.Reserve(ctx, tx, intent.Items); err != nil {
			return err
		}

		order := &models.Order{
			ID:              orderID,
			OrderNumber:     models.OrderNumberFor(orderID),
			UserID:          intent.UserID,
			Items:           orderItems(intent.Items),
			VoucherID:       intent.VoucherID,
			VoucherCode:     intent.VoucherCode,
			Discount:        intent.Discount,
			ShippingFee:     intent.ShippingFee,
			OriginalAmount:  intent.OriginalAmount,
			TotalAmount:     intent.TotalAmount,
			PaymentMethod:   intent.PaymentMethod,
			Status:          enums.OrderStatusConfirmed,
			PaymentStatus:   enums.OrderPaymentPaid,
			ShippingAddress: intent.ShippingAddress,
			StockReserved:   true,
			PaymentIntentID: &intent.ID,
		}
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := s.cart.RemoveLines(ctx, tx, userID, intent.Items); err != nil {
			return err
		}
		if err := s.emitter.Emit(ctx, tx, orderCreatedEvent(order, customer(userID))); err != nil {
			return err
		}
		result = &SettleResult{Order: order}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Existing {
		s.info(ctx, result.Order, "order created from payment intent")
	}
	return result, nil
}

func (s *service) checkSettleable(intent *models.PaymentIntent) error {
	if intent.IsExpired(s.now()) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment intent has expired")
	}
	if intent.PaymentStatus != enums.PaymentStatusPaid {
		return pkgerrors.New(pkgerrors.CodePaymentNotConfirmed, "payment has not been confirmed").
			WithDetails(map[string]any{"paymentStatus": intent.PaymentStatus})
	}
	return nil
}

func (s *service) existing(ctx context.Context, repo Repository, orderID string) (*SettleResult, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapOrderErr(err)
	}
	return &SettleResult{Order: order, Existing: true}, nil
}

func (s *service) loadIntent(ctx context.Context, repo paymentintents.Repository, userID, intentID string) (*models.PaymentIntent, error) {
	intent, err := repo.FindByID(ctx, intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
	}
	if intent.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment intent belongs to another user")
	}
	return intent, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	return s.list(ctx, params)
}

func (s *service) ListAll(ctx context.Context, params ListParams) (*ListResult, error) {
	return s.list(ctx, params)
}

func (s *service) list(ctx context.Context, params ListParams) (*ListResult, error) {
	query := listQuery{UserID: params.UserID, Status: params.Status, Limit: params.Limit}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}
	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	result := &ListResult{Orders: rows}
	if next != nil {
		result.NextCursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *service) record(path string, method enums.PaymentMethod, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if appErr := pkgerrors.As(err); appErr != nil {
			outcome = strings.ToLower(string(appErr.Code()))
		}
	}
	s.metrics.IncSettlement(path, string(method), outcome)
}

func (s *service) info(ctx context.Context, order *models.Order, msg string) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithOrderID(ctx, order.ID)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":        order.UserID,
		"order_number":   order.OrderNumber,
		"status":         order.Status,
		"payment_status": order.PaymentStatus,
		"payment_method": order.PaymentMethod,
		"total_amount":   order.TotalAmount,
	})
	if order.PaymentIntentID != nil {
		ctx = s.logg.WithIntentID(ctx, *order.PaymentIntentID)
	}
	s.logg.Info(ctx, msg)
}

func orderItems(lines types.LineItems) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     line.Price,
			Size:      line.Size,
			Color:     line.Color,
		})
	}
	return items
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func mapOrderErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
