package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/internal/paymentintents"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/logger"
	"github.com/threadline/shopfront-backend/pkg/vnpay"
)

// Gateway is the slice of the VNPay client the payment flows depend on.
type Gateway interface {
	NewTxnRef(now time.Time) string
	BuildPaymentURL(req vnpay.PaymentRequest) (string, error)
	Verify(params url.Values) bool
}

// PaymentLink is the redirect handed to the customer.
type PaymentLink struct {
	PaymentURL string `json:"paymentUrl"`
	TxnRef     string `json:"txnRef"`
	OrderInfo  string `json:"orderInfo"`
}

// Service prepares gateway redirects for payment intents.
type Service interface {
	CreateVNPayPayment(ctx context.Context, userID, intentID, clientIP string) (*PaymentLink, error)
}

type service struct {
	intents paymentintents.Repository
	gateway Gateway
	logg    *logger.Logger
	now     func() time.Time
}

// NewService wires the payment link service.
func NewService(intents paymentintents.Repository, gateway Gateway, logg *logger.Logger) (Service, error) {
	if intents == nil {
		return nil, fmt.Errorf("payment intent repository required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("vnpay gateway required")
	}
	return &service{
		intents: intents,
		gateway: gateway,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) CreateVNPayPayment(ctx context.Context, userID, intentID, clientIP string) (*PaymentLink, error) {
	intent, err := loadIntent(ctx, s.intents, intentID)
	if err != nil {
		return nil, err
	}
	if intent.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment intent belongs to another user")
	}
	if intent.PaymentMethod != enums.PaymentMethodVNPay {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent is not a vnpay intent")
	}
	if intent.HasOrder() || !intent.PaymentStatus.Settleable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment intent is not awaiting payment").
			WithDetails(map[string]any{"paymentStatus": intent.PaymentStatus})
	}
	now := s.now()
	if intent.IsExpired(now) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment intent has expired")
	}

	txnRef := s.gateway.NewTxnRef(now)
	orderInfo := vnpay.OrderInfo(intent.ID)
	paymentURL, err := s.gateway.BuildPaymentURL(vnpay.PaymentRequest{
		TxnRef:    txnRef,
		Amount:    intent.TotalAmount,
		OrderInfo: orderInfo,
		ClientIP:  clientIP,
		CreatedAt: now,
		ExpiresAt: intent.ExpiresAt,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build vnpay url")
	}

	rows, err := s.intents.SetTransactionRef(ctx, intent.ID, txnRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store transaction ref")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment intent is not awaiting payment")
	}

	if s.logg != nil {
		logCtx := s.logg.WithIntentID(ctx, intent.ID)
		logCtx = s.logg.WithFields(logCtx, map[string]any{"txn_ref": txnRef, "amount": intent.TotalAmount})
		s.logg.Info(logCtx, "vnpay payment url created")
	}
	return &PaymentLink{PaymentURL: paymentURL, TxnRef: txnRef, OrderInfo: orderInfo}, nil
}

func loadIntent(ctx context.Context, repo paymentintents.Repository, id string) (*models.PaymentIntent, error) {
	intent, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
	}
	return intent, nil
}
