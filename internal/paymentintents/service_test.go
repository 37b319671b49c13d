package paymentintents

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/threadline/shopfront-backend/internal/cart"
	"github.com/threadline/shopfront-backend/internal/inventory"
	"github.com/threadline/shopfront-backend/internal/vouchers"
	"github.com/threadline/shopfront-backend/pkg/db"
	"github.com/threadline/shopfront-backend/pkg/db/dbtest"
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/ids"
	"github.com/threadline/shopfront-backend/pkg/outbox"
	"github.com/threadline/shopfront-backend/pkg/types"
)

type fixture struct {
	svc     *service
	client  *db.Client
	userID  string
	voucher models.Voucher
	cart    models.Cart
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	conn := client.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)

	stock, err := inventory.NewService(inventory.NewRepository(conn), nil)
	require.NoError(t, err)
	resolver, err := cart.NewService(cart.NewRepository(conn), stock, nil)
	require.NoError(t, err)
	voucherSvc, err := vouchers.NewService(vouchers.NewRepository(conn), client, emitter, nil)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Cart:     resolver,
		Vouchers: voucherSvc,
		Tx:       client,
		Emitter:  emitter,
		Settings: Settings{ShippingFee: 15000, TTL: 30 * time.Minute},
	})
	require.NoError(t, err)

	f := &fixture{svc: svc.(*service), client: client, userID: ids.New(), clock: time.Now().UTC()}
	f.svc.now = func() time.Time { return f.clock }

	product := models.Product{
		Name:     "Denim Jacket",
		Slug:     "denim-jacket",
		Variants: []models.ProductVariant{{Size: "M", Color: "blue", Stock: 5, Price: 100000}},
	}
	require.NoError(t, conn.Create(&product).Error)
	f.cart = models.Cart{
		UserID: f.userID,
		Items:  []models.CartItem{{ProductID: product.ID, Size: "M", Color: "blue", Quantity: 2}},
	}
	require.NoError(t, conn.Create(&f.cart).Error)
	f.voucher = models.Voucher{
		Code:            "SALE10",
		DiscountPercent: decimal.NewFromInt(10),
		MaxDiscount:     15000,
		MinOrderValue:   50000,
		Quantity:        3,
		ExpiredAt:       f.clock.Add(48 * time.Hour),
		Active:          true,
	}
	require.NoError(t, conn.Create(&f.voucher).Error)
	return f
}

func (f *fixture) voucherQuantity(t *testing.T) int {
	t.Helper()
	var v models.Voucher
	require.NoError(t, f.client.DB().First(&v, "id = ?", f.voucher.ID).Error)
	return v.Quantity
}

func (f *fixture) reload(t *testing.T, id string) *models.PaymentIntent {
	t.Helper()
	var intent models.PaymentIntent
	require.NoError(t, f.client.DB().First(&intent, "id = ?", id).Error)
	return &intent
}

func (f *fixture) create(t *testing.T, method enums.PaymentMethod, voucherID string) *models.PaymentIntent {
	t.Helper()
	intent, err := f.svc.Create(context.Background(), f.userID, CreateInput{
		PaymentMethod:   method,
		ShippingAddress: types.ShippingAddress{FullName: "Nguyen Van A", Phone: "0900000000", Address: "1 Le Loi", City: "HCMC"},
		VoucherID:       voucherID,
	})
	require.NoError(t, err)
	return intent
}

func TestCreatePricesAndConsumesVoucher(t *testing.T) {
	f := newFixture(t)

	intent := f.create(t, enums.PaymentMethodVNPay, f.voucher.ID)
	require.Equal(t, int64(200000), intent.OriginalAmount)
	require.Equal(t, int64(15000), intent.Discount)
	require.Equal(t, int64(15000), intent.ShippingFee)
	require.Equal(t, int64(200000), intent.TotalAmount)
	require.Equal(t, enums.PaymentStatusPending, intent.PaymentStatus)
	require.Equal(t, f.clock.Add(30*time.Minute), intent.ExpiresAt)
	require.Equal(t, 2, f.voucherQuantity(t))

	var variant models.ProductVariant
	require.NoError(t, f.client.DB().First(&variant).Error)
	require.Equal(t, 5, variant.Stock, "intent creation must not touch inventory")

	var events []models.OutboxEvent
	require.NoError(t, f.client.DB().Where("event_type = ?", enums.EventPaymentIntentCreated).Find(&events).Error)
	require.Len(t, events, 1)
}

func TestCreateRejectsMissingAddress(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.userID, CreateInput{PaymentMethod: enums.PaymentMethodCOD})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestCreateBelowMinimumLeavesVoucherUntouched(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.DB().Model(&models.Voucher{}).Where("id = ?", f.voucher.ID).Update("min_order_value", 500000).Error)

	_, err := f.svc.Create(context.Background(), f.userID, CreateInput{
		PaymentMethod:   enums.PaymentMethodCOD,
		ShippingAddress: types.ShippingAddress{FullName: "Nguyen Van A"},
		VoucherID:       f.voucher.ID,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeVoucherInvalid), "got %v", err)
	require.Equal(t, 3, f.voucherQuantity(t))
}

func TestGetEnforcesOwnershipAndReportsExpiry(t *testing.T) {
	f := newFixture(t)
	intent := f.create(t, enums.PaymentMethodVNPay, "")
	ctx := context.Background()

	_, err := f.svc.Get(ctx, ids.New(), intent.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	_, err = f.svc.Get(ctx, f.userID, ids.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	f.clock = f.clock.Add(31 * time.Minute)
	view, err := f.svc.Get(ctx, f.userID, intent.ID)
	require.NoError(t, err)
	require.True(t, view.Expired)
}

func TestCancelRestoresVoucherExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.create(t, enums.PaymentMethodVNPay, f.voucher.ID)
	require.Equal(t, 2, f.voucherQuantity(t))

	result, err := f.svc.Cancel(ctx, f.userID, intent.ID)
	require.NoError(t, err)
	require.False(t, result.RequiresRefund)
	require.Equal(t, enums.PaymentStatusCancelled, result.Intent.PaymentStatus)
	require.Equal(t, 3, f.voucherQuantity(t))

	_, err = f.svc.Cancel(ctx, f.userID, intent.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
	require.Equal(t, 3, f.voucherQuantity(t))
}

func TestCancelLinkedIntentIsForbidden(t *testing.T) {
	f := newFixture(t)
	intent := f.create(t, enums.PaymentMethodVNPay, "")
	orderID := ids.New()
	require.NoError(t, f.client.DB().Model(&models.PaymentIntent{}).Where("id = ?", intent.ID).Update("order_id", orderID).Error)

	_, err := f.svc.Cancel(context.Background(), f.userID, intent.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)
}

func TestCancelByAnotherUserIsForbidden(t *testing.T) {
	f := newFixture(t)
	intent := f.create(t, enums.PaymentMethodCOD, "")

	_, err := f.svc.Cancel(context.Background(), ids.New(), intent.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)
}

func TestCancelExpiredIntentConflicts(t *testing.T) {
	f := newFixture(t)
	intent := f.create(t, enums.PaymentMethodVNPay, "")
	f.clock = f.clock.Add(time.Hour)

	_, err := f.svc.Cancel(context.Background(), f.userID, intent.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestCancelCapturedIntentFlagsRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.create(t, enums.PaymentMethodVNPay, "")
	paidAt := f.clock
	rows, err := f.svc.repo.RecordOutcome(ctx, intent.ID, GatewayOutcome{
		Status:                enums.PaymentStatusPaid,
		TransactionRef:        "VNPAY20260301090000123",
		ProviderTransactionNo: "14012345",
		ResponseCode:          "00",
		PaidAt:                &paidAt,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	result, err := f.svc.Cancel(ctx, f.userID, intent.ID)
	require.NoError(t, err)
	require.True(t, result.RequiresRefund)

	var count int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventPaymentIntentRefundRequired).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestExpireStaleRemovesUnpaidAndKeepsPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	withVoucher := f.create(t, enums.PaymentMethodVNPay, f.voucher.ID)
	paid := f.create(t, enums.PaymentMethodVNPay, "")
	paidAt := f.clock
	_, err := f.svc.repo.RecordOutcome(ctx, paid.ID, GatewayOutcome{Status: enums.PaymentStatusPaid, ProviderTransactionNo: "1", PaidAt: &paidAt})
	require.NoError(t, err)

	summary, err := f.svc.ExpireStale(ctx, f.clock.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, ExpirySummary{Cancelled: 1, Deleted: 1, PaidUnlinked: 1}, summary)
	require.Equal(t, 3, f.voucherQuantity(t))

	var remaining []models.PaymentIntent
	require.NoError(t, f.client.DB().Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, paid.ID, remaining[0].ID)
	require.NotEqual(t, withVoucher.ID, remaining[0].ID)
}

func TestExpireStaleKeepsCaptureEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A capture that landed after expiry is audited but leaves the intent pending.
	late := f.create(t, enums.PaymentMethodVNPay, "")
	rows, err := f.svc.repo.RecordAudit(ctx, late.ID, GatewayOutcome{
		Status:                enums.PaymentStatusPaid,
		TransactionRef:        "VNPAY20260301090000123",
		ProviderTransactionNo: "14123459",
		ResponseCode:          "00",
		BankCode:              "NCB",
		CardType:              "ATM",
		Payload:               types.GatewayPayload{"vnp_TransactionNo": "14123459", "vnp_ResponseCode": "00"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	cancelled := f.create(t, enums.PaymentMethodVNPay, "")
	paidAt := f.clock
	_, err = f.svc.repo.RecordOutcome(ctx, cancelled.ID, GatewayOutcome{
		Status:                enums.PaymentStatusPaid,
		ProviderTransactionNo: "14123460",
		PaidAt:                &paidAt,
	})
	require.NoError(t, err)
	result, err := f.svc.Cancel(ctx, f.userID, cancelled.ID)
	require.NoError(t, err)
	require.True(t, result.RequiresRefund)

	abandoned := f.create(t, enums.PaymentMethodVNPay, "")

	summary, err := f.svc.ExpireStale(ctx, f.clock.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, ExpirySummary{Cancelled: 1, Deleted: 1, PaidUnlinked: 2}, summary)

	kept := f.reload(t, late.ID)
	require.Equal(t, enums.PaymentStatusPending, kept.PaymentStatus)
	require.NotNil(t, kept.ProviderTransactionNo)
	require.Equal(t, "14123459", *kept.ProviderTransactionNo)
	require.Equal(t, "NCB", *kept.BankCode)
	require.Len(t, kept.GatewayPayload, 2)
	require.Equal(t, enums.PaymentStatusCancelled, f.reload(t, cancelled.ID).PaymentStatus)

	var count int64
	require.NoError(t, f.client.DB().Model(&models.PaymentIntent{}).Where("id = ?", abandoned.ID).Count(&count).Error)
	require.Zero(t, count)

	summary, err = f.svc.ExpireStale(ctx, f.clock.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, ExpirySummary{PaidUnlinked: 2}, summary)
}

func TestLinkOrderSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.create(t, enums.PaymentMethodVNPay, "")
	paidAt := f.clock
	_, err := f.svc.repo.RecordOutcome(ctx, intent.ID, GatewayOutcome{Status: enums.PaymentStatusPaid, PaidAt: &paidAt})
	require.NoError(t, err)

	rows, err := f.svc.repo.LinkOrder(ctx, intent.ID, ids.New())
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	rows, err = f.svc.repo.LinkOrder(ctx, intent.ID, ids.New())
	require.NoError(t, err)
	require.Zero(t, rows)
}
