package models

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/ids"
	"github.com/threadline/shopfront-backend/pkg/types"
)

// Order is a committed purchase with its own item snapshot.
type Order struct {
	ID              string                   `gorm:"column:id;type:char(24);primaryKey"`
	OrderNumber     string                   `gorm:"column:order_number;not null;index"`
	UserID          string                   `gorm:"column:user_id;type:char(24);not null;index"`
	Items           []OrderItem              `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	VoucherID       *string                  `gorm:"column:voucher_id;type:char(24)"`
	VoucherCode     *string                  `gorm:"column:voucher_code"`
	Discount        int64                    `gorm:"column:discount;not null;default:0"`
	ShippingFee     int64                    `gorm:"column:shipping_fee;not null"`
	OriginalAmount  int64                    `gorm:"column:original_amount;not null"`
	TotalAmount     int64                    `gorm:"column:total_amount;not null"`
	PaymentMethod   enums.PaymentMethod      `gorm:"column:payment_method;type:payment_method;not null"`
	Status          enums.OrderStatus        `gorm:"column:status;type:order_status;not null"`
	PaymentStatus   enums.OrderPaymentStatus `gorm:"column:payment_status;type:order_payment_status;not null"`
	ShippingAddress types.ShippingAddress    `gorm:"column:shipping_address;type:jsonb;not null"`
	StockReserved   bool                     `gorm:"column:stock_reserved;not null"`
	RequiresRefund  bool                     `gorm:"column:requires_refund;not null"`
	PaymentIntentID *string                  `gorm:"column:payment_intent_id;type:char(24)"`
	TrackingNumber  *string                  `gorm:"column:tracking_number"`
	Notes           *string                  `gorm:"column:notes"`
	CancelledAt     *time.Time               `gorm:"column:cancelled_at"`
	CreatedAt       time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == "" {
		o.ID = ids.New()
	}
	if o.OrderNumber == "" {
		o.OrderNumber = OrderNumberFor(o.ID)
	}
	return nil
}

// OrderNumberFor derives the customer-facing order number from an order id.
func OrderNumberFor(id string) string {
	suffix := id
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "#" + strings.ToUpper(suffix)
}

// OrderItem is one immutable line of an order.
type OrderItem struct {
	ID        string    `gorm:"column:id;type:char(24);primaryKey"`
	OrderID   string    `gorm:"column:order_id;type:char(24);not null;index"`
	ProductID string    `gorm:"column:product_id;type:char(24);not null"`
	Quantity  int       `gorm:"column:quantity;not null"`
	Price     int64     `gorm:"column:price;not null"`
	Size      string    `gorm:"column:size;not null"`
	Color     string    `gorm:"column:color;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == "" {
		i.ID = ids.New()
	}
	return nil
}

// LineItems returns the order items as pricing snapshots.
func (o Order) LineItems() types.LineItems {
	lines := make(types.LineItems, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, types.LineItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Size:      item.Size,
			Color:     item.Color,
		})
	}
	return lines
}
