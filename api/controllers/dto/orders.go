package dto

import (
	"time"

	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/types"
)

// OrderItemResponse is one order line as rendered to clients.
type OrderItemResponse struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

// OrderResponse is the public shape of an order.
type OrderResponse struct {
	ID              string                   `json:"id"`
	OrderNumber     string                   `json:"orderNumber"`
	UserID          string                   `json:"userId"`
	Items           []OrderItemResponse      `json:"items"`
	VoucherCode     *string                  `json:"voucherCode,omitempty"`
	Discount        int64                    `json:"discount"`
	ShippingFee     int64                    `json:"shippingFee"`
	OriginalAmount  int64                    `json:"originalAmount"`
	TotalAmount     int64                    `json:"totalAmount"`
	PaymentMethod   enums.PaymentMethod      `json:"paymentMethod"`
	Status          enums.OrderStatus        `json:"status"`
	PaymentStatus   enums.OrderPaymentStatus `json:"paymentStatus"`
	ShippingAddress types.ShippingAddress    `json:"shippingAddress"`
	RequiresRefund  bool                     `json:"requiresRefund"`
	PaymentIntentID *string                  `json:"paymentIntentId,omitempty"`
	TrackingNumber  *string                  `json:"trackingNumber,omitempty"`
	Notes           *string                  `json:"notes,omitempty"`
	CancelledAt     *time.Time               `json:"cancelledAt,omitempty"`
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
}

// OrderListResponse is one page of orders.
type OrderListResponse struct {
	Orders     []OrderResponse `json:"orders"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

func NewOrderResponse(order *models.Order) *OrderResponse {
	if order == nil {
		return nil
	}
	items := make([]OrderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Size:      item.Size,
			Color:     item.Color,
		})
	}
	return &OrderResponse{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Items:           items,
		VoucherCode:     order.VoucherCode,
		Discount:        order.Discount,
		ShippingFee:     order.ShippingFee,
		OriginalAmount:  order.OriginalAmount,
		TotalAmount:     order.TotalAmount,
		PaymentMethod:   order.PaymentMethod,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		ShippingAddress: order.ShippingAddress,
		RequiresRefund:  order.RequiresRefund,
		PaymentIntentID: order.PaymentIntentID,
		TrackingNumber:  order.TrackingNumber,
		Notes:           order.Notes,
		CancelledAt:     order.CancelledAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func NewOrderListResponse(orders []models.Order, next string) OrderListResponse {
	out := OrderListResponse{Orders: make([]OrderResponse, 0, len(orders)), NextCursor: next}
	for i := range orders {
		out.Orders = append(out.Orders, *NewOrderResponse(&orders[i]))
	}
	return out
}
