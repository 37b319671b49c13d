package orders

import (
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/types"
)

// Actor is the authenticated principal driving an order operation.
type Actor struct {
	UserID string
	Role   enums.Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.RoleAdmin
}

// DirectInput is a direct checkout request.
type DirectInput struct {
	PaymentMethod   enums.PaymentMethod
	ShippingAddress types.ShippingAddress
	VoucherID       string
	VoucherCode     string
	SelectedItemIDs []string
	Notes           string
}

// StatusUpdate is an administrative status change.
type StatusUpdate struct {
	Status         enums.OrderStatus
	TrackingNumber *string
	Notes          *string
}

// SettleResult carries the settled order and whether it already existed.
type SettleResult struct {
	Order    *models.Order
	Existing bool
}

// CancelResult reports what a cancellation reversed.
type CancelResult struct {
	Order          *models.Order
	StockReleased  bool
	RequiresRefund bool
}

// ListParams configures an order listing page.
type ListParams struct {
	UserID string
	Status *enums.OrderStatus
	Limit  int
	Cursor string
}

// ListResult wraps one page of orders plus the cursor for the next page.
type ListResult struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"nextCursor,omitempty"`
}
