// Package pricing derives checkout totals from priced line items.
package pricing

import (
	"github.com/threadline/shopfront-backend/internal/vouchers"
	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
	"github.com/threadline/shopfront-backend/pkg/types"
)

// Quote is the priced outcome persisted on intents and orders.
type Quote struct {
	OriginalAmount int64
	Discount       int64
	ShippingFee    int64
	TotalAmount    int64
}

// Price computes original = sum(price*qty), total = original - discount + shipping.
// It fails closed instead of clamping when any amount would go negative.
func Price(lines types.LineItems, outcome *vouchers.Outcome, shippingFee int64) (Quote, error) {
	if shippingFee < 0 {
		return Quote{}, violation("shipping fee is negative", map[string]any{"shippingFee": shippingFee})
	}

	var original int64
	for _, line := range lines {
		if line.Price < 0 || line.Quantity < 0 {
			return Quote{}, violation("line item has a negative price or quantity", map[string]any{
				"productId": line.ProductID,
				"price":     line.Price,
				"quantity":  line.Quantity,
			})
		}
		original += line.Subtotal()
	}

	var discount int64
	if outcome != nil {
		discount = outcome.Discount
	}
	if discount < 0 {
		return Quote{}, violation("discount is negative", map[string]any{"discount": discount})
	}

	total := original - discount + shippingFee
	if total < 0 {
		return Quote{}, violation("total amount is negative", map[string]any{
			"originalAmount": original,
			"discount":       discount,
			"shippingFee":    shippingFee,
		})
	}

	return Quote{
		OriginalAmount: original,
		Discount:       discount,
		ShippingFee:    shippingFee,
		TotalAmount:    total,
	}, nil
}

func violation(message string, details map[string]any) error {
	return pkgerrors.New(pkgerrors.CodePricingInvariant, message).WithDetails(details)
}
