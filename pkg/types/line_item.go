package types

import (
	"database/sql/driver"
	"encoding/json"
)

// LineItem is an immutable priced snapshot of one cart line.
type LineItem struct {
	CartItemID string `json:"cartItemId,omitempty"`
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
	Price      int64  `json:"price"`
	Size       string `json:"size"`
	Color      string `json:"color"`
}

// Subtotal returns price times quantity.
func (l LineItem) Subtotal() int64 {
	return l.Price * int64(l.Quantity)
}

// LineItems is the JSON column holding an intent's item snapshot.
type LineItems []LineItem

func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (l *LineItems) Scan(value interface{}) error {
	return scanJSON(value, l)
}
