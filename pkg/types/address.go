package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// ShippingAddress is the delivery address snapshotted onto intents and orders.
type ShippingAddress struct {
	FullName string `json:"fullName" validate:"required,max=120"`
	Phone    string `json:"phone" validate:"required,max=20"`
	Address  string `json:"address" validate:"required,max=255"`
	Ward     string `json:"ward,omitempty" validate:"omitempty,max=120"`
	District string `json:"district,omitempty" validate:"omitempty,max=120"`
	City     string `json:"city" validate:"required,max=120"`
}

// Value stores the address as a JSON document.
func (a ShippingAddress) Value() (driver.Value, error) {
	if strings.TrimSpace(a.FullName) == "" {
		return nil, fmt.Errorf("shipping address: missing fullName")
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan decodes the JSON document.
func (a *ShippingAddress) Scan(value interface{}) error {
	return scanJSON(value, a)
}

func scanJSON(value interface{}, dest any) error {
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("json column: unsupported type %T", value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
