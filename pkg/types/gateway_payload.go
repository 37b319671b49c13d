package types

import (
	"database/sql/driver"
	"encoding/json"
)

// GatewayPayload keeps the raw gateway parameters verbatim for audit.
type GatewayPayload map[string]string

func (g GatewayPayload) Value() (driver.Value, error) {
	if g == nil {
		return nil, nil
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (g *GatewayPayload) Scan(value interface{}) error {
	return scanJSON(value, g)
}
