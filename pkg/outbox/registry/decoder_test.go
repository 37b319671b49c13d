package registry

import (
	"encoding/json"
	"testing"

	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/outbox/payloads"
)

func TestDecoderRegistry(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventVoucherExpired, 1, func(payload json.RawMessage) (interface{}, error) {
		var decoded map[string]string
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	})

	input := json.RawMessage(`{"code":"SALE10"}`)
	output, err := reg.Decode(enums.EventVoucherExpired, 1, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outMap, ok := output.(map[string]string); !ok || outMap["code"] != "SALE10" {
		t.Fatalf("unexpected output %+v", output)
	}
	if _, err := reg.Decode(enums.EventVoucherExpired, 2, input); err == nil {
		t.Fatalf("expected unregistered version to fail")
	}
}

func TestEventRegistryDecoders(t *testing.T) {
	reg := newTestEventRegistry(t)
	decoders := reg.Decoders()

	output, err := decoders.Decode(enums.EventOrderStatusChanged, 1, json.RawMessage(`{"order_id":"507f1f77bcf86cd799439011","from":"confirmed","to":"shipping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event, ok := output.(*payloads.OrderStatusChangedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", output)
	}
	if event.From != enums.OrderStatusConfirmed || event.To != enums.OrderStatusShipping {
		t.Fatalf("unexpected decoded event %+v", event)
	}
}
