package vnpay

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/shopfront-backend/pkg/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(config.VNPayConfig{
		TmnCode:    "TMN01",
		HashSecret: "hash-secret",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://api.example.com/api/v1/payment/vnpay/callback",
	})
	require.NoError(t, err)
	c.rand = func(int) int { return 7 }
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(config.VNPayConfig{HashSecret: "x", ReturnURL: "y", PayURL: "z"})
	assert.ErrorIs(t, err, errTmnCodeRequired)
	_, err = NewClient(config.VNPayConfig{TmnCode: "x", ReturnURL: "y", PayURL: "z"})
	assert.ErrorIs(t, err, errHashSecretRequired)
}

func TestBuildPaymentURLSignsParameters(t *testing.T) {
	c := newTestClient(t)
	created := time.Date(2026, 3, 1, 5, 30, 0, 0, time.UTC)

	raw, err := c.BuildPaymentURL(PaymentRequest{
		TxnRef:    "VNPAY20260301123000007",
		Amount:    215000,
		OrderInfo: OrderInfo("507f1f77bcf86cd799439011"),
		ClientIP:  "::ffff:10.0.0.8",
		CreatedAt: created,
		ExpiresAt: created.Add(15 * time.Minute),
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?"))

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "21500000", q.Get("vnp_Amount"))
	assert.Equal(t, "20260301123000", q.Get("vnp_CreateDate"))
	assert.Equal(t, "20260301124500", q.Get("vnp_ExpireDate"))
	assert.Equal(t, "Thanh-toan-intent-507f1f77bcf86cd799439011", q.Get("vnp_OrderInfo"))
	assert.Equal(t, "10.0.0.8", q.Get("vnp_IpAddr"))
	assert.Equal(t, "2.1.0", q.Get("vnp_Version"))
	assert.Equal(t, "VND", q.Get("vnp_CurrCode"))
	assert.Len(t, q.Get(ParamSecureHash), 128)
	assert.True(t, c.Verify(q))
}

func TestVerifyRejectsTampering(t *testing.T) {
	c := newTestClient(t)
	params := c.Sign(url.Values{
		"vnp_TxnRef":       {"VNPAY20260301123000007"},
		"vnp_Amount":       {"21500000"},
		"vnp_ResponseCode": {"00"},
		"vnp_OrderInfo":    {"Thanh-toan-intent-507f1f77bcf86cd799439011"},
	})
	require.True(t, c.Verify(params))

	params.Set(ParamSecureHashType, "HmacSHA512")
	assert.True(t, c.Verify(params), "hash type is excluded from the signed data")

	params.Set("vnp_Amount", "100")
	assert.False(t, c.Verify(params))

	params.Del(ParamSecureHash)
	assert.False(t, c.Verify(params))
}

func TestNewTxnRefFormat(t *testing.T) {
	c := newTestClient(t)
	ref := c.NewTxnRef(time.Date(2026, 3, 1, 17, 0, 1, 0, time.UTC))
	assert.Equal(t, "VNPAY20260302000001007", ref)
}

func TestNormalizeIP(t *testing.T) {
	cases := map[string]string{
		"":                      "127.0.0.1",
		"::1":                   "127.0.0.1",
		"::ffff:192.168.1.4":    "192.168.1.4",
		"203.0.113.9, 10.0.0.1": "203.0.113.9",
		"198.51.100.2:5123":     "198.51.100.2",
		"2001:db8::1":           "127.0.0.1",
		"not-an-ip":             "127.0.0.1",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeIP(input), "input %q", input)
	}
}
