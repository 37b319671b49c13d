package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/threadline/shopfront-backend/pkg/config"
)

const (
	commandPay  = "pay"
	currencyVND = "VND"
	orderType   = "other"
	dateLayout  = "20060102150405"

	ParamSecureHash     = "vnp_SecureHash"
	ParamSecureHashType = "vnp_SecureHashType"
)

var (
	errTmnCodeRequired    = errors.New("vnpay tmn code is required")
	errHashSecretRequired = errors.New("vnpay hash secret is required")
	errReturnURLRequired  = errors.New("vnpay return url is required")
	errPayURLRequired     = errors.New("vnpay pay url is required")

	// vnpay expects wall-clock timestamps in Indochina time
	gmt7 = time.FixedZone("GMT+7", 7*60*60)
)

// PaymentRequest is one redirect the customer is sent to.
type PaymentRequest struct {
	TxnRef    string
	Amount    int64
	OrderInfo string
	ClientIP  string
	CreatedAt time.Time
	ExpiresAt time.Time
	BankCode  string
}

// Client signs outbound payment URLs and verifies inbound gateway parameters.
type Client struct {
	tmnCode    string
	hashSecret string
	payURL     string
	returnURL  string
	version    string
	locale     string
	rand       func(n int) int
}

// NewClient validates the merchant credentials once.
func NewClient(cfg config.VNPayConfig) (*Client, error) {
	c := &Client{
		tmnCode:    strings.TrimSpace(cfg.TmnCode),
		hashSecret: strings.TrimSpace(cfg.HashSecret),
		payURL:     strings.TrimSpace(cfg.PayURL),
		returnURL:  strings.TrimSpace(cfg.ReturnURL),
		version:    strings.TrimSpace(cfg.Version),
		locale:     strings.TrimSpace(cfg.Locale),
		rand:       rand.Intn,
	}
	switch {
	case c.tmnCode == "":
		return nil, errTmnCodeRequired
	case c.hashSecret == "":
		return nil, errHashSecretRequired
	case c.returnURL == "":
		return nil, errReturnURLRequired
	case c.payURL == "":
		return nil, errPayURLRequired
	}
	if c.version == "" {
		c.version = "2.1.0"
	}
	if c.locale == "" {
		c.locale = "vn"
	}
	return c, nil
}

// NewTxnRef returns a merchant transaction reference: VNPAY, the GMT+7 timestamp and three random digits.
func (c *Client) NewTxnRef(now time.Time) string {
	return fmt.Sprintf("VNPAY%s%03d", FormatDate(now), c.rand(1000))
}

// BuildPaymentURL returns the signed gateway URL for req.
func (c *Client) BuildPaymentURL(req PaymentRequest) (string, error) {
	if req.TxnRef == "" {
		return "", errors.New("txn ref is required")
	}
	if req.Amount <= 0 {
		return "", errors.New("amount must be positive")
	}
	created := req.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	params := url.Values{}
	params.Set("vnp_Version", c.version)
	params.Set("vnp_Command", commandPay)
	params.Set("vnp_TmnCode", c.tmnCode)
	params.Set("vnp_Locale", c.locale)
	params.Set("vnp_CurrCode", currencyVND)
	params.Set("vnp_TxnRef", req.TxnRef)
	params.Set("vnp_OrderInfo", SanitizeOrderInfo(req.OrderInfo))
	params.Set("vnp_OrderType", orderType)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_ReturnUrl", c.returnURL)
	params.Set("vnp_IpAddr", NormalizeIP(req.ClientIP))
	params.Set("vnp_CreateDate", FormatDate(created))
	if !req.ExpiresAt.IsZero() {
		params.Set("vnp_ExpireDate", FormatDate(req.ExpiresAt))
	}
	if req.BankCode != "" {
		params.Set("vnp_BankCode", req.BankCode)
	}

	return c.payURL + "?" + c.Sign(params).Encode(), nil
}

// Verify reports whether params carry a valid signature from the gateway.
func (c *Client) Verify(params url.Values) bool {
	received := strings.ToLower(strings.TrimSpace(params.Get(ParamSecureHash)))
	if received == "" {
		return false
	}
	expected := c.sign(params)
	return hmac.Equal([]byte(expected), []byte(received))
}

// sign computes the hex HMAC-SHA512 over the key-sorted encoded query of
// every non-empty vnp_ parameter except the hash fields.
func (c *Client) sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key == ParamSecureHash || key == ParamSecureHashType {
			continue
		}
		if !strings.HasPrefix(key, "vnp_") || params.Get(key) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(key)))
	}

	mac := hmac.New(sha512.New, []byte(c.hashSecret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns a copy of params carrying the gateway signature.
func (c *Client) Sign(params url.Values) url.Values {
	out := url.Values{}
	for key, values := range params {
		out[key] = append([]string(nil), values...)
	}
	out.Del(ParamSecureHashType)
	out.Set(ParamSecureHash, c.sign(params))
	return out
}

// FormatDate renders t in GMT+7 as yyyyMMddHHmmss.
func FormatDate(t time.Time) string {
	return t.In(gmt7).Format(dateLayout)
}

// ParseDate parses a gateway timestamp in GMT+7.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, value, gmt7)
}

// NormalizeIP reduces a client address to the IPv4 form the gateway accepts.
func NormalizeIP(raw string) string {
	ip := strings.TrimSpace(raw)
	if idx := strings.Index(ip, ","); idx >= 0 {
		ip = strings.TrimSpace(ip[:idx])
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	ip = strings.TrimPrefix(ip, "::ffff:")
	if ip == "" || ip == "::1" {
		return "127.0.0.1"
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return "127.0.0.1"
	}
	return parsed.To4().String()
}
