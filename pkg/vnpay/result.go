package vnpay

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/threadline/shopfront-backend/pkg/ids"
)

// ResponseCodeSuccess is the only gateway response code that means money moved.
const ResponseCodeSuccess = "00"

// ErrMalformedOrderInfo is returned when the correlation token cannot be recovered.
var ErrMalformedOrderInfo = errors.New("order info does not carry an intent id")

// Result is the decoded gateway outcome of a callback or IPN.
type Result struct {
	TxnRef            string
	TransactionNo     string
	ResponseCode      string
	TransactionStatus string
	BankCode          string
	CardType          string
	OrderInfo         string
	Amount            int64
	PayDate           *time.Time
	Raw               map[string]string
}

// Success reports whether the gateway captured the payment.
func (r Result) Success() bool {
	if r.ResponseCode != ResponseCodeSuccess {
		return false
	}
	return r.TransactionStatus == "" || r.TransactionStatus == ResponseCodeSuccess
}

// ParseResult decodes the gateway parameters. It does not verify the signature.
func ParseResult(params url.Values) Result {
	res := Result{
		TxnRef:            params.Get("vnp_TxnRef"),
		TransactionNo:     params.Get("vnp_TransactionNo"),
		ResponseCode:      params.Get("vnp_ResponseCode"),
		TransactionStatus: params.Get("vnp_TransactionStatus"),
		BankCode:          params.Get("vnp_BankCode"),
		CardType:          params.Get("vnp_CardType"),
		OrderInfo:         params.Get("vnp_OrderInfo"),
		Raw:               make(map[string]string, len(params)),
	}
	if amount, err := strconv.ParseInt(params.Get("vnp_Amount"), 10, 64); err == nil {
		res.Amount = amount / 100
	}
	if raw := params.Get("vnp_PayDate"); raw != "" {
		if paid, err := ParseDate(raw); err == nil {
			utc := paid.UTC()
			res.PayDate = &utc
		}
	}
	for key := range params {
		res.Raw[key] = params.Get(key)
	}
	return res
}

// OrderInfo builds the order description carrying the intent id as its last token.
func OrderInfo(intentID string) string {
	return SanitizeOrderInfo("Thanh toan intent " + intentID)
}

// SanitizeOrderInfo replaces whitespace runs with single dashes.
func SanitizeOrderInfo(info string) string {
	return strings.Join(strings.Fields(info), "-")
}

// ExtractIntentID recovers the intent id: the substring after the last dash, which must be a 24-hex id.
func ExtractIntentID(orderInfo string) (string, error) {
	info := strings.TrimSpace(orderInfo)
	if info == "" {
		return "", ErrMalformedOrderInfo
	}
	token := info
	if idx := strings.LastIndex(info, "-"); idx >= 0 {
		token = info[idx+1:]
	}
	id, ok := ids.Normalize(token)
	if !ok {
		return "", ErrMalformedOrderInfo
	}
	return id, nil
}
