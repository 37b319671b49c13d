package payments

import (
	"net/url"
	"strconv"
	"strings"

	pkgerrors "github.com/threadline/shopfront-backend/pkg/errors"
)

// IPNResponse is the body VNPay expects from the IPN endpoint. It is always sent with HTTP 200.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// IPNAck maps a reconciliation error onto the gateway's acknowledgement codes.
func IPNAck(err error) IPNResponse {
	if err == nil {
		return IPNResponse{RspCode: "00", Message: "Confirm Success"}
	}
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature):
		return IPNResponse{RspCode: "97", Message: "Invalid Signature"}
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return IPNResponse{RspCode: "01", Message: "Order not found"}
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
		return IPNResponse{RspCode: "04", Message: "Invalid amount"}
	case pkgerrors.IsCode(err, pkgerrors.CodeMalformedToken):
		return IPNResponse{RspCode: "99", Message: "Invalid Intent ID"}
	default:
		return IPNResponse{RspCode: "99", Message: "Unknown error"}
	}
}

// CallbackRedirect builds the app deep link the browser callback redirects to.
func CallbackRedirect(deepLink string, rec *Reconciliation, err error) string {
	q := url.Values{}
	if err != nil {
		q.Set("success", "false")
		q.Set("message", callbackMessage(err))
		return join(deepLink, q)
	}
	success := rec.Success && !rec.RefundRequired
	q.Set("success", strconv.FormatBool(success))
	q.Set("intentId", rec.IntentID)
	q.Set("txnRef", rec.TxnRef)
	q.Set("responseCode", rec.ResponseCode)
	if rec.RefundRequired {
		q.Set("message", "Payment-requires-refund")
	}
	return join(deepLink, q)
}

func callbackMessage(err error) string {
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeInvalidSignature):
		return "Invalid-signature"
	case pkgerrors.IsCode(err, pkgerrors.CodeMalformedToken):
		return "Invalid-intent-id"
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return "Intent-not-found"
	case pkgerrors.IsCode(err, pkgerrors.CodeValidation):
		return "Invalid-amount"
	default:
		return "Payment-processing-error"
	}
}

func join(deepLink string, q url.Values) string {
	sep := "?"
	if strings.Contains(deepLink, "?") {
		sep = "&"
	}
	return deepLink + sep + q.Encode()
}
