package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"firebase.google.com/go/v4/messaging"
	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v76"
)

// ClassifyStripe maps an error returned by the Stripe client into the taxonomy.
// All Stripe-specific type and code matching lives here.
func ClassifyStripe(err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	if isBreakerOpen(err) {
		return Wrap(KindPaymentProvider, CodeProviderUnavailable, "payment processor temporarily unavailable", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindPaymentProvider, CodeProviderUnavailable, "payment processor call timed out", err)
	}

	var se *stripe.Error
	if !errors.As(err, &se) {
		return Wrap(KindPaymentProvider, "", "payment processor unreachable", err)
	}

	switch string(se.Type) {
	case "api_error", "api_connection_error", "rate_limit_error":
		return Wrap(KindPaymentProvider, "", "payment processor error", err)
	case "authentication_error", "permission_error":
		return Wrap(KindInternal, "", "payment processor rejected our credentials", err)
	case "idempotency_error":
		return Wrap(KindConflict, "", "conflicting request to payment processor", err)
	case "card_error":
		return Wrap(KindValidation, Code(se.Code), "payment method declined", err)
	case "invalid_request_error":
		if string(se.Code) == "resource_missing" || se.HTTPStatusCode == http.StatusNotFound {
			return Wrap(KindNotFound, CodeSessionNotFound, "checkout session not found", err)
		}
		return Wrap(KindValidation, Code(se.Code), "invalid payment request", err)
	}

	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500:
		return Wrap(KindPaymentProvider, "", "payment processor error", err)
	case se.HTTPStatusCode == http.StatusNotFound:
		return Wrap(KindNotFound, CodeSessionNotFound, "checkout session not found", err)
	}
	return Wrap(KindPaymentProvider, "", "unexpected payment processor error", err)
}

// Apple verifyReceipt status codes.
const (
	AppleStatusOK                  = 0
	AppleStatusBadJSON             = 21000
	AppleStatusMalformedReceipt    = 21002
	AppleStatusNotAuthenticated    = 21003
	AppleStatusSharedSecretInvalid = 21004
	AppleStatusServerUnavailable   = 21005
	AppleStatusSubscriptionExpired = 21006
	AppleStatusSandboxReceipt      = 21007
	AppleStatusProductionReceipt   = 21008
	AppleStatusInternalError       = 21009
	AppleStatusAccountNotFound     = 21010
)

// ClassifyAppleStatus maps an Apple verifyReceipt status into the taxonomy.
// The sandbox redirect statuses (21007/21008) are handled by the verifier
// before this is called; if they reach here the receipt is unusable.
func ClassifyAppleStatus(status int) error {
	switch {
	case status == AppleStatusOK:
		return nil
	case status == AppleStatusServerUnavailable, status == AppleStatusInternalError,
		status >= 21100 && status <= 21199:
		return &Error{Kind: KindPaymentProvider, Code: CodeProviderUnavailable, Message: "receipt verification temporarily unavailable", Status: status}
	case status == AppleStatusSharedSecretInvalid:
		return &Error{Kind: KindInternal, Message: "receipt shared secret rejected", Status: status}
	}
	return &Error{Kind: KindReceiptInvalid, Code: CodeInvalidReceipt, Message: fmt.Sprintf("receipt rejected by vendor (status %d)", status), Status: status}
}

// ClassifyFCM maps a push delivery error into the taxonomy. Tokens that the
// provider reports as permanently unusable come back as KindTokenInvalid.
func ClassifyFCM(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case messaging.IsUnregistered(err), messaging.IsInvalidArgument(err), messaging.IsSenderIDMismatch(err):
		return Wrap(KindTokenInvalid, "", "device token rejected", err)
	case messaging.IsUnavailable(err), messaging.IsInternal(err), messaging.IsQuotaExceeded(err), isBreakerOpen(err):
		return Wrap(KindInternal, CodeProviderUnavailable, "push provider unavailable", err)
	}
	return Wrap(KindInternal, "", "push delivery failed", err)
}

func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
