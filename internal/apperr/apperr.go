// Package apperr holds the application error taxonomy shared by services and
// handlers, and the adapters that translate vendor failures into it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the broad category of a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindEntitlementExhausted
	KindPaymentProvider
	KindReceiptInvalid
	KindIdempotentNoOp
	KindTokenInvalid
	KindNotFound
	KindForbidden
	KindNotAuthenticated
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindEntitlementExhausted:
		return "entitlement_exhausted"
	case KindPaymentProvider:
		return "payment_provider"
	case KindReceiptInvalid:
		return "receipt_invalid"
	case KindIdempotentNoOp:
		return "idempotent_noop"
	case KindTokenInvalid:
		return "token_invalid"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindNotAuthenticated:
		return "not_authenticated"
	case KindConflict:
		return "conflict"
	}
	return "internal"
}

// Code names a specific failure inside a Kind.
type Code string

const (
	CodeSessionNotFound          Code = "SessionNotFound"
	CodeNotYetPaid               Code = "NotYetPaid"
	CodeInvalidReceipt           Code = "InvalidReceipt"
	CodeProductNotInReceipt      Code = "ProductNotInReceipt"
	CodeUnknownProduct           Code = "UnknownProduct"
	CodeRangeTooShort            Code = "RangeTooShort"
	CodeRangeOverlapsUnavailable Code = "RangeOverlapsUnavailable"
	CodeInvalidRange             Code = "InvalidRange"
	CodeInvalidSignature         Code = "InvalidSignature"
	CodeAlreadyProcessed         Code = "AlreadyProcessed"
	CodeListingNotFound          Code = "ListingNotFound"
	CodePaymentNotFound          Code = "PaymentNotFound"
	CodeBookingNotFound          Code = "BookingNotFound"
	CodeAccountMismatch          Code = "AccountMismatch"
	CodeInvalidState             Code = "InvalidState"
	CodePublishInProgress        Code = "PublishInProgress"
	CodeStayTooLong              Code = "StayTooLong"
	CodeProviderUnavailable      Code = "ProviderUnavailable"
)

// Error is an application error carrying a Kind, an optional Code and the
// vendor status when one exists.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	// Status echoes a vendor numeric status (e.g. a receipt validation code).
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind and, when the target sets one, by Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// New creates an error of the given kind.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, code Code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Sentinels usable with errors.Is.
var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrEntitlementExhausted = &Error{Kind: KindEntitlementExhausted}
	ErrPaymentProvider      = &Error{Kind: KindPaymentProvider}
	ErrReceiptInvalid       = &Error{Kind: KindReceiptInvalid}
	ErrIdempotentNoOp       = &Error{Kind: KindIdempotentNoOp}
	ErrTokenInvalid         = &Error{Kind: KindTokenInvalid}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrNotAuthenticated     = &Error{Kind: KindNotAuthenticated}
	ErrConflict             = &Error{Kind: KindConflict}

	ErrSessionNotFound     = &Error{Kind: KindNotFound, Code: CodeSessionNotFound}
	ErrNotYetPaid          = &Error{Kind: KindConflict, Code: CodeNotYetPaid}
	ErrInvalidReceipt      = &Error{Kind: KindReceiptInvalid, Code: CodeInvalidReceipt}
	ErrProductNotInReceipt = &Error{Kind: KindReceiptInvalid, Code: CodeProductNotInReceipt}
	ErrInvalidSignature    = &Error{Kind: KindValidation, Code: CodeInvalidSignature}
)

// KindOf returns the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the Code of err, if any.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps an error to the HTTP status a handler should answer with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindValidation, KindReceiptInvalid:
		return http.StatusBadRequest
	case KindEntitlementExhausted:
		return http.StatusPaymentRequired
	case KindPaymentProvider:
		return http.StatusBadGateway
	case KindIdempotentNoOp:
		return http.StatusOK
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindNotAuthenticated:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindPaymentProvider, KindInternal:
		return true
	case KindConflict:
		return CodeOf(err) == CodeNotYetPaid
	}
	return false
}
