// Package apperr defines the error kinds surfaced by memestream operations.
//
// Every error that leaves a public operation is either an *Error carrying a
// stable Kind, or is treated as Internal by the API layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies an error independently of its message
type Kind string

const (
	InvalidSignature Kind = "InvalidSignature"
	Unauthenticated  Kind = "Unauthenticated"
	SessionExpired   Kind = "SessionExpired"

	TransactionNotFound  Kind = "TransactionNotFound"
	SenderMismatch       Kind = "SenderMismatch"
	StaleTransaction     Kind = "StaleTransaction"
	OracleUnavailable    Kind = "OracleUnavailable"
	DuplicateTransaction Kind = "DuplicateTransaction"

	TokenNotFound  Kind = "TokenNotFound"
	WalletNotFound Kind = "WalletNotFound"
	Forbidden      Kind = "Forbidden"
	TokenExists    Kind = "TokenExists"
	InvalidInput   Kind = "InvalidInput"
	RateLimited    Kind = "RateLimited"

	NotFound    Kind = "NotFound"
	WriteFailed Kind = "WriteFailed"

	Internal Kind = "Internal"
)

// Class groups kinds the same way callers reason about them
type Class string

const (
	ClassAuth         Class = "auth"
	ClassVerification Class = "verification"
	ClassDomain       Class = "domain"
	ClassStore        Class = "store"
	ClassInternal     Class = "internal"
)

// Class returns the taxonomy group of k
func (k Kind) Class() Class {
	switch k {
	case InvalidSignature, Unauthenticated, SessionExpired:
		return ClassAuth
	case TransactionNotFound, SenderMismatch, StaleTransaction, OracleUnavailable, DuplicateTransaction:
		return ClassVerification
	case TokenNotFound, WalletNotFound, Forbidden, TokenExists, InvalidInput, RateLimited:
		return ClassDomain
	case NotFound, WriteFailed:
		return ClassStore
	}
	return ClassInternal
}

// HTTPStatus maps k to a response status
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidSignature, Unauthenticated, SessionExpired:
		return http.StatusUnauthorized
	case TransactionNotFound, TokenNotFound, WalletNotFound, NotFound:
		return http.StatusNotFound
	case SenderMismatch, StaleTransaction, InvalidInput:
		return http.StatusBadRequest
	case DuplicateTransaction, TokenExists:
		return http.StatusConflict
	case Forbidden:
		return http.StatusForbidden
	case OracleUnavailable:
		return http.StatusServiceUnavailable
	case RateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// Error is a classified error
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an error with a formatted message
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of err, or Internal if err is unclassified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidSignature = New(InvalidSignature, "signature does not match address")
	ErrUnauthenticated  = New(Unauthenticated, "missing or invalid session")
	ErrSessionExpired   = New(SessionExpired, "session expired")

	ErrTransactionNotFound  = New(TransactionNotFound, "transaction not found")
	ErrSenderMismatch       = New(SenderMismatch, "wallet address does not match the transaction")
	ErrStaleTransaction     = New(StaleTransaction, "transaction is older than the freshness window")
	ErrOracleUnavailable    = New(OracleUnavailable, "chain oracle unavailable")
	ErrDuplicateTransaction = New(DuplicateTransaction, "transaction already recorded")

	ErrTokenNotFound  = New(TokenNotFound, "token not found")
	ErrWalletNotFound = New(WalletNotFound, "wallet not found")
	ErrForbidden      = New(Forbidden, "forbidden")
	ErrTokenExists    = New(TokenExists, "token already registered")
	ErrInvalidInput   = New(InvalidInput, "invalid input")

	ErrNotFound    = New(NotFound, "record not found")
	ErrWriteFailed = New(WriteFailed, "write failed")
)
