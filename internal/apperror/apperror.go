// Package apperror defines the error taxonomy shared by the approval, execution
// and ledger services, and maps it onto retry semantics and HTTP status codes.
//
// Callers check errors with errors.Is against the sentinels:
//
//	if errors.Is(err, apperror.ErrInsufficientFunds) { ... }
//
// Services wrap a sentinel with context through New or Wrap so that the reason
// string reaches the human reviewer while the kind stays machine-checkable.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors, one per kind
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidOTP        = errors.New("invalid or expired otp")
	ErrWalletLocked      = errors.New("wallet locked")
	ErrUnknownActionType = errors.New("unknown action type")
	ErrHandlerExecution  = errors.New("handler execution failed")
)

// Error carries the kind (one of the sentinels), the operation that failed and a
// human readable message. Its text always names the kind so stored failure
// reasons stay classifiable.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if e.Message != "" && (e.Kind == nil || e.Message != e.Kind.Error()) {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New creates an error of the given kind.
func New(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind error, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsRetryable reports whether the caller may retry the same call later,
// possibly after correcting its input (top-up, new OTP).
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrHandlerExecution),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidOTP):
		return true
	}
	return false
}

// IsUserFacing reports whether the error message is safe to show to the user.
func IsUserFacing(err error) bool {
	switch {
	case errors.Is(err, ErrUnknownActionType):
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidOTP),
		errors.Is(err, ErrWalletLocked),
		errors.Is(err, ErrHandlerExecution):
		return true
	}
	return false
}

// HTTPStatus maps an error onto the response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidOTP):
		return http.StatusBadRequest
	case errors.Is(err, ErrWalletLocked):
		return http.StatusLocked
	case errors.Is(err, ErrHandlerExecution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
