/*
errors.go - Error codes of the point engine

PURPOSE:
  Every failure the engine reports carries a stable Code (the value clients
  see) and belongs to one of four categories (what the caller should do).

CATEGORIES (use with errors.Is):
  ErrNotFound      A referenced wallet, entry or batch does not exist
  ErrBounds        An amount or date is outside what the rules allow
  ErrConflict      The target is in a state that forbids the operation
                   (including returning more of a use than remains)
  ErrInconsistent  Persisted state contradicts itself; nothing was written

USAGE:
  _, err := svc.Use(ctx, cmd)
  switch {
  case errors.Is(err, point.ErrWalletAmount):
      // insufficient balance
  case errors.Is(err, point.ErrBounds):
      // any bounds failure
  }

  Codes survive wrapping: fmt.Errorf("use %s: %w", id, err) still matches.

SEE ALSO:
  - api/handlers.go: Maps categories to HTTP status codes
*/
package point

import (
	"errors"
	"fmt"
)

// =============================================================================
// CATEGORIES
// =============================================================================

var (
	ErrNotFound     = errors.New("not found")
	ErrBounds       = errors.New("out of bounds")
	ErrConflict     = errors.New("conflict")
	ErrInconsistent = errors.New("internal consistency violation")
)

// =============================================================================
// CODED ERRORS
// =============================================================================

// Code is the stable identifier of a failure.
type Code string

const (
	CodeSuccess             Code = "SUCCESS"
	CodeWalletNotFound      Code = "WALLET_NOT_FOUND"
	CodeWalletAmount        Code = "WALLET_AMOUNT_ERR"
	CodeUnknownKey          Code = "UNKNOWN_POINT_KEY"
	CodePointAmount         Code = "POINT_AMOUNT_ERR"
	CodeEarnNotFound        Code = "EARN_NOT_FOUND"
	CodeEarnExpireDate      Code = "EARN_EXPIRE_DATE_ERROR"
	CodeEarnMaxExpireDate   Code = "EARN_MAX_EXPIRE_DATE_ERROR"
	CodeEarnAlreadyCanceled Code = "EARN_ALREADY_CANCELED"
	CodeEarnAlreadyExpired  Code = "EARN_ALREADY_EXPIRED"
	CodeEarnUsed            Code = "EARN_USED_ERROR"
	CodeEarnBalance         Code = "EARN_BALANCE_ERROR"
	CodeUseCancelFail       Code = "USE_CANCEL_FAIL"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeSystem              Code = "SYSTEM_ERROR"
)

// Error is a coded engine failure.
type Error struct {
	Code     Code
	Message  string
	category error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the category, so errors.Is(err, ErrBounds) works.
func (e *Error) Unwrap() error {
	return e.category
}

// Is matches any *Error with the same code, regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrWalletNotFound      = &Error{CodeWalletNotFound, "wallet not found", ErrNotFound}
	ErrWalletAmount        = &Error{CodeWalletAmount, "wallet balance out of range", ErrBounds}
	ErrUnknownKey          = &Error{CodeUnknownKey, "unknown point key", ErrNotFound}
	ErrPointAmount         = &Error{CodePointAmount, "point amount out of range", ErrBounds}
	ErrEarnNotFound        = &Error{CodeEarnNotFound, "earn not found", ErrNotFound}
	ErrEarnExpireDate      = &Error{CodeEarnExpireDate, "expire date before earn date", ErrBounds}
	ErrEarnMaxExpireDate   = &Error{CodeEarnMaxExpireDate, "expire date beyond maximum", ErrBounds}
	ErrEarnAlreadyCanceled = &Error{CodeEarnAlreadyCanceled, "earn already canceled", ErrConflict}
	ErrEarnAlreadyExpired  = &Error{CodeEarnAlreadyExpired, "earn already expired", ErrConflict}
	ErrEarnUsed            = &Error{CodeEarnUsed, "earn already used", ErrConflict}
	ErrEarnBalance         = &Error{CodeEarnBalance, "earn balance out of range", ErrBounds}
	ErrUseCancel           = &Error{CodeUseCancelFail, "cancel amount exceeds use", ErrConflict}
	ErrValidation          = &Error{CodeValidation, "invalid request", ErrBounds}
	ErrSystem              = &Error{CodeSystem, "internal error", ErrInconsistent}
)

// errorf derives a coded error with a specific message.
func errorf(base *Error, format string, args ...any) error {
	return &Error{Code: base.Code, Message: fmt.Sprintf(format, args...), category: base.category}
}

// inconsistency reports persisted state that contradicts itself.
func inconsistency(format string, args ...any) error {
	return errorf(ErrSystem, format, args...)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// CodeOf extracts the code of err. Uncoded errors are SYSTEM_ERROR.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeSystem
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if retrying the same request cannot succeed.
func IsClientError(err error) bool {
	return errors.Is(err, ErrBounds) || errors.Is(err, ErrConflict)
}

// IsInconsistent returns true if the engine refused to write contradicting state.
func IsInconsistent(err error) bool {
	return errors.Is(err, ErrInconsistent)
}
