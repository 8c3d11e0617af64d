package services

import (
	"errors"
	"net/http"
)

// Business-rule failures surfaced to API callers. Validation and precondition
// failures are client errors; only storage faults map to 500.
var (
	ErrValidation               = errors.New("validation failed")
	ErrAccountNotFound          = errors.New("account not found")
	ErrCrossTenant              = errors.New("account does not belong to sacco")
	ErrInsufficientBalance      = errors.New("insufficient available balance")
	ErrInsufficientUnsupervised = errors.New("insufficient unsupervised funds")
	ErrInvalidTransactionState  = errors.New("transaction is not in an approvable state")
	ErrNotFound                 = errors.New("not found")
	ErrOptimisticLock           = errors.New("concurrent update detected, retry")
)

// statusFor maps a business error to the HTTP status carried in the response
// envelope. AccountNotFound on create is a client input error, not a missing
// resource, so it maps to 400.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrCrossTenant),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientUnsupervised),
		errors.Is(err, ErrInvalidTransactionState):
		return http.StatusBadRequest
	case errors.Is(err, ErrOptimisticLock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
