package domain

import "errors"

// Ledger error taxonomy. Business-rule violations are user facing and never retried;
// ErrUpstream and ErrInternal are logged and surfaced as opaque failures.
var (
	ErrNotFound                = errors.New("not found")
	ErrReceiverNotFound        = errors.New("receiver account score not found")
	ErrValidationFailed        = errors.New("validation failed")
	ErrDuplicateReference      = errors.New("duplicate reference code")
	ErrInsufficientScore       = errors.New("insufficient score")
	ErrOverflowMaxTransferable = errors.New("amount exceeds max transferable score")
	ErrDifferentDepositType    = errors.New("deposits have different types")
	ErrDifferentProvince       = errors.New("branches are in different provinces")
	ErrNotActive               = errors.New("deposit is not active")
	ErrForbidden               = errors.New("operation not allowed for this branch")
	ErrRateLimited             = errors.New("too many requests")
	ErrUpstream                = errors.New("core banking unavailable")
	ErrInternal                = errors.New("internal error")
)

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrReceiverNotFound)
}
