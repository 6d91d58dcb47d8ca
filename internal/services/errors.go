package services

import "errors"

// Error kinds surfaced by the ledger/payout engine. Idempotency conflicts at
// the entry level are not errors; they are swallowed as no-ops.
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrBelowThreshold    = errors.New("amount below minimum payout threshold")
	ErrDuplicatePeriod   = errors.New("payout already generated for this period")
	ErrPayoutNotFound    = errors.New("payout not found")
	ErrSettingsNotFound  = errors.New("payout settings not found")
	ErrInvalidTransition = errors.New("invalid payout status transition")
	ErrInvalidIBAN       = errors.New("invalid IBAN")
	ErrInvalidBIC        = errors.New("invalid BIC")
	ErrRateLimited       = errors.New("too many settings updates, try again later")
)
