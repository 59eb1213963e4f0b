package core

import "errors"

// Sentinel errors for the error kinds callers must branch on. The web adapter
// maps these to HTTP statuses; services wrap them with %w and context.
var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrAccessDenied        = errors.New("access denied: insufficient KYC tier")
	ErrQuoteExpired        = errors.New("quote session expired")
	ErrSessionConsumed     = errors.New("quote session already consumed")
	ErrVersionConflict     = errors.New("wallet version conflict")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrMissingBaseAmount   = errors.New("order missing base-currency total")
	ErrDuplicateNDR        = errors.New("duplicate NDR within dedup window")
	ErrRTOAlreadyTriggered = errors.New("RTO already triggered for shipment")
	ErrNotEligible         = errors.New("company not eligible for early COD program")
	ErrNotEnrolled         = errors.New("company not enrolled in early COD program")
	ErrAlreadySettled      = errors.New("remittance batch already settled")
	ErrAlreadyReversed     = errors.New("wallet transaction already reversed")
)
