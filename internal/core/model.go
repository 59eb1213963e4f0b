package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// KYC tiers gate what a company may do. Booking and warehouse creation require
// at least KYCTierVerified.
const (
	KYCTierNone     = 0
	KYCTierBasic    = 1
	KYCTierVerified = 2
)

// Company is a seller on the platform.
type Company struct {
	ID            int        `json:"id"`
	CompanyCode   string     `json:"company_code"`
	Name          string     `json:"name"`
	BaseCurrency  string     `json:"base_currency"`
	KYCTier       int        `json:"kyc_tier"`
	CODTier       *string    `json:"cod_tier,omitempty"` // "T+1" | "T+2" | "T+3"
	CODEnrolledAt *time.Time `json:"cod_enrolled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Wallet is a company's prepaid balance. Version is bumped on every mutation
// and checked optimistically by debits.
type Wallet struct {
	CompanyID int             `json:"company_id"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WalletTransaction is one versioned debit or credit. Every shipment-creation
// debit has exactly one transaction record or is fully reversed by a credit
// whose ReversalOf points back at it.
type WalletTransaction struct {
	ID             int             `json:"id"`
	CompanyID      int             `json:"company_id"`
	TxnType        string          `json:"txn_type"` // "debit" | "credit"
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Reference      string          `json:"reference"`
	Narration      string          `json:"narration"`
	ReversalOf     *int            `json:"reversal_of,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Payment modes.
const (
	PaymentPrepaid = "prepaid"
	PaymentCOD     = "cod"
)
