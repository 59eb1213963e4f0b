package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Discrepancy kinds.
const (
	DiscrepancyAmountMismatch     = "amount_mismatch"
	DiscrepancyShipmentNotFound   = "shipment_not_found"
	DiscrepancySettlementMismatch = "settlement_mismatch"
)

// CODDiscrepancy records a difference between expected and reported COD money.
// Difference is signed: actual minus expected.
type CODDiscrepancy struct {
	ID             int              `json:"id"`
	ShipmentID     *int             `json:"shipment_id,omitempty"`
	CompanyID      *int             `json:"company_id,omitempty"`
	AWB            string           `json:"awb"`
	Kind           string           `json:"kind"`
	ExpectedAmount decimal.Decimal  `json:"expected_amount"`
	ActualAmount   decimal.Decimal  `json:"actual_amount"`
	Difference     decimal.Decimal  `json:"difference"`
	Percentage     decimal.Decimal  `json:"percentage"`
	Source         string           `json:"source"`
	Status         string           `json:"status"` // detected | resolved
	Resolution     *string          `json:"resolution,omitempty"`
	AdjustedAmount *decimal.Decimal `json:"adjusted_amount,omitempty"`
	DetectedAt     time.Time        `json:"detected_at"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
}

// Early remittance tiers and their payout day offsets.
var tierDayOffsets = map[string]int{
	"T+1": 1,
	"T+2": 2,
	"T+3": 3,
}

// EligibilityReport is the outcome of the early-remittance program check.
type EligibilityReport struct {
	Eligible          bool            `json:"eligible"`
	AccountAgeDays    int             `json:"account_age_days"`
	DeliveredCODCount int             `json:"delivered_cod_count"`
	RTORatePct        decimal.Decimal `json:"rto_rate_pct"`
	DisputeRatePct    decimal.Decimal `json:"dispute_rate_pct"`
	Reasons           []string        `json:"reasons,omitempty"`
}

// RemittanceBatch is one early-payout run for a company.
type RemittanceBatch struct {
	ID                  int             `json:"id"`
	BatchNumber         string          `json:"batch_number"`
	CompanyID           int             `json:"company_id"`
	Tier                string          `json:"tier"`
	ShipmentCount       int             `json:"shipment_count"`
	TotalCOD            decimal.Decimal `json:"total_cod"`
	ShippingDeduction   decimal.Decimal `json:"shipping_deduction"`
	EarlyPayoutFee      decimal.Decimal `json:"early_payout_fee"`
	NetPayable          decimal.Decimal `json:"net_payable"`
	Status              string          `json:"status"` // created | settled
	CarrierSettlementID *string         `json:"carrier_settlement_id,omitempty"`
	BankReference       *string         `json:"bank_reference,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	SettledAt           *time.Time      `json:"settled_at,omitempty"`
}

// BatchResult is what a remittance run returns. A run that found no newly
// eligible shipments has Included == 0 and a nil Batch.
type BatchResult struct {
	Batch    *RemittanceBatch `json:"batch,omitempty"`
	Included int              `json:"included"`
}

// SettlementLine is one carrier-reported settlement entry.
type SettlementLine struct {
	AWB       string          `json:"awb"`
	NetAmount decimal.Decimal `json:"net_amount"`
}

// SettlementPayload is the carrier's remittance settlement webhook body.
type SettlementPayload struct {
	SettlementID  string           `json:"settlement_id"`
	BankReference string           `json:"bank_reference"`
	Lines         []SettlementLine `json:"lines"`
}
