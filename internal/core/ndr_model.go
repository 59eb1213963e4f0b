package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// NDR classification types.
const (
	NDRAddressIssue        = "address_issue"
	NDRCustomerUnavailable = "customer_unavailable"
	NDRRefused             = "refused"
	NDRPaymentIssue        = "payment_issue"
	NDROther               = "other"
)

// NDR event statuses. detected → in_resolution → resolved | escalated |
// rto_triggered; the last three are terminal.
const (
	NDRDetected     = "detected"
	NDRInResolution = "in_resolution"
	NDRResolved     = "resolved"
	NDREscalated    = "escalated"
	NDRRTOTriggered = "rto_triggered"
)

// NDREvent is one detected non-delivery occurrence on a shipment.
type NDREvent struct {
	ID           int        `json:"id"`
	ShipmentID   int        `json:"shipment_id"`
	CompanyID    int        `json:"company_id"`
	AWB          string     `json:"awb"`
	NDRType      string     `json:"ndr_type"`
	RawReason    string     `json:"raw_reason"`
	StatusCode   string     `json:"status_code"`
	AttemptCount int        `json:"attempt_count"`
	Deadline     time.Time  `json:"deadline"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// NDRAction is one appended entry in an NDR's resolution action log.
type NDRAction struct {
	ID         int       `json:"id"`
	NDREventID int       `json:"ndr_event_id"`
	Sequence   int       `json:"sequence"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"` // success | failed | skipped
	Detail     string    `json:"detail"`
	ExecutedAt time.Time `json:"executed_at"`
}

// WorkflowStep is one configured resolution step for an NDR type. The RTO
// trigger conditions are repeated on every step of a type and read from the
// first.
type WorkflowStep struct {
	NDRType        string `json:"ndr_type"`
	Sequence       int    `json:"sequence"`
	Action         string `json:"action"`
	DelayMinutes   int    `json:"delay_minutes"`
	AutoExecute    bool   `json:"auto_execute"`
	RTOAutoTrigger bool   `json:"rto_auto_trigger"`
	RTOAfterHours  int    `json:"rto_after_hours"`
	RTOMaxAttempts int    `json:"rto_max_attempts"`
}

// RTOEvent records a return-to-origin booking. At most one exists per shipment.
type RTOEvent struct {
	ID          int             `json:"id"`
	ShipmentID  int             `json:"shipment_id"`
	NDREventID  *int            `json:"ndr_event_id,omitempty"`
	ReverseAWB  string          `json:"reverse_awb"`
	RTOCharge   decimal.Decimal `json:"rto_charge"`
	Reason      string          `json:"reason"`
	TriggeredBy string          `json:"triggered_by"` // auto | manual
	CreatedAt   time.Time       `json:"created_at"`
}
