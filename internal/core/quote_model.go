package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Option tags assigned during ranking.
const (
	TagCheapest    = "cheapest"
	TagFastest     = "fastest"
	TagRecommended = "recommended"
)

// CourierOption is one normalized, bookable rate option inside a quote session.
type CourierOption struct {
	OptionID         string          `json:"option_id"`
	Provider         string          `json:"provider"`
	CourierCode      string          `json:"courier_code"`
	CourierName      string          `json:"courier_name"`
	ServiceType      string          `json:"service_type"`
	QuotedAmount     decimal.Decimal `json:"quoted_amount"`
	CostAmount       decimal.Decimal `json:"cost_amount"`
	Margin           decimal.Decimal `json:"margin"`
	ChargeableWeight decimal.Decimal `json:"chargeable_weight"`
	Zone             string          `json:"zone"`
	PricingSource    string          `json:"pricing_source"`
	Confidence       float64         `json:"confidence"`
	EstimatedDays    int             `json:"estimated_days"`
	Tags             []string        `json:"tags"`
}

// QuoteSession is an ephemeral, single-use set of ranked options. It
// self-cancels via TTL expiry; once one option is consumed by a booking the
// session cannot be reused.
type QuoteSession struct {
	ID               uuid.UUID       `json:"session_id"`
	CompanyID        int             `json:"company_id"`
	Options          []CourierOption `json:"options"`
	ProviderTimeouts map[string]bool `json:"provider_timeouts"`
	Recommendation   string          `json:"recommendation"`
	Confidence       float64         `json:"confidence"`
	ExpiresAt        time.Time       `json:"expires_at"`
	Consumed         bool            `json:"consumed"`
	ConsumedOptionID *string         `json:"consumed_option_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// QuoteRequest describes the shipment a quote is wanted for.
type QuoteRequest struct {
	OriginPincode string          `json:"origin_pincode"`
	DestPincode   string          `json:"dest_pincode"`
	WeightKG      decimal.Decimal `json:"weight_kg"`
	LengthCM      int             `json:"length_cm"`
	WidthCM       int             `json:"width_cm"`
	HeightCM      int             `json:"height_cm"`
	PaymentMode   string          `json:"payment_mode"`
	DeclaredValue decimal.Decimal `json:"declared_value"`
}
