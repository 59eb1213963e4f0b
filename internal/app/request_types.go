package app

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateOrderRequest is the inbound shape for new orders.
type CreateOrderRequest struct {
	OrderNumber     string           `json:"order_number"`
	CustomerName    string           `json:"customer_name"`
	CustomerPhone   string           `json:"customer_phone"`
	Address         string           `json:"address"`
	City            string           `json:"city"`
	State           string           `json:"state"`
	Pincode         string           `json:"pincode"`
	Items           []OrderItemInput `json:"items"`
	Currency        string           `json:"currency"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	TotalBaseAmount *decimal.Decimal `json:"total_base_amount,omitempty"`
	PaymentMode     string           `json:"payment_mode"`
}

type OrderItemInput struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// QuoteRequest is the inbound shape for rate requests.
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

// ShipRequest selects how an order is booked. SessionID nil means the legacy
// direct-booking path.
type ShipRequest struct {
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	OptionID  string     `json:"option_id,omitempty"`
	// Legacy path inputs, ignored when SessionID is set.
	Quote *QuoteRequest `json:"quote,omitempty"`
}

// ResolveDiscrepancyRequest closes a COD discrepancy.
type ResolveDiscrepancyRequest struct {
	Method         string          `json:"method"`
	AdjustedAmount decimal.Decimal `json:"adjusted_amount"`
}
