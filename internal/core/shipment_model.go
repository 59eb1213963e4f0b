package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Shipment statuses. Lifecycle:
//
//	created → in_transit → delivered
//	created/in_transit → ndr → (resolved via in_transit) | rto_triggered
//	created → cancelled
const (
	ShipmentCreated        = "created"
	ShipmentInTransit      = "in_transit"
	ShipmentOutForDelivery = "out_for_delivery"
	ShipmentDelivered      = "delivered"
	ShipmentNDR            = "ndr"
	ShipmentRTOTriggered   = "rto_triggered"
	ShipmentRTODelivered   = "rto_delivered"
	ShipmentCancelled      = "cancelled"
)

// COD collection statuses.
const (
	CollectionPending    = "pending"
	CollectionReconciled = "reconciled"
	CollectionDisputed   = "disputed"
)

// Shipment is one courier booking created from exactly one order.
type Shipment struct {
	ID                 int              `json:"id"`
	OrderID            int              `json:"order_id"`
	CompanyID          int              `json:"company_id"`
	Provider           string           `json:"provider"`
	AWB                string           `json:"awb"`
	CourierName        string           `json:"courier_name"`
	LabelURL           string           `json:"label_url"`
	DeclaredWeightKG   decimal.Decimal  `json:"declared_weight_kg"`
	ActualWeightKG     *decimal.Decimal `json:"actual_weight_kg,omitempty"`
	ShippingCharge     decimal.Decimal  `json:"shipping_charge"`
	IsReverse          bool             `json:"is_reverse"`
	PaymentMode        string           `json:"payment_mode"`
	CODAmount          decimal.Decimal  `json:"cod_amount"`
	CollectionStatus   string           `json:"collection_status"`
	ActualCollection   *decimal.Decimal `json:"actual_collection,omitempty"`
	CODCollectedAt     *time.Time       `json:"cod_collected_at,omitempty"`
	DiscrepancyID      *int             `json:"discrepancy_id,omitempty"`
	Status             string           `json:"status"`
	DeliveredAt        *time.Time       `json:"delivered_at,omitempty"`
	NDREventID         *int             `json:"ndr_event_id,omitempty"`
	RTOEventID         *int             `json:"rto_event_id,omitempty"`
	RemittanceIncluded bool             `json:"remittance_included"`
	RemittanceBatchID  *int             `json:"remittance_batch_id,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// StatusHistoryEntry is one appended tracking event. History rows are never
// rewritten, only appended.
type StatusHistoryEntry struct {
	ID         int       `json:"id"`
	ShipmentID int       `json:"shipment_id"`
	Status     string    `json:"status"`
	StatusCode string    `json:"status_code"`
	Location   string    `json:"location"`
	Remarks    string    `json:"remarks"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}
