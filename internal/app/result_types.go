package app

import (
	"time"

	"fulfillment-core/internal/core"

	"github.com/google/uuid"
)

// QuoteResult is the outbound shape for a generated quote session.
type QuoteResult struct {
	SessionID        uuid.UUID            `json:"session_id"`
	ExpiresAt        time.Time            `json:"expires_at"`
	Options          []core.CourierOption `json:"options"`
	Recommendation   string               `json:"recommendation"`
	Confidence       float64              `json:"confidence"`
	ProviderTimeouts map[string]bool      `json:"provider_timeouts"`
}

// ShipmentResult wraps a booked shipment.
type ShipmentResult struct {
	Shipment *core.Shipment `json:"shipment"`
}

// TrackingResult is a shipment with its full status history.
type TrackingResult struct {
	Shipment *core.Shipment            `json:"shipment"`
	History  []core.StatusHistoryEntry `json:"history"`
}

// NDRResult is an NDR event with its action log.
type NDRResult struct {
	Event   *core.NDREvent   `json:"event"`
	Actions []core.NDRAction `json:"actions"`
}

// WebhookResult reports how an inbound webhook was handled. Success false with
// a nil error still answers 200 so carriers do not retry-storm.
type WebhookResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
