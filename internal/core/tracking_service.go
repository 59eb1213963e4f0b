package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"fulfillment-core/internal/carrier"
	"fulfillment-core/internal/events"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StatusChange reports what a processed tracking update did, so the caller can
// chain follow-up work (NDR detection, COD reconciliation).
type StatusChange struct {
	Shipment  *Shipment
	Previous  string
	Current   string
	Changed   bool
	Delivered bool
	NDR       bool
	Update    carrier.TrackingStatus
}

// TrackingService applies carrier tracking updates to shipments. Applying the
// same remote status twice is a no-op: history is appended only on change.
type TrackingService interface {
	ApplyUpdate(ctx context.Context, awb string, update carrier.TrackingStatus) (*StatusChange, error)
	// Refresh polls the carrier for the current status and applies it.
	Refresh(ctx context.Context, companyID, shipmentID int) (*StatusChange, error)
}

type trackingService struct {
	pool     *pgxpool.Pool
	adapters AdapterSource
	events   events.Publisher
}

func NewTrackingService(pool *pgxpool.Pool, adapters AdapterSource, publisher events.Publisher) TrackingService {
	return &trackingService{pool: pool, adapters: adapters, events: publisher}
}

// mapCarrierStatus normalizes a carrier status string onto the internal
// lifecycle. Unknown strings map to in_transit so an unexpected carrier code
// never wedges a shipment.
func mapCarrierStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "created", "manifested", "pickup_scheduled", "booked":
		return ShipmentCreated
	case "in_transit", "picked_up", "shipped", "reached_hub", "in transit":
		return ShipmentInTransit
	case "out_for_delivery", "out for delivery", "ofd":
		return ShipmentOutForDelivery
	case "delivered":
		return ShipmentDelivered
	case "ndr", "undelivered", "failed_delivery", "delivery_failed", "failed delivery":
		return ShipmentNDR
	case "rto", "rto_initiated", "rto_in_transit", "return_initiated":
		return ShipmentRTOTriggered
	case "rto_delivered", "rto_done", "returned":
		return ShipmentRTODelivered
	case "cancelled", "canceled":
		return ShipmentCancelled
	default:
		return ShipmentInTransit
	}
}

// terminalStatuses never transition further from inbound tracking data.
var terminalStatuses = map[string]bool{
	ShipmentDelivered:    true,
	ShipmentRTODelivered: true,
	ShipmentCancelled:    true,
}

func (s *trackingService) ApplyUpdate(ctx context.Context, awb string, update carrier.TrackingStatus) (*StatusChange, error) {
	sh, err := scanShipment(ctx, s.pool, `WHERE awb = $1`, awb)
	if err != nil {
		return nil, err
	}

	next := mapCarrierStatus(update.Status)
	change := &StatusChange{Shipment: sh, Previous: sh.Status, Current: sh.Status, Update: update}

	if sh.Status == next {
		return change, nil
	}
	if terminalStatuses[sh.Status] {
		log.Printf("tracking: ignoring %s update for terminal shipment %s (%s)", next, awb, sh.Status)
		return change, nil
	}
	// RTO supersedes NDR but nothing else moves a shipment out of rto_triggered
	// except rto_delivered.
	if sh.Status == ShipmentRTOTriggered && next != ShipmentRTODelivered {
		return change, nil
	}

	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback(ctx)

	if next == ShipmentDelivered {
		_, err = tx.Exec(ctx, `
			UPDATE shipments SET status = $2, delivered_at = $3 WHERE id = $1
		`, sh.ID, next, occurredAt)
	} else {
		_, err = tx.Exec(ctx, `UPDATE shipments SET status = $2 WHERE id = $1`, sh.ID, next)
	}
	if err != nil {
		return nil, fmt.Errorf("update shipment status: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO shipment_status_history (shipment_id, status, status_code, location, remarks, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sh.ID, next, update.StatusCode, update.Location, update.Remarks, occurredAt)
	if err != nil {
		return nil, fmt.Errorf("append status history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}

	change.Current = next
	change.Changed = true
	change.Delivered = next == ShipmentDelivered
	change.NDR = next == ShipmentNDR
	sh.Status = next
	if change.Delivered {
		sh.DeliveredAt = &occurredAt
	}

	s.publish(ctx, sh, next, update)
	return change, nil
}

func (s *trackingService) Refresh(ctx context.Context, companyID, shipmentID int) (*StatusChange, error) {
	sh, err := scanShipment(ctx, s.pool, `WHERE id = $1`, shipmentID)
	if err != nil {
		return nil, err
	}
	if sh.CompanyID != companyID {
		return nil, fmt.Errorf("shipment %d: %w", shipmentID, ErrAccessDenied)
	}

	adapter, err := s.adapters.Get(ctx, companyID, sh.Provider)
	if err != nil {
		return nil, err
	}
	status, err := adapter.TrackShipment(ctx, sh.AWB)
	if err != nil {
		return nil, err
	}
	return s.ApplyUpdate(ctx, sh.AWB, *status)
}

func (s *trackingService) publish(ctx context.Context, sh *Shipment, status string, update carrier.TrackingStatus) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, sh.AWB, events.StatusEvent{
		AWB:        sh.AWB,
		ShipmentID: sh.ID,
		CompanyID:  sh.CompanyID,
		Status:     status,
		StatusCode: update.StatusCode,
		Location:   update.Location,
		OccurredAt: update.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("tracking: publish status event for %s: %v", sh.AWB, err)
	}
}
