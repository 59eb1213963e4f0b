package app

import (
	"context"

	"fulfillment-core/internal/core"
)

// ApplicationService is the single interface all adapters (web, worker) call.
// It decouples transport from business logic; implementations contain no HTTP
// or display concerns.
type ApplicationService interface {
	// CreateOrder registers a new sales order for the company.
	CreateOrder(ctx context.Context, companyID int, req CreateOrderRequest) (*core.Order, error)

	// GenerateQuotes fans out a rate request to every active carrier and
	// returns a bookable session of ranked options.
	GenerateQuotes(ctx context.Context, companyID int, req QuoteRequest) (*QuoteResult, error)

	// ShipOrder books a shipment for an order. With a session id it consumes
	// the quoted option; without one it falls back to direct booking when the
	// quote flow flag allows it.
	ShipOrder(ctx context.Context, companyID, orderID int, req ShipRequest) (*ShipmentResult, error)

	// TrackShipment returns the shipment with its status history, refreshing
	// from the carrier first.
	TrackShipment(ctx context.Context, companyID, shipmentID int) (*TrackingResult, error)

	// CancelShipment cancels with the carrier and refunds the shipping charge.
	CancelShipment(ctx context.Context, companyID, shipmentID int) error

	// ProcessCarrierWebhook verifies and applies one inbound carrier webhook.
	// Signature failures return an error; payload problems after a valid
	// signature are reported in the result so the carrier is not retried.
	ProcessCarrierWebhook(ctx context.Context, provider string, body []byte, signature, timestamp string) (*WebhookResult, error)

	// GetNDR returns an NDR event with its action log.
	GetNDR(ctx context.Context, companyID, eventID int) (*NDRResult, error)

	// ResolveNDR marks an NDR handled; pending workflow steps are abandoned.
	ResolveNDR(ctx context.Context, companyID, eventID int, note string) error

	// Finance surface.
	ListDiscrepancies(ctx context.Context, companyID int, status string) ([]core.CODDiscrepancy, error)
	GetDiscrepancy(ctx context.Context, companyID, discrepancyID int) (*core.CODDiscrepancy, error)
	ResolveDiscrepancy(ctx context.Context, companyID, discrepancyID int, req ResolveDiscrepancyRequest) error
	RemittanceEligibility(ctx context.Context, companyID int) (*core.EligibilityReport, error)
	EnrollEarlyRemittance(ctx context.Context, companyID int, tier string) error
	RunRemittance(ctx context.Context, companyID int) (*core.BatchResult, error)

	// Worker entry points.
	RunScheduledJobs(ctx context.Context) (int, error)
	SweepNDRDeadlines(ctx context.Context) (int, error)
	SweepRemittances(ctx context.Context) (int, error)
}
