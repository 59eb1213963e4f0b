package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"fulfillment-core/internal/carrier"
	"fulfillment-core/internal/core"

	"github.com/shopspring/decimal"
)

// AdapterRegistry is what the facade needs from the carrier registry: adapter
// resolution plus the provider-level webhook secret.
type AdapterRegistry interface {
	core.AdapterSource
	WebhookSecret(ctx context.Context, provider string) (string, error)
}

type appService struct {
	registry    AdapterRegistry
	orders      core.OrderService
	quotes      core.QuoteService
	booking     core.BookingService
	tracking    core.TrackingService
	ndr         core.NDRService
	cod         core.CODService
	remittance  core.RemittanceService
	jobs        core.JobService
	quoteFlowOn bool
}

// NewAppService constructs the appService that satisfies ApplicationService.
// The quote flow flag comes from QUOTE_FLOW_ENABLED; anything but "false"
// enables it.
func NewAppService(
	registry AdapterRegistry,
	orders core.OrderService,
	quotes core.QuoteService,
	booking core.BookingService,
	tracking core.TrackingService,
	ndr core.NDRService,
	cod core.CODService,
	remittance core.RemittanceService,
	jobs core.JobService,
) ApplicationService {
	return &appService{
		registry:    registry,
		orders:      orders,
		quotes:      quotes,
		booking:     booking,
		tracking:    tracking,
		ndr:         ndr,
		cod:         cod,
		remittance:  remittance,
		jobs:        jobs,
		quoteFlowOn: os.Getenv("QUOTE_FLOW_ENABLED") != "false",
	}
}

func (s *appService) CreateOrder(ctx context.Context, companyID int, req CreateOrderRequest) (*core.Order, error) {
	items := make([]core.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, core.OrderItem{SKU: it.SKU, Name: it.Name, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return s.orders.Create(ctx, companyID, &core.Order{
		OrderNumber:     req.OrderNumber,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		Address:         req.Address,
		City:            req.City,
		State:           req.State,
		Pincode:         req.Pincode,
		Items:           items,
		Currency:        req.Currency,
		TotalAmount:     req.TotalAmount,
		TotalBaseAmount: req.TotalBaseAmount,
		PaymentMode:     req.PaymentMode,
	})
}

func (s *appService) GenerateQuotes(ctx context.Context, companyID int, req QuoteRequest) (*QuoteResult, error) {
	session, err := s.quotes.GenerateQuotes(ctx, companyID, coreQuoteRequest(req))
	if err != nil {
		return nil, err
	}
	return &QuoteResult{
		SessionID:        session.ID,
		ExpiresAt:        session.ExpiresAt,
		Options:          session.Options,
		Recommendation:   session.Recommendation,
		Confidence:       session.Confidence,
		ProviderTimeouts: session.ProviderTimeouts,
	}, nil
}

func coreQuoteRequest(req QuoteRequest) core.QuoteRequest {
	return core.QuoteRequest{
		OriginPincode: req.OriginPincode,
		DestPincode:   req.DestPincode,
		WeightKG:      req.WeightKG,
		LengthCM:      req.LengthCM,
		WidthCM:       req.WidthCM,
		HeightCM:      req.HeightCM,
		PaymentMode:   req.PaymentMode,
		DeclaredValue: req.DeclaredValue,
	}
}

func (s *appService) ShipOrder(ctx context.Context, companyID, orderID int, req ShipRequest) (*ShipmentResult, error) {
	if req.SessionID != nil {
		if req.OptionID == "" {
			return nil, fmt.Errorf("%w: option_id is required with session_id", core.ErrValidation)
		}
		sh, err := s.booking.BookFromQuote(ctx, companyID, orderID, *req.SessionID, req.OptionID)
		if err != nil {
			return nil, err
		}
		return &ShipmentResult{Shipment: sh}, nil
	}

	if s.quoteFlowOn {
		return nil, fmt.Errorf("%w: session_id is required", core.ErrValidation)
	}
	if req.Quote == nil {
		return nil, fmt.Errorf("%w: quote parameters are required for direct booking", core.ErrValidation)
	}
	sh, err := s.booking.BookDirect(ctx, companyID, orderID, coreQuoteRequest(*req.Quote))
	if err != nil {
		return nil, err
	}
	return &ShipmentResult{Shipment: sh}, nil
}

func (s *appService) TrackShipment(ctx context.Context, companyID, shipmentID int) (*TrackingResult, error) {
	change, err := s.tracking.Refresh(ctx, companyID, shipmentID)
	if err != nil {
		// A carrier outage must not hide what we already know.
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrAccessDenied) {
			return nil, err
		}
		log.Printf("app: tracking refresh for shipment %d: %v", shipmentID, err)
	} else {
		s.chainStatusEffects(ctx, change)
	}

	sh, err := s.booking.GetShipment(ctx, companyID, shipmentID)
	if err != nil {
		return nil, err
	}
	history, err := s.booking.History(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	return &TrackingResult{Shipment: sh, History: history}, nil
}

func (s *appService) CancelShipment(ctx context.Context, companyID, shipmentID int) error {
	return s.booking.Cancel(ctx, companyID, shipmentID)
}

// ── Webhooks ──

type webhookShipmentData struct {
	AWB             string           `json:"awb"`
	Status          string           `json:"status"`
	StatusCode      string           `json:"status_code"`
	CourierName     string           `json:"courier_name"`
	CurrentLocation string           `json:"current_location"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Description     string           `json:"description"`
	CollectedAmount *decimal.Decimal `json:"collected_amount,omitempty"`
}

type webhookPayload struct {
	EventType    string                  `json:"event_type"`
	ShipmentData *webhookShipmentData    `json:"shipment_data,omitempty"`
	Settlement   *core.SettlementPayload `json:"settlement,omitempty"`
}

func (s *appService) ProcessCarrierWebhook(ctx context.Context, provider string, body []byte, signature, timestamp string) (*WebhookResult, error) {
	secret, err := s.registry.WebhookSecret(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("no webhook secret for %s: %w", provider, carrier.ErrBadSignature)
	}
	if err := carrier.VerifyWebhookSignature(secret, body, signature, timestamp); err != nil {
		return nil, err
	}

	// Signature verified: from here on, problems are reported as success:false
	// instead of errors so the carrier does not retry-storm.
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("webhook: malformed payload from %s: %v", provider, err)
		return &WebhookResult{Success: false, Message: "malformed payload"}, nil
	}

	switch payload.EventType {
	case "cod_settlement":
		if payload.Settlement == nil {
			return &WebhookResult{Success: false, Message: "missing settlement data"}, nil
		}
		if err := s.remittance.ApplySettlement(ctx, *payload.Settlement); err != nil {
			log.Printf("webhook: settlement from %s: %v", provider, err)
			return &WebhookResult{Success: false, Message: "settlement processing failed"}, nil
		}
		return &WebhookResult{Success: true}, nil
	default:
		return s.processTrackingWebhook(ctx, provider, payload)
	}
}

func (s *appService) processTrackingWebhook(ctx context.Context, provider string, payload webhookPayload) (*WebhookResult, error) {
	data := payload.ShipmentData
	if data == nil || data.AWB == "" {
		return &WebhookResult{Success: false, Message: "missing shipment data"}, nil
	}

	change, err := s.tracking.ApplyUpdate(ctx, data.AWB, carrier.TrackingStatus{
		AWB:        data.AWB,
		Status:     data.Status,
		StatusCode: data.StatusCode,
		Location:   data.CurrentLocation,
		Remarks:    data.Description,
		OccurredAt: data.UpdatedAt,
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Unknown AWB: acknowledged so the carrier stops resending, but
			// flagged for investigation.
			log.Printf("webhook: unknown awb %s from %s", data.AWB, provider)
			return &WebhookResult{Success: false, Message: "shipment not found"}, nil
		}
		return nil, err
	}

	s.chainStatusEffects(ctx, change)

	if data.CollectedAmount != nil && change.Shipment.PaymentMode == core.PaymentCOD {
		if _, err := s.cod.Reconcile(ctx, change.Shipment.ID, *data.CollectedAmount, data.UpdatedAt, "webhook:"+provider); err != nil {
			log.Printf("webhook: cod reconcile for %s: %v", data.AWB, err)
		}
	}
	return &WebhookResult{Success: true}, nil
}

// chainStatusEffects runs the follow-up work a status change triggers.
func (s *appService) chainStatusEffects(ctx context.Context, change *core.StatusChange) {
	if change == nil || !change.Changed {
		return
	}
	if change.NDR {
		if _, err := s.ndr.CreateFromStatusUpdate(ctx, change); err != nil {
			log.Printf("app: ndr detection for shipment %d: %v", change.Shipment.ID, err)
		}
	}
}

// ── NDR ──

func (s *appService) GetNDR(ctx context.Context, companyID, eventID int) (*NDRResult, error) {
	ev, err := s.ndr.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.CompanyID != companyID {
		return nil, fmt.Errorf("ndr event %d: %w", eventID, core.ErrAccessDenied)
	}
	actions, err := s.ndr.Actions(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &NDRResult{Event: ev, Actions: actions}, nil
}

func (s *appService) ResolveNDR(ctx context.Context, companyID, eventID int, note string) error {
	return s.ndr.Resolve(ctx, companyID, eventID, note)
}

// ── Finance ──

func (s *appService) ListDiscrepancies(ctx context.Context, companyID int, status string) ([]core.CODDiscrepancy, error) {
	return s.cod.ListDiscrepancies(ctx, companyID, status)
}

func (s *appService) GetDiscrepancy(ctx context.Context, companyID, discrepancyID int) (*core.CODDiscrepancy, error) {
	return s.cod.GetDiscrepancy(ctx, companyID, discrepancyID)
}

func (s *appService) ResolveDiscrepancy(ctx context.Context, companyID, discrepancyID int, req ResolveDiscrepancyRequest) error {
	return s.cod.ResolveDiscrepancy(ctx, companyID, discrepancyID, req.Method, req.AdjustedAmount)
}

func (s *appService) RemittanceEligibility(ctx context.Context, companyID int) (*core.EligibilityReport, error) {
	return s.remittance.Eligibility(ctx, companyID)
}

func (s *appService) EnrollEarlyRemittance(ctx context.Context, companyID int, tier string) error {
	return s.remittance.Enroll(ctx, companyID, tier)
}

func (s *appService) RunRemittance(ctx context.Context, companyID int) (*core.BatchResult, error) {
	return s.remittance.CreateBatch(ctx, companyID)
}

// ── Worker entry points ──

const jobClaimBatch = 20

func (s *appService) RunScheduledJobs(ctx context.Context) (int, error) {
	jobs, err := s.jobs.ClaimDue(ctx, jobClaimBatch)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, job := range jobs {
		if err := s.executeJob(ctx, job); err != nil {
			log.Printf("worker: job %d (%s): %v", job.ID, job.JobType, err)
			if mErr := s.jobs.MarkFailed(ctx, job.ID, err.Error()); mErr != nil {
				log.Printf("worker: mark job %d failed: %v", job.ID, mErr)
			}
			continue
		}
		if err := s.jobs.MarkDone(ctx, job.ID); err != nil {
			log.Printf("worker: mark job %d done: %v", job.ID, err)
			continue
		}
		done++
	}
	return done, nil
}

func (s *appService) executeJob(ctx context.Context, job core.Job) error {
	switch job.JobType {
	case core.JobNDRAction:
		var p struct {
			NDREventID int    `json:"ndr_event_id"`
			Sequence   int    `json:"sequence"`
			Action     string `json:"action"`
		}
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode ndr action payload: %w", err)
		}
		return s.ndr.ExecuteAction(ctx, p.NDREventID, p.Sequence, p.Action)
	default:
		return fmt.Errorf("unknown job type %q", job.JobType)
	}
}

func (s *appService) SweepNDRDeadlines(ctx context.Context) (int, error) {
	return s.ndr.SweepDeadlines(ctx)
}

// SweepRemittances runs a batch for every enrolled company.
func (s *appService) SweepRemittances(ctx context.Context) (int, error) {
	companies, err := s.remittance.EnrolledCompanies(ctx)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, companyID := range companies {
		result, err := s.remittance.CreateBatch(ctx, companyID)
		if err != nil {
			log.Printf("worker: remittance for company %d: %v", companyID, err)
			continue
		}
		if result.Included > 0 {
			created++
		}
	}
	return created, nil
}
