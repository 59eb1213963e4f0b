package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fulfillment-core/internal/carrier"
	"fulfillment-core/internal/events"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// debitRetries bounds how often a booking retries a debit after losing an
// optimistic version race to a concurrent wallet mutation.
const debitRetries = 3

// BookingService turns a claimed quote option into a carrier shipment. The
// money flow is compensation-safe: the wallet is debited before the carrier
// call, and a failed carrier call reverses the debit synchronously before the
// error is surfaced.
type BookingService interface {
	// BookFromQuote consumes one option of an open quote session and books it.
	BookFromQuote(ctx context.Context, companyID, orderID int, sessionID uuid.UUID, optionID string) (*Shipment, error)
	// BookDirect is the legacy path used when the quote flow is disabled: it
	// books the cheapest live option without a prior session.
	BookDirect(ctx context.Context, companyID, orderID int, req QuoteRequest) (*Shipment, error)
	GetShipment(ctx context.Context, companyID, shipmentID int) (*Shipment, error)
	GetShipmentByAWB(ctx context.Context, awb string) (*Shipment, error)
	History(ctx context.Context, shipmentID int) ([]StatusHistoryEntry, error)
	// Cancel cancels a shipment with the carrier and refunds the shipping charge.
	Cancel(ctx context.Context, companyID, shipmentID int) error
}

type bookingService struct {
	pool     *pgxpool.Pool
	quotes   QuoteService
	wallets  WalletService
	orders   OrderService
	adapters AdapterSource
	store    carrier.Store
	events   events.Publisher
}

func NewBookingService(pool *pgxpool.Pool, quotes QuoteService, wallets WalletService, orders OrderService, adapters AdapterSource, store carrier.Store, publisher events.Publisher) BookingService {
	return &bookingService{
		pool:     pool,
		quotes:   quotes,
		wallets:  wallets,
		orders:   orders,
		adapters: adapters,
		store:    store,
		events:   publisher,
	}
}

func (s *bookingService) BookFromQuote(ctx context.Context, companyID, orderID int, sessionID uuid.UUID, optionID string) (*Shipment, error) {
	company, order, baseTotal, err := s.prepare(ctx, companyID, orderID)
	if err != nil {
		return nil, err
	}

	option, err := s.quotes.ClaimOption(ctx, companyID, sessionID, optionID)
	if err != nil {
		return nil, err
	}

	idemKey := fmt.Sprintf("book:%s:%s", sessionID, optionID)
	shipment, err := s.executeBooking(ctx, company, order, baseTotal, option, idemKey)
	if err != nil {
		// Release the claim so the seller can retry another option within the
		// session TTL.
		if relErr := s.quotes.Release(ctx, sessionID); relErr != nil {
			log.Printf("booking: release session %s: %v", sessionID, relErr)
		}
		return nil, err
	}
	return shipment, nil
}

func (s *bookingService) BookDirect(ctx context.Context, companyID, orderID int, req QuoteRequest) (*Shipment, error) {
	company, order, baseTotal, err := s.prepare(ctx, companyID, orderID)
	if err != nil {
		return nil, err
	}

	adapters, err := s.adapters.Active(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no active carrier integrations: %w", carrier.ErrNotServiceable)
	}

	options, _ := collectRates(ctx, adapters, req, providerTimeout)
	if len(options) == 0 {
		return nil, fmt.Errorf("no provider returned options: %w", carrier.ErrNotServiceable)
	}
	cheapest := options[0]
	for _, o := range options[1:] {
		if o.QuotedAmount.LessThan(cheapest.QuotedAmount) {
			cheapest = o
		}
	}

	idemKey := fmt.Sprintf("book:direct:%d:%s", order.ID, cheapest.OptionID)
	return s.executeBooking(ctx, company, order, baseTotal, &cheapest, idemKey)
}

// prepare runs every precondition that must hold before any money moves.
func (s *bookingService) prepare(ctx context.Context, companyID, orderID int) (*Company, *Order, decimal.Decimal, error) {
	company, err := GetCompany(ctx, s.pool, companyID)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}
	if company.KYCTier < KYCTierVerified {
		return nil, nil, decimal.Zero, fmt.Errorf("booking requires verified KYC: %w", ErrAccessDenied)
	}

	order, err := s.orders.Get(ctx, companyID, orderID)
	if err != nil {
		return nil, nil, decimal.Zero, err
	}
	if order.Status != OrderCreated {
		return nil, nil, decimal.Zero, fmt.Errorf("%w: order %d is %s, not bookable", ErrValidation, orderID, order.Status)
	}

	// Foreign-currency orders without a base mirror are rejected before the
	// debit, never after.
	baseTotal, err := order.BaseTotal(company.BaseCurrency)
	if err != nil {
		return nil, nil, decimal.Zero, fmt.Errorf("order %d: %w", orderID, err)
	}
	return company, order, baseTotal, nil
}

// executeBooking runs the debit → carrier call → persist sequence with a
// synchronous wallet reversal when the carrier call fails.
func (s *bookingService) executeBooking(ctx context.Context, company *Company, order *Order, baseTotal decimal.Decimal, option *CourierOption, idemKey string) (*Shipment, error) {
	reference := fmt.Sprintf("order:%d", order.ID)
	narration := fmt.Sprintf("Shipping charge for order %s via %s %s", order.OrderNumber, option.Provider, option.CourierCode)

	txn, err := s.debitWithRetry(ctx, company.ID, option.QuotedAmount, reference, narration, idemKey)
	if err != nil {
		return nil, err
	}

	codAmount := decimal.Zero
	if order.PaymentMode == PaymentCOD {
		codAmount = baseTotal
	}

	result, err := s.createWithCarrier(ctx, company.ID, order, option, codAmount, baseTotal)
	if err != nil {
		if _, revErr := s.wallets.Reverse(ctx, txn.ID, fmt.Sprintf("carrier booking failed: %v", err)); revErr != nil {
			// The reversal itself failed; the debit is orphaned and needs
			// operator attention.
			log.Printf("booking: ALERT reversal of txn %d failed: %v", txn.ID, revErr)
			return nil, fmt.Errorf("carrier booking failed and reversal failed (txn %d): %w", txn.ID, err)
		}
		return nil, fmt.Errorf("carrier booking failed, charge reversed: %w", err)
	}

	shipment, err := s.persistShipment(ctx, company.ID, order, option, result, codAmount)
	if err != nil {
		// The carrier shipment exists; do not reverse the debit. Surface the
		// persistence failure for reconciliation.
		log.Printf("booking: ALERT shipment %s booked but not persisted: %v", result.AWB, err)
		return nil, err
	}

	s.publishStatus(ctx, shipment, ShipmentCreated, "", "")
	return shipment, nil
}

func (s *bookingService) debitWithRetry(ctx context.Context, companyID int, amount decimal.Decimal, reference, narration, idemKey string) (*WalletTransaction, error) {
	var lastErr error
	for attempt := 0; attempt < debitRetries; attempt++ {
		w, err := s.wallets.Get(ctx, companyID)
		if err != nil {
			return nil, err
		}
		txn, err := s.wallets.Debit(ctx, companyID, w.Version, amount, reference, narration, idemKey)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *bookingService) createWithCarrier(ctx context.Context, companyID int, order *Order, option *CourierOption, codAmount, declaredValue decimal.Decimal) (*carrier.ShipmentResult, error) {
	adapter, err := s.adapters.Get(ctx, companyID, option.Provider)
	if err != nil {
		return nil, err
	}
	warehouse, err := s.store.DefaultWarehouse(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return adapter.CreateShipment(ctx, carrier.ShipmentRequest{
		OrderNumber:   order.OrderNumber,
		WarehouseID:   warehouse.ID,
		CourierCode:   option.CourierCode,
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
		Address:       order.Address,
		City:          order.City,
		State:         order.State,
		Pincode:       order.Pincode,
		WeightKG:      option.ChargeableWeight,
		PaymentMode:   order.PaymentMode,
		CODAmount:     codAmount,
		DeclaredValue: declaredValue,
	})
}

func (s *bookingService) persistShipment(ctx context.Context, companyID int, order *Order, option *CourierOption, result *carrier.ShipmentResult, codAmount decimal.Decimal) (*Shipment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin persist shipment: %w", err)
	}
	defer tx.Rollback(ctx)

	sh := Shipment{
		OrderID:          order.ID,
		CompanyID:        companyID,
		Provider:         option.Provider,
		AWB:              result.AWB,
		CourierName:      result.CourierName,
		LabelURL:         result.LabelURL,
		DeclaredWeightKG: option.ChargeableWeight,
		ShippingCharge:   option.QuotedAmount,
		PaymentMode:      order.PaymentMode,
		CODAmount:        codAmount,
		CollectionStatus: CollectionPending,
		Status:           ShipmentCreated,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO shipments (order_id, company_id, provider, awb, courier_name, label_url,
			declared_weight_kg, shipping_charge, payment_mode, cod_amount, collection_status, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', 'created')
		RETURNING id, created_at
	`, order.ID, companyID, option.Provider, result.AWB, result.CourierName, result.LabelURL,
		option.ChargeableWeight, option.QuotedAmount, order.PaymentMode, codAmount).Scan(&sh.ID, &sh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert shipment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO shipment_status_history (shipment_id, status, status_code, location, remarks, occurred_at)
		VALUES ($1, 'created', 'BOOKED', '', 'Shipment booked', NOW())
	`, sh.ID)
	if err != nil {
		return nil, fmt.Errorf("seed status history: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders SET status = 'booked' WHERE id = $1
	`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("mark order booked: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit persist shipment: %w", err)
	}
	return &sh, nil
}

func (s *bookingService) publishStatus(ctx context.Context, sh *Shipment, status, code, location string) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, sh.AWB, events.StatusEvent{
		AWB:        sh.AWB,
		ShipmentID: sh.ID,
		CompanyID:  sh.CompanyID,
		Status:     status,
		StatusCode: code,
		Location:   location,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("booking: publish status event for %s: %v", sh.AWB, err)
	}
}

func (s *bookingService) GetShipment(ctx context.Context, companyID, shipmentID int) (*Shipment, error) {
	sh, err := scanShipment(ctx, s.pool, `WHERE id = $1`, shipmentID)
	if err != nil {
		return nil, err
	}
	if sh.CompanyID != companyID {
		return nil, fmt.Errorf("shipment %d: %w", shipmentID, ErrAccessDenied)
	}
	return sh, nil
}

func (s *bookingService) GetShipmentByAWB(ctx context.Context, awb string) (*Shipment, error) {
	return scanShipment(ctx, s.pool, `WHERE awb = $1`, awb)
}

func (s *bookingService) History(ctx context.Context, shipmentID int) ([]StatusHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, shipment_id, status, status_code, location, remarks, occurred_at, created_at
		FROM shipment_status_history
		WHERE shipment_id = $1
		ORDER BY occurred_at, id
	`, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var out []StatusHistoryEntry
	for rows.Next() {
		var e StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.ShipmentID, &e.Status, &e.StatusCode, &e.Location, &e.Remarks, &e.OccurredAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *bookingService) Cancel(ctx context.Context, companyID, shipmentID int) error {
	sh, err := s.GetShipment(ctx, companyID, shipmentID)
	if err != nil {
		return err
	}
	switch sh.Status {
	case ShipmentCancelled:
		return nil
	case ShipmentDelivered, ShipmentRTODelivered:
		return fmt.Errorf("shipment %d is %s: %w", shipmentID, sh.Status, carrier.ErrNotCancellable)
	}

	adapter, err := s.adapters.Get(ctx, companyID, sh.Provider)
	if err != nil {
		return err
	}
	if err := adapter.CancelShipment(ctx, sh.AWB); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cancel: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE shipments SET status = 'cancelled' WHERE id = $1`, shipmentID); err != nil {
		return fmt.Errorf("mark shipment cancelled: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO shipment_status_history (shipment_id, status, status_code, location, remarks, occurred_at)
		VALUES ($1, 'cancelled', 'CANCELLED', '', 'Cancelled by seller', NOW())
	`, shipmentID); err != nil {
		return fmt.Errorf("append cancel history: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status = 'created' WHERE id = $1`, sh.OrderID); err != nil {
		return fmt.Errorf("reopen order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}

	narration := fmt.Sprintf("Refund for cancelled shipment %s", sh.AWB)
	if _, err := s.wallets.Credit(ctx, companyID, sh.ShippingCharge, fmt.Sprintf("shipment:%d", sh.ID), narration); err != nil {
		log.Printf("booking: ALERT refund for cancelled shipment %d failed: %v", sh.ID, err)
		return fmt.Errorf("shipment cancelled but refund failed: %w", err)
	}

	s.publishStatus(ctx, sh, ShipmentCancelled, "CANCELLED", "")
	return nil
}

const shipmentColumns = `
	id, order_id, company_id, provider, awb, courier_name, label_url,
	declared_weight_kg, actual_weight_kg, shipping_charge, is_reverse,
	payment_mode, cod_amount, collection_status, actual_collection, cod_collected_at,
	discrepancy_id, status, delivered_at, ndr_event_id, rto_event_id,
	remittance_included, remittance_batch_id, created_at`

// scanShipment loads one shipment by an arbitrary single-arg predicate.
func scanShipment(ctx context.Context, pool *pgxpool.Pool, where string, arg any) (*Shipment, error) {
	var sh Shipment
	err := pool.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments `+where, arg).Scan(
		&sh.ID, &sh.OrderID, &sh.CompanyID, &sh.Provider, &sh.AWB, &sh.CourierName, &sh.LabelURL,
		&sh.DeclaredWeightKG, &sh.ActualWeightKG, &sh.ShippingCharge, &sh.IsReverse,
		&sh.PaymentMode, &sh.CODAmount, &sh.CollectionStatus, &sh.ActualCollection, &sh.CODCollectedAt,
		&sh.DiscrepancyID, &sh.Status, &sh.DeliveredAt, &sh.NDREventID, &sh.RTOEventID,
		&sh.RemittanceIncluded, &sh.RemittanceBatchID, &sh.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("shipment %v: %w", arg, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch shipment: %w", err)
	}
	return &sh, nil
}
