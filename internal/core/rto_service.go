package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fulfillment-core/internal/carrier"
	"fulfillment-core/internal/events"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// RTOService books return-to-origin shipments. At most one RTO ever exists per
// shipment, enforced by a unique claim on the rto_events table.
type RTOService interface {
	Trigger(ctx context.Context, shipmentID int, ndrEventID *int, triggeredBy, reason string) (*RTOEvent, error)
}

type rtoService struct {
	pool     *pgxpool.Pool
	wallets  WalletService
	adapters AdapterSource
	store    carrier.Store
	events   events.Publisher
}

func NewRTOService(pool *pgxpool.Pool, wallets WalletService, adapters AdapterSource, store carrier.Store, publisher events.Publisher) RTOService {
	return &rtoService{pool: pool, wallets: wallets, adapters: adapters, store: store, events: publisher}
}

func (s *rtoService) Trigger(ctx context.Context, shipmentID int, ndrEventID *int, triggeredBy, reason string) (*RTOEvent, error) {
	sh, err := scanShipment(ctx, s.pool, `WHERE id = $1`, shipmentID)
	if err != nil {
		return nil, err
	}
	if terminalStatuses[sh.Status] {
		return nil, fmt.Errorf("%w: shipment %d is %s", ErrValidation, shipmentID, sh.Status)
	}

	// Claim first: the unique shipment_id makes a concurrent double-trigger
	// lose the race here, before any money moves.
	ev := RTOEvent{ShipmentID: shipmentID, NDREventID: ndrEventID, Reason: reason, TriggeredBy: triggeredBy}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO rto_events (shipment_id, ndr_event_id, reason, triggered_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (shipment_id) DO NOTHING
		RETURNING id, created_at
	`, shipmentID, ndrEventID, reason, triggeredBy).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("shipment %d: %w", shipmentID, ErrRTOAlreadyTriggered)
		}
		return nil, fmt.Errorf("claim rto event: %w", err)
	}

	result, charge, err := s.bookReverse(ctx, sh, ev.ID)
	if err != nil {
		// Undo the claim so a later trigger can retry the reverse booking.
		if _, delErr := s.pool.Exec(ctx, `DELETE FROM rto_events WHERE id = $1`, ev.ID); delErr != nil {
			log.Printf("rto: ALERT failed to release claim %d: %v", ev.ID, delErr)
		}
		return nil, err
	}
	ev.ReverseAWB = result.AWB
	ev.RTOCharge = charge

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin rto persist: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE rto_events SET reverse_awb = $2, rto_charge = $3 WHERE id = $1
	`, ev.ID, result.AWB, charge); err != nil {
		return nil, fmt.Errorf("update rto event: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE shipments SET status = 'rto_triggered', rto_event_id = $2 WHERE id = $1
	`, shipmentID, ev.ID); err != nil {
		return nil, fmt.Errorf("mark shipment rto: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO shipment_status_history (shipment_id, status, status_code, location, remarks, occurred_at)
		VALUES ($1, 'rto_triggered', 'RTO', '', $2, NOW())
	`, shipmentID, fmt.Sprintf("RTO %s via %s (%s)", result.AWB, sh.Provider, reason)); err != nil {
		return nil, fmt.Errorf("append rto history: %w", err)
	}
	if ndrEventID != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE ndr_events SET status = 'rto_triggered' WHERE id = $1
		`, *ndrEventID); err != nil {
			return nil, fmt.Errorf("mark ndr rto_triggered: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rto persist: %w", err)
	}

	log.Printf("rto: shipment %d returned via %s, charge %s (%s)", shipmentID, result.AWB, charge, triggeredBy)
	s.publish(ctx, sh)
	return &ev, nil
}

// bookReverse debits the RTO charge and books the reverse shipment, reversing
// the debit if the carrier call fails.
func (s *rtoService) bookReverse(ctx context.Context, sh *Shipment, rtoEventID int) (*carrier.ShipmentResult, decimal.Decimal, error) {
	charge := sh.ShippingCharge
	idemKey := fmt.Sprintf("rto:%d", sh.ID)
	narration := fmt.Sprintf("RTO charge for shipment %s", sh.AWB)

	var txn *WalletTransaction
	var err error
	for attempt := 0; attempt < debitRetries; attempt++ {
		var w *Wallet
		w, err = s.wallets.Get(ctx, sh.CompanyID)
		if err != nil {
			return nil, charge, err
		}
		txn, err = s.wallets.Debit(ctx, sh.CompanyID, w.Version, charge, fmt.Sprintf("rto:%d", rtoEventID), narration, idemKey)
		if err == nil || !errors.Is(err, ErrVersionConflict) {
			break
		}
	}
	if err != nil {
		return nil, charge, err
	}

	result, err := s.createReverse(ctx, sh)
	if err != nil {
		if _, revErr := s.wallets.Reverse(ctx, txn.ID, fmt.Sprintf("rto booking failed: %v", err)); revErr != nil {
			log.Printf("rto: ALERT reversal of txn %d failed: %v", txn.ID, revErr)
		}
		return nil, charge, fmt.Errorf("reverse booking failed, charge reversed: %w", err)
	}
	return result, charge, nil
}

func (s *rtoService) createReverse(ctx context.Context, sh *Shipment) (*carrier.ShipmentResult, error) {
	adapter, err := s.adapters.Get(ctx, sh.CompanyID, sh.Provider)
	if err != nil {
		return nil, err
	}
	warehouse, err := s.store.DefaultWarehouse(ctx, sh.CompanyID)
	if err != nil {
		return nil, err
	}

	var order Order
	err = s.pool.QueryRow(ctx, `
		SELECT order_number, customer_name, customer_phone, address, city, state, pincode
		FROM orders WHERE id = $1
	`, sh.OrderID).Scan(&order.OrderNumber, &order.CustomerName, &order.CustomerPhone,
		&order.Address, &order.City, &order.State, &order.Pincode)
	if err != nil {
		return nil, fmt.Errorf("fetch order for rto: %w", err)
	}

	return adapter.CreateShipment(ctx, carrier.ShipmentRequest{
		OrderNumber:   order.OrderNumber + "-RTO",
		WarehouseID:   warehouse.ID,
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
		Address:       order.Address,
		City:          order.City,
		State:         order.State,
		Pincode:       order.Pincode,
		WeightKG:      sh.DeclaredWeightKG,
		PaymentMode:   PaymentPrepaid,
		Reverse:       true,
	})
}

func (s *rtoService) publish(ctx context.Context, sh *Shipment) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, sh.AWB, events.StatusEvent{
		AWB:        sh.AWB,
		ShipmentID: sh.ID,
		CompanyID:  sh.CompanyID,
		Status:     ShipmentRTOTriggered,
		StatusCode: "RTO",
		Location:   "",
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("rto: publish status event for %s: %v", sh.AWB, err)
	}
}
