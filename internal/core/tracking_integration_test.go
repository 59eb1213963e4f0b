package core_test

import (
	"context"
	"testing"
	"time"

	"fulfillment-core/internal/carrier"
	"fulfillment-core/internal/core"
	"fulfillment-core/internal/events"

	"github.com/jackc/pgx/v5/pgxpool"
)

func historyCount(t *testing.T, pool *pgxpool.Pool, shipmentID int) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(), `
		SELECT count(*) FROM shipment_status_history WHERE shipment_id = $1
	`, shipmentID).Scan(&n); err != nil {
		t.Fatalf("count history: %v", err)
	}
	return n
}

func TestTracking_ApplyUpdateIsIdempotent(t *testing.T) {
	pool := connectTestDB(t)
	defer pool.Close()
	tracking := core.NewTrackingService(pool, &stubAdapterSource{adapter: &stubAdapter{provider: "velocex"}}, events.NopPublisher{})
	ctx := context.Background()

	orderID := seedOrder(t, pool, core.PaymentPrepaid, 900)
	shipmentID := seedShipment(t, pool, orderID, "VX800", core.ShipmentCreated, core.PaymentPrepaid, 0, 75)

	update := carrier.TrackingStatus{Status: "in_transit", StatusCode: "IT", Location: "Delhi Hub", OccurredAt: time.Now()}
	change, err := tracking.ApplyUpdate(ctx, "VX800", update)
	if err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if !change.Changed || change.Current != core.ShipmentInTransit {
		t.Fatalf("expected transition to in_transit, got %+v", change)
	}
	if historyCount(t, pool, shipmentID) != 1 {
		t.Fatal("expected one history entry")
	}

	// A replayed webhook carrying the same status appends nothing.
	replay, err := tracking.ApplyUpdate(ctx, "VX800", update)
	if err != nil {
		t.Fatalf("replayed ApplyUpdate: %v", err)
	}
	if replay.Changed {
		t.Fatal("replay must be a no-op")
	}
	if historyCount(t, pool, shipmentID) != 1 {
		t.Fatal("replay must not append history")
	}
}

func TestTracking_DeliveredIsTerminal(t *testing.T) {
	pool := connectTestDB(t)
	defer pool.Close()
	tracking := core.NewTrackingService(pool, &stubAdapterSource{adapter: &stubAdapter{provider: "velocex"}}, events.NopPublisher{})
	ctx := context.Background()

	orderID := seedOrder(t, pool, core.PaymentCOD, 1200)
	shipmentID := seedShipment(t, pool, orderID, "VX801", core.ShipmentOutForDelivery, core.PaymentCOD, 1200, 85)

	deliveredAt := time.Now().Add(-time.Hour)
	change, err := tracking.ApplyUpdate(ctx, "VX801", carrier.TrackingStatus{
		Status: "delivered", StatusCode: "DLV", OccurredAt: deliveredAt,
	})
	if err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	if !change.Delivered {
		t.Fatalf("expected delivery, got %+v", change)
	}

	var status string
	var storedAt *time.Time
	if err := pool.QueryRow(ctx, `
		SELECT status, delivered_at FROM shipments WHERE id = $1
	`, shipmentID).Scan(&status, &storedAt); err != nil {
		t.Fatalf("read shipment: %v", err)
	}
	if status != core.ShipmentDelivered || storedAt == nil {
		t.Fatalf("expected delivered with timestamp, got %s/%v", status, storedAt)
	}

	// Late out-of-order updates cannot move a delivered shipment.
	late, err := tracking.ApplyUpdate(ctx, "VX801", carrier.TrackingStatus{Status: "in_transit", StatusCode: "IT"})
	if err != nil {
		t.Fatalf("late ApplyUpdate: %v", err)
	}
	if late.Changed {
		t.Fatal("terminal shipment must ignore further updates")
	}
}
