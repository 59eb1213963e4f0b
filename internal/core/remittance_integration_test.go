package core_test

import (
	"context"
	"errors"
	"testing"

	"fulfillment-core/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// seedPayableShipment creates a delivered, reconciled COD shipment whose
// collection date is old enough for a T+1 payout.
func seedPayableShipment(t *testing.T, pool *pgxpool.Pool, awb string, collected, shippingCharge int64) int {
	t.Helper()
	orderID := seedOrder(t, pool, core.PaymentCOD, collected)
	shipmentID := seedShipment(t, pool, orderID, awb, core.ShipmentDelivered, core.PaymentCOD, collected, shippingCharge)
	if _, err := pool.Exec(context.Background(), `
		UPDATE shipments
		SET collection_status = 'reconciled', actual_collection = cod_amount,
			cod_collected_at = NOW() - INTERVAL '2 days'
		WHERE id = $1
	`, shipmentID); err != nil {
		t.Fatalf("mark shipment payable: %v", err)
	}
	return shipmentID
}

func TestRemittance_EnrollmentGate(t *testing.T) {
	pool := connectTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	denied := core.NewRemittanceService(pool, stubEligibility{eligible: false})
	if err := denied.Enroll(ctx, 1, "T+1"); !errors.Is(err, core.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}

	granted := core.NewRemittanceService(pool, stubEligibility{eligible: true})
	if err := granted.Enroll(ctx, 1, "T+0"); err == nil {
		t.Fatal("unknown tier must be rejected")
	}
	if err := granted.Enroll(ctx, 1, "T+1"); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	var tier *string
	if err := pool.QueryRow(ctx, `SELECT cod_tier FROM companies WHERE id = 1`).Scan(&tier); err != nil {
		t.Fatalf("read company: %v", err)
	}
	if tier == nil || *tier != "T+1" {
		t.Fatalf("expected tier T+1, got %v", tier)
	}
}

func TestRemittance_BatchTotalsAndIdempotence(t *testing.T) {
	pool := connectTestDB(t)
	defer pool.Close()
	remittance := core.NewRemittanceService(pool, stubEligibility{eligible: true})
	ctx := context.Background()

	// Not enrolled yet.
	if _, err := remittance.CreateBatch(ctx, 1); !errors.Is(err, core.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}

	if err := remittance.Enroll(ctx, 1, "T+1"); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	seedPayableShipment(t, pool, "VX700", 1000, 0)

	result, err := remittance.CreateBatch(ctx, 1)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if result.Included != 1 || result.Batch == nil {
		t.Fatalf("expected one included shipment, got %+v", result)
	}
	b := result.Batch
	if !b.TotalCOD.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected total COD 1000, got %s", b.TotalCOD)
	}
	if !b.EarlyPayoutFee.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected 3%% fee of 30, got %s", b.EarlyPayoutFee)
	}
	if !b.NetPayable.Equal(decimal.NewFromInt(970)) {
		t.Fatalf("expected net payable 970, got %s", b.NetPayable)
	}

	// An immediate rerun finds nothing newly payable and creates no batch.
	again, err := remittance.CreateBatch(ctx, 1)
	if err != nil {
		t.Fatalf("second CreateBatch: %v", err)
	}
	if again.Included != 0 || again.Batch != nil {
		t.Fatalf("rerun must be empty, got %+v", again)
	}
	var batches int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM remittance_batches`).Scan(&batches); err != nil {
		t.Fatalf("count batches: %v", err)
	}
	if batches != 1 {
		t.Fatalf("expected one batch, got %d", batches)
	}
}

func TestRemittance_TierHoldsBackFreshCollections(t *testing.T) {
	pool := connectTestDB(t)
	defer pool.Close()
	remittance := core.NewRemittanceService(pool, stubEligibility{eligible: true})
	ctx := context.Background()

	if err := remittance.Enroll(ctx, 1, "T+3"); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	// Collected 2 days ago: inside the T+3 holdback window.
	seedPayableShipment(t, pool, "VX701", 500, 0)

	result, err := remittance.CreateBatch(ctx, 1)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if result.Included != 0 {
		t.Fatalf("T+3 must not pay out a 2-day-old collection, got %+v", result)
	}
}

func TestRemittance_SettlementReconciliation(t *testing.T) {
	pool := connectTestDB(t)
	defer pool.Close()
	remittance := core.NewRemittanceService(pool, stubEligibility{eligible: true})
	ctx := context.Background()

	if err := remittance.Enroll(ctx, 1, "T+1"); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	seedPayableShipment(t, pool, "VX702", 1000, 0)

	result, err := remittance.CreateBatch(ctx, 1)
	if err != nil || result.Included != 1 {
		t.Fatalf("CreateBatch: %v, %+v", err, result)
	}

	err = remittance.ApplySettlement(ctx, core.SettlementPayload{
		SettlementID:  "SETTLE-9",
		BankReference: "UTR123456",
		Lines: []core.SettlementLine{
			{AWB: "VX702", NetAmount: decimal.NewFromInt(970)},
			{AWB: "UNKNOWN-1", NetAmount: decimal.NewFromInt(50)},
		},
	})
	if err != nil {
		t.Fatalf("ApplySettlement: %v", err)
	}

	batch, err := remittance.GetBatch(ctx, 1, result.Batch.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if batch.Status != "settled" || batch.SettledAt == nil {
		t.Fatalf("expected settled batch, got %+v", batch)
	}
	if batch.CarrierSettlementID == nil || *batch.CarrierSettlementID != "SETTLE-9" {
		t.Fatalf("settlement id not recorded: %+v", batch)
	}
	if batch.BankReference == nil || *batch.BankReference != "UTR123456" {
		t.Fatalf("bank reference not recorded: %+v", batch)
	}

	// The unknown AWB became a discrepancy instead of aborting the run.
	var kind string
	if err := pool.QueryRow(ctx, `
		SELECT kind FROM cod_discrepancies WHERE awb = 'UNKNOWN-1'
	`).Scan(&kind); err != nil {
		t.Fatalf("read discrepancy: %v", err)
	}
	if kind != core.DiscrepancyShipmentNotFound {
		t.Fatalf("expected shipment_not_found, got %s", kind)
	}
}
