package core_test

import (
	"context"
	"os"
	"testing"

	"fulfillment-core/internal/carrier"
	"fulfillment-core/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// connectTestDB connects to the dedicated test database, wipes it, and seeds
// one verified company with a funded wallet and a default warehouse.
func connectTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE scheduled_jobs, remittance_batch_items, remittance_batches,
			cod_discrepancies, rto_events, ndr_actions, ndr_events, quote_sessions,
			shipment_status_history, shipments, orders, warehouse_carrier_refs,
			warehouses, carrier_integrations, wallet_transactions, wallets, companies
			RESTART IDENTITY CASCADE;

		INSERT INTO companies (id, company_code, name, base_currency, kyc_tier, created_at)
		VALUES (1, 'ACME', 'Acme Retail', 'INR', 2, NOW() - INTERVAL '200 days');
		SELECT setval(pg_get_serial_sequence('companies', 'id'), 1, true);

		INSERT INTO wallets (company_id, balance, version) VALUES (1, 10000, 0);

		INSERT INTO warehouses (id, company_id, name, address, city, state, pincode, phone, is_default)
		VALUES (1, 1, 'Main', '12 Industrial Estate', 'New Delhi', 'DL', '110001', '9876543210', TRUE);
		SELECT setval(pg_get_serial_sequence('warehouses', 'id'), 1, true);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}
	return pool
}

func seedOrder(t *testing.T, pool *pgxpool.Pool, paymentMode string, total int64) int {
	t.Helper()
	var id int
	err := pool.QueryRow(context.Background(), `
		INSERT INTO orders (company_id, order_number, customer_name, customer_phone, address, city, state, pincode, total_amount, payment_mode)
		VALUES (1, 'ORD-' || nextval(pg_get_serial_sequence('orders', 'id'))::text, 'Ravi Kumar', '9812345678', '44 MG Road', 'Bengaluru', 'KA', '560001', $1, $2)
		RETURNING id
	`, total, paymentMode).Scan(&id)
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return id
}

func seedShipment(t *testing.T, pool *pgxpool.Pool, orderID int, awb, status, paymentMode string, codAmount, shippingCharge int64) int {
	t.Helper()
	var id int
	err := pool.QueryRow(context.Background(), `
		INSERT INTO shipments (order_id, company_id, provider, awb, courier_name, declared_weight_kg, shipping_charge, payment_mode, cod_amount, status)
		VALUES ($1, 1, 'velocex', $2, 'Delhivery', 0.5, $3, $4, $5, $6)
		RETURNING id
	`, orderID, awb, shippingCharge, paymentMode, codAmount, status).Scan(&id)
	if err != nil {
		t.Fatalf("seed shipment: %v", err)
	}
	return id
}

func walletState(t *testing.T, pool *pgxpool.Pool) (decimal.Decimal, int) {
	t.Helper()
	var balance decimal.Decimal
	var version int
	err := pool.QueryRow(context.Background(), `
		SELECT balance, version FROM wallets WHERE company_id = 1
	`).Scan(&balance, &version)
	if err != nil {
		t.Fatalf("read wallet: %v", err)
	}
	return balance, version
}

// ── Carrier fakes ──

// stubAdapter is a canned carrier.Adapter for service-level tests.
type stubAdapter struct {
	provider     string
	rates        []carrier.RateOption
	createResult *carrier.ShipmentResult
	createErr    error
	trackResult  *carrier.TrackingStatus
	createCalls  int
}

func (a *stubAdapter) Provider() string { return a.provider }

func (a *stubAdapter) GetRates(context.Context, carrier.RateRequest) ([]carrier.RateOption, error) {
	if len(a.rates) == 0 {
		return nil, carrier.ErrNotServiceable
	}
	return a.rates, nil
}

func (a *stubAdapter) CreateShipment(context.Context, carrier.ShipmentRequest) (*carrier.ShipmentResult, error) {
	a.createCalls++
	if a.createErr != nil {
		return nil, a.createErr
	}
	return a.createResult, nil
}

func (a *stubAdapter) TrackShipment(context.Context, string) (*carrier.TrackingStatus, error) {
	return a.trackResult, nil
}

func (a *stubAdapter) CancelShipment(context.Context, string) error { return nil }

func (a *stubAdapter) VerifyWebhook([]byte, string, string) error { return nil }

// stubAdapterSource serves a single adapter for every lookup.
type stubAdapterSource struct {
	adapter carrier.Adapter
}

func (s *stubAdapterSource) Get(context.Context, int, string) (carrier.Adapter, error) {
	return s.adapter, nil
}

func (s *stubAdapterSource) Active(context.Context, int) ([]carrier.Adapter, error) {
	return []carrier.Adapter{s.adapter}, nil
}

// stubEligibility returns a fixed verdict.
type stubEligibility struct {
	eligible bool
}

func (s stubEligibility) Check(context.Context, int) (*core.EligibilityReport, error) {
	report := &core.EligibilityReport{Eligible: s.eligible}
	if !s.eligible {
		report.Reasons = []string{"stubbed: not eligible"}
	}
	return report, nil
}
