package core_test

import (
	"context"
	"errors"
	"testing"

	"fulfillment-core/internal/carrier"
	"fulfillment-core/internal/core"
	"fulfillment-core/internal/events"

	"github.com/shopspring/decimal"
)

func TestBooking_CompensatesFailedCarrierCall(t *testing.T) {
	adapter := &stubAdapter{
		provider:  "velocex",
		rates:     []carrier.RateOption{{CourierCode: "delhivery", CourierName: "Delhivery", ServiceType: "surface", TotalPrice: decimal.NewFromInt(100), ChargeableWeight: decimal.NewFromFloat(0.5), EstimatedDays: 3}},
		createErr: errors.New("carrier gateway down"),
	}
	pool := connectTestDB(t)
	defer pool.Close()
	source := &stubAdapterSource{adapter: adapter}
	wallets := core.NewWalletService(pool)
	quotes := core.NewQuoteService(pool, source)
	booking := core.NewBookingService(pool, quotes, wallets, core.NewOrderService(pool), source, carrier.NewStore(pool), events.NopPublisher{})
	ctx := context.Background()

	orderID := seedOrder(t, pool, core.PaymentPrepaid, 1500)

	session, err := quotes.GenerateQuotes(ctx, 1, core.QuoteRequest{
		OriginPincode: "110001", DestPincode: "560001", WeightKG: decimal.NewFromFloat(0.5), PaymentMode: core.PaymentPrepaid,
	})
	if err != nil {
		t.Fatalf("GenerateQuotes: %v", err)
	}

	if _, err := booking.BookFromQuote(ctx, 1, orderID, session.ID, session.Recommendation); err == nil {
		t.Fatal("expected booking to fail when the carrier call fails")
	}

	// The debit was reversed, so the balance is untouched.
	balance, _ := walletState(t, pool)
	if !balance.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected balance restored to 10000, got %s", balance)
	}
	var txns int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM wallet_transactions`).Scan(&txns); err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if txns != 2 {
		t.Fatalf("expected debit plus reversal, got %d transactions", txns)
	}

	// The session was released for another attempt.
	var consumed bool
	if err := pool.QueryRow(ctx, `SELECT consumed FROM quote_sessions WHERE id = $1`, session.ID).Scan(&consumed); err != nil {
		t.Fatalf("read session: %v", err)
	}
	if consumed {
		t.Fatal("failed booking must release the session claim")
	}

	var shipments int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM shipments`).Scan(&shipments); err != nil {
		t.Fatalf("count shipments: %v", err)
	}
	if shipments != 0 {
		t.Fatal("no shipment row may exist after a failed booking")
	}
}

func TestBooking_SuccessDebitsQuotedAmount(t *testing.T) {
	adapter := &stubAdapter{
		provider:     "velocex",
		rates:        []carrier.RateOption{{CourierCode: "delhivery", CourierName: "Delhivery", ServiceType: "surface", TotalPrice: decimal.NewFromInt(100), ChargeableWeight: decimal.NewFromFloat(0.5), EstimatedDays: 3}},
		createResult: &carrier.ShipmentResult{AWB: "VX100", CourierName: "Delhivery", LabelURL: "https://labels/vx100.pdf"},
	}
	pool := connectTestDB(t)
	defer pool.Close()
	source := &stubAdapterSource{adapter: adapter}
	wallets := core.NewWalletService(pool)
	quotes := core.NewQuoteService(pool, source)
	booking := core.NewBookingService(pool, quotes, wallets, core.NewOrderService(pool), source, carrier.NewStore(pool), events.NopPublisher{})
	ctx := context.Background()

	orderID := seedOrder(t, pool, core.PaymentCOD, 1500)

	session, err := quotes.GenerateQuotes(ctx, 1, core.QuoteRequest{
		OriginPincode: "110001", DestPincode: "560001", WeightKG: decimal.NewFromFloat(0.5), PaymentMode: core.PaymentCOD,
	})
	if err != nil {
		t.Fatalf("GenerateQuotes: %v", err)
	}

	sh, err := booking.BookFromQuote(ctx, 1, orderID, session.ID, session.Recommendation)
	if err != nil {
		t.Fatalf("BookFromQuote: %v", err)
	}
	if sh.AWB != "VX100" || sh.Status != core.ShipmentCreated {
		t.Fatalf("unexpected shipment %s/%s", sh.AWB, sh.Status)
	}
	// Quoted = 100 carrier charge + 10% markup.
	if !sh.ShippingCharge.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected shipping charge 110, got %s", sh.ShippingCharge)
	}
	if !sh.CODAmount.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("COD shipment must carry the order total, got %s", sh.CODAmount)
	}

	balance, _ := walletState(t, pool)
	if !balance.Equal(decimal.NewFromInt(9890)) {
		t.Fatalf("expected balance 9890 after debit, got %s", balance)
	}

	var orderStatus string
	if err := pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&orderStatus); err != nil {
		t.Fatalf("read order: %v", err)
	}
	if orderStatus != core.OrderBooked {
		t.Fatalf("expected order booked, got %s", orderStatus)
	}

	history, err := booking.History(ctx, sh.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Status != core.ShipmentCreated {
		t.Fatalf("expected one booked history entry, got %+v", history)
	}

	// The session is spent: a second claim must fail.
	if _, err := quotes.ClaimOption(ctx, 1, session.ID, session.Recommendation); !errors.Is(err, core.ErrSessionConsumed) {
		t.Fatalf("expected ErrSessionConsumed, got %v", err)
	}
}

func TestBooking_ExpiredSessionRejectedBeforeDebit(t *testing.T) {
	adapter := &stubAdapter{
		provider: "velocex",
		rates:    []carrier.RateOption{{CourierCode: "delhivery", ServiceType: "surface", TotalPrice: decimal.NewFromInt(100), EstimatedDays: 3}},
	}
	pool := connectTestDB(t)
	defer pool.Close()
	source := &stubAdapterSource{adapter: adapter}
	wallets := core.NewWalletService(pool)
	quotes := core.NewQuoteService(pool, source)
	booking := core.NewBookingService(pool, quotes, wallets, core.NewOrderService(pool), source, carrier.NewStore(pool), events.NopPublisher{})
	ctx := context.Background()

	orderID := seedOrder(t, pool, core.PaymentPrepaid, 500)

	session, err := quotes.GenerateQuotes(ctx, 1, core.QuoteRequest{
		OriginPincode: "110001", DestPincode: "560001", WeightKG: decimal.NewFromInt(1), PaymentMode: core.PaymentPrepaid,
	})
	if err != nil {
		t.Fatalf("GenerateQuotes: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		UPDATE quote_sessions SET expires_at = NOW() - INTERVAL '1 minute' WHERE id = $1
	`, session.ID); err != nil {
		t.Fatalf("expire session: %v", err)
	}

	_, err = booking.BookFromQuote(ctx, 1, orderID, session.ID, session.Recommendation)
	if !errors.Is(err, core.ErrQuoteExpired) {
		t.Fatalf("expected ErrQuoteExpired, got %v", err)
	}

	balance, version := walletState(t, pool)
	if !balance.Equal(decimal.NewFromInt(10000)) || version != 0 {
		t.Fatalf("expired session must not touch the wallet, got %s/%d", balance, version)
	}
	if adapter.createCalls != 0 {
		t.Fatal("expired session must not reach the carrier")
	}
}
