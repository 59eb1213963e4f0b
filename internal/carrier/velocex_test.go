package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory Store for adapter tests.
type memStore struct {
	mu       sync.Mutex
	integ    Integration
	token    string
	tokenExp *time.Time
	refs     map[string]string
	wh       WarehouseInfo
	saves    int
}

func (m *memStore) Integration(_ context.Context, _ int, _ string) (*Integration, error) {
	return &m.integ, nil
}

func (m *memStore) ActiveIntegrations(_ context.Context, _ int) ([]Integration, error) {
	return []Integration{m.integ}, nil
}

func (m *memStore) WebhookSecret(_ context.Context, _ string) (string, error) {
	return m.integ.WebhookSecret, nil
}

func (m *memStore) Token(_ context.Context, _ int) (string, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.tokenExp, nil
}

func (m *memStore) SaveToken(_ context.Context, _ int, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.tokenExp = &expiresAt
	m.saves++
	return nil
}

func (m *memStore) Warehouse(_ context.Context, _ int) (*WarehouseInfo, error) {
	return &m.wh, nil
}

func (m *memStore) DefaultWarehouse(_ context.Context, _ int) (*WarehouseInfo, error) {
	return &m.wh, nil
}

func (m *memStore) CarrierRef(_ context.Context, warehouseID int, provider string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs[provider], nil
}

func (m *memStore) SaveCarrierRef(_ context.Context, _ int, provider, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs == nil {
		m.refs = map[string]string{}
	}
	m.refs[provider] = ref
	return nil
}

func velocexTestServer(t *testing.T, rates []velocexRate, trackStatus string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(velocexAuthResponse{Token: "tok-1", ExpiresIn: 3600})
	})
	mux.HandleFunc("/v1/rates", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(velocexRatesResponse{ServiceableCouriers: rates})
	})
	mux.HandleFunc("/v1/track/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(velocexTrackResponse{
			AWB: "VX1", Status: trackStatus, StatusCode: "X", UpdatedAt: time.Now().Format(time.RFC3339),
		})
	})
	return httptest.NewServer(mux)
}

func newTestVelocex(srvURL string) (*Velocex, *memStore) {
	store := &memStore{
		integ: Integration{ID: 1, CompanyID: 1, Provider: ProviderVelocex, BaseURL: srvURL, APIKey: "k", APISecret: "s"},
		wh:    WarehouseInfo{ID: 1, Name: "Main", Pincode: "110001", Phone: "9876543210"},
	}
	v := NewVelocex(&store.integ, store)
	return v, store
}

func TestVelocexGetRates_SortedAscending(t *testing.T) {
	rates := []velocexRate{
		{CourierCode: "bluedart", TotalCharge: decimal.NewFromInt(120), EstimatedDays: 2},
		{CourierCode: "delhivery", TotalCharge: decimal.NewFromInt(80), EstimatedDays: 4},
		{CourierCode: "xpressbees", TotalCharge: decimal.NewFromInt(95), EstimatedDays: 3},
	}
	srv := velocexTestServer(t, rates, "in_transit")
	defer srv.Close()

	v, store := newTestVelocex(srv.URL)
	opts, err := v.GetRates(context.Background(), RateRequest{
		OriginPincode: "110001", DestPincode: "560001", WeightKG: decimal.NewFromFloat(0.5), PaymentMode: "prepaid",
	})
	if err != nil {
		t.Fatalf("GetRates: %v", err)
	}
	if len(opts) != 3 {
		t.Fatalf("expected 3 options, got %d", len(opts))
	}
	for i := 1; i < len(opts); i++ {
		if opts[i].TotalPrice.LessThan(opts[i-1].TotalPrice) {
			t.Fatalf("options not sorted ascending: %v before %v", opts[i-1].TotalPrice, opts[i].TotalPrice)
		}
	}
	if opts[0].CourierCode != "delhivery" {
		t.Fatalf("cheapest first, got %s", opts[0].CourierCode)
	}
	if store.saves != 1 {
		t.Fatalf("expected one token save, got %d", store.saves)
	}
}

func TestVelocexGetRates_NotServiceable(t *testing.T) {
	srv := velocexTestServer(t, nil, "in_transit")
	defer srv.Close()

	v, _ := newTestVelocex(srv.URL)
	_, err := v.GetRates(context.Background(), RateRequest{
		OriginPincode: "110001", DestPincode: "999999", WeightKG: decimal.NewFromInt(1), PaymentMode: "cod",
	})
	if !errors.Is(err, ErrNotServiceable) {
		t.Fatalf("expected ErrNotServiceable, got %v", err)
	}
}

func TestVelocexGetRates_ReusesCachedToken(t *testing.T) {
	srv := velocexTestServer(t, []velocexRate{{CourierCode: "c", TotalCharge: decimal.NewFromInt(50)}}, "in_transit")
	defer srv.Close()

	v, store := newTestVelocex(srv.URL)
	exp := time.Now().Add(2 * time.Hour)
	store.token = "tok-1"
	store.tokenExp = &exp

	if _, err := v.GetRates(context.Background(), RateRequest{
		OriginPincode: "110001", DestPincode: "560001", WeightKG: decimal.NewFromInt(1), PaymentMode: "prepaid",
	}); err != nil {
		t.Fatalf("GetRates: %v", err)
	}
	if store.saves != 0 {
		t.Fatalf("valid cached token must not be refreshed, got %d saves", store.saves)
	}
}

func TestVelocexCancelShipment_TerminalState(t *testing.T) {
	srv := velocexTestServer(t, nil, "delivered")
	defer srv.Close()

	v, _ := newTestVelocex(srv.URL)
	err := v.CancelShipment(context.Background(), "VX1")
	if !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable for delivered shipment, got %v", err)
	}
}

func TestVelocexCreateShipment_InvalidDestination(t *testing.T) {
	srv := velocexTestServer(t, nil, "in_transit")
	defer srv.Close()

	v, _ := newTestVelocex(srv.URL)
	_, err := v.CreateShipment(context.Background(), ShipmentRequest{
		OrderNumber: "ORD-1", WarehouseID: 1, CustomerName: "A", CustomerPhone: "12345",
		Address: "x", Pincode: "110001",
	})
	if !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination for bad phone, got %v", err)
	}
}
