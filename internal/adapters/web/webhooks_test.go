package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fulfillment-core/internal/adapters/web"
	"fulfillment-core/internal/app"
	"fulfillment-core/internal/carrier"
	"fulfillment-core/internal/core"

	"github.com/golang-jwt/jwt/v5"
)

const testJWTSecret = "test-secret"

// fakeService is a canned app.ApplicationService for handler tests.
type fakeService struct {
	webhookResult *app.WebhookResult
	webhookErr    error
	shipErr       error
}

func (f *fakeService) CreateOrder(context.Context, int, app.CreateOrderRequest) (*core.Order, error) {
	return &core.Order{ID: 1}, nil
}

func (f *fakeService) GenerateQuotes(context.Context, int, app.QuoteRequest) (*app.QuoteResult, error) {
	return &app.QuoteResult{}, nil
}

func (f *fakeService) ShipOrder(context.Context, int, int, app.ShipRequest) (*app.ShipmentResult, error) {
	if f.shipErr != nil {
		return nil, f.shipErr
	}
	return &app.ShipmentResult{Shipment: &core.Shipment{ID: 1, AWB: "VX1"}}, nil
}

func (f *fakeService) TrackShipment(context.Context, int, int) (*app.TrackingResult, error) {
	return &app.TrackingResult{}, nil
}

func (f *fakeService) CancelShipment(context.Context, int, int) error { return nil }

func (f *fakeService) ProcessCarrierWebhook(_ context.Context, _ string, _ []byte, _, _ string) (*app.WebhookResult, error) {
	if f.webhookErr != nil {
		return nil, f.webhookErr
	}
	return f.webhookResult, nil
}

func (f *fakeService) GetNDR(context.Context, int, int) (*app.NDRResult, error) {
	return &app.NDRResult{}, nil
}

func (f *fakeService) ResolveNDR(context.Context, int, int, string) error { return nil }

func (f *fakeService) ListDiscrepancies(context.Context, int, string) ([]core.CODDiscrepancy, error) {
	return nil, nil
}

func (f *fakeService) GetDiscrepancy(context.Context, int, int) (*core.CODDiscrepancy, error) {
	return &core.CODDiscrepancy{}, nil
}

func (f *fakeService) ResolveDiscrepancy(context.Context, int, int, app.ResolveDiscrepancyRequest) error {
	return nil
}

func (f *fakeService) RemittanceEligibility(context.Context, int) (*core.EligibilityReport, error) {
	return &core.EligibilityReport{}, nil
}

func (f *fakeService) EnrollEarlyRemittance(context.Context, int, string) error { return nil }

func (f *fakeService) RunRemittance(context.Context, int) (*core.BatchResult, error) {
	return &core.BatchResult{}, nil
}

func (f *fakeService) RunScheduledJobs(context.Context) (int, error)  { return 0, nil }
func (f *fakeService) SweepNDRDeadlines(context.Context) (int, error) { return 0, nil }
func (f *fakeService) SweepRemittances(context.Context) (int, error)  { return 0, nil }

func newTestHandler(svc app.ApplicationService) http.Handler {
	return web.NewHandler(svc, "*", testJWTSecret)
}

func signTestToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":    1,
		"company_id": 1,
		"role":       "seller",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestCarrierWebhook_MissingSignatureHeaders(t *testing.T) {
	h := newTestHandler(&fakeService{webhookResult: &app.WebhookResult{Success: true}})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/velocex", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature headers, got %d", rec.Code)
	}
}

func TestCarrierWebhook_BadSignature(t *testing.T) {
	h := newTestHandler(&fakeService{webhookErr: carrier.ErrBadSignature})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/velocex", bytes.NewBufferString(`{}`))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	req.Header.Set("X-Webhook-Timestamp", "1700000000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
}

func TestCarrierWebhook_PayloadProblemAnswers200(t *testing.T) {
	h := newTestHandler(&fakeService{webhookResult: &app.WebhookResult{Success: false, Message: "shipment not found"}})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/velocex", bytes.NewBufferString(`{"event_type":"tracking"}`))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	req.Header.Set("X-Webhook-Timestamp", "1700000000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// The payload was received and recorded; the carrier must not retry.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a post-signature payload problem, got %d", rec.Code)
	}
	var result app.WebhookResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Success || result.Message != "shipment not found" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestWebhookHealth(t *testing.T) {
	h := newTestHandler(&fakeService{})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/velocex/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestShipOrder_RequiresAuth(t *testing.T) {
	h := newTestHandler(&fakeService{})

	req := httptest.NewRequest(http.MethodPost, "/api/orders/1/ship", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestShipOrder_ExpiredQuoteMapsTo410(t *testing.T) {
	h := newTestHandler(&fakeService{shipErr: core.ErrQuoteExpired})

	body := bytes.NewBufferString(`{"session_id":"0d9237f6-6f5c-4c6e-9bf0-52b1a78c1c7a","option_id":"velocex:delhivery:surface"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders/1/ship", body)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, testJWTSecret))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410 for an expired quote, got %d", rec.Code)
	}
}

func TestShipOrder_WrongSecretRejected(t *testing.T) {
	h := newTestHandler(&fakeService{})

	req := httptest.NewRequest(http.MethodPost, "/api/orders/1/ship", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "other-secret"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a token signed with the wrong secret, got %d", rec.Code)
	}
}
