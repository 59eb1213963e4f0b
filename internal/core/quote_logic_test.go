package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"fulfillment-core/internal/carrier"

	"github.com/shopspring/decimal"
)

// fakeAdapter is a canned carrier.Adapter for quote assembly tests.
type fakeAdapter struct {
	provider string
	options  []carrier.RateOption
	err      error
	delay    time.Duration
}

func (f *fakeAdapter) Provider() string { return f.provider }

func (f *fakeAdapter) GetRates(ctx context.Context, _ carrier.RateRequest) ([]carrier.RateOption, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.options, f.err
}

func (f *fakeAdapter) CreateShipment(context.Context, carrier.ShipmentRequest) (*carrier.ShipmentResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) TrackShipment(context.Context, string) (*carrier.TrackingStatus, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) CancelShipment(context.Context, string) error {
	return errors.New("not implemented")
}

func (f *fakeAdapter) VerifyWebhook([]byte, string, string) error { return nil }

func rateOpt(code string, price int64, days int) carrier.RateOption {
	return carrier.RateOption{
		CourierCode:   code,
		CourierName:   code,
		ServiceType:   "surface",
		TotalPrice:    decimal.NewFromInt(price),
		EstimatedDays: days,
	}
}

func testQuoteRequest() QuoteRequest {
	return QuoteRequest{
		OriginPincode: "110001",
		DestPincode:   "560001",
		WeightKG:      decimal.NewFromFloat(0.5),
		PaymentMode:   PaymentPrepaid,
	}
}

func TestCollectRates_PartialResults(t *testing.T) {
	adapters := []carrier.Adapter{
		&fakeAdapter{provider: "velocex", options: []carrier.RateOption{rateOpt("bluedart", 100, 2)}},
		&fakeAdapter{provider: "parcelio", err: carrier.ErrNotServiceable},
		&fakeAdapter{provider: "slowpost", delay: time.Second, options: []carrier.RateOption{rateOpt("x", 50, 1)}},
	}

	options, timeouts := collectRates(context.Background(), adapters, testQuoteRequest(), 50*time.Millisecond)

	if len(options) != 1 {
		t.Fatalf("expected 1 option from the healthy provider, got %d", len(options))
	}
	if options[0].Provider != "velocex" {
		t.Fatalf("unexpected provider %s", options[0].Provider)
	}
	if !timeouts["slowpost"] {
		t.Fatal("slow provider must be recorded as timed out")
	}
	if timeouts["parcelio"] {
		t.Fatal("a provider error is not a timeout")
	}
}

func TestNormalizeOption(t *testing.T) {
	o := normalizeOption("velocex", rateOpt("delhivery", 100, 3))

	if o.OptionID != "velocex:delhivery:surface" {
		t.Fatalf("unexpected option id %s", o.OptionID)
	}
	if !o.QuotedAmount.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected quoted 110 after markup, got %s", o.QuotedAmount)
	}
	if !o.Margin.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected margin 10, got %s", o.Margin)
	}
	if o.PricingSource != "live" || o.Confidence != liveRateConfidence {
		t.Fatalf("live options carry live confidence, got %s/%v", o.PricingSource, o.Confidence)
	}
}

func TestAssembleSession_RankingAndTags(t *testing.T) {
	options := []CourierOption{
		normalizeOption("velocex", rateOpt("bluedart", 120, 1)),
		normalizeOption("velocex", rateOpt("delhivery", 80, 4)),
		normalizeOption("parcelio", rateOpt("xpressbees", 95, 3)),
	}

	session := assembleSession(7, options, nil)

	if session.CompanyID != 7 {
		t.Fatalf("company id not carried, got %d", session.CompanyID)
	}
	if session.Recommendation != session.Options[0].OptionID {
		t.Fatal("recommendation must point at the top-ranked option")
	}
	if !hasTag(session.Options[0], TagRecommended) {
		t.Fatal("top option must carry the recommended tag")
	}
	// Equal confidence everywhere, so the cheapest option wins the ranking.
	if session.Options[0].CourierCode != "delhivery" {
		t.Fatalf("expected delhivery ranked first, got %s", session.Options[0].CourierCode)
	}
	var cheapest, fastest bool
	for _, o := range session.Options {
		if hasTag(o, TagCheapest) {
			cheapest = o.CourierCode == "delhivery"
		}
		if hasTag(o, TagFastest) {
			fastest = o.CourierCode == "bluedart"
		}
	}
	if !cheapest || !fastest {
		t.Fatal("cheapest/fastest tags misassigned")
	}
	if session.Confidence != liveRateConfidence {
		t.Fatalf("expected confidence %v, got %v", liveRateConfidence, session.Confidence)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl < 29*time.Minute || ttl > 31*time.Minute {
		t.Fatalf("session TTL out of range: %s", ttl)
	}
}

func TestAssembleSession_TimeoutDegradesConfidence(t *testing.T) {
	options := []CourierOption{normalizeOption("velocex", rateOpt("bluedart", 100, 2))}

	session := assembleSession(1, options, map[string]bool{"parcelio": true})

	want := liveRateConfidence * 0.8
	if diff := session.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected confidence %v after timeout downgrade, got %v", want, session.Confidence)
	}
}

func TestOptionScore_ConfidenceBeatsPriceOnTies(t *testing.T) {
	sure := CourierOption{QuotedAmount: decimal.NewFromInt(100), Confidence: 0.95}
	shaky := CourierOption{QuotedAmount: decimal.NewFromInt(100), Confidence: 0.4}

	if optionScore(sure) >= optionScore(shaky) {
		t.Fatal("higher confidence must score lower at equal price")
	}
}

func TestValidateQuoteRequest(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*QuoteRequest)
	}{
		{"missing origin", func(r *QuoteRequest) { r.OriginPincode = "" }},
		{"missing destination", func(r *QuoteRequest) { r.DestPincode = "" }},
		{"zero weight", func(r *QuoteRequest) { r.WeightKG = decimal.Zero }},
		{"bad payment mode", func(r *QuoteRequest) { r.PaymentMode = "credit" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := testQuoteRequest()
			tc.mutate(&req)
			if err := validateQuoteRequest(req); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if err := validateQuoteRequest(testQuoteRequest()); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

func hasTag(o CourierOption, tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
