package carrier

import (
	"errors"
	"testing"
	"time"
)

func TestVerifyWebhookSignature_Valid(t *testing.T) {
	payload := []byte(`{"event_type":"tracking","shipment_data":{"awb":"VX123"}}`)
	sig, ts := SignWebhook("topsecret", payload, time.Now())

	if err := VerifyWebhookSignature("topsecret", payload, sig, ts); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyWebhookSignature_TamperedPayload(t *testing.T) {
	payload := []byte(`{"amount":100}`)
	sig, ts := SignWebhook("topsecret", payload, time.Now())

	err := VerifyWebhookSignature("topsecret", []byte(`{"amount":999}`), sig, ts)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for tampered payload, got %v", err)
	}
}

func TestVerifyWebhookSignature_WrongSecret(t *testing.T) {
	payload := []byte(`{}`)
	sig, ts := SignWebhook("secret-a", payload, time.Now())

	err := VerifyWebhookSignature("secret-b", payload, sig, ts)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for wrong secret, got %v", err)
	}
}

func TestVerifyWebhookSignature_ReplayWindow(t *testing.T) {
	payload := []byte(`{}`)
	sig, ts := SignWebhook("topsecret", payload, time.Now().Add(-6*time.Minute))

	err := VerifyWebhookSignature("topsecret", payload, sig, ts)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for stale timestamp, got %v", err)
	}
}

func TestVerifyWebhookSignature_FutureTimestamp(t *testing.T) {
	payload := []byte(`{}`)
	sig, ts := SignWebhook("topsecret", payload, time.Now().Add(5*time.Minute))

	err := VerifyWebhookSignature("topsecret", payload, sig, ts)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for future timestamp, got %v", err)
	}
}

func TestVerifyWebhookSignature_MissingHeaders(t *testing.T) {
	if err := VerifyWebhookSignature("s", []byte(`{}`), "", "123"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for missing signature, got %v", err)
	}
	if err := VerifyWebhookSignature("s", []byte(`{}`), "deadbeef", ""); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for missing timestamp, got %v", err)
	}
	if err := VerifyWebhookSignature("s", []byte(`{}`), "deadbeef", "not-a-number"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for malformed timestamp, got %v", err)
	}
}
