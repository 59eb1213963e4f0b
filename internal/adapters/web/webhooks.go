package web

import (
	"errors"
	"io"
	"net/http"

	"fulfillment-core/internal/carrier"

	"github.com/go-chi/chi/v5"
)

// Webhook signature headers. Signature is hex HMAC-SHA256 over
// "<timestamp>.<body>".
const (
	headerSignature = "X-Webhook-Signature"
	headerTimestamp = "X-Webhook-Timestamp"
)

func (h *Handler) carrierWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "carrier")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, "failed to read body", "VALIDATION", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(headerSignature)
	timestamp := r.Header.Get(headerTimestamp)
	if signature == "" || timestamp == "" {
		writeError(w, r, "missing webhook signature", "BAD_SIGNATURE", http.StatusUnauthorized)
		return
	}

	result, err := h.svc.ProcessCarrierWebhook(r.Context(), provider, body, signature, timestamp)
	if err != nil {
		if errors.Is(err, carrier.ErrBadSignature) {
			writeError(w, r, "webhook signature verification failed", "BAD_SIGNATURE", http.StatusUnauthorized)
			return
		}
		writeDomainError(w, r, err)
		return
	}
	// success:false still answers 200: the payload was received and recorded,
	// the carrier must not retry it.
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) webhookHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}
