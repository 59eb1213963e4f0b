package web

import (
	"net/http"

	"fulfillment-core/internal/app"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps inbound payload size across the API and webhooks.
const maxBodyBytes = 1 << 20

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	jwtSecret string
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins, jwtSecret string) http.Handler {
	h := &Handler{svc: svc, jwtSecret: jwtSecret}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(BodyLimit(maxBodyBytes))
	r.Use(CORS(allowedOrigins))

	// ── Health and carrier webhooks (public) ─────────────────────────────────
	r.Get("/api/health", h.health)
	r.Post("/webhooks/{carrier}", h.carrierWebhook)
	r.Get("/webhooks/{carrier}/health", h.webhookHealth)

	// ── Seller API (JWT) ─────────────────────────────────────────────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)

		r.Post("/api/orders", h.createOrder)
		r.Post("/api/quotes/courier-options", h.generateQuotes)
		r.Post("/api/orders/{id}/ship", h.shipOrder)
		r.Get("/api/shipments/{id}/track", h.trackShipment)
		r.Post("/api/shipments/{id}/cancel", h.cancelShipment)

		r.Get("/api/ndr/{id}", h.getNDR)
		r.Post("/api/ndr/{id}/resolve", h.resolveNDR)

		r.Get("/api/finance/cod/discrepancies", h.listDiscrepancies)
		r.Get("/api/finance/cod/discrepancies/{id}", h.getDiscrepancy)
		r.Post("/api/finance/cod/discrepancies/{id}/resolve", h.resolveDiscrepancy)
		r.Get("/api/finance/cod/early-program/eligibility", h.remittanceEligibility)
		r.Post("/api/finance/cod/early-program/enroll", h.enrollEarlyRemittance)
		r.Post("/api/finance/cod/remittances/run", h.runRemittance)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
