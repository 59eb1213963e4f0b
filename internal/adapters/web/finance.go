package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"fulfillment-core/internal/app"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) listDiscrepancies(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	status := r.URL.Query().Get("status")
	items, err := h.svc.ListDiscrepancies(r.Context(), claims.CompanyID, status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discrepancies": items})
}

func (h *Handler) getDiscrepancy(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "invalid discrepancy id", "VALIDATION", http.StatusBadRequest)
		return
	}
	d, err := h.svc.GetDiscrepancy(r.Context(), claims.CompanyID, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) resolveDiscrepancy(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "invalid discrepancy id", "VALIDATION", http.StatusBadRequest)
		return
	}
	var req app.ResolveDiscrepancyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	if err := h.svc.ResolveDiscrepancy(r.Context(), claims.CompanyID, id, req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

func (h *Handler) remittanceEligibility(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	report, err := h.svc.RemittanceEligibility(r.Context(), claims.CompanyID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) enrollEarlyRemittance(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	var req struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	if err := h.svc.EnrollEarlyRemittance(r.Context(), claims.CompanyID, req.Tier); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tier": req.Tier, "status": "enrolled"})
}

func (h *Handler) runRemittance(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	result, err := h.svc.RunRemittance(r.Context(), claims.CompanyID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Included == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}
