package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"fulfillment-core/internal/app"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	var req app.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	order, err := h.svc.CreateOrder(r.Context(), claims.CompanyID, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) generateQuotes(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	var req app.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	result, err := h.svc.GenerateQuotes(r.Context(), claims.CompanyID, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) shipOrder(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	orderID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "invalid order id", "VALIDATION", http.StatusBadRequest)
		return
	}
	var req app.ShipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	result, err := h.svc.ShipOrder(r.Context(), claims.CompanyID, orderID, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) trackShipment(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	shipmentID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "invalid shipment id", "VALIDATION", http.StatusBadRequest)
		return
	}
	result, err := h.svc.TrackShipment(r.Context(), claims.CompanyID, shipmentID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) cancelShipment(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	shipmentID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "invalid shipment id", "VALIDATION", http.StatusBadRequest)
		return
	}
	if err := h.svc.CancelShipment(r.Context(), claims.CompanyID, shipmentID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (h *Handler) getNDR(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	eventID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "invalid ndr id", "VALIDATION", http.StatusBadRequest)
		return
	}
	result, err := h.svc.GetNDR(r.Context(), claims.CompanyID, eventID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) resolveNDR(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	eventID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "invalid ndr id", "VALIDATION", http.StatusBadRequest)
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid JSON body", "VALIDATION", http.StatusBadRequest)
		return
	}
	if err := h.svc.ResolveNDR(r.Context(), claims.CompanyID, eventID, req.Note); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}
