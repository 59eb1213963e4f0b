package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"fulfillment-core/internal/carrier"
	"fulfillment-core/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps domain sentinel errors onto HTTP statuses and machine codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, carrier.ErrInvalidDestination):
		return http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, carrier.ErrBadSignature):
		return http.StatusUnauthorized, "BAD_SIGNATURE"
	case errors.Is(err, core.ErrAccessDenied):
		return http.StatusForbidden, "ACCESS_DENIED"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, core.ErrQuoteExpired):
		return http.StatusGone, "QUOTE_EXPIRED"
	case errors.Is(err, core.ErrSessionConsumed):
		return http.StatusConflict, "SESSION_CONSUMED"
	case errors.Is(err, core.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT"
	case errors.Is(err, core.ErrRTOAlreadyTriggered), errors.Is(err, core.ErrAlreadyReversed), errors.Is(err, core.ErrAlreadySettled):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, core.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "INSUFFICIENT_BALANCE"
	case errors.Is(err, core.ErrMissingBaseAmount):
		return http.StatusBadRequest, "MISSING_BASE_AMOUNT"
	case errors.Is(err, core.ErrNotEligible), errors.Is(err, core.ErrNotEnrolled):
		return http.StatusForbidden, "PROGRAM_DENIED"
	case errors.Is(err, carrier.ErrNotServiceable):
		return http.StatusUnprocessableEntity, "NOT_SERVICEABLE"
	case errors.Is(err, carrier.ErrNotCancellable):
		return http.StatusConflict, "NOT_CANCELLABLE"
	}
	var apiErr *carrier.APIError
	if errors.As(err, &apiErr) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusBadGateway, "UPSTREAM_ERROR"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// writeDomainError translates a service error into the API error shape.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	writeError(w, r, err.Error(), code, status)
}
