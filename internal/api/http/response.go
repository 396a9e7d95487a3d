package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/logger"
)

// envelope is the body of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrPromoInvalid),
		errors.Is(err, domain.ErrOfflineLinkInvalid),
		errors.Is(err, domain.ErrWeightsInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCaseAlreadyPaid),
		errors.Is(err, domain.ErrCaseNotPaid),
		errors.Is(err, domain.ErrEmailInUse),
		errors.Is(err, domain.ErrDefaultProcessor),
		errors.Is(err, domain.ErrProcessorInactive),
		errors.Is(err, domain.ErrServiceLevelConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrPaymentIndeterminate):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrNoProcessorAvailable),
		errors.Is(err, domain.ErrStatusKeyMissing):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", domain.ErrValidation, err)
	}
	return nil
}
