package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/askexpert/backend/internal/offers"
	"github.com/askexpert/backend/internal/payments"
	"github.com/askexpert/backend/internal/validation"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Status    string `json:"status,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// classify maps a service error to its HTTP status and error kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, offers.ErrValidation), errors.Is(err, validation.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, offers.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, offers.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, offers.ErrManualRefundRequired):
		return http.StatusConflict, "manual_refund_required"
	case errors.Is(err, offers.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, offers.ErrHoldNotFound):
		return http.StatusConflict, "hold_not_found"
	case errors.Is(err, payments.ErrAlreadyCaptured),
		errors.Is(err, payments.ErrAlreadyCanceled),
		errors.Is(err, payments.ErrUnexpectedState):
		return http.StatusConflict, "payment_conflict"
	case errors.Is(err, payments.ErrUnavailable):
		return http.StatusServiceUnavailable, "authority_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		// an external call timed out; the outcome is unknown, not failed
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, payments.ErrRejected):
		return http.StatusBadGateway, "authority_rejected"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError renders err as a JSON error body. current, when not empty, is the
// question's authoritative status after the failed call.
func writeError(w http.ResponseWriter, log *slog.Logger, err error, current string) {
	code, kind := classify(err)
	body := errorBody{Error: err.Error(), Kind: kind, Status: current}
	switch code {
	case http.StatusInternalServerError:
		log.Error("request failed", "error", err)
		body.Error = "internal error"
	case http.StatusServiceUnavailable:
		log.Warn("upstream unavailable", "kind", kind, "error", err)
		body.Retryable = true
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, code, body)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", validation.ErrValidation, err)
	}
	return b, nil
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
