package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/askexpert/backend/internal/ledger"
	"github.com/askexpert/backend/internal/models"
	"github.com/askexpert/backend/internal/sweeps"
)

// Reconciliation lists and closes ledger entries that need a human.
type Reconciliation interface {
	ListOpen(ctx context.Context, limit int) ([]*models.PaymentEvent, error)
	Resolve(ctx context.Context, id int64) error
}

// CronHandler serves the scheduler-only endpoints. The sweeps run the same code
// as the periodic jobs; these routes exist for external schedulers and manual runs.
type CronHandler struct {
	Sweeps sweeps.Sweeper
	Ledger Reconciliation
	Logger *slog.Logger
}

// ExpireOffers handles POST /internal/cron/expire-offers.
func (h *CronHandler) ExpireOffers(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, sweeps.NameOfferSweep, h.Sweeps.RunOfferSweep)
}

// ExpireSLA handles POST /internal/cron/expire-sla.
func (h *CronHandler) ExpireSLA(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, sweeps.NameSLASweep, h.Sweeps.RunSLASweep)
}

func (h *CronHandler) runSweep(w http.ResponseWriter, r *http.Request, name string, run func(context.Context) (sweeps.Summary, error)) {
	sum, err := run(r.Context())
	if err != nil {
		h.Logger.Error("sweep failed", "job", name, "error", err)
		http.Error(w, `{"error":"sweep failed","kind":"internal"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ListReconciliation handles GET /internal/reconciliation.
func (h *CronHandler) ListReconciliation(w http.ResponseWriter, r *http.Request) {
	events, err := h.Ledger.ListOpen(r.Context(), queryLimit(r, 100))
	if err != nil {
		writeError(w, h.Logger, err, "")
		return
	}
	if events == nil {
		events = []*models.PaymentEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ResolveReconciliation handles POST /internal/reconciliation/{id}/resolve.
func (h *CronHandler) ResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid event id","kind":"validation"}`, http.StatusBadRequest)
		return
	}
	if err := h.Ledger.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			http.Error(w, `{"error":"payment event not found","kind":"not_found"}`, http.StatusNotFound)
			return
		}
		writeError(w, h.Logger, err, "")
		return
	}
	h.Logger.Info("reconciliation entry resolved", "event_id", id)
	w.WriteHeader(http.StatusNoContent)
}
