package handlers

import (
	"context"
	"net/http"
	"strconv"

	apperrors "github.com/3leaps/indexwarden/internal/errors"
	"github.com/3leaps/indexwarden/pkg/reconcile"
)

// Reconciler is the part of the scheduler the API drives.
type Reconciler interface {
	Trigger()
	RunCycle(ctx context.Context) reconcile.CycleReport
	LastReport() (reconcile.CycleReport, bool)
	Armed() bool
}

// CycleView is the JSON form of a cycle report.
type CycleView struct {
	reconcile.CycleReport
	Errors []string `json:"errors,omitempty"`
	Armed  bool     `json:"retry_armed"`
}

// ReconcileHandlers exposes manual triggering and the last cycle report.
type ReconcileHandlers struct {
	r Reconciler
}

// NewReconcileHandlers returns handlers driving r.
func NewReconcileHandlers(r Reconciler) *ReconcileHandlers {
	return &ReconcileHandlers{r: r}
}

// Trigger handles POST /v1/reconcile. With ?wait=true the cycle runs in the
// request and its report is returned; otherwise the running loop is nudged
// and 202 is returned.
func (h *ReconcileHandlers) Trigger(w http.ResponseWriter, r *http.Request) {
	wait := false
	if raw := r.URL.Query().Get("wait"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondWithError(w, r, apperrors.BadRequest("wait must be a boolean", err))
			return
		}
		wait = v
	}

	if !wait {
		h.r.Trigger()
		apperrors.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
		return
	}

	report := h.r.RunCycle(r.Context())
	apperrors.WriteJSON(w, http.StatusOK, h.view(report))
}

// Last handles GET /v1/reconcile/last.
func (h *ReconcileHandlers) Last(w http.ResponseWriter, r *http.Request) {
	report, ok := h.r.LastReport()
	if !ok {
		respondWithError(w, r, apperrors.NotFound("no reconciliation cycle has run yet"))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, h.view(report))
}

func (h *ReconcileHandlers) view(report reconcile.CycleReport) CycleView {
	return CycleView{CycleReport: report, Errors: report.Errors(), Armed: h.r.Armed()}
}
