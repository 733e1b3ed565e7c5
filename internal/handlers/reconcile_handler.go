package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/services/reconcile"
	"github.com/ternarybob/wrapline/internal/services/wrapups"
)

// ReconcileHandler exposes the pipeline trigger used by both the cron
// schedule and operators reprocessing specific jobs
type ReconcileHandler struct {
	worker  *reconcile.Worker
	poller  *reconcile.Poller
	wrapups *wrapups.Service
	logger  arbor.ILogger
}

func NewReconcileHandler(worker *reconcile.Worker, poller *reconcile.Poller, wrapupSvc *wrapups.Service, logger arbor.ILogger) *ReconcileHandler {
	return &ReconcileHandler{
		worker:  worker,
		poller:  poller,
		wrapups: wrapupSvc,
		logger:  logger,
	}
}

type triggerRequest struct {
	JobID    string `json:"job_id,omitempty"`
	CallID   string `json:"call_id,omitempty"`
	ForceAll bool   `json:"force_all,omitempty"`
}

type triggerResponse struct {
	Reconcile *reconcile.RunStats  `json:"reconcile"`
	Poll      *reconcile.PollStats `json:"poll,omitempty"`
	Reaped    *reconcile.ReapStats `json:"stale_cleanup,omitempty"`
	Sweep     *wrapups.SweepStats  `json:"auto_complete,omitempty"`
}

// TriggerHandler runs the reconcile pipeline. An empty body runs the full
// cycle; job_id or call_id narrows to one job and skips the sub-sweeps.
func (h *ReconcileHandler) TriggerHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req triggerRequest
	if r.ContentLength > 0 {
		if !ParseJSON(w, r, &req) {
			return
		}
	}

	ctx := r.Context()
	resp := &triggerResponse{}

	filter := reconcile.TriggerFilter{
		JobID:    req.JobID,
		CallID:   req.CallID,
		ForceAll: req.ForceAll,
	}

	stats, err := h.worker.Run(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Reconcile trigger failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Reconcile = stats

	// Targeted triggers skip the global sub-sweeps
	if req.JobID == "" && req.CallID == "" {
		if pollStats, err := h.poller.Run(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("Missed-call sweep failed during trigger")
		} else {
			resp.Poll = pollStats
		}

		if reapStats, err := h.worker.ReapStale(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("Stale cleanup failed during trigger")
		} else {
			resp.Reaped = reapStats
		}

		if sweepStats, err := h.wrapups.Sweep(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("Auto-completion sweep failed during trigger")
		} else {
			resp.Sweep = sweepStats
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}
