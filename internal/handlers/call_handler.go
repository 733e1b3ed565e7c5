package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/ternarybob/wrapline/internal/services/reconcile"
)

// CallHandler ingests call-ended events from the telephony subsystem. Each
// event creates the call row and its pending transcript job.
type CallHandler struct {
	storage interfaces.StorageManager
	worker  *reconcile.Worker
	logger  arbor.ILogger
}

func NewCallHandler(storage interfaces.StorageManager, worker *reconcile.Worker, logger arbor.ILogger) *CallHandler {
	return &CallHandler{
		storage: storage,
		worker:  worker,
		logger:  logger,
	}
}

type callEndedRequest struct {
	TenantID       string    `json:"tenant_id"`
	CallID         string    `json:"call_id"`
	CallerNumber   string    `json:"caller_number"`
	AgentExtension string    `json:"agent_extension"`
	Direction      string    `json:"direction"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
}

// CallEndedHandler accepts a call-ended event and schedules reconciliation
func (h *CallHandler) CallEndedHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req callEndedRequest
	if !ParseJSON(w, r, &req) {
		return
	}

	if req.AgentExtension == "" {
		WriteError(w, http.StatusBadRequest, "agent_extension is required")
		return
	}
	if req.StartedAt.IsZero() || req.EndedAt.IsZero() || req.EndedAt.Before(req.StartedAt) {
		WriteError(w, http.StatusBadRequest, "valid started_at and ended_at are required")
		return
	}

	ctx := r.Context()

	call := h.buildCall(req)
	if req.CallID != "" {
		// The call subsystem may have already pushed this row
		if existing, err := h.storage.CallStorage().Get(ctx, req.CallID); err == nil {
			call = existing
		}
	}

	if err := h.storage.CallStorage().Save(ctx, call); err != nil {
		h.logger.Error().Err(err).Str("call_id", call.ID).Msg("Failed to save call")
		WriteError(w, http.StatusInternalServerError, "failed to save call")
		return
	}

	job, err := h.worker.CreateJobForCall(ctx, call)
	if err != nil {
		h.logger.Error().Err(err).Str("call_id", call.ID).Msg("Failed to create transcript job")
		WriteError(w, http.StatusInternalServerError, "failed to create transcript job")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"call_id": call.ID,
		"job_id":  job.ID,
	})
}

func (h *CallHandler) buildCall(req callEndedRequest) *models.Call {
	now := time.Now()

	id := req.CallID
	if id == "" {
		id = common.NewID()
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = "default"
	}

	direction := models.DirectionInbound
	if req.Direction == string(models.DirectionOutbound) {
		direction = models.DirectionOutbound
	}

	return &models.Call{
		ID:                  id,
		TenantID:            tenantID,
		CallerNumber:        req.CallerNumber,
		AgentExtension:      req.AgentExtension,
		Direction:           direction,
		StartedAt:           req.StartedAt,
		EndedAt:             req.EndedAt,
		DurationSecs:        int(req.EndedAt.Sub(req.StartedAt).Seconds()),
		Source:              models.SourceWebhook,
		TranscriptionStatus: models.TranscriptionPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
