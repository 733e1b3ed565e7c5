package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/queue"
)

// DeadLetterHandler exposes the dead-letter store for operator triage
type DeadLetterHandler struct {
	storage interfaces.DeadLetterStorage
	queue   *queue.Manager
	logger  arbor.ILogger
}

func NewDeadLetterHandler(storage interfaces.DeadLetterStorage, queueMgr *queue.Manager, logger arbor.ILogger) *DeadLetterHandler {
	return &DeadLetterHandler{
		storage: storage,
		queue:   queueMgr,
		logger:  logger,
	}
}

// ListHandler returns dead letters, newest first
func (h *DeadLetterHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	jobs, err := h.storage.List(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list dead letters")
		WriteError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(jobs),
		"dead_letters": jobs,
	})
}

// RequeueHandler re-enqueues a dead letter onto its original queue.
// Routes POST /api/deadletters/{id}/requeue.
func (h *DeadLetterHandler) RequeueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/deadletters/")
	id := strings.TrimSuffix(path, "/requeue")
	if id == "" || id == path {
		WriteError(w, http.StatusBadRequest, "expected /api/deadletters/{id}/requeue")
		return
	}

	ctx := r.Context()
	job, err := h.storage.Get(ctx, id)
	if err != nil {
		if err == interfaces.ErrNotFound {
			WriteError(w, http.StatusNotFound, "dead letter not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to load dead letter")
		return
	}

	if job.Requeued {
		WriteError(w, http.StatusConflict, "dead letter already requeued")
		return
	}

	msgID, err := h.queue.EnqueueRaw(ctx, job.QueueName, job.JobType, job.Payload)
	if err != nil {
		h.logger.Error().Err(err).Str("dead_letter_id", id).Msg("Failed to requeue dead letter")
		WriteError(w, http.StatusInternalServerError, "failed to requeue")
		return
	}

	if err := h.storage.MarkRequeued(ctx, id); err != nil {
		h.logger.Warn().Err(err).Str("dead_letter_id", id).Msg("Requeued but failed to mark dead letter")
	}

	h.logger.Info().
		Str("dead_letter_id", id).
		Str("queue", job.QueueName).
		Str("message_id", msgID).
		Msg("Dead letter requeued")

	WriteJSON(w, http.StatusOK, map[string]string{
		"status":     "requeued",
		"message_id": msgID,
	})
}
