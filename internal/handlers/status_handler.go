package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/queue"
)

// StatusHandler reports pipeline health: per-queue counts plus scheduler state
type StatusHandler struct {
	queue     *queue.Manager
	scheduler interfaces.SchedulerService
	config    *common.Config
	logger    arbor.ILogger
}

func NewStatusHandler(queueMgr *queue.Manager, scheduler interfaces.SchedulerService, config *common.Config, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		queue:     queueMgr,
		scheduler: scheduler,
		config:    config,
		logger:    logger,
	}
}

// GetStatusHandler returns application status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	queues := make([]*queue.Stats, 0, 2)
	healthy := true
	for _, name := range []string{queue.QueueReconcile, queue.QueueNotes} {
		stats, err := h.queue.Stats(name, h.config.Queue.WaitingThreshold)
		if err != nil {
			h.logger.Error().Err(err).Str("queue", name).Msg("Failed to read queue stats")
			WriteError(w, http.StatusInternalServerError, "failed to read queue stats")
			return
		}
		if stats.Unhealthy {
			healthy = false
		}
		queues = append(queues, stats)
	}

	status := "ok"
	if !healthy {
		status = "degraded"
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":            status,
		"version":           common.GetVersion(),
		"scheduler_running": h.scheduler.IsRunning(),
		"queues":            queues,
	})
}
