package reconcile

import (
	"context"
	"time"
)

// ReapStats summarizes one stale-job cleanup run
type ReapStats struct {
	Examined  int `json:"examined"`
	Requeued  int `json:"requeued"`
	Exhausted int `json:"exhausted"`
}

// staleAge is how long a pending job may sit past its scheduled attempt
// before the reaper considers its queue message lost
const staleAge = 30 * time.Minute

// abandonedAge is the call age past which a still-pending job is exhausted
// outright instead of requeued
const abandonedAge = 24 * time.Hour

// ReapStale recovers pending jobs whose attempt messages were lost, for
// example across an unclean shutdown. Recent jobs are re-enqueued; jobs for
// calls older than a day are exhausted to manual review.
func (w *Worker) ReapStale(ctx context.Context) (*ReapStats, error) {
	stats := &ReapStats{}

	cutoff := time.Now().Add(-staleAge)
	jobs, err := w.storage.JobStorage().StalePendingJobs(ctx, cutoff, w.batchSize)
	if err != nil {
		return stats, err
	}

	for _, job := range jobs {
		stats.Examined++

		if time.Since(job.CallEndedAt) > abandonedAge {
			if err := w.exhaust(ctx, job); err != nil {
				w.logger.Error().
					Err(err).
					Str("job_id", job.ID).
					Msg("Failed to exhaust abandoned job")
				continue
			}
			stats.Exhausted++
			continue
		}

		// Dedup suppresses this when a live message already exists
		if err := w.enqueueAttempt(ctx, job, 0); err != nil {
			w.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Msg("Failed to requeue stale job")
			continue
		}
		stats.Requeued++
	}

	if stats.Examined > 0 {
		w.logger.Info().
			Int("examined", stats.Examined).
			Int("requeued", stats.Requeued).
			Int("exhausted", stats.Exhausted).
			Msg("Stale job cleanup finished")
	}

	return stats, nil
}
