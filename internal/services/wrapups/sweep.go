package wrapups

import (
	"context"
	"time"

	"github.com/ternarybob/wrapline/internal/models"
)

// SweepStats summarizes one auto-completion run
type SweepStats struct {
	Examined  int `json:"examined"`
	Completed int `json:"completed"`
	Dismissed int `json:"dismissed"`
	Tickets   int `json:"tickets"`
	Notes     int `json:"notes"`
	Backlog   int `json:"backlog"`
	Errors    int `json:"errors"`
}

// Sweep drives stale pending_review wrapups to a terminal state. Every
// examined wrapup completes, whether or not its ticket or note side effect
// succeeded. The grace period gives the primary reconcile path first crack at
// fresh wrapups.
func (s *Service) Sweep(ctx context.Context) (*SweepStats, error) {
	stats := &SweepStats{}

	grace := durationOr(s.config.Sweep.GracePeriod, 10*time.Minute)
	backlog := durationOr(s.config.Sweep.BacklogThreshold, 168*time.Hour)
	batchSize := s.config.Sweep.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	cutoff := time.Now().Add(-grace)
	pending, err := s.storage.WrapupStorage().PendingOlderThan(ctx, cutoff, batchSize)
	if err != nil {
		return stats, err
	}

	for _, wrapup := range pending {
		stats.Examined++

		if err := s.sweepOne(ctx, wrapup, backlog, stats); err != nil {
			stats.Errors++
			s.logger.Error().
				Err(err).
				Str("wrapup_id", wrapup.ID).
				Msg("Sweep failed to finalize wrapup")
		}
	}

	if stats.Examined > 0 {
		s.logger.Info().
			Int("examined", stats.Examined).
			Int("completed", stats.Completed).
			Int("dismissed", stats.Dismissed).
			Int("tickets", stats.Tickets).
			Int("backlog", stats.Backlog).
			Msg("Auto-completion sweep finished")
	}

	return stats, nil
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// sweepOne finalizes a single pending wrapup
func (s *Service) sweepOne(ctx context.Context, wrapup *models.WrapupDraft, backlogAge time.Duration, stats *SweepStats) error {
	// Already ticketed by a path that died before completing the wrapup
	if wrapup.ExternalTicketID != "" {
		wrapup.MarkCompleted(models.CompletionActionTicket)
		if err := s.storage.WrapupStorage().Save(ctx, wrapup); err != nil {
			return err
		}
		stats.Completed++
		return nil
	}

	// Ancient wrapups are cleared without attempting any external side effect
	if time.Since(wrapup.CreatedAt) > backlogAge {
		if err := s.dismiss(ctx, wrapup, models.DismissReasonBacklog); err != nil {
			return err
		}
		stats.Backlog++
		stats.Dismissed++
		return nil
	}

	reason, dismiss := classifyDismiss(wrapup, s.config.Tickets.TestPhones)
	if dismiss && !(reason == models.DismissReasonVoicemail && wrapup.Direction == models.DirectionInbound) {
		if err := s.dismiss(ctx, wrapup, reason); err != nil {
			return err
		}
		stats.Dismissed++
		return nil
	}

	if wrapup.Direction == models.DirectionOutbound {
		if err := s.postNote(ctx, wrapup, true); err != nil {
			return err
		}
		if wrapup.CompletionAction == models.CompletionActionPosted {
			stats.Notes++
		}
		stats.Completed++
		return nil
	}

	// Inbound, including redirected voicemails
	if err := s.createTicket(ctx, wrapup, true); err != nil {
		return err
	}
	if wrapup.CompletionAction == models.CompletionActionTicket {
		stats.Tickets++
	}
	stats.Completed++
	return nil
}
