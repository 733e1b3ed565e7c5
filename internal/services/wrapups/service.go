// Package wrapups owns the wrapup-draft state machine: creation from
// extraction results, dismiss-reason classification, side-effect routing and
// the auto-completion sweep that guarantees every wrapup reaches a terminal
// state.
package wrapups

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/ternarybob/wrapline/internal/queue"
	"github.com/ternarybob/wrapline/internal/services/tickets"
)

// Service drives wrapup drafts through their lifecycle
type Service struct {
	storage interfaces.StorageManager
	tickets *tickets.Service
	crm     interfaces.CRMService
	queue   *queue.Manager
	logger  arbor.ILogger
	config  *common.Config
}

// NewService creates the wrapup service
func NewService(storage interfaces.StorageManager, ticketSvc *tickets.Service, crm interfaces.CRMService, queueMgr *queue.Manager, config *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		tickets: ticketSvc,
		crm:     crm,
		queue:   queueMgr,
		logger:  logger,
		config:  config,
	}
}

// UpsertFromExtraction creates or updates the wrapup for a call after a
// successful transcript match. Repeated matches for one call, including the
// race between the reconcile and poll paths, collapse onto a single row with
// later fields overwriting earlier ones.
func (s *Service) UpsertFromExtraction(ctx context.Context, call *models.Call, result *models.ExtractionResult) (*models.WrapupDraft, error) {
	draft := models.NewWrapupDraft(call.TenantID, call.ID)
	s.applyExtraction(draft, call, result)

	saved, err := s.storage.WrapupStorage().Upsert(ctx, draft, func(existing *models.WrapupDraft) {
		s.applyExtraction(existing, call, result)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert wrapup: %w", err)
	}
	return saved, nil
}

// applyExtraction writes the mutable fields onto a draft. The webhook-resolved
// direction on the call wins over the recording store's direction field.
func (s *Service) applyExtraction(draft *models.WrapupDraft, call *models.Call, result *models.ExtractionResult) {
	draft.Summary = result.Summary
	draft.CustomerName = result.CustomerName
	draft.CustomerPhone = call.CallerNumber
	draft.PolicyNumbers = result.PolicyNumbers
	draft.InsuranceType = result.InsuranceType
	draft.RequestType = result.RequestType
	draft.Direction = call.Direction
	draft.AgentExtension = call.AgentExtension
	draft.MatchStatus = models.MatchStatusMatched
	draft.Extraction = result
	draft.AIProcessingStatus = models.AIProcessingCompleted
}

// CreateManualReview creates an unmatched wrapup for a job that exhausted its
// reconcile attempts. A human picks it up from the review queue.
func (s *Service) CreateManualReview(ctx context.Context, job *models.PendingTranscriptJob) (*models.WrapupDraft, error) {
	draft := models.NewWrapupDraft(job.TenantID, job.CallID)
	draft.CustomerPhone = job.CallerNumber
	draft.AgentExtension = job.AgentExtension
	draft.MatchStatus = models.MatchStatusUnmatched
	draft.AIProcessingStatus = models.AIProcessingFailed

	saved, err := s.storage.WrapupStorage().Upsert(ctx, draft, func(existing *models.WrapupDraft) {
		existing.AIProcessingStatus = models.AIProcessingFailed
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create manual-review wrapup: %w", err)
	}
	return saved, nil
}

// Automate runs the post-extraction routing for a freshly matched wrapup:
// dismissal for non-events, ticket creation for inbound calls, a CRM note for
// outbound calls. Side-effect failures leave the wrapup pending; the sweep
// completes it later.
func (s *Service) Automate(ctx context.Context, wrapup *models.WrapupDraft) error {
	if !wrapup.IsPending() {
		return nil
	}

	reason, dismiss := classifyDismiss(wrapup, s.config.Tickets.TestPhones)
	if dismiss {
		// An inbound voicemail is a customer-initiated contact needing
		// follow-up; it gets a ticket instead of a dismissal.
		if reason == models.DismissReasonVoicemail && wrapup.Direction == models.DirectionInbound {
			return s.createTicket(ctx, wrapup, false)
		}
		return s.dismiss(ctx, wrapup, reason)
	}

	if wrapup.Direction == models.DirectionOutbound {
		return s.postNote(ctx, wrapup, false)
	}

	return s.createTicket(ctx, wrapup, false)
}

// dismiss completes the wrapup as auto-voided
func (s *Service) dismiss(ctx context.Context, wrapup *models.WrapupDraft, reason models.DismissReason) error {
	wrapup.MarkDismissed(reason)
	if err := s.storage.WrapupStorage().Save(ctx, wrapup); err != nil {
		return fmt.Errorf("failed to save dismissed wrapup: %w", err)
	}

	s.logger.Info().
		Str("wrapup_id", wrapup.ID).
		Str("call_id", wrapup.CallID).
		Str("reason", string(reason)).
		Msg("Wrapup dismissed")
	return nil
}

// createTicket routes the wrapup through guarded ticket creation. When
// completeAlways is set the wrapup reaches a terminal state regardless of the
// outcome; otherwise guard skips and failures leave it pending.
func (s *Service) createTicket(ctx context.Context, wrapup *models.WrapupDraft, completeAlways bool) error {
	ticket, err := s.tickets.CreateForWrapup(ctx, wrapup)
	if err == nil && ticket != nil {
		wrapup.ExternalTicketID = ticket.ExternalTicketID
		wrapup.MarkCompleted(models.CompletionActionTicket)
		return s.storage.WrapupStorage().Save(ctx, wrapup)
	}

	var skipped *tickets.ErrSkipped
	if errors.As(err, &skipped) {
		if skipped.Reason == tickets.SkipAlreadyExists && ticket != nil {
			wrapup.ExternalTicketID = ticket.ExternalTicketID
			wrapup.MarkCompleted(models.CompletionActionTicket)
			return s.storage.WrapupStorage().Save(ctx, wrapup)
		}
		if completeAlways {
			wrapup.MarkCompleted(models.CompletionActionAutoCompleted)
			return s.storage.WrapupStorage().Save(ctx, wrapup)
		}
		return nil
	}

	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("wrapup_id", wrapup.ID).
			Msg("Ticket creation failed")
		if completeAlways {
			wrapup.MarkCompleted(models.CompletionActionAutoCompleted)
			return s.storage.WrapupStorage().Save(ctx, wrapup)
		}
	}
	return nil
}

// postNote schedules a best-effort CRM note for an outbound call and
// completes the wrapup. The note runs asynchronously on the notes queue; its
// failure is logged and dead-lettered, never unwound into the wrapup.
func (s *Service) postNote(ctx context.Context, wrapup *models.WrapupDraft, completeAlways bool) error {
	customerID := s.resolveNoteCustomer(ctx, wrapup)
	if customerID != "" {
		if err := s.enqueueNote(ctx, wrapup, customerID); err == nil {
			wrapup.MarkCompleted(models.CompletionActionPosted)
			return s.storage.WrapupStorage().Save(ctx, wrapup)
		} else {
			s.logger.Warn().
				Err(err).
				Str("wrapup_id", wrapup.ID).
				Msg("Failed to enqueue CRM note")
		}
	}

	if completeAlways {
		wrapup.MarkCompleted(models.CompletionActionAutoCompleted)
		return s.storage.WrapupStorage().Save(ctx, wrapup)
	}
	return nil
}

// resolveNoteCustomer finds the CRM customer for an outbound note by phone
// suffix, or empty when no match exists
func (s *Service) resolveNoteCustomer(ctx context.Context, wrapup *models.WrapupDraft) string {
	suffix := common.PhoneSuffix(wrapup.CustomerPhone, 7)
	if suffix == "" {
		return ""
	}
	customer, err := s.storage.CustomerStorage().FindByPhoneSuffix(ctx, suffix)
	if err != nil || customer == nil || customer.ExternalID == "" {
		return ""
	}
	return customer.ExternalID
}

// noteText builds the CRM note body for an outbound call
func (s *Service) noteText(wrapup *models.WrapupDraft) string {
	when := wrapup.CreatedAt.Format(time.RFC1123)
	return fmt.Sprintf("Outbound call on %s\n\n%s", when, wrapup.Summary)
}
