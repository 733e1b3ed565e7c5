package wrapups

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/ternarybob/wrapline/internal/queue"
)

// MsgTypeNote is the queue message type for an asynchronous CRM note post
const MsgTypeNote = "crm.note"

// notePayload is the queue payload for a note post
type notePayload struct {
	WrapupID   string `json:"wrapup_id"`
	CustomerID string `json:"customer_id"`
	Text       string `json:"text"`
}

// RegisterHandlers attaches the note handler to the notes worker pool
func (s *Service) RegisterHandlers(pool *queue.WorkerPool) {
	pool.RegisterHandler(MsgTypeNote, s.handleNote)
}

// enqueueNote schedules the note post. One note per wrapup; the dedup id
// suppresses double-enqueues from racing sweeps.
func (s *Service) enqueueNote(ctx context.Context, wrapup *models.WrapupDraft, customerID string) error {
	_, err := s.queue.Enqueue(ctx, queue.QueueNotes, MsgTypeNote,
		notePayload{
			WrapupID:   wrapup.ID,
			CustomerID: customerID,
			Text:       s.noteText(wrapup),
		},
		queue.WithDedupID("note:"+wrapup.ID),
	)
	return err
}

// handleNote posts one note to the CRM and records the note id on the wrapup
func (s *Service) handleNote(ctx context.Context, msg *queue.Message) error {
	var payload notePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid note payload: %w", err)
	}

	noteID, err := s.crm.AddNote(ctx, payload.CustomerID, payload.Text)
	if err != nil {
		return fmt.Errorf("CRM note post failed: %w", err)
	}

	wrapup, err := s.storage.WrapupStorage().Get(ctx, payload.WrapupID)
	if err != nil {
		if err == interfaces.ErrNotFound {
			s.logger.Warn().Str("wrapup_id", payload.WrapupID).Msg("Note posted for missing wrapup")
			return nil
		}
		return err
	}

	wrapup.ExternalNoteID = noteID
	if err := s.storage.WrapupStorage().Save(ctx, wrapup); err != nil {
		return fmt.Errorf("failed to record note id: %w", err)
	}

	s.logger.Info().
		Str("wrapup_id", payload.WrapupID).
		Str("note_id", noteID).
		Msg("CRM note posted")

	return nil
}
