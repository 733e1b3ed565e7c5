package models

import (
	"time"

	"github.com/google/uuid"
)

// WrapupStatus represents the review state of a wrapup draft
type WrapupStatus string

const (
	WrapupStatusPendingReview WrapupStatus = "pending_review"
	WrapupStatusCompleted     WrapupStatus = "completed"
)

// MatchStatus reports whether the call was bound to an external recording
type MatchStatus string

const (
	MatchStatusUnmatched MatchStatus = "unmatched"
	MatchStatusMatched   MatchStatus = "matched"
)

// CompletionAction records how a wrapup reached its terminal state
type CompletionAction string

const (
	CompletionActionPosted        CompletionAction = "posted"         // Completed by a human posting the draft
	CompletionActionAutoCompleted CompletionAction = "auto_completed" // Completed by the sweep without a side effect
	CompletionActionSkipped       CompletionAction = "skipped"        // Dismissed, no action warranted
	CompletionActionTicket        CompletionAction = "ticket"         // Service ticket created
)

// DismissReason classifies why a wrapup was auto-voided
type DismissReason string

const (
	DismissReasonHangup       DismissReason = "hangup"
	DismissReasonPlayFile     DismissReason = "playfile"
	DismissReasonTestPhone    DismissReason = "test_phone"
	DismissReasonInternalCall DismissReason = "internal_call"
	DismissReasonNoSummary    DismissReason = "no_summary"
	DismissReasonVoicemail    DismissReason = "voicemail"
	DismissReasonBacklog      DismissReason = "backlog"
)

// AIProcessingStatus reports the extraction pipeline outcome for a wrapup
type AIProcessingStatus string

const (
	AIProcessingCompleted AIProcessingStatus = "completed"
	AIProcessingFailed    AIProcessingStatus = "failed"
)

// CallDirection is the resolved direction of the underlying call
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// WrapupDraft is the per-call record tracking review and automation outcome.
// Exactly one wrapup exists per call id; the storage layer enforces this with
// upsert-on-conflict semantics keyed on CallID.
type WrapupDraft struct {
	ID       string       `json:"id" badgerhold:"key"`
	TenantID string       `json:"tenant_id" badgerhold:"index"`
	CallID   string       `json:"call_id" badgerhold:"unique"`
	Status   WrapupStatus `json:"status" badgerhold:"index"`

	Summary        string        `json:"summary"`
	CustomerName   string        `json:"customer_name"`
	CustomerPhone  string        `json:"customer_phone"`
	PolicyNumbers  []string      `json:"policy_numbers"`
	InsuranceType  string        `json:"insurance_type"`
	RequestType    string        `json:"request_type"`
	Direction      CallDirection `json:"direction"`
	AgentExtension string        `json:"agent_extension"`
	MatchStatus    MatchStatus   `json:"match_status"`

	// Extraction carries the AI payload including the transcript source tag
	// and external record id used for cross-path deduplication.
	Extraction         *ExtractionResult  `json:"extraction,omitempty"`
	AIProcessingStatus AIProcessingStatus `json:"ai_processing_status,omitempty"`

	CompletionAction CompletionAction `json:"completion_action,omitempty"`
	IsAutoVoided     bool             `json:"is_auto_voided"`
	DismissReason    DismissReason    `json:"dismiss_reason,omitempty"`

	ExternalTicketID string `json:"external_ticket_id,omitempty"`
	ExternalNoteID   string `json:"external_note_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewWrapupDraft creates a pending-review wrapup for a call
func NewWrapupDraft(tenantID, callID string) *WrapupDraft {
	return &WrapupDraft{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		CallID:      callID,
		Status:      WrapupStatusPendingReview,
		MatchStatus: MatchStatusUnmatched,
		CreatedAt:   time.Now(),
	}
}

// IsPending returns true while the wrapup awaits review or automation
func (w *WrapupDraft) IsPending() bool {
	return w.Status == WrapupStatusPendingReview
}

// MarkCompleted drives the wrapup to its terminal state. The transition
// happens exactly once; callers must check IsPending first.
func (w *WrapupDraft) MarkCompleted(action CompletionAction) {
	now := time.Now()
	w.Status = WrapupStatusCompleted
	w.CompletionAction = action
	w.CompletedAt = &now
}

// MarkDismissed completes the wrapup as auto-voided with a reason code
func (w *WrapupDraft) MarkDismissed(reason DismissReason) {
	w.IsAutoVoided = true
	w.DismissReason = reason
	w.MarkCompleted(CompletionActionSkipped)
}

// RecordIDClaimed returns the external record id bound to this wrapup, if any
func (w *WrapupDraft) RecordIDClaimed() string {
	if w.Extraction == nil {
		return ""
	}
	return w.Extraction.RecordID
}
