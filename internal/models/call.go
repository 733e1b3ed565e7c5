package models

import (
	"time"

	"github.com/google/uuid"
)

// TranscriptionStatus reports where a call sits in the transcript pipeline
type TranscriptionStatus string

const (
	TranscriptionPending   TranscriptionStatus = "pending"
	TranscriptionCompleted TranscriptionStatus = "completed"
	TranscriptionFailed    TranscriptionStatus = "failed"
)

// Call is the per-call row. Webhook-created calls arrive from the
// call-handling subsystem; the missed-call poller creates rows for calls that
// subsystem never saw. This pipeline only enriches transcript and AI fields.
type Call struct {
	ID             string        `json:"id" badgerhold:"key"`
	TenantID       string        `json:"tenant_id" badgerhold:"index"`
	CallerNumber   string        `json:"caller_number"`
	AgentExtension string        `json:"agent_extension"`
	Direction      CallDirection `json:"direction"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	DurationSecs   int           `json:"duration_secs"`

	Source TranscriptSource `json:"source"` // webhook or poll

	Transcription       string              `json:"transcription,omitempty"`
	TranscriptionStatus TranscriptionStatus `json:"transcription_status"`

	AISummary     string    `json:"ai_summary,omitempty"`
	AIActionItems []string  `json:"ai_action_items,omitempty"`
	AISentiment   Sentiment `json:"ai_sentiment,omitempty"`
	AITopics      []string  `json:"ai_topics,omitempty"`

	CustomerID string `json:"customer_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPolledCall creates a call row for a recording the webhook path missed
func NewPolledCall(tenantID string, rec *Recording) *Call {
	now := time.Now()
	return &Call{
		ID:                  uuid.New().String(),
		TenantID:            tenantID,
		CallerNumber:        rec.CallerNumber,
		AgentExtension:      rec.Extension,
		Direction:           rec.Direction,
		StartedAt:           rec.RecordedAt,
		EndedAt:             rec.RecordedAt.Add(time.Duration(rec.DurationSecs) * time.Second),
		DurationSecs:        rec.DurationSecs,
		Source:              SourcePoll,
		TranscriptionStatus: TranscriptionPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Duration returns the call length
func (c *Call) Duration() time.Duration {
	return time.Duration(c.DurationSecs) * time.Second
}
