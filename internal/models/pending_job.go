package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a pending transcript job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// PendingTranscriptJob tracks one call awaiting transcript discovery in the
// external recording store. At most one non-terminal job exists per call.
type PendingTranscriptJob struct {
	ID             string    `json:"id" badgerhold:"key"`
	TenantID       string    `json:"tenant_id" badgerhold:"index"`
	CallID         string    `json:"call_id" badgerhold:"index"` // Empty for poller-created jobs until the call row exists
	CallerNumber   string    `json:"caller_number"`
	AgentExtension string    `json:"agent_extension"`
	CallStartedAt  time.Time `json:"call_started_at"`
	CallEndedAt    time.Time `json:"call_ended_at"`

	Status        JobStatus  `json:"status" badgerhold:"index"`
	AttemptCount  int        `json:"attempt_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// RecordID is the claim marker: the external recording id this job bound
	// to once matched. Completed jobs' record ids form the exclusion set for
	// every subsequent search.
	RecordID string `json:"record_id,omitempty"`
	Error    string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPendingTranscriptJob creates a pending job for a call that just ended
func NewPendingTranscriptJob(tenantID, callID, callerNumber, extension string, startedAt, endedAt time.Time) *PendingTranscriptJob {
	now := time.Now()
	return &PendingTranscriptJob{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		CallID:         callID,
		CallerNumber:   callerNumber,
		AgentExtension: extension,
		CallStartedAt:  startedAt,
		CallEndedAt:    endedAt,
		Status:         JobStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// RecordClaim binds an external recording id to the single job allowed to
// complete against it. The keyed insert is the claim: the first writer wins
// and every racing job treats the recording as taken.
type RecordClaim struct {
	RecordID  string    `json:"record_id" badgerhold:"key"`
	JobID     string    `json:"job_id"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// IsTerminal returns true once the job reached completed or failed
func (j *PendingTranscriptJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// MarkAttempt records an attempt and schedules the next one
func (j *PendingTranscriptJob) MarkAttempt(nextAt time.Time) {
	now := time.Now()
	j.AttemptCount++
	j.LastAttemptAt = &now
	j.NextAttemptAt = &nextAt
	j.UpdatedAt = now
}

// MarkCompleted records the matched recording claim and finalizes the job
func (j *PendingTranscriptJob) MarkCompleted(recordID string) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.RecordID = recordID
	j.NextAttemptAt = nil
	j.LastAttemptAt = &now
	j.UpdatedAt = now
}

// MarkFailed finalizes the job after attempt exhaustion
func (j *PendingTranscriptJob) MarkFailed(errMsg string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = errMsg
	j.NextAttemptAt = nil
	j.LastAttemptAt = &now
	j.UpdatedAt = now
}
