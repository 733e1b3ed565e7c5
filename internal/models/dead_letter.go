package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeadLetterJob records a queue job that exhausted all attempts, kept for
// operator inspection and manual requeue.
type DeadLetterJob struct {
	ID        string          `json:"id" badgerhold:"key"`
	QueueName string          `json:"queue_name" badgerhold:"index"`
	JobID     string          `json:"job_id"`
	JobType   string          `json:"job_type"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Stack     string          `json:"stack,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	Requeued  bool            `json:"requeued"`
}

// NewDeadLetterJob records an exhausted job
func NewDeadLetterJob(queueName, jobID, jobType string, payload []byte, errMsg, stack string, attempts int) *DeadLetterJob {
	return &DeadLetterJob{
		ID:        uuid.New().String(),
		QueueName: queueName,
		JobID:     jobID,
		JobType:   jobType,
		Payload:   payload,
		Error:     errMsg,
		Stack:     stack,
		Attempts:  attempts,
		CreatedAt: time.Now(),
	}
}
