package model

import "time"

// JobStatus tracks one input through the ingestion state machine.
type JobStatus string

const (
	JobQueued       JobStatus = "queued"
	JobProcessing   JobStatus = "processing"
	JobPersisted    JobStatus = "persisted"
	JobArchived     JobStatus = "archived"
	JobCompleted    JobStatus = "completed"
	JobDeadLettered JobStatus = "dead_lettered"
)

// Terminal reports whether no further work will be done for the job.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobDeadLettered
}

// Reached reports whether s is at or past the given pipeline stage. Dead
// lettered jobs never reach a success stage.
func (s JobStatus) Reached(stage JobStatus) bool {
	if s == JobDeadLettered {
		return stage == JobDeadLettered
	}
	return jobRank[s] >= jobRank[stage]
}

var jobRank = map[JobStatus]int{
	JobQueued:     0,
	JobProcessing: 1,
	JobPersisted:  2,
	JobArchived:   3,
	JobCompleted:  4,
}

// Job is the idempotency ledger row for one input, keyed by its idempotency key.
type Job struct {
	Key          string    `json:"key"`
	FileName     string    `json:"fileName"`
	Status       JobStatus `json:"status"`
	MessageID    *string   `json:"messageId,omitempty"`
	Decision     Decision  `json:"decision,omitempty"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"lastError,omitempty"`
	Notification string    `json:"notification,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
