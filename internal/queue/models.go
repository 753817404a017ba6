package queue

import (
	"time"

	"github.com/google/uuid"

	id "dealguard/pkg/domain"
)

// JobKind names a registered handler.
type JobKind string

const (
	KindAnalyzeContract  JobKind = "analyze_contract"
	KindExtractDeadlines JobKind = "extract_deadlines"
)

// JobStatus tracks a job through its lifecycle.
//
// State machine: pending → processing → {completed | failed}, with
// retry_scheduled between failed attempts. Exactly one terminal state.
type JobStatus string

const (
	StatusPending        JobStatus = "pending"
	StatusProcessing     JobStatus = "processing"
	StatusRetryScheduled JobStatus = "retry_scheduled"
	StatusCompleted      JobStatus = "completed"
	StatusFailed         JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is a unit of asynchronous work. Owned by the worker executor; callers
// only observe it through the gateway and the polling surface.
type Job struct {
	ID         id.JobID
	TenantID   id.TenantID
	EntityID   uuid.UUID
	Kind       JobKind
	Status     JobStatus
	RetryCount int
	MaxRetries int
	LastError  string
	RunAt      time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewJob creates a pending job due immediately.
func NewJob(tenantID id.TenantID, entityID uuid.UUID, kind JobKind, maxRetries int, now time.Time) *Job {
	return &Job{
		ID:         id.NewJobID(),
		TenantID:   tenantID,
		EntityID:   entityID,
		Kind:       kind,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		RunAt:      now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
