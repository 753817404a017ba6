package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "dealguard/pkg/domain"
)

// Store persists jobs. Implementations must enforce the admission invariant
// themselves: at most one non-terminal job per (tenant, entity, kind). A
// read-then-write check in the service would leave a race window, so the
// dedupe lives behind the store's lock or a database uniqueness constraint.
type Store interface {
	// CreateIfAbsent inserts the job unless a non-terminal job already exists
	// for the same (tenant, entity, kind). Returns the winning job and true
	// when the insert happened, or the existing job and false otherwise.
	CreateIfAbsent(ctx context.Context, job *Job) (*Job, bool, error)

	// FindByID returns a job scoped to the tenant; sentinel.ErrNotFound when
	// missing or owned by another tenant.
	FindByID(ctx context.Context, tenantID id.TenantID, jobID id.JobID) (*Job, error)

	// FindActive returns the current non-terminal job for the entity, or
	// sentinel.ErrNotFound.
	FindActive(ctx context.Context, tenantID id.TenantID, entityID uuid.UUID, kind JobKind) (*Job, error)

	// ClaimNextDue atomically transitions the oldest due pending or
	// retry_scheduled job to processing and returns it. Workers of all
	// tenants share the queue; the claimed job carries its tenant.
	// Returns sentinel.ErrNotFound when nothing is due.
	ClaimNextDue(ctx context.Context, now time.Time) (*Job, error)

	// Update persists job mutations made by the executor.
	Update(ctx context.Context, job *Job) error
}
