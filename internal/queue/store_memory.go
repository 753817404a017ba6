package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	id "dealguard/pkg/domain"
	"dealguard/pkg/platform/sentinel"
)

// InMemoryStore is the default store for tests and single-process setups.
// The mutex spans check-and-insert so the admission invariant holds under
// concurrent enqueues.
type InMemoryStore struct {
	mu     sync.Mutex
	jobs   map[id.JobID]*Job
	active map[activeKey]id.JobID
}

type activeKey struct {
	tenant id.TenantID
	entity uuid.UUID
	kind   JobKind
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs:   make(map[id.JobID]*Job),
		active: make(map[activeKey]id.JobID),
	}
}

func (s *InMemoryStore) CreateIfAbsent(_ context.Context, job *Job) (*Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activeKey{tenant: job.TenantID, entity: job.EntityID, kind: job.Kind}
	if existingID, ok := s.active[key]; ok {
		if existing, ok := s.jobs[existingID]; ok && !existing.Status.Terminal() {
			copied := *existing
			return &copied, false, nil
		}
	}

	copied := *job
	s.jobs[job.ID] = &copied
	s.active[key] = job.ID
	result := copied
	return &result, true, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, tenantID id.TenantID, jobID id.JobID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *InMemoryStore) FindActive(_ context.Context, tenantID id.TenantID, entityID uuid.UUID, kind JobKind) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activeKey{tenant: tenantID, entity: entityID, kind: kind}
	jobID, ok := s.active[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return nil, sentinel.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *InMemoryStore) ClaimNextDue(_ context.Context, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *Job
	for _, job := range s.jobs {
		if job.Status != StatusPending && job.Status != StatusRetryScheduled {
			continue
		}
		if job.RunAt.After(now) {
			continue
		}
		if next == nil || job.RunAt.Before(next.RunAt) {
			next = job
		}
	}
	if next == nil {
		return nil, sentinel.ErrNotFound
	}

	started := now
	next.Status = StatusProcessing
	next.StartedAt = &started
	next.UpdatedAt = now
	copied := *next
	return &copied, nil
}

func (s *InMemoryStore) Update(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	copied := *job
	s.jobs[job.ID] = &copied

	if job.Status.Terminal() {
		key := activeKey{tenant: stored.TenantID, entity: stored.EntityID, kind: stored.Kind}
		if s.active[key] == job.ID {
			delete(s.active, key)
		}
	}
	return nil
}
