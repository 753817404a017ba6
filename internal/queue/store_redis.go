package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	id "dealguard/pkg/domain"
	"dealguard/pkg/platform/sentinel"
)

// RedisStore keeps jobs in Redis so multiple executor processes can share
// one queue.
//
// Layout:
//   - jobs:data:<id>                    JSON job blob
//   - jobs:ready                        sorted set, score = run_at unix
//   - jobs:active:<tenant>:<entity>:<kind>  dedupe key → job id
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func jobDataKey(jobID id.JobID) string { return "jobs:data:" + jobID.String() }

func jobActiveKey(tenantID id.TenantID, entityID uuid.UUID, kind JobKind) string {
	return fmt.Sprintf("jobs:active:%s:%s:%s", tenantID, entityID, kind)
}

const readyKey = "jobs:ready"

func (s *RedisStore) CreateIfAbsent(ctx context.Context, job *Job) (*Job, bool, error) {
	activeKey := jobActiveKey(job.TenantID, job.EntityID, job.Kind)

	// SETNX is the admission gate: only one writer wins the dedupe key.
	won, err := s.client.SetNX(ctx, activeKey, job.ID.String(), 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx: %w", err)
	}
	if !won {
		existingID, err := s.client.Get(ctx, activeKey).Result()
		if err != nil {
			return nil, false, fmt.Errorf("redis get active: %w", err)
		}
		jobID, err := id.ParseJobID(existingID)
		if err != nil {
			return nil, false, fmt.Errorf("corrupt active job key %q", existingID)
		}
		existing, err := s.loadJob(ctx, jobID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, false, err
	}
	if err := s.client.ZAdd(ctx, readyKey, redis.Z{
		Score:  float64(job.RunAt.Unix()),
		Member: job.ID.String(),
	}).Err(); err != nil {
		return nil, false, fmt.Errorf("redis zadd ready: %w", err)
	}
	copied := *job
	return &copied, true, nil
}

func (s *RedisStore) FindByID(ctx context.Context, tenantID id.TenantID, jobID id.JobID) (*Job, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return job, nil
}

func (s *RedisStore) FindActive(ctx context.Context, tenantID id.TenantID, entityID uuid.UUID, kind JobKind) (*Job, error) {
	raw, err := s.client.Get(ctx, jobActiveKey(tenantID, entityID, kind)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get active: %w", err)
	}
	jobID, err := id.ParseJobID(raw)
	if err != nil {
		return nil, sentinel.ErrNotFound
	}
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, sentinel.ErrNotFound
	}
	return job, nil
}

func (s *RedisStore) ClaimNextDue(ctx context.Context, now time.Time) (*Job, error) {
	// ZPOPMIN is atomic across workers; if the popped job is not due yet we
	// push it back and report empty.
	popped, err := s.client.ZPopMin(ctx, readyKey, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zpopmin: %w", err)
	}
	if len(popped) == 0 {
		return nil, sentinel.ErrNotFound
	}
	member, _ := popped[0].Member.(string)
	if int64(popped[0].Score) > now.Unix() {
		_ = s.client.ZAdd(ctx, readyKey, popped[0]).Err()
		return nil, sentinel.ErrNotFound
	}

	jobID, err := id.ParseJobID(member)
	if err != nil {
		return nil, sentinel.ErrNotFound
	}
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	started := now
	job.Status = StatusProcessing
	job.StartedAt = &started
	job.UpdatedAt = now
	if err := s.saveJob(ctx, job); err != nil {
		return nil, err
	}
	copied := *job
	return &copied, nil
}

func (s *RedisStore) Update(ctx context.Context, job *Job) error {
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}
	switch job.Status {
	case StatusPending, StatusRetryScheduled:
		// A claim popped the job from the ready set; both a scheduled retry
		// and a released claim must re-enter it.
		if err := s.client.ZAdd(ctx, readyKey, redis.Z{
			Score:  float64(job.RunAt.Unix()),
			Member: job.ID.String(),
		}).Err(); err != nil {
			return fmt.Errorf("redis zadd ready: %w", err)
		}
	case StatusCompleted, StatusFailed:
		pipe := s.client.Pipeline()
		pipe.ZRem(ctx, readyKey, job.ID.String())
		pipe.Del(ctx, jobActiveKey(job.TenantID, job.EntityID, job.Kind))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis release job: %w", err)
		}
	}
	return nil
}

type redisJob struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	EntityID   string     `json:"entity_id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	LastError  string     `json:"last_error,omitempty"`
	RunAt      time.Time  `json:"run_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (s *RedisStore) saveJob(ctx context.Context, job *Job) error {
	blob, err := json.Marshal(redisJob{
		ID:         job.ID.String(),
		TenantID:   job.TenantID.String(),
		EntityID:   job.EntityID.String(),
		Kind:       string(job.Kind),
		Status:     string(job.Status),
		RetryCount: job.RetryCount,
		MaxRetries: job.MaxRetries,
		LastError:  job.LastError,
		RunAt:      job.RunAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.client.Set(ctx, jobDataKey(job.ID), blob, 0).Err(); err != nil {
		return fmt.Errorf("redis set job: %w", err)
	}
	return nil
}

func (s *RedisStore) loadJob(ctx context.Context, jobID id.JobID) (*Job, error) {
	raw, err := s.client.Get(ctx, jobDataKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get job: %w", err)
	}
	var rj redisJob
	if err := json.Unmarshal(raw, &rj); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}

	parsedJobID, err := id.ParseJobID(rj.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt job id: %w", err)
	}
	tenantID, err := id.ParseTenantID(rj.TenantID)
	if err != nil {
		return nil, fmt.Errorf("corrupt tenant id: %w", err)
	}
	entityID, err := uuid.Parse(rj.EntityID)
	if err != nil {
		return nil, fmt.Errorf("corrupt entity id: %w", err)
	}

	return &Job{
		ID:         parsedJobID,
		TenantID:   tenantID,
		EntityID:   entityID,
		Kind:       JobKind(rj.Kind),
		Status:     JobStatus(rj.Status),
		RetryCount: rj.RetryCount,
		MaxRetries: rj.MaxRetries,
		LastError:  rj.LastError,
		RunAt:      rj.RunAt,
		StartedAt:  rj.StartedAt,
		FinishedAt: rj.FinishedAt,
		CreatedAt:  rj.CreatedAt,
		UpdatedAt:  rj.UpdatedAt,
	}, nil
}
