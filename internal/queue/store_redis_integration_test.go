//go:build integration

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dealguard/internal/queue"
	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/platform/sentinel"
	"dealguard/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *queue.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = queue.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestAdmissionGateDeduplicates() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	entityID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	first := queue.NewJob(tenantID, entityID, queue.KindAnalyzeContract, 3, now)
	winner, won, err := s.store.CreateIfAbsent(ctx, first)
	s.Require().NoError(err)
	s.True(won)

	second := queue.NewJob(tenantID, entityID, queue.KindAnalyzeContract, 3, now)
	existing, won, err := s.store.CreateIfAbsent(ctx, second)
	s.Require().NoError(err)
	s.False(won)
	s.Equal(winner.ID, existing.ID)

	// A different kind for the same entity admits normally.
	extract := queue.NewJob(tenantID, entityID, queue.KindExtractDeadlines, 3, now)
	_, won, err = s.store.CreateIfAbsent(ctx, extract)
	s.Require().NoError(err)
	s.True(won)
}

func (s *RedisStoreSuite) TestClaimPopsOldestDueJob() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	early := queue.NewJob(id.NewTenantID(), uuid.New(), queue.KindAnalyzeContract, 3, now.Add(-time.Hour))
	late := queue.NewJob(id.NewTenantID(), uuid.New(), queue.KindAnalyzeContract, 3, now.Add(-time.Minute))

	for _, job := range []*queue.Job{late, early} {
		_, _, err := s.store.CreateIfAbsent(ctx, job)
		s.Require().NoError(err)
	}

	claimed, err := s.store.ClaimNextDue(ctx, now)
	s.Require().NoError(err)
	s.Equal(early.ID, claimed.ID)
	s.Equal(queue.StatusProcessing, claimed.Status)
}

func (s *RedisStoreSuite) TestClaimParksFutureJobs() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	future := queue.NewJob(id.NewTenantID(), uuid.New(), queue.KindAnalyzeContract, 3, now.Add(time.Hour))
	_, _, err := s.store.CreateIfAbsent(ctx, future)
	s.Require().NoError(err)

	_, err = s.store.ClaimNextDue(ctx, now)
	s.True(dErrors.Is(err, sentinel.ErrNotFound))

	// The job must have been pushed back, not dropped.
	claimed, err := s.store.ClaimNextDue(ctx, now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(future.ID, claimed.ID)
}

func (s *RedisStoreSuite) TestTerminalUpdateReleasesDedupeKey() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	entityID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	job := queue.NewJob(tenantID, entityID, queue.KindAnalyzeContract, 3, now)
	_, _, err := s.store.CreateIfAbsent(ctx, job)
	s.Require().NoError(err)

	claimed, err := s.store.ClaimNextDue(ctx, now)
	s.Require().NoError(err)

	finished := now
	claimed.Status = queue.StatusFailed
	claimed.LastError = "handler failed"
	claimed.FinishedAt = &finished
	s.Require().NoError(s.store.Update(ctx, claimed))

	_, err = s.store.FindActive(ctx, tenantID, entityID, queue.KindAnalyzeContract)
	s.True(dErrors.Is(err, sentinel.ErrNotFound))

	// Fresh admission for the same entity succeeds.
	_, won, err := s.store.CreateIfAbsent(ctx, queue.NewJob(tenantID, entityID, queue.KindAnalyzeContract, 3, now))
	s.Require().NoError(err)
	s.True(won)
}

func (s *RedisStoreSuite) TestRetryScheduledJobReentersReadyQueue() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	tenantID := id.NewTenantID()

	job := queue.NewJob(tenantID, uuid.New(), queue.KindAnalyzeContract, 3, now)
	_, _, err := s.store.CreateIfAbsent(ctx, job)
	s.Require().NoError(err)

	claimed, err := s.store.ClaimNextDue(ctx, now)
	s.Require().NoError(err)

	claimed.Status = queue.StatusRetryScheduled
	claimed.RetryCount = 1
	claimed.RunAt = now.Add(30 * time.Second)
	claimed.StartedAt = nil
	s.Require().NoError(s.store.Update(ctx, claimed))

	reloaded, err := s.store.FindByID(ctx, tenantID, claimed.ID)
	s.Require().NoError(err)
	s.Equal(queue.StatusRetryScheduled, reloaded.Status)

	again, err := s.store.ClaimNextDue(ctx, now.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(claimed.ID, again.ID)
	s.Equal(1, again.RetryCount)
}
