//go:build integration

package queue_test

import (
	"context"
	"sync"
	"sync/atomic"
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

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *queue.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = queue.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "analysis_jobs"))
}

func newPendingJob(tenantID id.TenantID, runAt time.Time) *queue.Job {
	return queue.NewJob(tenantID, uuid.New(), queue.KindAnalyzeContract, 3, runAt)
}

// TestConcurrentAdmission verifies the partial unique index lets exactly one
// of many concurrent enqueues for the same entity through.
func (s *PostgresStoreSuite) TestConcurrentAdmission() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	entityID := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)

	const goroutines = 20
	var wg sync.WaitGroup
	var created atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := queue.NewJob(tenantID, entityID, queue.KindAnalyzeContract, 3, now)
			_, won, err := s.store.CreateIfAbsent(ctx, job)
			if err == nil && won {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load(), "exactly one insert should win")

	active, err := s.store.FindActive(ctx, tenantID, entityID, queue.KindAnalyzeContract)
	s.Require().NoError(err)
	s.Equal(queue.StatusPending, active.Status)
}

func (s *PostgresStoreSuite) TestClaimNextDueOrdersByRunAt() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	late := newPendingJob(id.NewTenantID(), now.Add(-time.Minute))
	early := newPendingJob(id.NewTenantID(), now.Add(-time.Hour))
	future := newPendingJob(id.NewTenantID(), now.Add(time.Hour))

	for _, job := range []*queue.Job{late, early, future} {
		_, _, err := s.store.CreateIfAbsent(ctx, job)
		s.Require().NoError(err)
	}

	first, err := s.store.ClaimNextDue(ctx, now)
	s.Require().NoError(err)
	s.Equal(early.ID, first.ID)
	s.Equal(queue.StatusProcessing, first.Status)
	s.NotNil(first.StartedAt)

	second, err := s.store.ClaimNextDue(ctx, now)
	s.Require().NoError(err)
	s.Equal(late.ID, second.ID)

	// The future job stays parked.
	_, err = s.store.ClaimNextDue(ctx, now)
	s.Require().Error(err)
	s.True(dErrors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestConcurrentClaimHandsOutDistinctJobs() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	const jobs = 10
	for i := 0; i < jobs; i++ {
		_, _, err := s.store.CreateIfAbsent(ctx, newPendingJob(id.NewTenantID(), now.Add(-time.Minute)))
		s.Require().NoError(err)
	}

	var mu sync.Mutex
	claimed := make(map[id.JobID]bool)
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.store.ClaimNextDue(ctx, now)
			if err != nil {
				return
			}
			mu.Lock()
			claimed[job.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Len(claimed, jobs, "SKIP LOCKED must never hand the same job to two workers")
}

func (s *PostgresStoreSuite) TestRetryRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	tenantID := id.NewTenantID()

	job := newPendingJob(tenantID, now.Add(-time.Minute))
	_, _, err := s.store.CreateIfAbsent(ctx, job)
	s.Require().NoError(err)

	claimed, err := s.store.ClaimNextDue(ctx, now)
	s.Require().NoError(err)

	claimed.Status = queue.StatusRetryScheduled
	claimed.RetryCount = 1
	claimed.LastError = "upstream unavailable"
	claimed.RunAt = now.Add(30 * time.Second)
	claimed.StartedAt = nil
	claimed.UpdatedAt = now
	s.Require().NoError(s.store.Update(ctx, claimed))

	reloaded, err := s.store.FindByID(ctx, tenantID, claimed.ID)
	s.Require().NoError(err)
	s.Equal(queue.StatusRetryScheduled, reloaded.Status)
	s.Equal(1, reloaded.RetryCount)
	s.Equal("upstream unavailable", reloaded.LastError)
	s.Nil(reloaded.StartedAt)

	// Not due yet, then due.
	_, err = s.store.ClaimNextDue(ctx, now)
	s.True(dErrors.Is(err, sentinel.ErrNotFound))

	again, err := s.store.ClaimNextDue(ctx, now.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(claimed.ID, again.ID)
}

func (s *PostgresStoreSuite) TestTerminalJobFreesAdmissionSlot() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	tenantID := id.NewTenantID()
	entityID := uuid.New()

	job := queue.NewJob(tenantID, entityID, queue.KindAnalyzeContract, 3, now)
	_, _, err := s.store.CreateIfAbsent(ctx, job)
	s.Require().NoError(err)

	finished := now
	job.Status = queue.StatusCompleted
	job.FinishedAt = &finished
	s.Require().NoError(s.store.Update(ctx, job))

	replacement := queue.NewJob(tenantID, entityID, queue.KindAnalyzeContract, 3, now)
	_, won, err := s.store.CreateIfAbsent(ctx, replacement)
	s.Require().NoError(err)
	s.True(won, "a terminal job must not block new admissions")
}

func (s *PostgresStoreSuite) TestFindByIDIsTenantScoped() {
	ctx := context.Background()
	tenantID := id.NewTenantID()

	job := newPendingJob(tenantID, time.Now().UTC())
	_, _, err := s.store.CreateIfAbsent(ctx, job)
	s.Require().NoError(err)

	_, err = s.store.FindByID(ctx, id.NewTenantID(), job.ID)
	s.True(dErrors.Is(err, sentinel.ErrNotFound))
}
