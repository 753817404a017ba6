package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/requestcontext"
)

type recordingMirror struct {
	mu          sync.Mutex
	transitions []JobStatus
	tenants     []id.TenantID
}

func (m *recordingMirror) JobStatusChanged(ctx context.Context, job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, job.Status)
	m.tenants = append(m.tenants, requestcontext.TenantID(ctx))
}

func testExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Concurrency:  1,
		JobTimeout:   time.Second,
		PollInterval: 10 * time.Millisecond,
		BackoffBase:  0,
	}
}

func enqueueOne(t *testing.T, store Store, tenantID id.TenantID, kind JobKind, maxRetries int) *Job {
	t.Helper()
	job := NewJob(tenantID, uuid.New(), kind, maxRetries, time.Now().Add(-time.Second))
	admitted, created, err := store.CreateIfAbsent(context.Background(), job)
	require.NoError(t, err)
	require.True(t, created)
	return admitted
}

func TestExecutorCompletesJob(t *testing.T) {
	store := NewInMemoryStore()
	exec := NewExecutor(store, testExecutorConfig(), testLogger(), nil)
	mirror := &recordingMirror{}
	exec.SetStatusMirror(mirror)

	tenantID := id.NewTenantID()
	var handledTenant id.TenantID
	exec.RegisterHandler(KindAnalyzeContract, HandlerFunc(func(ctx context.Context, job *Job) error {
		handledTenant = requestcontext.TenantID(ctx)
		return nil
	}))

	job := enqueueOne(t, store, tenantID, KindAnalyzeContract, 3)

	ran, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	stored, err := store.FindByID(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.FinishedAt)
	require.Equal(t, tenantID, handledTenant)
	require.Equal(t, []JobStatus{StatusCompleted}, mirror.transitions)
	require.Equal(t, []id.TenantID{tenantID}, mirror.tenants)
}

func TestExecutorRetriesTransientThenFails(t *testing.T) {
	store := NewInMemoryStore()
	exec := NewExecutor(store, testExecutorConfig(), testLogger(), nil)
	mirror := &recordingMirror{}
	exec.SetStatusMirror(mirror)

	attempts := 0
	exec.RegisterHandler(KindAnalyzeContract, HandlerFunc(func(ctx context.Context, job *Job) error {
		attempts++
		return dErrors.New(dErrors.CodeTransientUpstream, "provider unavailable")
	}))

	tenantID := id.NewTenantID()
	job := enqueueOne(t, store, tenantID, KindAnalyzeContract, 3)

	// Zero backoff makes every retry immediately due.
	for i := 0; i < 3; i++ {
		ran, err := exec.RunOnce(context.Background())
		require.NoError(t, err)
		require.True(t, ran)
	}

	require.Equal(t, 3, attempts)
	stored, err := store.FindByID(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.Equal(t, 3, stored.RetryCount)
	require.Contains(t, stored.LastError, "provider unavailable")
	require.Equal(t, []JobStatus{StatusRetryScheduled, StatusRetryScheduled, StatusFailed}, mirror.transitions)

	// Nothing left to claim.
	ran, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, ran)
}

func TestExecutorRetryBacksOffExponentially(t *testing.T) {
	store := NewInMemoryStore()
	cfg := testExecutorConfig()
	cfg.BackoffBase = 30 * time.Second
	exec := NewExecutor(store, cfg, testLogger(), nil)

	exec.RegisterHandler(KindAnalyzeContract, HandlerFunc(func(ctx context.Context, job *Job) error {
		return dErrors.New(dErrors.CodeTransientUpstream, "provider unavailable")
	}))

	tenantID := id.NewTenantID()
	job := enqueueOne(t, store, tenantID, KindAnalyzeContract, 3)

	before := time.Now()
	ran, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	stored, err := store.FindByID(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRetryScheduled, stored.Status)
	require.Equal(t, 1, stored.RetryCount)
	delay := stored.RunAt.Sub(before)
	require.GreaterOrEqual(t, delay, 29*time.Second)
	require.Less(t, delay, 31*time.Second)

	// Not due yet, so the next poll claims nothing.
	ran, err = exec.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, ran)
}

func TestExecutorFailsPermanentErrorImmediately(t *testing.T) {
	store := NewInMemoryStore()
	exec := NewExecutor(store, testExecutorConfig(), testLogger(), nil)

	attempts := 0
	exec.RegisterHandler(KindAnalyzeContract, HandlerFunc(func(ctx context.Context, job *Job) error {
		attempts++
		return dErrors.New(dErrors.CodeValidation, "malformed provider output")
	}))

	tenantID := id.NewTenantID()
	job := enqueueOne(t, store, tenantID, KindAnalyzeContract, 3)

	ran, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	require.Equal(t, 1, attempts)
	stored, err := store.FindByID(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.Equal(t, 0, stored.RetryCount)
}

func TestExecutorTimesOutSlowHandler(t *testing.T) {
	store := NewInMemoryStore()
	cfg := testExecutorConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	exec := NewExecutor(store, cfg, testLogger(), nil)

	exec.RegisterHandler(KindAnalyzeContract, HandlerFunc(func(ctx context.Context, job *Job) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}))

	tenantID := id.NewTenantID()
	job := enqueueOne(t, store, tenantID, KindAnalyzeContract, 3)

	ran, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	stored, err := store.FindByID(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.Equal(t, "timeout", stored.LastError)
}

func TestExecutorFailsUnregisteredKind(t *testing.T) {
	store := NewInMemoryStore()
	exec := NewExecutor(store, testExecutorConfig(), testLogger(), nil)

	tenantID := id.NewTenantID()
	job := enqueueOne(t, store, tenantID, "unknown_kind", 3)

	ran, err := exec.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	stored, err := store.FindByID(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.Contains(t, stored.LastError, "no handler")
}

func TestExecutorReleasesJobOnShutdown(t *testing.T) {
	store := NewInMemoryStore()
	exec := NewExecutor(store, testExecutorConfig(), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	exec.RegisterHandler(KindAnalyzeContract, HandlerFunc(func(jobCtx context.Context, job *Job) error {
		attempts++
		cancel()
		<-jobCtx.Done()
		return jobCtx.Err()
	}))

	tenantID := id.NewTenantID()
	job := enqueueOne(t, store, tenantID, KindAnalyzeContract, 3)

	ran, err := exec.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	// The interrupted attempt neither burns a retry nor records a failure.
	stored, err := store.FindByID(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
	require.Equal(t, 0, stored.RetryCount)
	require.Empty(t, stored.LastError)
	require.Nil(t, stored.StartedAt)

	// The next worker claims it again.
	exec.RegisterHandler(KindAnalyzeContract, HandlerFunc(func(context.Context, *Job) error {
		attempts++
		return nil
	}))
	ran, err = exec.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, 2, attempts)

	stored, err = store.FindByID(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
}

func TestExecutorRunStopsOnCancel(t *testing.T) {
	store := NewInMemoryStore()
	exec := NewExecutor(store, testExecutorConfig(), testLogger(), nil)
	exec.RegisterHandler(KindAnalyzeContract, HandlerFunc(func(ctx context.Context, job *Job) error {
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exec.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("executor did not stop after cancel")
	}
}
