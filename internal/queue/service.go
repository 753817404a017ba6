package queue

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"dealguard/internal/platform/metrics"
	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/platform/sentinel"
	"dealguard/pkg/requestcontext"
)

// Gateway is the only path for submitting asynchronous work. Enqueue is
// idempotent per (tenant, entity, kind): a second request while a job is
// still in flight returns the in-flight job instead of spawning another.
type Gateway struct {
	store      Store
	maxRetries int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewGateway(store Store, maxRetries int, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		store:      store,
		maxRetries: maxRetries,
		logger:     logger,
		metrics:    m,
	}
}

// Enqueue admits a job for the entity, or returns the existing non-terminal
// job for the same (entity, kind). The second return reports whether a new
// job was created.
func (g *Gateway) Enqueue(ctx context.Context, entityID uuid.UUID, kind JobKind) (*Job, bool, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, false, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}
	if entityID == uuid.Nil {
		return nil, false, dErrors.New(dErrors.CodeInvalidInput, "entity id is required")
	}

	job := NewJob(tenantID, entityID, kind, g.maxRetries, requestcontext.Now(ctx))
	admitted, created, err := g.store.CreateIfAbsent(ctx, job)
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "enqueue job")
	}

	outcome := "existing"
	if created {
		outcome = "created"
	}
	if g.metrics != nil {
		g.metrics.JobsEnqueued.WithLabelValues(string(kind), outcome).Inc()
	}
	g.logger.InfoContext(ctx, "job enqueued",
		"job_id", admitted.ID.String(),
		"kind", string(kind),
		"entity_id", entityID.String(),
		"outcome", outcome,
	)
	return admitted, created, nil
}

// GetJob returns the job for status polling, scoped to the caller's tenant.
func (g *Gateway) GetJob(ctx context.Context, jobID id.JobID) (*Job, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}
	job, err := g.store.FindByID(ctx, tenantID, jobID)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find job")
	}
	return job, nil
}
