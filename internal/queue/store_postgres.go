package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "dealguard/pkg/domain"
	"dealguard/pkg/platform/sentinel"
)

// PostgresStore relies on the partial unique index over non-terminal jobs to
// enforce the admission invariant, and FOR UPDATE SKIP LOCKED for claims.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, tenant_id, entity_id, kind, status, retry_count, max_attempts,
	last_error, run_at, started_at, finished_at, created_at, updated_at`

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, job *Job) (*Job, bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID.String(), job.TenantID.String(), job.EntityID, string(job.Kind),
		string(job.Status), job.RetryCount, job.MaxRetries, job.LastError,
		job.RunAt, job.StartedAt, job.FinishedAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			existing, ferr := s.FindActive(ctx, job.TenantID, job.EntityID, job.Kind)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert job: %w", err)
	}
	copied := *job
	return &copied, true, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID, jobID id.JobID) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM analysis_jobs
		WHERE id = $1 AND tenant_id = $2`,
		jobID.String(), tenantID.String(),
	)
	return scanJob(row)
}

func (s *PostgresStore) FindActive(ctx context.Context, tenantID id.TenantID, entityID uuid.UUID, kind JobKind) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM analysis_jobs
		WHERE tenant_id = $1 AND entity_id = $2 AND kind = $3
		  AND status IN ('pending', 'processing', 'retry_scheduled')`,
		tenantID.String(), entityID, string(kind),
	)
	return scanJob(row)
}

func (s *PostgresStore) ClaimNextDue(ctx context.Context, now time.Time) (*Job, error) {
	// SKIP LOCKED lets concurrent executors claim distinct jobs without
	// blocking each other.
	row := s.db.QueryRowContext(ctx, `
		UPDATE analysis_jobs
		SET status = 'processing', started_at = $1, updated_at = $1
		WHERE id = (
			SELECT id FROM analysis_jobs
			WHERE status IN ('pending', 'retry_scheduled') AND run_at <= $1
			ORDER BY run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		now,
	)
	return scanJob(row)
}

func (s *PostgresStore) Update(ctx context.Context, job *Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs
		SET status = $1, retry_count = $2, last_error = $3, run_at = $4,
			started_at = $5, finished_at = $6, updated_at = $7
		WHERE id = $8`,
		string(job.Status), job.RetryCount, job.LastError, job.RunAt,
		job.StartedAt, job.FinishedAt, job.UpdatedAt, job.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanJob(row *sql.Row) (*Job, error) {
	var (
		job      Job
		jobID    string
		tenantID string
		kind     string
		status   string
	)
	err := row.Scan(
		&jobID, &tenantID, &job.EntityID, &kind, &status,
		&job.RetryCount, &job.MaxRetries, &job.LastError,
		&job.RunAt, &job.StartedAt, &job.FinishedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.ID, err = id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("scan job id: %w", err)
	}
	job.TenantID, err = id.ParseTenantID(tenantID)
	if err != nil {
		return nil, fmt.Errorf("scan tenant id: %w", err)
	}
	job.Kind = JobKind(kind)
	job.Status = JobStatus(status)
	return &job, nil
}
