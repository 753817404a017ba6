package proactive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	id "dealguard/pkg/domain"
	"dealguard/pkg/platform/sentinel"
)

// PostgresStore implements DeadlineStore, AlertStore, SnapshotStore, and
// SignalStore against the shared database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const deadlineColumns = `id, tenant_id, contract_id, deadline_type, deadline_date,
	confidence, is_verified, status, source_clause, reminder_days, created_at, updated_at`

func (s *PostgresStore) ReplaceUnverified(ctx context.Context, tenantID id.TenantID, contractID id.ContractID, deadlines []*ContractDeadline) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace deadlines: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM contract_deadlines
		WHERE tenant_id = $1 AND contract_id = $2 AND is_verified = FALSE`,
		tenantID.String(), contractID.String(),
	); err != nil {
		return fmt.Errorf("delete unverified deadlines: %w", err)
	}

	for _, d := range deadlines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO contract_deadlines (`+deadlineColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			d.ID.String(), d.TenantID.String(), d.ContractID.String(),
			string(d.Type), d.Date, d.Confidence, d.IsVerified,
			string(d.Status), d.SourceClause, d.ReminderDays, d.CreatedAt, d.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert deadline: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) FindDeadline(ctx context.Context, tenantID id.TenantID, deadlineID id.DeadlineID) (*ContractDeadline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deadlineColumns+`
		FROM contract_deadlines WHERE id = $1 AND tenant_id = $2`,
		deadlineID.String(), tenantID.String(),
	)
	return scanDeadline(row)
}

func (s *PostgresStore) ListByContract(ctx context.Context, tenantID id.TenantID, contractID id.ContractID) ([]*ContractDeadline, error) {
	return s.queryDeadlines(ctx, `
		SELECT `+deadlineColumns+`
		FROM contract_deadlines
		WHERE tenant_id = $1 AND contract_id = $2
		ORDER BY deadline_date`,
		tenantID.String(), contractID.String(),
	)
}

func (s *PostgresStore) ListActive(ctx context.Context, tenantID id.TenantID) ([]*ContractDeadline, error) {
	return s.queryDeadlines(ctx, `
		SELECT `+deadlineColumns+`
		FROM contract_deadlines
		WHERE tenant_id = $1 AND status = 'active'
		ORDER BY deadline_date`,
		tenantID.String(),
	)
}

func (s *PostgresStore) queryDeadlines(ctx context.Context, query string, args ...any) ([]*ContractDeadline, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deadlines: %w", err)
	}
	defer rows.Close()

	var out []*ContractDeadline
	for rows.Next() {
		d, err := scanDeadline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateDeadline(ctx context.Context, deadline *ContractDeadline) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contract_deadlines
		SET deadline_type = $1, deadline_date = $2, confidence = $3,
			is_verified = $4, status = $5, reminder_days = $6, updated_at = $7
		WHERE id = $8 AND tenant_id = $9`,
		string(deadline.Type), deadline.Date, deadline.Confidence,
		deadline.IsVerified, string(deadline.Status), deadline.ReminderDays,
		deadline.UpdatedAt, deadline.ID.String(), deadline.TenantID.String(),
	)
	if err != nil {
		return fmt.Errorf("update deadline: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update deadline rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const alertColumns = `id, tenant_id, source_type, source_id, window_key, alert_type,
	severity, status, title, description, recommendation, recommended_actions,
	related_contract_id, due_date, snoozed_until, created_at, updated_at`

func (s *PostgresStore) CreateAlert(ctx context.Context, alert *ProactiveAlert) error {
	actions, err := json.Marshal(alert.RecommendedActions)
	if err != nil {
		return fmt.Errorf("marshal recommended actions: %w", err)
	}
	var relatedContract any
	if alert.RelatedContractID != nil {
		relatedContract = alert.RelatedContractID.String()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proactive_alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		alert.ID.String(), alert.TenantID.String(), alert.SourceType,
		alert.SourceID.String(), alert.WindowKey, alert.AlertType,
		string(alert.Severity), string(alert.Status), alert.Title,
		alert.Description, alert.Recommendation, actions, relatedContract,
		alert.DueDate, alert.SnoozedUntil, alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindAlert(ctx context.Context, tenantID id.TenantID, alertID id.AlertID) (*ProactiveAlert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+`
		FROM proactive_alerts WHERE id = $1 AND tenant_id = $2`,
		alertID.String(), tenantID.String(),
	)
	return scanAlert(row)
}

func (s *PostgresStore) FindOpenBySource(ctx context.Context, tenantID id.TenantID, sourceType string, sourceID id.DeadlineID) (*ProactiveAlert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertColumns+`
		FROM proactive_alerts
		WHERE tenant_id = $1 AND source_type = $2 AND source_id = $3
		  AND status IN ('new', 'seen', 'in_progress')
		LIMIT 1`,
		tenantID.String(), sourceType, sourceID.String(),
	)
	return scanAlert(row)
}

func (s *PostgresStore) UpdateAlert(ctx context.Context, alert *ProactiveAlert) error {
	actions, err := json.Marshal(alert.RecommendedActions)
	if err != nil {
		return fmt.Errorf("marshal recommended actions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE proactive_alerts
		SET window_key = $1, severity = $2, status = $3, title = $4,
			description = $5, recommendation = $6, recommended_actions = $7,
			due_date = $8, snoozed_until = $9, updated_at = $10
		WHERE id = $11 AND tenant_id = $12`,
		alert.WindowKey, string(alert.Severity), string(alert.Status),
		alert.Title, alert.Description, alert.Recommendation, actions,
		alert.DueDate, alert.SnoozedUntil, alert.UpdatedAt,
		alert.ID.String(), alert.TenantID.String(),
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, tenantID id.TenantID, filter AlertFilter) ([]*ProactiveAlert, int, error) {
	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}

	where := `tenant_id = $1`
	args := []any{tenantID.String()}
	next := 2

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", next)
		args = append(args, string(filter.Status))
		next++
	} else if !filter.IncludeAll {
		where += " AND status IN ('new', 'seen', 'in_progress')"
	}
	if filter.Severity != "" {
		where += fmt.Sprintf(" AND severity = $%d", next)
		args = append(args, string(filter.Severity))
		next++
	}
	if !filter.IncludeAll {
		where += fmt.Sprintf(" AND (snoozed_until IS NULL OR snoozed_until <= $%d)", next)
		args = append(args, now)
		next++
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM proactive_alerts WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM proactive_alerts WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		alertColumns, where, next, next+1)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*ProactiveAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, alert)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) ListSnoozeExpired(ctx context.Context, now time.Time) ([]*ProactiveAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM proactive_alerts
		WHERE snoozed_until IS NOT NULL AND snoozed_until <= $1`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("list snooze expired: %w", err)
	}
	defer rows.Close()

	var out []*ProactiveAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountOpen(ctx context.Context, tenantID id.TenantID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM proactive_alerts
		WHERE tenant_id = $1 AND status IN ('new', 'seen', 'in_progress')`,
		tenantID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open alerts: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snapshot *RiskSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_snapshots (
			id, tenant_id, snapshot_date, contracts_score, partners_score,
			compliance_score, deadlines_score, overall_score, trend,
			contract_count, high_risk_contracts, pending_deadlines, open_alerts,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tenant_id, snapshot_date) DO UPDATE SET
			contracts_score = EXCLUDED.contracts_score,
			partners_score = EXCLUDED.partners_score,
			compliance_score = EXCLUDED.compliance_score,
			deadlines_score = EXCLUDED.deadlines_score,
			overall_score = EXCLUDED.overall_score,
			trend = EXCLUDED.trend,
			contract_count = EXCLUDED.contract_count,
			high_risk_contracts = EXCLUDED.high_risk_contracts,
			pending_deadlines = EXCLUDED.pending_deadlines,
			open_alerts = EXCLUDED.open_alerts`,
		snapshot.ID, snapshot.TenantID.String(), snapshot.SnapshotDate,
		snapshot.ContractsScore, snapshot.PartnersScore, snapshot.ComplianceScore,
		snapshot.DeadlinesScore, snapshot.OverallScore, snapshot.Trend,
		snapshot.ContractCount, snapshot.HighRiskContracts,
		snapshot.PendingDeadlines, snapshot.OpenAlerts, snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `id, tenant_id, snapshot_date, contracts_score, partners_score,
	compliance_score, deadlines_score, overall_score, trend, contract_count,
	high_risk_contracts, pending_deadlines, open_alerts, created_at`

func (s *PostgresStore) LatestSnapshot(ctx context.Context, tenantID id.TenantID) (*RiskSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM risk_snapshots WHERE tenant_id = $1
		ORDER BY snapshot_date DESC LIMIT 1`,
		tenantID.String(),
	)
	return scanSnapshot(row)
}

func (s *PostgresStore) LatestSnapshotBefore(ctx context.Context, tenantID id.TenantID, date time.Time) (*RiskSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM risk_snapshots WHERE tenant_id = $1 AND snapshot_date < $2
		ORDER BY snapshot_date DESC LIMIT 1`,
		tenantID.String(), date,
	)
	return scanSnapshot(row)
}

func (s *PostgresStore) CategoryScore(ctx context.Context, tenantID id.TenantID, category string) (int, error) {
	var score int
	err := s.db.QueryRowContext(ctx, `
		SELECT score FROM risk_signals WHERE tenant_id = $1 AND category = $2`,
		tenantID.String(), category,
	).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan signal: %w", err)
	}
	return score, nil
}

func (s *PostgresStore) UpsertSignal(ctx context.Context, tenantID id.TenantID, category string, score int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_signals (tenant_id, category, score, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tenant_id, category) DO UPDATE SET
			score = EXCLUDED.score, updated_at = now()`,
		tenantID.String(), category, score,
	)
	if err != nil {
		return fmt.Errorf("upsert signal: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeadline(row rowScanner) (*ContractDeadline, error) {
	var (
		d            ContractDeadline
		deadlineRaw  string
		tenantRaw    string
		contractRaw  string
		deadlineType string
		status       string
	)
	err := row.Scan(
		&deadlineRaw, &tenantRaw, &contractRaw, &deadlineType, &d.Date,
		&d.Confidence, &d.IsVerified, &status, &d.SourceClause,
		&d.ReminderDays, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan deadline: %w", err)
	}

	if d.ID, err = id.ParseDeadlineID(deadlineRaw); err != nil {
		return nil, fmt.Errorf("scan deadline id: %w", err)
	}
	if d.TenantID, err = id.ParseTenantID(tenantRaw); err != nil {
		return nil, fmt.Errorf("scan deadline tenant: %w", err)
	}
	if d.ContractID, err = id.ParseContractID(contractRaw); err != nil {
		return nil, fmt.Errorf("scan deadline contract: %w", err)
	}
	d.Type = DeadlineType(deadlineType)
	d.Status = DeadlineStatus(status)
	return &d, nil
}

func scanAlert(row rowScanner) (*ProactiveAlert, error) {
	var (
		alert       ProactiveAlert
		alertRaw    string
		tenantRaw   string
		sourceRaw   string
		severity    string
		status      string
		actions     []byte
		relatedRaw  sql.NullString
	)
	err := row.Scan(
		&alertRaw, &tenantRaw, &alert.SourceType, &sourceRaw, &alert.WindowKey,
		&alert.AlertType, &severity, &status, &alert.Title, &alert.Description,
		&alert.Recommendation, &actions, &relatedRaw, &alert.DueDate,
		&alert.SnoozedUntil, &alert.CreatedAt, &alert.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	if alert.ID, err = id.ParseAlertID(alertRaw); err != nil {
		return nil, fmt.Errorf("scan alert id: %w", err)
	}
	if alert.TenantID, err = id.ParseTenantID(tenantRaw); err != nil {
		return nil, fmt.Errorf("scan alert tenant: %w", err)
	}
	if alert.SourceID, err = id.ParseDeadlineID(sourceRaw); err != nil {
		return nil, fmt.Errorf("scan alert source: %w", err)
	}
	alert.Severity = AlertSeverity(severity)
	alert.Status = AlertStatus(status)
	if err := json.Unmarshal(actions, &alert.RecommendedActions); err != nil {
		return nil, fmt.Errorf("unmarshal recommended actions: %w", err)
	}
	if relatedRaw.Valid {
		if contractID, err := id.ParseContractID(relatedRaw.String); err == nil {
			alert.RelatedContractID = &contractID
		}
	}
	return &alert, nil
}

func scanSnapshot(row rowScanner) (*RiskSnapshot, error) {
	var (
		snap      RiskSnapshot
		tenantRaw string
	)
	err := row.Scan(
		&snap.ID, &tenantRaw, &snap.SnapshotDate, &snap.ContractsScore,
		&snap.PartnersScore, &snap.ComplianceScore, &snap.DeadlinesScore,
		&snap.OverallScore, &snap.Trend, &snap.ContractCount,
		&snap.HighRiskContracts, &snap.PendingDeadlines, &snap.OpenAlerts,
		&snap.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	if snap.TenantID, err = id.ParseTenantID(tenantRaw); err != nil {
		return nil, fmt.Errorf("scan snapshot tenant: %w", err)
	}
	return &snap, nil
}
