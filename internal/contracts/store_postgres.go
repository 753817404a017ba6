package contracts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	id "dealguard/pkg/domain"
	"dealguard/pkg/platform/sentinel"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const contractColumns = `id, tenant_id, filename, mime_type, file_hash, file_size_bytes,
	page_count, contract_type, status, encrypted_text, created_by, created_at, updated_at`

func (s *PostgresStore) CreateContract(ctx context.Context, contract *Contract) error {
	var createdBy any
	if !contract.CreatedBy.IsNil() {
		createdBy = contract.CreatedBy.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contracts (`+contractColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		contract.ID.String(), contract.TenantID.String(), contract.Filename,
		contract.MimeType, contract.FileHash, contract.FileSizeBytes,
		contract.PageCount, contract.ContractType, string(contract.Status),
		contract.EncryptedText, createdBy, contract.CreatedAt, contract.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindContract(ctx context.Context, tenantID id.TenantID, contractID id.ContractID) (*Contract, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contractColumns+`
		FROM contracts WHERE id = $1 AND tenant_id = $2`,
		contractID.String(), tenantID.String(),
	)
	return scanContract(row)
}

func (s *PostgresStore) FindByHash(ctx context.Context, tenantID id.TenantID, fileHash string) (*Contract, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contractColumns+`
		FROM contracts WHERE tenant_id = $1 AND file_hash = $2`,
		tenantID.String(), fileHash,
	)
	return scanContract(row)
}

func (s *PostgresStore) ListContracts(ctx context.Context, tenantID id.TenantID, limit, offset int) ([]*Contract, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM contracts WHERE tenant_id = $1`, tenantID.String(),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contracts: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contractColumns+`
		FROM contracts WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		tenantID.String(), limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	var contracts []*Contract
	for rows.Next() {
		contract, err := scanContract(rows)
		if err != nil {
			return nil, 0, err
		}
		contracts = append(contracts, contract)
	}
	return contracts, total, rows.Err()
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, tenantID id.TenantID, contractID id.ContractID, status ContractStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contracts SET status = $1, updated_at = now()
		WHERE id = $2 AND tenant_id = $3`,
		string(status), contractID.String(), tenantID.String(),
	)
	if err != nil {
		return fmt.Errorf("update contract status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update contract status rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetContractType(ctx context.Context, tenantID id.TenantID, contractID id.ContractID, contractType string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE contracts SET contract_type = $1, updated_at = now()
		WHERE id = $2 AND tenant_id = $3
		  AND (contract_type IS NULL OR contract_type = '')`,
		contractType, contractID.String(), tenantID.String(),
	)
	if err != nil {
		return fmt.Errorf("set contract type: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, analysis *Analysis) error {
	findings, err := json.Marshal(analysis.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	recommendations, err := json.Marshal(analysis.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save analysis: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO contract_analyses (
			id, tenant_id, contract_id, risk_score, risk_level, summary,
			recommendations, findings, ai_model, input_tokens, output_tokens,
			cost_cents, processing_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		analysis.ID, analysis.TenantID.String(), analysis.ContractID.String(),
		analysis.RiskScore, string(analysis.RiskLevel), analysis.Summary,
		recommendations, findings, analysis.AIModel, analysis.InputTokens,
		analysis.OutputTokens, analysis.CostCents, analysis.ProcessingMS,
		analysis.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE contracts SET status = $1, updated_at = now()
		WHERE id = $2 AND tenant_id = $3`,
		string(StatusCompleted), analysis.ContractID.String(), analysis.TenantID.String(),
	)
	if err != nil {
		return fmt.Errorf("mark contract completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark contract completed rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return tx.Commit()
}

func (s *PostgresStore) LatestAnalysis(ctx context.Context, tenantID id.TenantID, contractID id.ContractID) (*Analysis, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, contract_id, risk_score, risk_level, summary,
			recommendations, findings, ai_model, input_tokens, output_tokens,
			cost_cents, processing_ms, created_at
		FROM contract_analyses
		WHERE tenant_id = $1 AND contract_id = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		tenantID.String(), contractID.String(),
	)

	var (
		analysis        Analysis
		tenantRaw       string
		contractRaw     string
		level           string
		recommendations []byte
		findings        []byte
	)
	err := row.Scan(
		&analysis.ID, &tenantRaw, &contractRaw, &analysis.RiskScore, &level,
		&analysis.Summary, &recommendations, &findings, &analysis.AIModel,
		&analysis.InputTokens, &analysis.OutputTokens, &analysis.CostCents,
		&analysis.ProcessingMS, &analysis.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan analysis: %w", err)
	}

	if analysis.TenantID, err = id.ParseTenantID(tenantRaw); err != nil {
		return nil, fmt.Errorf("scan analysis tenant: %w", err)
	}
	if analysis.ContractID, err = id.ParseContractID(contractRaw); err != nil {
		return nil, fmt.Errorf("scan analysis contract: %w", err)
	}
	analysis.RiskLevel = RiskLevel(level)
	if err := json.Unmarshal(recommendations, &analysis.Recommendations); err != nil {
		return nil, fmt.Errorf("unmarshal recommendations: %w", err)
	}
	if err := json.Unmarshal(findings, &analysis.Findings); err != nil {
		return nil, fmt.Errorf("unmarshal findings: %w", err)
	}
	return &analysis, nil
}

func (s *PostgresStore) RiskStats(ctx context.Context, tenantID id.TenantID) (RiskStats, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (contract_id) risk_level
			FROM contract_analyses
			WHERE tenant_id = $1
			ORDER BY contract_id, created_at DESC
		)
		SELECT count(*),
			count(*) FILTER (WHERE risk_level IN ('high', 'critical'))
		FROM latest`,
		tenantID.String(),
	)
	var stats RiskStats
	if err := row.Scan(&stats.TotalAnalyzed, &stats.HighRisk); err != nil {
		return RiskStats{}, fmt.Errorf("scan risk stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*Contract, error) {
	var (
		contract     Contract
		contractRaw  string
		tenantRaw    string
		status       string
		contractType sql.NullString
		createdBy    sql.NullString
	)
	err := row.Scan(
		&contractRaw, &tenantRaw, &contract.Filename, &contract.MimeType,
		&contract.FileHash, &contract.FileSizeBytes, &contract.PageCount,
		&contractType, &status, &contract.EncryptedText, &createdBy,
		&contract.CreatedAt, &contract.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contract: %w", err)
	}

	if contract.ID, err = id.ParseContractID(contractRaw); err != nil {
		return nil, fmt.Errorf("scan contract id: %w", err)
	}
	if contract.TenantID, err = id.ParseTenantID(tenantRaw); err != nil {
		return nil, fmt.Errorf("scan contract tenant: %w", err)
	}
	contract.Status = ContractStatus(status)
	contract.ContractType = contractType.String
	if createdBy.Valid {
		if userID, err := id.ParseUserID(createdBy.String); err == nil {
			contract.CreatedBy = userID
		}
	}
	return &contract, nil
}
