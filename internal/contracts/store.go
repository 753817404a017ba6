package contracts

import (
	"context"

	id "dealguard/pkg/domain"
)

// RiskStats summarizes the latest analyses for one tenant, feeding the risk
// aggregator.
type RiskStats struct {
	TotalAnalyzed int
	HighRisk      int
}

// Store persists contracts and analyses. Hash uniqueness per tenant is the
// store's responsibility.
type Store interface {
	// CreateContract inserts a contract; sentinel.ErrConflict when the
	// tenant already holds a contract with the same file hash.
	CreateContract(ctx context.Context, contract *Contract) error

	// FindContract returns a tenant-scoped contract or sentinel.ErrNotFound.
	FindContract(ctx context.Context, tenantID id.TenantID, contractID id.ContractID) (*Contract, error)

	// FindByHash locates a tenant's contract by content hash, for upload
	// dedupe. sentinel.ErrNotFound when absent.
	FindByHash(ctx context.Context, tenantID id.TenantID, fileHash string) (*Contract, error)

	// ListContracts returns the tenant's contracts, newest first.
	ListContracts(ctx context.Context, tenantID id.TenantID, limit, offset int) ([]*Contract, int, error)

	// UpdateStatus moves the contract's mirrored analysis status.
	UpdateStatus(ctx context.Context, tenantID id.TenantID, contractID id.ContractID, status ContractStatus) error

	// SetContractType backfills the detected contract type; a type already
	// present is left alone.
	SetContractType(ctx context.Context, tenantID id.TenantID, contractID id.ContractID, contractType string) error

	// SaveAnalysis persists the analysis and flips the contract to completed
	// in one step, so a crash can never leave a completed contract without
	// its analysis.
	SaveAnalysis(ctx context.Context, analysis *Analysis) error

	// LatestAnalysis returns the newest analysis for the contract, or
	// sentinel.ErrNotFound.
	LatestAnalysis(ctx context.Context, tenantID id.TenantID, contractID id.ContractID) (*Analysis, error)

	// RiskStats counts analyzed contracts and how many of them sit at high
	// or critical risk, per their latest analysis.
	RiskStats(ctx context.Context, tenantID id.TenantID) (RiskStats, error)
}
