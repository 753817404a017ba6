//go:build integration

package contracts_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dealguard/internal/contracts"
	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/platform/sentinel"
	"dealguard/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *contracts.PostgresStore
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
	s.store = contracts.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "contract_analyses", "contracts"))
}

func newTestContract(tenantID id.TenantID, hash string) *contracts.Contract {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &contracts.Contract{
		ID:            id.NewContractID(),
		TenantID:      tenantID,
		Filename:      "agreement.pdf",
		MimeType:      "application/pdf",
		FileHash:      hash,
		FileSizeBytes: 2048,
		Status:        contracts.StatusPending,
		EncryptedText: "ciphertext",
		CreatedBy:     id.NewUserID(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *PostgresStoreSuite) TestHashUniquenessPerTenant() {
	ctx := context.Background()
	tenantID := id.NewTenantID()

	first := newTestContract(tenantID, "hash-a")
	s.Require().NoError(s.store.CreateContract(ctx, first))

	dupe := newTestContract(tenantID, "hash-a")
	err := s.store.CreateContract(ctx, dupe)
	s.Require().Error(err)
	s.True(dErrors.Is(err, sentinel.ErrConflict))

	// Another tenant may hold the same hash.
	other := newTestContract(id.NewTenantID(), "hash-a")
	s.Require().NoError(s.store.CreateContract(ctx, other))

	found, err := s.store.FindByHash(ctx, tenantID, "hash-a")
	s.Require().NoError(err)
	s.Equal(first.ID, found.ID)
}

func (s *PostgresStoreSuite) TestSaveAnalysisFlipsContractToCompleted() {
	ctx := context.Background()
	tenantID := id.NewTenantID()

	contract := newTestContract(tenantID, "hash-b")
	contract.Status = contracts.StatusProcessing
	s.Require().NoError(s.store.CreateContract(ctx, contract))

	analysis := &contracts.Analysis{
		ID:              uuid.New(),
		TenantID:        tenantID,
		ContractID:      contract.ID,
		RiskScore:       72,
		RiskLevel:       contracts.RiskHigh,
		Summary:         "Unfavorable indemnification terms.",
		Recommendations: []string{"Renegotiate clause 9."},
		Findings: []contracts.Finding{
			{Category: "liability", Severity: "high", Title: "Uncapped liability"},
		},
		AIModel:      "deepseek-chat",
		InputTokens:  1200,
		OutputTokens: 300,
		CostCents:    4,
		ProcessingMS: 5200,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	s.Require().NoError(s.store.SaveAnalysis(ctx, analysis))

	reloaded, err := s.store.FindContract(ctx, tenantID, contract.ID)
	s.Require().NoError(err)
	s.Equal(contracts.StatusCompleted, reloaded.Status)

	latest, err := s.store.LatestAnalysis(ctx, tenantID, contract.ID)
	s.Require().NoError(err)
	s.Equal(72, latest.RiskScore)
	s.Equal(contracts.RiskHigh, latest.RiskLevel)
	s.Require().Len(latest.Findings, 1)
	s.Equal("Uncapped liability", latest.Findings[0].Title)
	s.Equal([]string{"Renegotiate clause 9."}, latest.Recommendations)
}

func (s *PostgresStoreSuite) TestLatestAnalysisWinsOverOlderRuns() {
	ctx := context.Background()
	tenantID := id.NewTenantID()

	contract := newTestContract(tenantID, "hash-c")
	s.Require().NoError(s.store.CreateContract(ctx, contract))

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, score := range []int{40, 85} {
		s.Require().NoError(s.store.SaveAnalysis(ctx, &contracts.Analysis{
			ID:         uuid.New(),
			TenantID:   tenantID,
			ContractID: contract.ID,
			RiskScore:  score,
			RiskLevel:  contracts.RiskLevelForScore(score),
			Summary:    "run",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	latest, err := s.store.LatestAnalysis(ctx, tenantID, contract.ID)
	s.Require().NoError(err)
	s.Equal(85, latest.RiskScore)
}

func (s *PostgresStoreSuite) TestRiskStatsCountLatestAnalyses() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	base := time.Now().UTC().Truncate(time.Millisecond)

	// Three analyzed contracts: one high, one critical, one that improved
	// from high to low on re-analysis.
	scores := [][]int{{75}, {90}, {75, 20}}
	for i, runs := range scores {
		contract := newTestContract(tenantID, fmt.Sprintf("hash-%d", i))
		s.Require().NoError(s.store.CreateContract(ctx, contract))
		for j, score := range runs {
			s.Require().NoError(s.store.SaveAnalysis(ctx, &contracts.Analysis{
				ID:         uuid.New(),
				TenantID:   tenantID,
				ContractID: contract.ID,
				RiskScore:  score,
				RiskLevel:  contracts.RiskLevelForScore(score),
				Summary:    "run",
				CreatedAt:  base.Add(time.Duration(j) * time.Minute),
			}))
		}
	}

	stats, err := s.store.RiskStats(ctx, tenantID)
	s.Require().NoError(err)
	s.Equal(3, stats.TotalAnalyzed)
	s.Equal(2, stats.HighRisk, "the improved contract counts by its latest run")
}

func (s *PostgresStoreSuite) TestListContractsPaginatesNewestFirst() {
	ctx := context.Background()
	tenantID := id.NewTenantID()

	base := time.Now().UTC().Truncate(time.Millisecond)
	var newest id.ContractID
	for i := 0; i < 3; i++ {
		contract := newTestContract(tenantID, fmt.Sprintf("hash-list-%d", i))
		contract.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		contract.UpdatedAt = contract.CreatedAt
		s.Require().NoError(s.store.CreateContract(ctx, contract))
		newest = contract.ID
	}

	page, total, err := s.store.ListContracts(ctx, tenantID, 2, 0)
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Require().Len(page, 2)
	s.Equal(newest, page[0].ID)
}
