package proactive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dealguard/internal/contracts"
	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
)

type fakeContractRisk struct {
	stats contracts.RiskStats
}

func (f fakeContractRisk) RiskStats(context.Context, id.TenantID) (contracts.RiskStats, error) {
	return f.stats, nil
}

func newRiskService(store *InMemoryStore, risk ContractRiskSource) *RiskService {
	return NewRiskService(risk, store, store, store, store, testLogger(), nil)
}

func TestOverallScoreWeighting(t *testing.T) {
	// 80*0.30 + 40*0.25 + 60*0.25 + 20*0.20 = 53
	require.Equal(t, 53, OverallScore(80, 40, 60, 20))
	require.Equal(t, contracts.RiskMedium, contracts.RiskLevelForScore(53))

	require.Equal(t, 0, OverallScore(0, 0, 0, 0))
	require.Equal(t, 100, OverallScore(100, 100, 100, 100))
}

func TestDeadlinesScore(t *testing.T) {
	require.Equal(t, 0, DeadlinesScore(0, 0))
	require.Equal(t, 50, DeadlinesScore(2, 1))
	require.Equal(t, 100, DeadlinesScore(4, 3))
	require.Equal(t, 100, DeadlinesScore(10, 10), "score is capped at 100")
}

func TestRadarComputesCategoryScores(t *testing.T) {
	store := NewInMemoryStore()
	svc := newRiskService(store, fakeContractRisk{stats: contracts.RiskStats{TotalAnalyzed: 10, HighRisk: 8}})

	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	tenantID := id.NewTenantID()
	ctx := evalCtx(tenantID, now)

	require.NoError(t, store.UpsertSignal(ctx, tenantID, categoryPartners, 40))
	require.NoError(t, store.UpsertSignal(ctx, tenantID, categoryCompliance, 60))

	// One overdue deadline scores 20.
	seedDeadline(t, store, tenantID, now.AddDate(0, 0, -1))

	radar, err := svc.Radar(ctx)
	require.NoError(t, err)
	require.Equal(t, 80, radar.ContractsScore)
	require.Equal(t, 40, radar.PartnersScore)
	require.Equal(t, 60, radar.ComplianceScore)
	require.Equal(t, 20, radar.DeadlinesScore)
	require.Equal(t, 53, radar.OverallScore)
	require.Equal(t, contracts.RiskMedium, radar.RiskLevel)
	require.Equal(t, TrendStable, radar.Trend, "first measurement has no baseline")
	require.Equal(t, 10, radar.ContractCount)
	require.Equal(t, 8, radar.HighRiskContracts)
	require.Equal(t, 1, radar.PendingDeadlines)
}

func TestRecordSignalFeedsRadar(t *testing.T) {
	store := NewInMemoryStore()
	svc := newRiskService(store, fakeContractRisk{})

	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	ctx := evalCtx(id.NewTenantID(), now)

	require.NoError(t, svc.RecordSignal(ctx, categoryPartners, 80))
	require.NoError(t, svc.RecordSignal(ctx, categoryCompliance, 40))

	radar, err := svc.Radar(ctx)
	require.NoError(t, err)
	require.Equal(t, 80, radar.PartnersScore)
	require.Equal(t, 40, radar.ComplianceScore)

	err = svc.RecordSignal(ctx, "weather", 10)
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	err = svc.RecordSignal(ctx, categoryPartners, 101)
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestRadarWithNoContractsScoresZero(t *testing.T) {
	store := NewInMemoryStore()
	svc := newRiskService(store, fakeContractRisk{})

	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	radar, err := svc.Radar(evalCtx(id.NewTenantID(), now))
	require.NoError(t, err)
	require.Equal(t, 0, radar.ContractsScore)
	require.Equal(t, 0, radar.OverallScore)
	require.Equal(t, contracts.RiskLow, radar.RiskLevel)
}

func TestSnapshotOverwritesSameDay(t *testing.T) {
	store := NewInMemoryStore()
	risk := &fakeContractRisk{stats: contracts.RiskStats{TotalAnalyzed: 4, HighRisk: 0}}
	svc := newRiskService(store, risk)

	now := time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)
	tenantID := id.NewTenantID()
	ctx := evalCtx(tenantID, now)

	first, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, first.OverallScore)

	// Later the same day the picture worsened; rerun overwrites.
	risk.stats = contracts.RiskStats{TotalAnalyzed: 4, HighRisk: 4}
	svc2 := newRiskService(store, *risk)
	second, err := svc2.Snapshot(evalCtx(tenantID, now.Add(6*time.Hour)))
	require.NoError(t, err)
	require.Equal(t, first.SnapshotDate, second.SnapshotDate)

	latest, err := store.LatestSnapshot(ctx, tenantID)
	require.NoError(t, err)
	require.Equal(t, second.OverallScore, latest.OverallScore)
	require.Equal(t, 30, latest.OverallScore)
}

func TestTrendComparesAgainstPreviousSnapshot(t *testing.T) {
	store := NewInMemoryStore()
	tenantID := id.NewTenantID()
	yesterday := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertSnapshot(context.Background(), &RiskSnapshot{
		TenantID:     tenantID,
		SnapshotDate: yesterday,
		OverallScore: 20,
		Trend:        TrendStable,
		CreatedAt:    yesterday,
	}))

	now := time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)

	// 10/10 high risk → contracts 100 → overall 30: a +10 move is worsening.
	svc := newRiskService(store, fakeContractRisk{stats: contracts.RiskStats{TotalAnalyzed: 10, HighRisk: 10}})
	radar, err := svc.Radar(evalCtx(tenantID, now))
	require.NoError(t, err)
	require.Equal(t, 30, radar.OverallScore)
	require.Equal(t, "worsening", radar.Trend)

	// A move within the threshold is stable.
	require.NoError(t, store.UpsertSnapshot(context.Background(), &RiskSnapshot{
		TenantID:     tenantID,
		SnapshotDate: yesterday,
		OverallScore: 27,
		Trend:        TrendStable,
		CreatedAt:    yesterday,
	}))
	radar, err = svc.Radar(evalCtx(tenantID, now))
	require.NoError(t, err)
	require.Equal(t, TrendStable, radar.Trend)

	// Score dropping by more than the threshold is improving.
	require.NoError(t, store.UpsertSnapshot(context.Background(), &RiskSnapshot{
		TenantID:     tenantID,
		SnapshotDate: yesterday,
		OverallScore: 40,
		Trend:        TrendStable,
		CreatedAt:    yesterday,
	}))
	radar, err = svc.Radar(evalCtx(tenantID, now))
	require.NoError(t, err)
	require.Equal(t, "improving", radar.Trend)
}
