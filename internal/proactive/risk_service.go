package proactive

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"dealguard/internal/contracts"
	"dealguard/internal/events"
	"dealguard/internal/platform/metrics"
	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/platform/sentinel"
	"dealguard/pkg/requestcontext"
)

// Category weights. Contracts carry the most signal; deadlines the least
// because the alert engine already surfaces them directly.
const (
	weightContracts  = 0.30
	weightPartners   = 0.25
	weightCompliance = 0.25
	weightDeadlines  = 0.20

	// A snapshot-over-snapshot move beyond this is a trend, below it noise.
	trendThreshold = 5
)

const (
	categoryPartners   = "partners"
	categoryCompliance = "compliance"
)

// ContractRiskSource summarizes analyzed contracts. Satisfied by the
// contracts store.
type ContractRiskSource interface {
	RiskStats(ctx context.Context, tenantID id.TenantID) (contracts.RiskStats, error)
}

// RiskRadar is the live aggregate returned to clients.
type RiskRadar struct {
	ContractsScore    int                 `json:"contracts_score"`
	PartnersScore     int                 `json:"partners_score"`
	ComplianceScore   int                 `json:"compliance_score"`
	DeadlinesScore    int                 `json:"deadlines_score"`
	OverallScore      int                 `json:"overall_score"`
	RiskLevel         contracts.RiskLevel `json:"risk_level"`
	Trend             string              `json:"trend"`
	ContractCount     int                 `json:"contract_count"`
	HighRiskContracts int                 `json:"high_risk_contracts"`
	PendingDeadlines  int                 `json:"pending_deadlines"`
	OpenAlerts        int                 `json:"open_alerts"`
	GeneratedAt       time.Time           `json:"generated_at"`
}

// RiskService aggregates per-category risk into a tenant-level score and
// persists daily snapshots for trend history.
type RiskService struct {
	contractRisk ContractRiskSource
	deadlines    DeadlineStore
	alerts       AlertStore
	snapshots    SnapshotStore
	signals      SignalStore
	logger       *slog.Logger
	metrics      *metrics.Metrics
	publisher    events.Publisher
}

func NewRiskService(
	contractRisk ContractRiskSource,
	deadlines DeadlineStore,
	alerts AlertStore,
	snapshots SnapshotStore,
	signals SignalStore,
	logger *slog.Logger,
	m *metrics.Metrics,
) *RiskService {
	return &RiskService{
		contractRisk: contractRisk,
		deadlines:    deadlines,
		alerts:       alerts,
		snapshots:    snapshots,
		signals:      signals,
		logger:       logger,
		metrics:      m,
	}
}

// SetPublisher installs the lifecycle event publisher. Optional.
func (s *RiskService) SetPublisher(p events.Publisher) {
	s.publisher = p
}

// OverallScore combines category scores with the fixed weights, rounded to
// the nearest integer.
func OverallScore(contractsScore, partnersScore, complianceScore, deadlinesScore int) int {
	weighted := float64(contractsScore)*weightContracts +
		float64(partnersScore)*weightPartners +
		float64(complianceScore)*weightCompliance +
		float64(deadlinesScore)*weightDeadlines
	return int(math.Round(weighted))
}

// DeadlinesScore scores deadline pressure: 20 points per overdue deadline
// plus 10 per deadline due within a week, capped at 100.
func DeadlinesScore(overdue, urgent int) int {
	score := overdue*20 + urgent*10
	if score > 100 {
		return 100
	}
	return score
}

// Radar computes the live aggregate for the tenant, with trend measured
// against the most recent snapshot before today.
func (s *RiskService) Radar(ctx context.Context) (*RiskRadar, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}
	now := requestcontext.Now(ctx)

	radar, err := s.compute(ctx, tenantID, now)
	if err != nil {
		return nil, err
	}
	return radar, nil
}

// Snapshot persists today's aggregate, overwriting an earlier snapshot for
// the same day so reruns converge on the freshest numbers.
func (s *RiskService) Snapshot(ctx context.Context) (*RiskSnapshot, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}
	now := requestcontext.Now(ctx)

	radar, err := s.compute(ctx, tenantID, now)
	if err != nil {
		return nil, err
	}

	snapshot := &RiskSnapshot{
		ID:                uuid.New(),
		TenantID:          tenantID,
		SnapshotDate:      dateOf(now),
		ContractsScore:    radar.ContractsScore,
		PartnersScore:     radar.PartnersScore,
		ComplianceScore:   radar.ComplianceScore,
		DeadlinesScore:    radar.DeadlinesScore,
		OverallScore:      radar.OverallScore,
		Trend:             radar.Trend,
		ContractCount:     radar.ContractCount,
		HighRiskContracts: radar.HighRiskContracts,
		PendingDeadlines:  radar.PendingDeadlines,
		OpenAlerts:        radar.OpenAlerts,
		CreatedAt:         now,
	}
	if err := s.snapshots.UpsertSnapshot(ctx, snapshot); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist snapshot")
	}
	if s.metrics != nil {
		s.metrics.SnapshotsSaved.Inc()
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.TypeSnapshotCreated,
		TenantID: tenantID.String(),
		Payload: map[string]any{
			"overall_score": snapshot.OverallScore,
			"trend":         snapshot.Trend,
		},
	})
	return snapshot, nil
}

// RecordSignal stores an externally supplied category score. Partner vetting
// and compliance reviews feed these; the next radar computation picks them up.
func (s *RiskService) RecordSignal(ctx context.Context, category string, score int) error {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}
	if category != categoryPartners && category != categoryCompliance {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown signal category %q", category)
	}
	if score < 0 || score > 100 {
		return dErrors.New(dErrors.CodeInvalidInput, "score must be between 0 and 100")
	}
	if err := s.signals.UpsertSignal(ctx, tenantID, category, score); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist signal")
	}
	return nil
}

func (s *RiskService) compute(ctx context.Context, tenantID id.TenantID, now time.Time) (*RiskRadar, error) {
	stats, err := s.contractRisk.RiskStats(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "contract risk stats")
	}
	contractsScore := 0
	if stats.TotalAnalyzed > 0 {
		contractsScore = int(math.Round(float64(stats.HighRisk) / float64(stats.TotalAnalyzed) * 100))
	}

	deadlines, err := s.deadlines.ListActive(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list active deadlines")
	}
	overdue, urgent := 0, 0
	for _, d := range deadlines {
		days := daysUntil(d.Date, now)
		switch {
		case days < 0:
			overdue++
		case days <= 7:
			urgent++
		}
	}

	partnersScore, err := s.signals.CategoryScore(ctx, tenantID, categoryPartners)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "partners signal")
	}
	complianceScore, err := s.signals.CategoryScore(ctx, tenantID, categoryCompliance)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "compliance signal")
	}

	openAlerts, err := s.alerts.CountOpen(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count open alerts")
	}

	deadlinesScore := DeadlinesScore(overdue, urgent)
	overall := OverallScore(contractsScore, partnersScore, complianceScore, deadlinesScore)

	return &RiskRadar{
		ContractsScore:    contractsScore,
		PartnersScore:     partnersScore,
		ComplianceScore:   complianceScore,
		DeadlinesScore:    deadlinesScore,
		OverallScore:      overall,
		RiskLevel:         contracts.RiskLevelForScore(overall),
		Trend:             s.trendFor(ctx, tenantID, overall, now),
		ContractCount:     stats.TotalAnalyzed,
		HighRiskContracts: stats.HighRisk,
		PendingDeadlines:  len(deadlines),
		OpenAlerts:        openAlerts,
		GeneratedAt:       now,
	}, nil
}

// trendFor compares the overall score against the last snapshot taken
// before today. A first-ever measurement is stable by definition.
func (s *RiskService) trendFor(ctx context.Context, tenantID id.TenantID, overall int, now time.Time) string {
	previous, err := s.snapshots.LatestSnapshotBefore(ctx, tenantID, dateOf(now))
	if err != nil {
		if !dErrors.Is(err, sentinel.ErrNotFound) {
			s.logger.ErrorContext(ctx, "load previous snapshot", "error", err)
		}
		return TrendStable
	}
	diff := overall - previous.OverallScore
	switch {
	case diff > trendThreshold:
		return TrendWorsening
	case diff < -trendThreshold:
		return TrendImproving
	default:
		return TrendStable
	}
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *RiskService) publishEvent(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "publish event", "type", event.Type, "error", err)
	}
}
