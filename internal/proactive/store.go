package proactive

import (
	"context"
	"time"

	id "dealguard/pkg/domain"
)

// DeadlineStore persists extracted deadlines.
type DeadlineStore interface {
	// ReplaceUnverified swaps the contract's unverified deadlines for the
	// fresh extraction in one step; verified rows are untouched.
	ReplaceUnverified(ctx context.Context, tenantID id.TenantID, contractID id.ContractID, deadlines []*ContractDeadline) error

	FindDeadline(ctx context.Context, tenantID id.TenantID, deadlineID id.DeadlineID) (*ContractDeadline, error)

	// ListByContract returns all deadlines for a contract, soonest first.
	ListByContract(ctx context.Context, tenantID id.TenantID, contractID id.ContractID) ([]*ContractDeadline, error)

	// ListActive returns the tenant's active deadlines, soonest first.
	ListActive(ctx context.Context, tenantID id.TenantID) ([]*ContractDeadline, error)

	UpdateDeadline(ctx context.Context, deadline *ContractDeadline) error
}

// AlertFilter narrows List results. Zero values mean "any".
type AlertFilter struct {
	Status       AlertStatus
	Severity     AlertSeverity
	IncludeAll   bool // include resolved, dismissed, and snoozed alerts
	Now          time.Time
	Limit        int
	Offset       int
}

// AlertStore persists proactive alerts. The open-key uniqueness (one open
// alert per tenant/source/window) lives here.
type AlertStore interface {
	// CreateAlert inserts the alert; sentinel.ErrConflict when an open alert
	// already holds the same (source, window) key.
	CreateAlert(ctx context.Context, alert *ProactiveAlert) error

	FindAlert(ctx context.Context, tenantID id.TenantID, alertID id.AlertID) (*ProactiveAlert, error)

	// FindOpenBySource returns the open alert for a source regardless of
	// window, or sentinel.ErrNotFound.
	FindOpenBySource(ctx context.Context, tenantID id.TenantID, sourceType string, sourceID id.DeadlineID) (*ProactiveAlert, error)

	UpdateAlert(ctx context.Context, alert *ProactiveAlert) error

	// ListAlerts returns a filtered page plus the total match count.
	ListAlerts(ctx context.Context, tenantID id.TenantID, filter AlertFilter) ([]*ProactiveAlert, int, error)

	// ListSnoozeExpired returns alerts across all tenants whose snooze has
	// lapsed by now.
	ListSnoozeExpired(ctx context.Context, now time.Time) ([]*ProactiveAlert, error)

	// CountOpen counts the tenant's open alerts, snoozed included.
	CountOpen(ctx context.Context, tenantID id.TenantID) (int, error)
}

// SnapshotStore persists daily risk snapshots.
type SnapshotStore interface {
	// UpsertSnapshot writes the snapshot, overwriting any existing snapshot
	// for the same tenant and date.
	UpsertSnapshot(ctx context.Context, snapshot *RiskSnapshot) error

	// LatestSnapshot returns the tenant's newest snapshot, or
	// sentinel.ErrNotFound.
	LatestSnapshot(ctx context.Context, tenantID id.TenantID) (*RiskSnapshot, error)

	// LatestSnapshotBefore returns the newest snapshot strictly before the
	// date, for trend computation.
	LatestSnapshotBefore(ctx context.Context, tenantID id.TenantID, date time.Time) (*RiskSnapshot, error)
}

// SignalStore holds externally supplied category scores (partner vetting,
// compliance reviews) that feed the aggregate alongside computed categories.
type SignalStore interface {
	// CategoryScore returns the stored score for a category, or 0 when none
	// has been recorded.
	CategoryScore(ctx context.Context, tenantID id.TenantID, category string) (int, error)

	UpsertSignal(ctx context.Context, tenantID id.TenantID, category string, score int) error
}
