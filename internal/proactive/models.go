// Package proactive watches analyzed contracts for upcoming deadlines,
// raises alerts ahead of them, and aggregates tenant-wide risk.
package proactive

import (
	"time"

	"github.com/google/uuid"

	id "dealguard/pkg/domain"
)

// DeadlineType classifies what happens on the deadline date.
type DeadlineType string

const (
	DeadlineTerminationNotice DeadlineType = "termination_notice"
	DeadlineAutoRenewal       DeadlineType = "auto_renewal"
	DeadlinePaymentDue        DeadlineType = "payment_due"
	DeadlineContractEnd       DeadlineType = "contract_end"
	DeadlineOther             DeadlineType = "other"
)

// KnownDeadlineType reports whether the model returned a type we track;
// anything else is coerced to DeadlineOther rather than rejected.
func KnownDeadlineType(t DeadlineType) bool {
	switch t {
	case DeadlineTerminationNotice, DeadlineAutoRenewal, DeadlinePaymentDue,
		DeadlineContractEnd, DeadlineOther:
		return true
	}
	return false
}

// DeadlineStatus tracks whether a deadline still needs attention.
type DeadlineStatus string

const (
	DeadlineActive    DeadlineStatus = "active"
	DeadlineHandled   DeadlineStatus = "handled"
	DeadlineDismissed DeadlineStatus = "dismissed"
)

// ContractDeadline is one date the AI extracted from a contract. Verified
// deadlines were confirmed (or corrected) by a human and survive
// re-extraction; unverified ones are replaced wholesale.
type ContractDeadline struct {
	ID           id.DeadlineID
	TenantID     id.TenantID
	ContractID   id.ContractID
	Type         DeadlineType
	Date         time.Time
	Confidence   float64
	IsVerified   bool
	Status       DeadlineStatus
	SourceClause string
	ReminderDays int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Alert severity and status.
type (
	AlertSeverity string
	AlertStatus   string
)

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"

	AlertNew        AlertStatus = "new"
	AlertSeen       AlertStatus = "seen"
	AlertInProgress AlertStatus = "in_progress"
	AlertResolved   AlertStatus = "resolved"
	AlertDismissed  AlertStatus = "dismissed"
)

// Open reports whether the alert still demands attention.
func (s AlertStatus) Open() bool {
	return s == AlertNew || s == AlertSeen || s == AlertInProgress
}

// Window keys order the approach to a deadline. An open alert only ever
// moves to a tighter window, never back.
const (
	WindowLead30  = "lead_30"
	WindowLead14  = "lead_14"
	WindowLead7   = "lead_7"
	WindowOverdue = "overdue"
)

// windowRank orders windows by urgency for escalation checks.
func windowRank(key string) int {
	switch key {
	case WindowLead30:
		return 1
	case WindowLead14:
		return 2
	case WindowLead7:
		return 3
	case WindowOverdue:
		return 4
	}
	return 0
}

// severityRank orders severities for escalation-only updates.
func severityRank(s AlertSeverity) int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// ProactiveAlert is one actionable notification. At most one open alert
// exists per (tenant, source, window); evaluation runs are idempotent.
type ProactiveAlert struct {
	ID                 id.AlertID
	TenantID           id.TenantID
	SourceType         string
	SourceID           id.DeadlineID
	WindowKey          string
	AlertType          string
	Severity           AlertSeverity
	Status             AlertStatus
	Title              string
	Description        string
	Recommendation     string
	RecommendedActions []string
	RelatedContractID  *id.ContractID
	DueDate            *time.Time
	SnoozedUntil       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Snoozed reports whether the alert is hidden from default listings at now.
func (a *ProactiveAlert) Snoozed(now time.Time) bool {
	return a.SnoozedUntil != nil && a.SnoozedUntil.After(now)
}

// RiskSnapshot is one day's aggregated risk picture for a tenant.
type RiskSnapshot struct {
	ID                uuid.UUID
	TenantID          id.TenantID
	SnapshotDate      time.Time
	ContractsScore    int
	PartnersScore     int
	ComplianceScore   int
	DeadlinesScore    int
	OverallScore      int
	Trend             string
	ContractCount     int
	HighRiskContracts int
	PendingDeadlines  int
	OpenAlerts        int
	CreatedAt         time.Time
}

// Trend values compare a snapshot with the preceding one. A rising overall
// score means more risk, so the trend reads "worsening".
const (
	TrendWorsening = "worsening"
	TrendImproving = "improving"
	TrendStable    = "stable"
)
