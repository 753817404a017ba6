// Package contracts owns uploaded contracts and their AI analyses.
package contracts

import (
	"time"

	"github.com/google/uuid"

	id "dealguard/pkg/domain"
)

// ContractStatus mirrors the lifecycle of the contract's analysis job so
// clients can poll the contract instead of the job.
type ContractStatus string

const (
	StatusUploaded       ContractStatus = "uploaded"
	StatusPending        ContractStatus = "pending"
	StatusProcessing     ContractStatus = "processing"
	StatusRetryScheduled ContractStatus = "retry_scheduled"
	StatusCompleted      ContractStatus = "completed"
	StatusFailed         ContractStatus = "failed"
)

// RiskLevel buckets a 0-100 risk score. The thresholds are shared by
// contract analyses and tenant risk snapshots so the two surfaces never
// disagree about what "high" means.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelForScore maps a clamped score to its level: low up to 30, medium
// up to 60, high up to 80, critical above.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score <= 30:
		return RiskLow
	case score <= 60:
		return RiskMedium
	case score <= 80:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// ClampRiskScore forces a model-reported score into [0, 100].
func ClampRiskScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Contract is an uploaded document. Text is stored encrypted; only the
// analysis handler decrypts it.
type Contract struct {
	ID            id.ContractID
	TenantID      id.TenantID
	Filename      string
	MimeType      string
	FileHash      string
	FileSizeBytes int64
	PageCount     int
	ContractType  string
	Status        ContractStatus
	EncryptedText string
	CreatedBy     id.UserID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Finding is one issue the model located in the contract.
type Finding struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Clause      string `json:"clause,omitempty"`
}

// Analysis is the persisted result of one completed analysis run, including
// the usage accounting for billing reconciliation.
type Analysis struct {
	ID              uuid.UUID
	TenantID        id.TenantID
	ContractID      id.ContractID
	RiskScore       int
	RiskLevel       RiskLevel
	Summary         string
	Recommendations []string
	Findings        []Finding
	AIModel         string
	InputTokens     int
	OutputTokens    int
	CostCents       int
	ProcessingMS    int64
	CreatedAt       time.Time
}
