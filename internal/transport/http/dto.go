package http

import (
	"time"

	"dealguard/internal/contracts"
	"dealguard/internal/proactive"
	"dealguard/internal/queue"
)

// Response views. Persistence models never serialize directly; these shapes
// are the API contract.

type contractView struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	MimeType      string    `json:"mime_type"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type analysisView struct {
	RiskScore       int                 `json:"risk_score"`
	RiskLevel       string              `json:"risk_level"`
	Summary         string              `json:"summary"`
	Recommendations []string            `json:"recommendations"`
	Findings        []contracts.Finding `json:"findings"`
	AIModel         string              `json:"ai_model"`
	CostCents       int                 `json:"cost_cents"`
	CreatedAt       time.Time           `json:"created_at"`
}

type contractDetail struct {
	contractView
	Analysis *analysisView `json:"analysis,omitempty"`
}

type jobView struct {
	ID         string     `json:"id"`
	EntityID   string     `json:"entity_id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	RetryCount int        `json:"retry_count"`
	LastError  string     `json:"last_error,omitempty"`
	RunAt      time.Time  `json:"run_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type deadlineView struct {
	ID           string    `json:"id"`
	ContractID   string    `json:"contract_id"`
	Type         string    `json:"type"`
	Date         string    `json:"date"`
	Confidence   float64   `json:"confidence"`
	IsVerified   bool      `json:"is_verified"`
	Status       string    `json:"status"`
	SourceClause string    `json:"source_clause,omitempty"`
	ReminderDays int       `json:"reminder_days"`
	CreatedAt    time.Time `json:"created_at"`
}

type alertView struct {
	ID                 string     `json:"id"`
	AlertType          string     `json:"alert_type"`
	Severity           string     `json:"severity"`
	Status             string     `json:"status"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Recommendation     string     `json:"recommendation,omitempty"`
	RecommendedActions []string   `json:"recommended_actions,omitempty"`
	RelatedContractID  *string    `json:"related_contract_id,omitempty"`
	DueDate            *time.Time `json:"due_date,omitempty"`
	SnoozedUntil       *time.Time `json:"snoozed_until,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type pageView[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

func toContractView(c *contracts.Contract) contractView {
	return contractView{
		ID:            c.ID.String(),
		Filename:      c.Filename,
		MimeType:      c.MimeType,
		FileSizeBytes: c.FileSizeBytes,
		Status:        string(c.Status),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func toAnalysisView(a *contracts.Analysis) *analysisView {
	if a == nil {
		return nil
	}
	return &analysisView{
		RiskScore:       a.RiskScore,
		RiskLevel:       string(a.RiskLevel),
		Summary:         a.Summary,
		Recommendations: a.Recommendations,
		Findings:        a.Findings,
		AIModel:         a.AIModel,
		CostCents:       a.CostCents,
		CreatedAt:       a.CreatedAt,
	}
}

func toJobView(j *queue.Job) jobView {
	return jobView{
		ID:         j.ID.String(),
		EntityID:   j.EntityID.String(),
		Kind:       string(j.Kind),
		Status:     string(j.Status),
		RetryCount: j.RetryCount,
		LastError:  j.LastError,
		RunAt:      j.RunAt,
		FinishedAt: j.FinishedAt,
		CreatedAt:  j.CreatedAt,
	}
}

func toDeadlineView(d *proactive.ContractDeadline) deadlineView {
	return deadlineView{
		ID:           d.ID.String(),
		ContractID:   d.ContractID.String(),
		Type:         string(d.Type),
		Date:         d.Date.Format("2006-01-02"),
		Confidence:   d.Confidence,
		IsVerified:   d.IsVerified,
		Status:       string(d.Status),
		SourceClause: d.SourceClause,
		ReminderDays: d.ReminderDays,
		CreatedAt:    d.CreatedAt,
	}
}

func toAlertView(a *proactive.ProactiveAlert) alertView {
	view := alertView{
		ID:                 a.ID.String(),
		AlertType:          a.AlertType,
		Severity:           string(a.Severity),
		Status:             string(a.Status),
		Title:              a.Title,
		Description:        a.Description,
		Recommendation:     a.Recommendation,
		RecommendedActions: a.RecommendedActions,
		DueDate:            a.DueDate,
		SnoozedUntil:       a.SnoozedUntil,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
	if a.RelatedContractID != nil {
		s := a.RelatedContractID.String()
		view.RelatedContractID = &s
	}
	return view
}
