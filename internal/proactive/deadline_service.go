package proactive

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"dealguard/internal/ai"
	"dealguard/internal/queue"
	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/platform/sentinel"
	"dealguard/pkg/requestcontext"
)

// TextSource supplies decrypted contract text. Satisfied by the contracts
// service.
type TextSource interface {
	ContractText(ctx context.Context, contractID id.ContractID) (string, error)
}

const deadlineSystemPrompt = `You are a legal assistant extracting deadlines from a contract.
Respond with a single JSON array and nothing else. Each element:
{
  "deadline_type": "<termination_notice|auto_renewal|payment_due|contract_end|other>",
  "deadline_date": "<YYYY-MM-DD>",
  "confidence": <0.0-1.0>,
  "source_clause": "<verbatim excerpt naming the date>",
  "reminder_days": <suggested lead time in days, default 30>
}
Return [] if the contract names no concrete dates.`

const deadlineReparsePrompt = `Your previous reply was not valid JSON. Respond again with ONLY the JSON array described before. No prose, no markdown fences.`

type extractedDeadline struct {
	DeadlineType string  `json:"deadline_type"`
	DeadlineDate string  `json:"deadline_date"`
	Confidence   float64 `json:"confidence"`
	SourceClause string  `json:"source_clause"`
	ReminderDays int     `json:"reminder_days"`
}

// DeadlineService extracts deadlines from analyzed contracts and manages
// their verification lifecycle.
type DeadlineService struct {
	store    DeadlineStore
	text     TextSource
	provider ai.Provider
	logger   *slog.Logger
}

func NewDeadlineService(store DeadlineStore, text TextSource, provider ai.Provider, logger *slog.Logger) *DeadlineService {
	return &DeadlineService{
		store:    store,
		text:     text,
		provider: provider,
		logger:   logger,
	}
}

// HandleExtractJob is the extract_deadlines job handler. Unverified
// deadlines from earlier runs are replaced; verified ones survive.
func (s *DeadlineService) HandleExtractJob(ctx context.Context, job *queue.Job) error {
	tenantID := requestcontext.TenantID(ctx)
	contractID := id.ContractID{UUID: job.EntityID}

	text, err := s.text.ContractText(ctx, contractID)
	if err != nil {
		return err
	}

	extracted, err := s.extractDeadlines(ctx, text)
	if err != nil {
		return err
	}

	now := time.Now()
	deadlines := make([]*ContractDeadline, 0, len(extracted))
	for _, e := range extracted {
		date, err := time.Parse("2006-01-02", e.DeadlineDate)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping deadline with unparseable date",
				"raw_date", e.DeadlineDate,
			)
			continue
		}
		deadlineType := DeadlineType(e.DeadlineType)
		if !KnownDeadlineType(deadlineType) {
			deadlineType = DeadlineOther
		}
		reminderDays := e.ReminderDays
		if reminderDays <= 0 {
			reminderDays = 30
		}
		confidence := e.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		deadlines = append(deadlines, &ContractDeadline{
			ID:           id.NewDeadlineID(),
			TenantID:     tenantID,
			ContractID:   contractID,
			Type:         deadlineType,
			Date:         date,
			Confidence:   confidence,
			Status:       DeadlineActive,
			SourceClause: e.SourceClause,
			ReminderDays: reminderDays,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if err := s.store.ReplaceUnverified(ctx, tenantID, contractID, deadlines); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist deadlines")
	}
	s.logger.InfoContext(ctx, "deadlines extracted",
		"contract_id", contractID.String(),
		"count", len(deadlines),
	)
	return nil
}

// extractDeadlines runs the completion with one corrective re-invocation on
// malformed output.
func (s *DeadlineService) extractDeadlines(ctx context.Context, text string) ([]extractedDeadline, error) {
	resp, err := s.provider.Invoke(ctx, ai.Request{
		System:      deadlineSystemPrompt,
		Prompt:      text,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	extracted, parseErr := parseDeadlines(resp.Content)
	if parseErr == nil {
		return extracted, nil
	}

	s.logger.WarnContext(ctx, "deadline extraction malformed, requesting reparse", "error", parseErr)
	resp, err = s.provider.Invoke(ctx, ai.Request{
		System:      deadlineSystemPrompt + "\n\n" + deadlineReparsePrompt,
		Prompt:      text,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}
	return parseDeadlines(resp.Content)
}

func parseDeadlines(content string) ([]extractedDeadline, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var extracted []extractedDeadline
	if err := json.Unmarshal([]byte(trimmed), &extracted); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "deadline extraction is not valid json")
	}
	return extracted, nil
}

// ListForContract returns a contract's deadlines, soonest first.
func (s *DeadlineService) ListForContract(ctx context.Context, contractID id.ContractID) ([]*ContractDeadline, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}
	deadlines, err := s.store.ListByContract(ctx, tenantID, contractID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list deadlines")
	}
	return deadlines, nil
}

// Verify confirms a deadline. A corrected date takes effect immediately and
// confidence becomes 1.0; verified deadlines survive re-extraction.
func (s *DeadlineService) Verify(ctx context.Context, deadlineID id.DeadlineID, correctedDate *time.Time) (*ContractDeadline, error) {
	deadline, err := s.findOwned(ctx, deadlineID)
	if err != nil {
		return nil, err
	}

	deadline.IsVerified = true
	deadline.Confidence = 1.0
	if correctedDate != nil {
		deadline.Date = *correctedDate
	}
	deadline.UpdatedAt = time.Now()
	if err := s.store.UpdateDeadline(ctx, deadline); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update deadline")
	}
	return deadline, nil
}

// MarkHandled closes out an active deadline.
func (s *DeadlineService) MarkHandled(ctx context.Context, deadlineID id.DeadlineID) (*ContractDeadline, error) {
	return s.setStatus(ctx, deadlineID, DeadlineHandled)
}

// Dismiss drops a deadline the tenant does not care about.
func (s *DeadlineService) Dismiss(ctx context.Context, deadlineID id.DeadlineID) (*ContractDeadline, error) {
	return s.setStatus(ctx, deadlineID, DeadlineDismissed)
}

func (s *DeadlineService) setStatus(ctx context.Context, deadlineID id.DeadlineID, status DeadlineStatus) (*ContractDeadline, error) {
	deadline, err := s.findOwned(ctx, deadlineID)
	if err != nil {
		return nil, err
	}
	if deadline.Status != DeadlineActive {
		return nil, dErrors.Newf(dErrors.CodeConflict, "deadline is already %s", deadline.Status)
	}
	deadline.Status = status
	deadline.UpdatedAt = time.Now()
	if err := s.store.UpdateDeadline(ctx, deadline); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update deadline")
	}
	return deadline, nil
}

func (s *DeadlineService) findOwned(ctx context.Context, deadlineID id.DeadlineID) (*ContractDeadline, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}
	deadline, err := s.store.FindDeadline(ctx, tenantID, deadlineID)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "deadline not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find deadline")
	}
	return deadline, nil
}
