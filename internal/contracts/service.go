package contracts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dealguard/internal/ai"
	"dealguard/internal/document"
	"dealguard/internal/events"
	"dealguard/internal/queue"
	"dealguard/pkg/crypto"
	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/platform/sentinel"
	"dealguard/pkg/requestcontext"
)

// Enqueuer submits asynchronous work. Satisfied by queue.Gateway.
type Enqueuer interface {
	Enqueue(ctx context.Context, entityID uuid.UUID, kind queue.JobKind) (*queue.Job, bool, error)
}

// Service owns the contract upload and analysis pipeline.
type Service struct {
	store     Store
	extractor document.Extractor
	cipher    *crypto.Cipher
	enqueuer  Enqueuer
	provider  ai.Provider
	publisher events.Publisher
	logger    *slog.Logger
}

func NewService(
	store Store,
	extractor document.Extractor,
	cipher *crypto.Cipher,
	enqueuer Enqueuer,
	provider ai.Provider,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		extractor: extractor,
		cipher:    cipher,
		enqueuer:  enqueuer,
		provider:  provider,
		logger:    logger,
	}
}

// SetPublisher installs the lifecycle event publisher. Optional.
func (s *Service) SetPublisher(p events.Publisher) {
	s.publisher = p
}

// Upload ingests a document: extract text, dedupe by content hash, encrypt,
// persist, and enqueue analysis. A duplicate upload returns the tenant's
// existing contract and no new job.
func (s *Service) Upload(ctx context.Context, filename, mimeType string, data []byte) (*Contract, *queue.Job, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, nil, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}

	text, pageCount, err := s.extractor.Extract(ctx, filename, data)
	if err != nil {
		return nil, nil, err
	}

	sum := sha256.Sum256(data)
	fileHash := hex.EncodeToString(sum[:])

	if existing, err := s.store.FindByHash(ctx, tenantID, fileHash); err == nil {
		s.logger.InfoContext(ctx, "duplicate upload deduplicated",
			"contract_id", existing.ID.String(),
			"filename", filename,
		)
		return existing, nil, nil
	} else if !dErrors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "check upload hash")
	}

	encrypted, err := s.cipher.EncryptString(text)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "encrypt contract text")
	}

	now := requestcontext.Now(ctx)
	contract := &Contract{
		ID:            id.NewContractID(),
		TenantID:      tenantID,
		Filename:      filename,
		MimeType:      mimeType,
		FileHash:      fileHash,
		FileSizeBytes: int64(len(data)),
		PageCount:     pageCount,
		Status:        StatusPending,
		EncryptedText: encrypted,
		CreatedBy:     requestcontext.UserID(ctx),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateContract(ctx, contract); err != nil {
		if dErrors.Is(err, sentinel.ErrConflict) {
			// Lost a concurrent upload race; hand back the winner.
			if existing, ferr := s.store.FindByHash(ctx, tenantID, fileHash); ferr == nil {
				return existing, nil, nil
			}
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist contract")
	}

	job, _, err := s.enqueuer.Enqueue(ctx, contract.ID.UUID, queue.KindAnalyzeContract)
	if err != nil {
		return nil, nil, err
	}
	return contract, job, nil
}

// Analyze re-triggers analysis for an existing contract. Idempotent: an
// in-flight job is returned instead of a new one.
func (s *Service) Analyze(ctx context.Context, contractID id.ContractID) (*queue.Job, bool, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, false, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}

	if _, err := s.store.FindContract(ctx, tenantID, contractID); err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, false, dErrors.New(dErrors.CodeNotFound, "contract not found")
		}
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "find contract")
	}
	return s.enqueuer.Enqueue(ctx, contractID.UUID, queue.KindAnalyzeContract)
}

// Get returns the contract and, when one exists, its latest analysis.
func (s *Service) Get(ctx context.Context, contractID id.ContractID) (*Contract, *Analysis, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, nil, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}

	contract, err := s.store.FindContract(ctx, tenantID, contractID)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "contract not found")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "find contract")
	}

	analysis, err := s.store.LatestAnalysis(ctx, tenantID, contractID)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return contract, nil, nil
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "find analysis")
	}
	return contract, analysis, nil
}

// List returns the tenant's contracts, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Contract, int, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, 0, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}
	contracts, total, err := s.store.ListContracts(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "list contracts")
	}
	return contracts, total, nil
}

// ContractText decrypts and returns the contract's plain text for other
// pipeline stages. Tenant scope comes from the context.
func (s *Service) ContractText(ctx context.Context, contractID id.ContractID) (string, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return "", dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}
	contract, err := s.store.FindContract(ctx, tenantID, contractID)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeNotFound, "contract not found")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "find contract")
	}
	text, err := s.cipher.DecryptString(contract.EncryptedText)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "decrypt contract text")
	}
	return text, nil
}

// HandleAnalyzeJob is the analyze_contract job handler: decrypt, call the
// model, persist the analysis, then chain deadline extraction.
func (s *Service) HandleAnalyzeJob(ctx context.Context, job *queue.Job) error {
	tenantID := requestcontext.TenantID(ctx)
	contractID := id.ContractID{UUID: job.EntityID}

	contract, err := s.store.FindContract(ctx, tenantID, contractID)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "contract no longer exists")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load contract")
	}

	text, err := s.cipher.DecryptString(contract.EncryptedText)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "decrypt contract text")
	}

	start := time.Now()
	result, usage, err := s.analyzeText(ctx, text)
	if err != nil {
		return err
	}

	score := ClampRiskScore(result.RiskScore)
	analysis := &Analysis{
		ID:              uuid.New(),
		TenantID:        tenantID,
		ContractID:      contractID,
		RiskScore:       score,
		RiskLevel:       RiskLevelForScore(score),
		Summary:         result.Summary,
		Recommendations: result.Recommendations,
		Findings:        result.Findings,
		AIModel:         usage.Model,
		InputTokens:     usage.InputTokens,
		OutputTokens:    usage.OutputTokens,
		CostCents:       usage.CostCents,
		ProcessingMS:    time.Since(start).Milliseconds(),
		CreatedAt:       time.Now(),
	}
	if analysis.Recommendations == nil {
		analysis.Recommendations = []string{}
	}
	if analysis.Findings == nil {
		analysis.Findings = []Finding{}
	}
	if err := s.store.SaveAnalysis(ctx, analysis); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist analysis")
	}

	if contract.ContractType == "" && result.ContractType != "" {
		if err := s.store.SetContractType(ctx, tenantID, contractID, result.ContractType); err != nil {
			s.logger.WarnContext(ctx, "backfill contract type", "error", err)
		}
	}

	s.publish(ctx, events.Event{
		Type:     events.TypeAnalysisCompleted,
		TenantID: tenantID.String(),
		Payload: map[string]any{
			"contract_id": contractID.String(),
			"risk_score":  score,
			"risk_level":  string(analysis.RiskLevel),
		},
	})

	// Deadline extraction rides behind every successful analysis. A failed
	// chain enqueue is logged, not fatal: the analysis itself succeeded.
	if _, _, err := s.enqueuer.Enqueue(ctx, contractID.UUID, queue.KindExtractDeadlines); err != nil {
		s.logger.ErrorContext(ctx, "chain deadline extraction",
			"contract_id", contractID.String(),
			"error", err,
		)
	}
	return nil
}

// analyzeText runs the completion and parses it, with one corrective
// re-invocation when the model returns malformed output. A second malformed
// reply is terminal.
func (s *Service) analyzeText(ctx context.Context, text string) (*analysisResult, *ai.Response, error) {
	prompt := truncateText(text)

	resp, err := s.provider.Invoke(ctx, ai.Request{
		System:      analysisSystemPrompt,
		Prompt:      prompt,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, nil, err
	}

	result, parseErr := parseAnalysis(resp.Content)
	if parseErr == nil {
		return result, resp, nil
	}

	s.logger.WarnContext(ctx, "ai analysis malformed, requesting reparse", "error", parseErr)
	retryResp, err := s.provider.Invoke(ctx, ai.Request{
		System:      analysisSystemPrompt + "\n\n" + reparseSystemPrompt,
		Prompt:      prompt,
		Temperature: 0,
	})
	if err != nil {
		return nil, nil, err
	}

	result, parseErr = parseAnalysis(retryResp.Content)
	if parseErr != nil {
		return nil, nil, parseErr
	}
	retryResp.InputTokens += resp.InputTokens
	retryResp.OutputTokens += resp.OutputTokens
	retryResp.CostCents += resp.CostCents
	return result, retryResp, nil
}

// JobStatusChanged mirrors analyze_contract job transitions onto the
// contract so clients can poll a single resource.
func (s *Service) JobStatusChanged(ctx context.Context, job *queue.Job) {
	if job.Kind != queue.KindAnalyzeContract {
		return
	}
	contractID := id.ContractID{UUID: job.EntityID}

	var status ContractStatus
	switch job.Status {
	case queue.StatusProcessing:
		status = StatusProcessing
	case queue.StatusRetryScheduled:
		status = StatusRetryScheduled
	case queue.StatusFailed:
		status = StatusFailed
	case queue.StatusCompleted:
		// SaveAnalysis already flipped the contract atomically.
		return
	default:
		return
	}

	if err := s.store.UpdateStatus(ctx, job.TenantID, contractID, status); err != nil {
		s.logger.ErrorContext(ctx, "mirror job status",
			"contract_id", contractID.String(),
			"status", string(status),
			"error", err,
		)
		return
	}
	if status == StatusFailed {
		s.publish(ctx, events.Event{
			Type:     events.TypeAnalysisFailed,
			TenantID: job.TenantID.String(),
			Payload: map[string]any{
				"contract_id": contractID.String(),
				"reason":      job.LastError,
			},
		})
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "publish event", "type", event.Type, "error", err)
	}
}
