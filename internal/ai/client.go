package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dealguard/internal/platform/metrics"
	dErrors "dealguard/pkg/domain-errors"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultCallTimeout = 90 * time.Second
	defaultMaxAttempts = 2
	retryPause         = 2 * time.Second

	// Cost accounting in hundredths of a cent per 1k tokens, rounded up to
	// whole cents at the end. Matches the billing export's granularity.
	costPer1kInputCentiCents  = 15
	costPer1kOutputCentiCents = 60
)

// ClientConfig configures the chat-completions client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	CallTimeout time.Duration
	MaxAttempts int
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	http        *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxAttempts int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func NewClient(cfg ClientConfig, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "ai base url is required")
	}
	if cfg.APIKey == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "ai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	return &Client{
		http:        &http.Client{Timeout: cfg.CallTimeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
		metrics:     m,
		tracer:      otel.Tracer("dealguard/ai"),
	}, nil
}

// Invoke calls the provider with a small internal retry budget for transient
// failures. The surviving error keeps its transient classification so the
// job layer can apply its own, longer backoff.
func (c *Client) Invoke(ctx context.Context, req Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "ai.invoke",
		trace.WithAttributes(attribute.String("ai.model", c.model)),
	)
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.call(ctx, req)
		if err == nil {
			span.SetAttributes(
				attribute.Int("ai.input_tokens", resp.InputTokens),
				attribute.Int("ai.output_tokens", resp.OutputTokens),
			)
			if c.metrics != nil {
				c.metrics.ObserveAIUsage(resp.InputTokens, resp.OutputTokens, resp.CostCents)
			}
			return resp, nil
		}
		lastErr = err
		if !dErrors.HasCode(err, dErrors.CodeTransientUpstream) || attempt == c.maxAttempts {
			break
		}
		c.logger.WarnContext(ctx, "ai call failed, retrying",
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTransientUpstream, "ai call cancelled")
		case <-time.After(retryPause):
		}
	}
	return nil, lastErr
}

func (c *Client) call(ctx context.Context, req Request) (*Response, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal ai request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create ai request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransientUpstream, "ai provider unreachable")
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransientUpstream, "read ai response")
	}

	if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
		return nil, dErrors.Newf(dErrors.CodeTransientUpstream,
			"ai provider returned status %d", httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, dErrors.Newf(dErrors.CodeInternal,
			"ai provider returned status %d: %s", httpResp.StatusCode, truncateForLog(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "decode ai response")
	}
	if parsed.Error != nil {
		return nil, dErrors.Newf(dErrors.CodeInternal, "ai provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "ai response has no choices")
	}

	model := parsed.Model
	if model == "" {
		model = c.model
	}
	return &Response{
		Content:      parsed.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		CostCents:    estimateCostCents(parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens),
	}, nil
}

func estimateCostCents(inputTokens, outputTokens int) int {
	centiCents := inputTokens*costPer1kInputCentiCents/1000 + outputTokens*costPer1kOutputCentiCents/1000
	return (centiCents + 99) / 100
}

func truncateForLog(raw []byte) string {
	const max = 256
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
