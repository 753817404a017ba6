// Package ai wraps the language-model provider behind a small typed port so
// pipeline services never touch HTTP details or provider response shapes.
package ai

import "context"

// Request is one completion call. System sets behavior, Prompt carries the
// document payload.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response carries the completion plus the usage accounting the pipeline
// persists with each analysis.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	CostCents    int
}

// Provider executes completion calls. Implementations classify failures:
// network faults, timeouts, and 5xx/429 responses surface as transient
// errors so the job layer can retry; everything else is permanent.
type Provider interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}
