// Package events publishes lifecycle events for downstream consumers
// (notification fan-out, billing, audit).
package events

import (
	"context"
	"time"
)

const (
	TypeAnalysisCompleted = "analysis.completed"
	TypeAnalysisFailed    = "analysis.failed"
	TypeAlertCreated      = "alert.created"
	TypeSnapshotCreated   = "snapshot.created"
)

// Event is one lifecycle fact. Payload carries event-specific fields and
// must stay JSON-serializable.
type Event struct {
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Publisher delivers events. Publishing is best-effort from the caller's
// point of view: services log failures and move on rather than failing the
// operation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close()                               {}
