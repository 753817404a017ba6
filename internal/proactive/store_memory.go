package proactive

import (
	"context"
	"sort"
	"sync"
	"time"

	id "dealguard/pkg/domain"
	"dealguard/pkg/platform/sentinel"
)

// InMemoryStore backs all proactive sub-stores for tests and single-process
// setups.
type InMemoryStore struct {
	mu        sync.Mutex
	deadlines map[id.DeadlineID]*ContractDeadline
	alerts    map[id.AlertID]*ProactiveAlert
	snapshots []*RiskSnapshot
	signals   map[signalKey]int
}

type signalKey struct {
	tenant   id.TenantID
	category string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		deadlines: make(map[id.DeadlineID]*ContractDeadline),
		alerts:    make(map[id.AlertID]*ProactiveAlert),
		signals:   make(map[signalKey]int),
	}
}

func (s *InMemoryStore) ReplaceUnverified(_ context.Context, tenantID id.TenantID, contractID id.ContractID, deadlines []*ContractDeadline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for deadlineID, d := range s.deadlines {
		if d.TenantID == tenantID && d.ContractID == contractID && !d.IsVerified {
			delete(s.deadlines, deadlineID)
		}
	}
	for _, d := range deadlines {
		copied := *d
		s.deadlines[d.ID] = &copied
	}
	return nil
}

func (s *InMemoryStore) FindDeadline(_ context.Context, tenantID id.TenantID, deadlineID id.DeadlineID) (*ContractDeadline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deadlines[deadlineID]
	if !ok || d.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (s *InMemoryStore) ListByContract(_ context.Context, tenantID id.TenantID, contractID id.ContractID) ([]*ContractDeadline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ContractDeadline
	for _, d := range s.deadlines {
		if d.TenantID == tenantID && d.ContractID == contractID {
			copied := *d
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *InMemoryStore) ListActive(_ context.Context, tenantID id.TenantID) ([]*ContractDeadline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ContractDeadline
	for _, d := range s.deadlines {
		if d.TenantID == tenantID && d.Status == DeadlineActive {
			copied := *d
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *InMemoryStore) UpdateDeadline(_ context.Context, deadline *ContractDeadline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.deadlines[deadline.ID]
	if !ok || existing.TenantID != deadline.TenantID {
		return sentinel.ErrNotFound
	}
	copied := *deadline
	s.deadlines[deadline.ID] = &copied
	return nil
}

func (s *InMemoryStore) CreateAlert(_ context.Context, alert *ProactiveAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.alerts {
		if existing.TenantID == alert.TenantID &&
			existing.SourceType == alert.SourceType &&
			existing.SourceID == alert.SourceID &&
			existing.WindowKey == alert.WindowKey &&
			existing.Status.Open() {
			return sentinel.ErrConflict
		}
	}
	copied := *alert
	s.alerts[alert.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindAlert(_ context.Context, tenantID id.TenantID, alertID id.AlertID) (*ProactiveAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[alertID]
	if !ok || alert.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	copied := *alert
	return &copied, nil
}

func (s *InMemoryStore) FindOpenBySource(_ context.Context, tenantID id.TenantID, sourceType string, sourceID id.DeadlineID) (*ProactiveAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alert := range s.alerts {
		if alert.TenantID == tenantID &&
			alert.SourceType == sourceType &&
			alert.SourceID == sourceID &&
			alert.Status.Open() {
			copied := *alert
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) UpdateAlert(_ context.Context, alert *ProactiveAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.alerts[alert.ID]
	if !ok || existing.TenantID != alert.TenantID {
		return sentinel.ErrNotFound
	}
	copied := *alert
	s.alerts[alert.ID] = &copied
	return nil
}

func (s *InMemoryStore) ListAlerts(_ context.Context, tenantID id.TenantID, filter AlertFilter) ([]*ProactiveAlert, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}

	var matched []*ProactiveAlert
	for _, alert := range s.alerts {
		if alert.TenantID != tenantID {
			continue
		}
		if !alertMatches(alert, filter, now) {
			continue
		}
		copied := *alert
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if filter.Limit <= 0 || end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func alertMatches(alert *ProactiveAlert, filter AlertFilter, now time.Time) bool {
	if filter.Status != "" {
		if alert.Status != filter.Status {
			return false
		}
	} else if !filter.IncludeAll && !alert.Status.Open() {
		return false
	}
	if filter.Severity != "" && alert.Severity != filter.Severity {
		return false
	}
	if !filter.IncludeAll && alert.Snoozed(now) {
		return false
	}
	return true
}

func (s *InMemoryStore) ListSnoozeExpired(_ context.Context, now time.Time) ([]*ProactiveAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ProactiveAlert
	for _, alert := range s.alerts {
		if alert.SnoozedUntil != nil && !alert.SnoozedUntil.After(now) {
			copied := *alert
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CountOpen(_ context.Context, tenantID id.TenantID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, alert := range s.alerts {
		if alert.TenantID == tenantID && alert.Status.Open() {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) UpsertSnapshot(_ context.Context, snapshot *RiskSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := snapshot.SnapshotDate.Format("2006-01-02")
	for i, existing := range s.snapshots {
		if existing.TenantID == snapshot.TenantID && existing.SnapshotDate.Format("2006-01-02") == day {
			copied := *snapshot
			s.snapshots[i] = &copied
			return nil
		}
	}
	copied := *snapshot
	s.snapshots = append(s.snapshots, &copied)
	return nil
}

func (s *InMemoryStore) LatestSnapshot(_ context.Context, tenantID id.TenantID) (*RiskSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *RiskSnapshot
	for _, snap := range s.snapshots {
		if snap.TenantID != tenantID {
			continue
		}
		if latest == nil || snap.SnapshotDate.After(latest.SnapshotDate) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *InMemoryStore) LatestSnapshotBefore(_ context.Context, tenantID id.TenantID, date time.Time) (*RiskSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *RiskSnapshot
	for _, snap := range s.snapshots {
		if snap.TenantID != tenantID || !snap.SnapshotDate.Before(date) {
			continue
		}
		if latest == nil || snap.SnapshotDate.After(latest.SnapshotDate) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *InMemoryStore) CategoryScore(_ context.Context, tenantID id.TenantID, category string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signals[signalKey{tenant: tenantID, category: category}], nil
}

func (s *InMemoryStore) UpsertSignal(_ context.Context, tenantID id.TenantID, category string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[signalKey{tenant: tenantID, category: category}] = score
	return nil
}
