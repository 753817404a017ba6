package proactive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"dealguard/internal/events"
	"dealguard/internal/platform/metrics"
	id "dealguard/pkg/domain"
	dErrors "dealguard/pkg/domain-errors"
	"dealguard/pkg/platform/sentinel"
	"dealguard/pkg/requestcontext"
)

const sourceTypeDeadline = "deadline"

// AlertService turns approaching deadlines into alerts and manages the
// alert lifecycle.
type AlertService struct {
	alerts    AlertStore
	deadlines DeadlineStore
	windows   []int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher events.Publisher
}

func NewAlertService(alerts AlertStore, deadlines DeadlineStore, leadWindowDays []int, logger *slog.Logger, m *metrics.Metrics) *AlertService {
	windows := append([]int(nil), leadWindowDays...)
	if len(windows) == 0 {
		windows = []int{30, 14, 7}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(windows)))
	return &AlertService{
		alerts:    alerts,
		deadlines: deadlines,
		windows:   windows,
		logger:    logger,
		metrics:   m,
	}
}

// SetPublisher installs the lifecycle event publisher. Optional.
func (s *AlertService) SetPublisher(p events.Publisher) {
	s.publisher = p
}

// EvaluateDeadlines raises or escalates alerts for the tenant's active
// deadlines. Exactly one open alert per deadline: it is created at the
// tightest applicable window and only ever escalates. Re-running is a no-op
// when nothing moved.
func (s *AlertService) EvaluateDeadlines(ctx context.Context) (int, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}
	now := requestcontext.Now(ctx)

	deadlines, err := s.deadlines.ListActive(ctx, tenantID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "list active deadlines")
	}

	touched := 0
	for _, deadline := range deadlines {
		changed, err := s.evaluateOne(ctx, deadline, now)
		if err != nil {
			// Partial failure: log and continue with the remaining deadlines.
			s.logger.ErrorContext(ctx, "evaluate deadline",
				"deadline_id", deadline.ID.String(),
				"error", err,
			)
			continue
		}
		if changed {
			touched++
		}
	}
	return touched, nil
}

func (s *AlertService) evaluateOne(ctx context.Context, deadline *ContractDeadline, now time.Time) (bool, error) {
	days := daysUntil(deadline.Date, now)
	windowKey, severity := s.windowFor(days)
	if windowKey == "" {
		return false, nil
	}

	existing, err := s.alerts.FindOpenBySource(ctx, deadline.TenantID, sourceTypeDeadline, deadline.ID)
	if err != nil && !dErrors.Is(err, sentinel.ErrNotFound) {
		return false, err
	}

	if existing == nil || err != nil {
		alert := s.buildAlert(deadline, windowKey, severity, days, now)
		if err := s.alerts.CreateAlert(ctx, alert); err != nil {
			if dErrors.Is(err, sentinel.ErrConflict) {
				// Concurrent evaluation won the insert.
				return false, nil
			}
			return false, err
		}
		if s.metrics != nil {
			s.metrics.AlertsGenerated.WithLabelValues(string(severity)).Inc()
		}
		s.publish(ctx, events.Event{
			Type:     events.TypeAlertCreated,
			TenantID: deadline.TenantID.String(),
			Payload: map[string]any{
				"alert_id":   alert.ID.String(),
				"window_key": windowKey,
				"severity":   string(severity),
			},
		})
		return true, nil
	}

	if windowRank(windowKey) <= windowRank(existing.WindowKey) {
		return false, nil
	}

	// Escalate in place. Severity never moves down, and reaching critical
	// cancels any snooze: an overdue deadline must not stay hidden.
	existing.WindowKey = windowKey
	if severityRank(severity) > severityRank(existing.Severity) {
		existing.Severity = severity
	}
	existing.Title = alertTitle(deadline, windowKey, days)
	existing.Description = alertDescription(deadline, days)
	existing.UpdatedAt = now
	if existing.Severity == SeverityCritical {
		existing.SnoozedUntil = nil
	}
	if err := s.alerts.UpdateAlert(ctx, existing); err != nil {
		return false, err
	}
	return true, nil
}

// windowFor returns the tightest applicable window key, or "" when the
// deadline is still beyond every window.
func (s *AlertService) windowFor(days int) (string, AlertSeverity) {
	if days < 0 {
		return WindowOverdue, SeverityCritical
	}
	key := ""
	for _, w := range s.windows {
		if days <= w {
			key = fmt.Sprintf("lead_%d", w)
		}
	}
	if key == "" {
		return "", ""
	}
	return key, SeverityWarning
}

func (s *AlertService) buildAlert(deadline *ContractDeadline, windowKey string, severity AlertSeverity, days int, now time.Time) *ProactiveAlert {
	due := deadline.Date
	contractID := deadline.ContractID
	return &ProactiveAlert{
		ID:                id.NewAlertID(),
		TenantID:          deadline.TenantID,
		SourceType:        sourceTypeDeadline,
		SourceID:          deadline.ID,
		WindowKey:         windowKey,
		AlertType:         string(deadline.Type),
		Severity:          severity,
		Status:            AlertNew,
		Title:             alertTitle(deadline, windowKey, days),
		Description:       alertDescription(deadline, days),
		Recommendation:    recommendationFor(deadline),
		RecommendedActions: actionsFor(deadline),
		RelatedContractID: &contractID,
		DueDate:           &due,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func alertTitle(deadline *ContractDeadline, windowKey string, days int) string {
	label := deadlineLabel(deadline.Type)
	if windowKey == WindowOverdue {
		return fmt.Sprintf("%s overdue by %d days", label, -days)
	}
	return fmt.Sprintf("%s in %d days", label, days)
}

func alertDescription(deadline *ContractDeadline, days int) string {
	date := deadline.Date.Format("2006-01-02")
	if days < 0 {
		return fmt.Sprintf("The %s deadline passed on %s and has not been handled.",
			deadlineLabel(deadline.Type), date)
	}
	return fmt.Sprintf("The %s deadline falls on %s.", deadlineLabel(deadline.Type), date)
}

func deadlineLabel(t DeadlineType) string {
	switch t {
	case DeadlineTerminationNotice:
		return "Termination notice"
	case DeadlineAutoRenewal:
		return "Auto-renewal"
	case DeadlinePaymentDue:
		return "Payment"
	case DeadlineContractEnd:
		return "Contract end"
	default:
		return "Contract deadline"
	}
}

func recommendationFor(deadline *ContractDeadline) string {
	switch deadline.Type {
	case DeadlineTerminationNotice:
		return "Decide whether to terminate and send notice before the window closes."
	case DeadlineAutoRenewal:
		return "Review renewal terms before the contract renews automatically."
	case DeadlinePaymentDue:
		return "Confirm the payment is scheduled."
	case DeadlineContractEnd:
		return "Plan the renewal or wind-down before the contract ends."
	default:
		return "Review the clause and decide on next steps."
	}
}

func actionsFor(deadline *ContractDeadline) []string {
	actions := []string{"Review the source clause", "Assign an owner"}
	switch deadline.Type {
	case DeadlineTerminationNotice:
		actions = append(actions, "Draft the termination notice")
	case DeadlineAutoRenewal:
		actions = append(actions, "Compare renewal pricing against alternatives")
	case DeadlinePaymentDue:
		actions = append(actions, "Verify the invoice amount")
	}
	return actions
}

// daysUntil counts whole calendar days from now's date to the deadline date.
func daysUntil(date, now time.Time) int {
	nowDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dueDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return int(dueDay.Sub(nowDay).Hours() / 24)
}

// WakeSnoozed clears lapsed snoozes across all tenants. Runs hourly.
func (s *AlertService) WakeSnoozed(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.alerts.ListSnoozeExpired(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "list expired snoozes")
	}

	woken := 0
	for _, alert := range expired {
		alert.SnoozedUntil = nil
		alert.UpdatedAt = now
		if err := s.alerts.UpdateAlert(ctx, alert); err != nil {
			s.logger.ErrorContext(ctx, "wake snoozed alert",
				"alert_id", alert.ID.String(),
				"error", err,
			)
			continue
		}
		woken++
	}
	return woken, nil
}

// List returns a filtered page of the tenant's alerts.
func (s *AlertService) List(ctx context.Context, filter AlertFilter) ([]*ProactiveAlert, int, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, 0, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}
	if filter.Now.IsZero() {
		filter.Now = requestcontext.Now(ctx)
	}
	alerts, total, err := s.alerts.ListAlerts(ctx, tenantID, filter)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "list alerts")
	}
	return alerts, total, nil
}

// MarkSeen acknowledges a new alert. Idempotent for already-seen alerts.
func (s *AlertService) MarkSeen(ctx context.Context, alertID id.AlertID) (*ProactiveAlert, error) {
	alert, err := s.findOwned(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status == AlertSeen {
		return alert, nil
	}
	if alert.Status != AlertNew {
		return nil, dErrors.Newf(dErrors.CodeConflict, "alert is %s", alert.Status)
	}
	alert.Status = AlertSeen
	alert.UpdatedAt = time.Now()
	if err := s.alerts.UpdateAlert(ctx, alert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update alert")
	}
	return alert, nil
}

// validNextStatuses maps each status to the transitions it admits.
var validNextStatuses = map[AlertStatus]map[AlertStatus]bool{
	AlertNew:        {AlertSeen: true, AlertInProgress: true, AlertResolved: true, AlertDismissed: true},
	AlertSeen:       {AlertInProgress: true, AlertResolved: true, AlertDismissed: true},
	AlertInProgress: {AlertResolved: true, AlertDismissed: true},
}

// SetStatus drives the alert lifecycle. Resolved and dismissed are terminal.
func (s *AlertService) SetStatus(ctx context.Context, alertID id.AlertID, status AlertStatus) (*ProactiveAlert, error) {
	switch status {
	case AlertSeen, AlertInProgress, AlertResolved, AlertDismissed:
	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid alert status %q", status)
	}

	alert, err := s.findOwned(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status == status {
		return alert, nil
	}
	if !validNextStatuses[alert.Status][status] {
		return nil, dErrors.Newf(dErrors.CodeConflict,
			"cannot move alert from %s to %s", alert.Status, status)
	}

	alert.Status = status
	if !status.Open() {
		alert.SnoozedUntil = nil
	}
	alert.UpdatedAt = time.Now()
	if err := s.alerts.UpdateAlert(ctx, alert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update alert")
	}
	return alert, nil
}

// Snooze hides a new or seen alert from default listings until the given
// time. The alert's status is unchanged; the hourly wake pass clears the
// flag once it lapses.
func (s *AlertService) Snooze(ctx context.Context, alertID id.AlertID, until time.Time) (*ProactiveAlert, error) {
	if !until.After(requestcontext.Now(ctx)) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "snooze time must be in the future")
	}

	alert, err := s.findOwned(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status != AlertNew && alert.Status != AlertSeen {
		return nil, dErrors.Newf(dErrors.CodeConflict, "cannot snooze an alert that is %s", alert.Status)
	}

	alert.SnoozedUntil = &until
	alert.UpdatedAt = time.Now()
	if err := s.alerts.UpdateAlert(ctx, alert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update alert")
	}
	return alert, nil
}

func (s *AlertService) findOwned(ctx context.Context, alertID id.AlertID) (*ProactiveAlert, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "tenant scope missing")
	}
	alert, err := s.alerts.FindAlert(ctx, tenantID, alertID)
	if err != nil {
		if dErrors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "alert not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find alert")
	}
	return alert, nil
}

func (s *AlertService) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "publish event", "type", event.Type, "error", err)
	}
}
