package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/metrics"
)

const defaultQueryLimit = 100

var (
	// ErrInvalidTransition is returned when a RESOLVED alert is asked to
	// become ACTIVE again.
	ErrInvalidTransition = errors.New("alerts: invalid status transition")
	// ErrInvalidStatus is returned for a status other than ACTIVE or RESOLVED.
	ErrInvalidStatus = errors.New("alerts: invalid status")
)

// Outcome reports what a status update did.
type Outcome int

const (
	// NotFound means no alert has the id.
	NotFound Outcome = iota
	// Unchanged means the alert already had the requested status.
	Unchanged
	// Changed means the alert moved to the requested status.
	Changed
)

func (o Outcome) String() string {
	switch o {
	case NotFound:
		return "not found"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Store persists alerts. Implementations own their concurrency control.
//
// UpdateAlertStatus returns NotFound with a nil error when id is unknown.
// Moving to RESOLVED sets resolved_at only if it is not already set, and
// reports Changed only for that first resolution.
// Moving a RESOLVED alert to ACTIVE returns ErrInvalidTransition.
//
// CountAlerts counts the alerts matching q and ignores q.Limit.
type Store interface {
	SaveAlert(ctx context.Context, a types.Alert) error
	QueryAlerts(ctx context.Context, q types.AlertQuery) ([]types.Alert, error)
	CountAlerts(ctx context.Context, q types.AlertQuery) (int, error)
	UpdateAlertStatus(ctx context.Context, id string, status types.AlertStatus, resolvedAt time.Time) (Outcome, error)
}

// RuleSource looks up the threshold rule for a sensor type.
type RuleSource interface {
	Lookup(sensorType string) (types.ThresholdRule, bool)
}

// Notifier is told about every newly created alert.
type Notifier interface {
	NotifyAlert(ctx context.Context, a types.Alert) error
}

// Config tunes the Manager.
type Config struct {
	// DedupActive skips a breach when the same sensor already has an ACTIVE
	// alert of the same type.
	DedupActive bool
	// QueryLimit caps QueryAlerts when the query carries no limit.
	QueryLimit int
}

// Manager creates alerts from WARNING readings and serves queries and
// status updates over the Store. It is an observer of the reading
// dispatcher.
//
// Manager is safe for concurrent use.
type Manager struct {
	store    Store
	rules    RuleSource
	notifier Notifier
	cfg      Config

	mu    sync.Mutex // serializes the dedup check with the save
	now   func() time.Time
	newID func() string
}

// NewManager returns a Manager. notifier may be nil.
func NewManager(store Store, rules RuleSource, notifier Notifier, cfg Config) *Manager {
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = defaultQueryLimit
	}
	return &Manager{
		store:    store,
		rules:    rules,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Name implements dispatch.Observer.
func (m *Manager) Name() string { return "alerts" }

// OnReading creates an ACTIVE alert for a WARNING reading and notifies it.
// Readings with any other status are ignored. A notify failure is returned
// after the alert has been saved; the alert is not rolled back.
func (m *Manager) OnReading(ctx context.Context, r types.Reading) error {
	if r.Status != types.StatusWarning {
		return nil
	}
	rule, ok := m.rules.Lookup(r.SensorType)
	if !ok {
		// A WARNING status implies a registered rule.
		return fmt.Errorf("alerts: no rule for sensor type %q", r.SensorType)
	}

	a := types.Alert{
		ID:             m.newID(),
		SensorID:       r.SensorID,
		SensorType:     r.SensorType,
		LocationID:     r.LocationID,
		RelicsID:       r.RelicsID,
		AlertType:      types.AlertTypeFor(r.SensorType),
		Severity:       types.SeverityWarning,
		Message:        message(r, rule),
		CurrentReading: r.Value,
		Threshold:      rule,
		Status:         types.AlertActive,
		CreatedAt:      m.now().UTC(),
	}

	created, err := m.save(ctx, a)
	if err != nil || !created {
		return err
	}

	metrics.AlertsCreated.WithLabelValues(a.AlertType).Inc()
	slog.Warn("alerts: alert created",
		"id", a.ID,
		"sensor_id", a.SensorID,
		"alert_type", a.AlertType,
		"value", a.CurrentReading,
	)

	if m.notifier == nil {
		return nil
	}
	if err := m.notifier.NotifyAlert(ctx, a); err != nil {
		return fmt.Errorf("alerts: notify %s: %w", a.ID, err)
	}
	return nil
}

// save persists a unless dedup finds an ACTIVE alert for the same sensor
// and alert type. It reports whether a was saved.
func (m *Manager) save(ctx context.Context, a types.Alert) (bool, error) {
	if m.cfg.DedupActive {
		m.mu.Lock()
		defer m.mu.Unlock()

		existing, err := m.store.QueryAlerts(ctx, types.AlertQuery{
			SensorID:  a.SensorID,
			AlertType: a.AlertType,
			Status:    types.AlertActive,
			Limit:     1,
		})
		if err != nil {
			return false, fmt.Errorf("alerts: dedup lookup: %w", err)
		}
		if len(existing) > 0 {
			metrics.AlertsDeduplicated.Inc()
			slog.Debug("alerts: breach skipped, alert already active",
				"sensor_id", a.SensorID,
				"alert_type", a.AlertType,
				"active_id", existing[0].ID,
			)
			return false, nil
		}
	}

	if err := m.store.SaveAlert(ctx, a); err != nil {
		return false, fmt.Errorf("alerts: save %s: %w", a.ID, err)
	}
	return true, nil
}

// QueryAlerts returns alerts matching q, newest first. A non-positive limit
// falls back to the configured query limit.
func (m *Manager) QueryAlerts(ctx context.Context, q types.AlertQuery) ([]types.Alert, error) {
	if q.Limit <= 0 {
		q.Limit = m.cfg.QueryLimit
	}
	out, err := m.store.QueryAlerts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("alerts: query: %w", err)
	}
	return out, nil
}

// ActiveAlerts is shorthand for QueryAlerts with Status ACTIVE.
func (m *Manager) ActiveAlerts(ctx context.Context) ([]types.Alert, error) {
	return m.QueryAlerts(ctx, types.AlertQuery{Status: types.AlertActive})
}

// CountAlerts returns the number of alerts matching q, without any limit.
func (m *Manager) CountAlerts(ctx context.Context, q types.AlertQuery) (int, error) {
	n, err := m.store.CountAlerts(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("alerts: count: %w", err)
	}
	return n, nil
}

// UpdateAlertStatus moves alert id to status. It reports false when no
// alert has that id. Resolving an already resolved alert succeeds and keeps
// the original resolution time.
func (m *Manager) UpdateAlertStatus(ctx context.Context, id string, status types.AlertStatus) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	out, err := m.store.UpdateAlertStatus(ctx, id, status, m.now().UTC())
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return false, err
		}
		return false, fmt.Errorf("alerts: update %s: %w", id, err)
	}
	if out == Changed && status == types.AlertResolved {
		metrics.AlertsResolved.Inc()
		slog.Info("alerts: alert resolved", "id", id)
	}
	return out != NotFound, nil
}

func message(r types.Reading, rule types.ThresholdRule) string {
	where := r.LocationID
	if where == "" {
		where = "unknown location"
	}
	switch r.SensorType {
	case types.SensorGas:
		return fmt.Sprintf("%s reading %.2f%s from sensor %s at %s exceeds max %.2f",
			r.SensorType, r.Value, r.Unit, r.SensorID, where, rule.Max)
	default:
		return fmt.Sprintf("%s reading %.2f%s from sensor %s at %s is outside [%.2f, %.2f]",
			r.SensorType, r.Value, r.Unit, r.SensorID, where, rule.Min, rule.Max)
	}
}
