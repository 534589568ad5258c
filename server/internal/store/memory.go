package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/alerts"
)

// ErrDuplicateID is returned when an alert with the same ID already exists.
var ErrDuplicateID = errors.New("store: duplicate alert id")

// MemoryAlerts is an in-memory alerts.Store. RESOLVED alerts older than the
// retention window are dropped by Run; ACTIVE alerts are kept until resolved.
type MemoryAlerts struct {
	mu        sync.RWMutex
	alerts    map[string]*memAlert
	seq       uint64
	retention time.Duration
	now       func() time.Time
}

type memAlert struct {
	alert types.Alert
	seq   uint64 // insertion order, breaks CreatedAt ties
}

var _ alerts.Store = (*MemoryAlerts)(nil)

// NewMemoryAlerts returns an empty store. A zero retention keeps resolved
// alerts forever.
func NewMemoryAlerts(retention time.Duration) *MemoryAlerts {
	return &MemoryAlerts{
		alerts:    make(map[string]*memAlert),
		retention: retention,
		now:       time.Now,
	}
}

// SaveAlert stores a copy of a.
func (s *MemoryAlerts) SaveAlert(_ context.Context, a types.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, a.ID)
	}
	s.seq++
	s.alerts[a.ID] = &memAlert{alert: cloneAlert(a), seq: s.seq}
	return nil
}

// QueryAlerts returns copies of the alerts matching q, newest first.
func (s *MemoryAlerts) QueryAlerts(_ context.Context, q types.AlertQuery) ([]types.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*memAlert, 0, len(s.alerts))
	for _, m := range s.alerts {
		if q.Matches(m.alert) {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.alert.CreatedAt.Equal(b.alert.CreatedAt) {
			return a.alert.CreatedAt.After(b.alert.CreatedAt)
		}
		return a.seq > b.seq
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]types.Alert, len(matched))
	for i, m := range matched {
		out[i] = cloneAlert(m.alert)
	}
	return out, nil
}

// CountAlerts returns the number of alerts matching q. q.Limit is ignored.
func (s *MemoryAlerts) CountAlerts(_ context.Context, q types.AlertQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.alerts {
		if q.Matches(m.alert) {
			n++
		}
	}
	return n, nil
}

// UpdateAlertStatus applies the lifecycle transition described on
// alerts.Store.
func (s *MemoryAlerts) UpdateAlertStatus(_ context.Context, id string, status types.AlertStatus, resolvedAt time.Time) (alerts.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.alerts[id]
	if !ok {
		return alerts.NotFound, nil
	}
	switch status {
	case types.AlertResolved:
		if m.alert.ResolvedAt != nil {
			return alerts.Unchanged, nil
		}
		ts := resolvedAt
		m.alert.Status = types.AlertResolved
		m.alert.ResolvedAt = &ts
		return alerts.Changed, nil
	case types.AlertActive:
		if m.alert.Status == types.AlertResolved {
			return alerts.NotFound, alerts.ErrInvalidTransition
		}
		return alerts.Unchanged, nil
	default:
		return alerts.NotFound, fmt.Errorf("%w: %q", alerts.ErrInvalidStatus, status)
	}
}

// Len returns the number of alerts held.
func (s *MemoryAlerts) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

// Evict drops RESOLVED alerts whose resolution is older than now minus the
// retention window. It returns the number removed.
func (s *MemoryAlerts) Evict(now time.Time) int {
	if s.retention <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.retention)
	removed := 0
	for id, m := range s.alerts {
		if m.alert.ResolvedAt != nil && m.alert.ResolvedAt.Before(cutoff) {
			delete(s.alerts, id)
			removed++
		}
	}
	return removed
}

// Run evicts expired alerts until ctx is cancelled. It returns immediately
// when retention is disabled.
func (s *MemoryAlerts) Run(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	interval := s.retention / 10
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted resolved alerts", "count", n)
			}
		}
	}
}

func cloneAlert(a types.Alert) types.Alert {
	if a.ResolvedAt != nil {
		ts := *a.ResolvedAt
		a.ResolvedAt = &ts
	}
	return a
}
