package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/relicwatch/relicwatch/pkg/types"
)

// Entry is a sensor's latest reading together with the time it was stored.
type Entry struct {
	Reading   types.Reading `json:"reading"`
	UpdatedAt time.Time     `json:"updated_at"`
	// Warnings counts WARNING readings seen for the sensor since it was
	// first stored.
	Warnings int `json:"warnings"`
	Total    int `json:"total"`
}

// Readings is a thread-safe latest-reading store keyed by sensor ID.
// A background goroutine (Run) periodically evicts sensors that have not
// reported within the configured TTL.
type Readings struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// NewReadings creates a Readings store with the given TTL.
func NewReadings(ttl time.Duration) *Readings {
	return &Readings{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Name implements dispatch.Observer.
func (s *Readings) Name() string { return "readings" }

// OnReading implements dispatch.Observer by storing r.
func (s *Readings) OnReading(_ context.Context, r types.Reading) error {
	s.Put(r)
	return nil
}

// Put stores r as the latest reading of r.SensorID.
func (s *Readings) Put(r types.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[r.SensorID]
	if !ok {
		e = &Entry{}
		s.data[r.SensorID] = e
	}
	e.Reading = r
	e.UpdatedAt = s.now()
	e.Total++
	if r.Status == types.StatusWarning {
		e.Warnings++
	}
}

// Get returns a copy of the Entry for sensorID. The entry may be stale if
// the TTL has elapsed.
func (s *Readings) Get(sensorID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[sensorID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List returns the entries updated within the TTL, sorted by sensor ID.
func (s *Readings) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reading.SensorID < out[j].Reading.SensorID })
	return out
}

// TTL returns the staleness window configured at construction.
func (s *Readings) TTL() time.Duration { return s.ttl }

// Count returns the total number of entries held, including stale ones.
func (s *Readings) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Readings) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second) and blocks until ctx is cancelled.
func (s *Readings) Run(ctx context.Context) {
	interval := s.ttl / 2
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
				slog.Debug("store: evicted stale sensors", "count", n)
			}
		}
	}
}
