package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/metrics"
)

// Subject owns the observer set and delivers readings to it.
//
// Subject is safe for concurrent use. Readers never take a lock.
type Subject struct {
	mu        sync.Mutex // serializes writers
	observers atomic.Pointer[[]Observer]
	timeout   time.Duration
}

// Option configures a Subject.
type Option func(*Subject)

// WithObserverTimeout bounds each OnReading call with a derived deadline.
// Zero disables the bound.
func WithObserverTimeout(d time.Duration) Option {
	return func(s *Subject) { s.timeout = d }
}

// NewSubject returns a Subject with no observers.
func NewSubject(opts ...Option) *Subject {
	s := &Subject{}
	empty := []Observer{}
	s.observers.Store(&empty)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register appends o to the observer set. Registering the same observer
// twice delivers to it twice.
func (s *Subject) Register(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.observers.Load()
	next := make([]Observer, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, o)
	s.observers.Store(&next)
}

// Unregister removes the first occurrence of o. It reports whether o was
// registered.
func (s *Subject) Unregister(o Observer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.observers.Load()
	for i, existing := range cur {
		if existing == o {
			next := make([]Observer, 0, len(cur)-1)
			next = append(next, cur[:i]...)
			next = append(next, cur[i+1:]...)
			s.observers.Store(&next)
			return true
		}
	}
	return false
}

// Observers returns a snapshot of the observer set in registration order.
func (s *Subject) Observers() []Observer {
	cur := *s.observers.Load()
	out := make([]Observer, len(cur))
	copy(out, cur)
	return out
}

// Len returns the number of registered observers.
func (s *Subject) Len() int { return len(*s.observers.Load()) }

// DispatchOne delivers r to every observer in registration order.
func (s *Subject) DispatchOne(ctx context.Context, r types.Reading) error {
	return s.DispatchBatch(ctx, []types.Reading{r})
}

// DispatchBatch delivers rs observer by observer: each observer receives the
// whole batch in order before the next observer sees any of it. The returned
// error joins one *ObserverError per failed delivery.
func (s *Subject) DispatchBatch(ctx context.Context, rs []types.Reading) error {
	if len(rs) == 0 {
		return nil
	}
	observers := *s.observers.Load()
	if len(observers) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	var errs []error
	for _, o := range observers {
		for _, r := range rs {
			if err := s.deliver(ctx, o, r); err != nil {
				metrics.ObserverFailures.WithLabelValues(o.Name()).Inc()
				slog.Error("dispatch: observer failed",
					"observer", o.Name(),
					"sensor_id", r.SensorID,
					"sensor_type", r.SensorType,
					"err", err,
				)
				errs = append(errs, &ObserverError{Observer: o.Name(), SensorID: r.SensorID, Err: err})
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Subject) deliver(ctx context.Context, o Observer, r types.Reading) (err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	defer func() {
		if v := recover(); v != nil {
			metrics.PanicsRecovered.WithLabelValues("observer").Inc()
			err = &PanicError{Value: v}
		}
	}()
	return o.OnReading(ctx, r)
}
