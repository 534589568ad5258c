package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/metrics"
)

const (
	DefaultAlertTopic   = "alerts"
	DefaultReadingTopic = "readings"
	DefaultPushTimeout  = 2 * time.Second
)

// Config tunes a Dispatcher.
type Config struct {
	AlertTopic   string
	ReadingTopic string
	// PushTimeout bounds each push attempt.
	PushTimeout time.Duration
}

// Dispatcher applies a Policy and pushes notifications through a Pusher.
type Dispatcher struct {
	pusher Pusher
	policy Policy
	cfg    Config
	now    func() time.Time
}

// NewDispatcher returns a Dispatcher. A nil policy means AlwaysSend.
func NewDispatcher(p Pusher, policy Policy, cfg Config) *Dispatcher {
	if policy == nil {
		policy = AlwaysSend
	}
	if cfg.AlertTopic == "" {
		cfg.AlertTopic = DefaultAlertTopic
	}
	if cfg.ReadingTopic == "" {
		cfg.ReadingTopic = DefaultReadingTopic
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = DefaultPushTimeout
	}
	return &Dispatcher{pusher: p, policy: policy, cfg: cfg, now: time.Now}
}

// Send pushes n unless the policy suppresses it, in which case n is marked
// Suppressed and Send returns nil. A push failure is returned.
func (d *Dispatcher) Send(ctx context.Context, n *Notification) error {
	if !d.policy.ShouldSend(*n) {
		n.Suppressed = true
		metrics.NotificationsSent.WithLabelValues(string(n.Kind), "suppressed").Inc()
		slog.Debug("notify: suppressed", "kind", n.Kind, "topic", n.Topic, "sensor_id", n.SensorID())
		return nil
	}
	if n.SentAt.IsZero() {
		n.SentAt = d.now().UTC()
	}

	pushCtx, cancel := context.WithTimeout(ctx, d.cfg.PushTimeout)
	defer cancel()

	if err := d.pusher.Push(pushCtx, n.Topic, *n); err != nil {
		metrics.NotificationsSent.WithLabelValues(string(n.Kind), "failed").Inc()
		slog.Error("notify: push failed",
			"kind", n.Kind,
			"topic", n.Topic,
			"sensor_id", n.SensorID(),
			"err", err,
		)
		return err
	}
	metrics.NotificationsSent.WithLabelValues(string(n.Kind), "sent").Inc()
	return nil
}

// NotifyAlert implements alerts.Notifier.
func (d *Dispatcher) NotifyAlert(ctx context.Context, a types.Alert) error {
	n := ForAlert(d.cfg.AlertTopic, a)
	return d.Send(ctx, &n)
}

// NotifyReading pushes r on the reading topic.
func (d *Dispatcher) NotifyReading(ctx context.Context, r types.Reading) error {
	n := ForReading(d.cfg.ReadingTopic, r)
	return d.Send(ctx, &n)
}

// ReadingBroadcaster is the dispatch observer that forwards every reading
// to real-time subscribers.
type ReadingBroadcaster struct {
	d *Dispatcher
}

// NewReadingBroadcaster returns a broadcaster over d.
func NewReadingBroadcaster(d *Dispatcher) *ReadingBroadcaster {
	return &ReadingBroadcaster{d: d}
}

func (b *ReadingBroadcaster) Name() string { return "broadcast" }

func (b *ReadingBroadcaster) OnReading(ctx context.Context, r types.Reading) error {
	return b.d.NotifyReading(ctx, r)
}
