package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relicwatch/relicwatch/server/internal/bus"
)

// NATSConfig configures a NATSSource.
type NATSConfig struct {
	Subjects []string
	Queue    string
}

// Subscriber is the part of bus.Subscriber a NATSSource uses.
type Subscriber interface {
	Subscribe(subject, queue string, handler bus.MsgHandler) (bus.Unsubscriber, error)
}

// NATSSource feeds messages from NATS subjects into a handler. Handlers run
// on the NATS subscription goroutines.
type NATSSource struct {
	cfg    NATSConfig
	sub    Subscriber
	handle HandlerFunc
}

// NewNATSSource returns a source over sub.
func NewNATSSource(cfg NATSConfig, sub Subscriber, handle HandlerFunc) (*NATSSource, error) {
	if len(cfg.Subjects) == 0 {
		return nil, errors.New("ingest: nats subjects are required")
	}
	return &NATSSource{cfg: cfg, sub: sub, handle: handle}, nil
}

// Run subscribes to every subject and blocks until ctx is cancelled, then
// unsubscribes.
func (s *NATSSource) Run(ctx context.Context) error {
	var subs []bus.Unsubscriber
	defer func() {
		for _, u := range subs {
			if err := u.Unsubscribe(); err != nil {
				slog.Warn("ingest: nats unsubscribe", "err", err)
			}
		}
	}()

	for _, subject := range s.cfg.Subjects {
		u, err := s.sub.Subscribe(subject, s.cfg.Queue, func(subj string, data []byte) {
			// Errors are logged by the receiver.
			_ = s.handle(ctx, subj, data)
		})
		if err != nil {
			return fmt.Errorf("ingest: subscribe %s: %w", subject, err)
		}
		subs = append(subs, u)
	}
	slog.Info("ingest: nats source started", "subjects", s.cfg.Subjects, "queue", s.cfg.Queue)

	<-ctx.Done()
	return nil
}
