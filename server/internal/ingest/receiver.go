package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/metrics"
	"github.com/relicwatch/relicwatch/server/internal/parser"
)

// Parser turns one transport message into readings.
type Parser interface {
	Parse(topic string, payload []byte) ([]types.Reading, error)
}

// Dispatcher fans readings out to observers.
type Dispatcher interface {
	DispatchBatch(ctx context.Context, rs []types.Reading) error
}

// HandlerFunc handles one transport message.
type HandlerFunc func(ctx context.Context, topic string, payload []byte) error

// Receiver runs parse then dispatch for every message.
type Receiver struct {
	parser     Parser
	dispatcher Dispatcher
}

// NewReceiver wires p to d.
func NewReceiver(p Parser, d Dispatcher) *Receiver {
	return &Receiver{parser: p, dispatcher: d}
}

// Handle processes a message that did not come from a named transport.
func (r *Receiver) Handle(ctx context.Context, topic string, payload []byte) error {
	return r.handle(ctx, "direct", topic, payload)
}

// Handler returns a HandlerFunc that labels its metrics with source.
func (r *Receiver) Handler(source string) HandlerFunc {
	return func(ctx context.Context, topic string, payload []byte) error {
		return r.handle(ctx, source, topic, payload)
	}
}

func (r *Receiver) handle(ctx context.Context, source, topic string, payload []byte) error {
	readings, err := r.parser.Parse(topic, payload)
	if err != nil {
		metrics.ParseErrors.WithLabelValues(source).Inc()
		var pe *parser.ParseError
		if errors.As(err, &pe) {
			slog.Warn("ingest: dropping malformed message",
				"source", source,
				"topic", topic,
				"reason", pe.Reason,
				"err", pe.Err,
			)
		} else {
			slog.Warn("ingest: dropping message", "source", source, "topic", topic, "err", err)
		}
		return err
	}

	for _, rd := range readings {
		metrics.ReadingsIngested.WithLabelValues(rd.SensorType, string(rd.Status)).Inc()
	}

	// Observer failures are already logged and counted by the dispatcher.
	if err := r.dispatcher.DispatchBatch(ctx, readings); err != nil {
		slog.Debug("ingest: dispatch reported failures",
			"source", source,
			"topic", topic,
			"readings", len(readings),
		)
		return err
	}

	slog.Debug("ingest: message handled", "source", source, "topic", topic, "readings", len(readings))
	return nil
}
