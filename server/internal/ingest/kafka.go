package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/relicwatch/relicwatch/server/internal/metrics"
)

// KafkaConfig configures a KafkaSource.
type KafkaConfig struct {
	Brokers []string
	Topics  []string
	GroupID string
	Workers int
}

// messageReader is the subset of *kafka.Reader a worker needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes readings from Kafka topics with a pool of
// consumer-group readers. Each worker handles its messages one at a time;
// parallelism comes from the number of workers.
type KafkaSource struct {
	cfg       KafkaConfig
	handle    HandlerFunc
	newReader func(id int) messageReader
}

// NewKafkaSource returns a source that passes every message to handle.
func NewKafkaSource(cfg KafkaConfig, handle HandlerFunc) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("ingest: kafka brokers are required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("ingest: kafka topics are required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("ingest: kafka group_id is required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	s := &KafkaSource{cfg: cfg, handle: handle}
	s.newReader = func(int) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			GroupID:        cfg.GroupID,
			GroupTopics:    cfg.Topics,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        500 * time.Millisecond,
			CommitInterval: 0, // commits are synchronous, after handling
		})
	}
	return s, nil
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has closed its reader.
func (s *KafkaSource) Run(ctx context.Context) error {
	slog.Info("ingest: kafka source starting",
		"brokers", s.cfg.Brokers,
		"topics", s.cfg.Topics,
		"group_id", s.cfg.GroupID,
		"workers", s.cfg.Workers,
	)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.worker(ctx, id)
		}(i)
	}
	wg.Wait()
	slog.Info("ingest: kafka source stopped")
	return nil
}

func (s *KafkaSource) worker(ctx context.Context, id int) {
	r := s.newReader(id)
	defer func() {
		if err := r.Close(); err != nil {
			slog.Warn("ingest: kafka reader close", "worker_id", id, "err", err)
		}
	}()

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("ingest: kafka fetch failed", "worker_id", id, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		s.process(ctx, id, msg)

		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.Warn("ingest: kafka commit failed",
				"worker_id", id,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"err", err,
			)
		}
	}
}

// process handles one message. A panic is recovered so the worker keeps
// consuming.
func (s *KafkaSource) process(ctx context.Context, id int, msg kafka.Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("kafka_worker").Inc()
			slog.Error("ingest: kafka worker panic recovered",
				"worker_id", id,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	// Errors are logged by the receiver; the message is committed either way.
	_ = s.handle(ctx, msg.Topic, msg.Value)
}
