package ingest

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// MessageReader mirrors messageReader for tests.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SetReaderFactory replaces the Kafka reader constructor.
func (s *KafkaSource) SetReaderFactory(f func(id int) MessageReader) {
	s.newReader = func(id int) messageReader { return f(id) }
}
