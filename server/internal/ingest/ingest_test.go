package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/bus"
	"github.com/relicwatch/relicwatch/server/internal/dispatch"
	"github.com/relicwatch/relicwatch/server/internal/ingest"
	"github.com/relicwatch/relicwatch/server/internal/parser"
	"github.com/relicwatch/relicwatch/server/internal/threshold"
)

type sink struct {
	mu sync.Mutex
	rs []types.Reading
}

func (s *sink) observer() dispatch.Observer {
	return dispatch.ObserverFunc("sink", func(_ context.Context, r types.Reading) error {
		s.mu.Lock()
		s.rs = append(s.rs, r)
		s.mu.Unlock()
		return nil
	})
}

func (s *sink) readings() []types.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Reading(nil), s.rs...)
}

func newReceiver(t *testing.T) (*ingest.Receiver, *sink) {
	t.Helper()
	reg, err := threshold.NewWithDefaults(nil)
	require.NoError(t, err)
	p := parser.New(parser.JSONDecoder(time.Now), parser.ValidationStage(reg))
	subj := dispatch.NewSubject()
	s := &sink{}
	subj.Register(s.observer())
	return ingest.NewReceiver(p, subj), s
}

func TestReceiver_ParsesAndDispatches(t *testing.T) {
	rec, s := newReceiver(t)

	err := rec.Handle(context.Background(), "relics/hall-a/temp", []byte(`{"sensorId":"t-1","value":35}`))
	require.NoError(t, err)

	got := s.readings()
	require.Len(t, got, 1)
	assert.Equal(t, "temp", got[0].SensorType)
	assert.Equal(t, types.StatusWarning, got[0].Status)
}

func TestReceiver_MalformedIsParseError(t *testing.T) {
	rec, s := newReceiver(t)

	err := rec.Handler("kafka")(context.Background(), "readings", []byte(`{not json`))
	var pe *parser.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Empty(t, s.readings())
}

func TestReceiver_ObserverFailureReturned(t *testing.T) {
	reg, _ := threshold.NewWithDefaults(nil)
	subj := dispatch.NewSubject()
	boom := errors.New("boom")
	subj.Register(dispatch.ObserverFunc("bad", func(context.Context, types.Reading) error { return boom }))
	rec := ingest.NewReceiver(parser.New(parser.JSONDecoder(time.Now), parser.ValidationStage(reg)), subj)

	err := rec.Handle(context.Background(), "readings", []byte(`{"sensorId":"g","sensorType":"gas","value":1}`))
	assert.ErrorIs(t, err, boom)
}

// --- kafka ------------------------------------------------------------------

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeReader) state() ([]int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...), f.closed
}

func TestNewKafkaSource_Validates(t *testing.T) {
	noop := func(context.Context, string, []byte) error { return nil }
	_, err := ingest.NewKafkaSource(ingest.KafkaConfig{Topics: []string{"t"}, GroupID: "g"}, noop)
	assert.Error(t, err)
	_, err = ingest.NewKafkaSource(ingest.KafkaConfig{Brokers: []string{"b"}, GroupID: "g"}, noop)
	assert.Error(t, err)
	_, err = ingest.NewKafkaSource(ingest.KafkaConfig{Brokers: []string{"b"}, Topics: []string{"t"}}, noop)
	assert.Error(t, err)
}

func TestKafkaSource_HandlesCommitsAndSurvivesPanics(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Topic: "readings", Offset: 1, Value: []byte("a")},
		{Topic: "readings", Offset: 2, Value: []byte("panic")},
		{Topic: "readings", Offset: 3, Value: []byte("c")},
	}}

	var (
		mu   sync.Mutex
		seen []string
	)
	handle := func(_ context.Context, topic string, payload []byte) error {
		if string(payload) == "panic" {
			panic("bad decoder")
		}
		mu.Lock()
		seen = append(seen, topic+":"+string(payload))
		mu.Unlock()
		return nil
	}

	src, err := ingest.NewKafkaSource(ingest.KafkaConfig{
		Brokers: []string{"localhost:9092"}, Topics: []string{"readings"}, GroupID: "relicwatch",
	}, handle)
	require.NoError(t, err)
	src.SetReaderFactory(func(int) ingest.MessageReader { return reader })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = src.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		committed, _ := reader.state()
		return len(committed) == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	committed, closed := reader.state()
	assert.Equal(t, []int64{1, 2, 3}, committed)
	assert.True(t, closed)
	mu.Lock()
	assert.Equal(t, []string{"readings:a", "readings:c"}, seen)
	mu.Unlock()
}

// --- nats -------------------------------------------------------------------

type fakeSub struct {
	mu       sync.Mutex
	handlers map[string]bus.MsgHandler
	queues   map[string]string
	unsubbed int
}

type unsub struct{ f *fakeSub }

func (u unsub) Unsubscribe() error {
	u.f.mu.Lock()
	u.f.unsubbed++
	u.f.mu.Unlock()
	return nil
}

func (f *fakeSub) handlerFor(subject string) bus.MsgHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[subject]
}

func (f *fakeSub) Subscribe(subject, queue string, h bus.MsgHandler) (bus.Unsubscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]bus.MsgHandler{}
		f.queues = map[string]string{}
	}
	f.handlers[subject] = h
	f.queues[subject] = queue
	return unsub{f}, nil
}

func TestNATSSource_SubscribesAndForwards(t *testing.T) {
	sub := &fakeSub{}
	got := make(chan string, 1)
	src, err := ingest.NewNATSSource(ingest.NATSConfig{Subjects: []string{"relics.>"}, Queue: "relicwatch"}, sub,
		func(_ context.Context, topic string, payload []byte) error {
			got <- topic + "=" + string(payload)
			return nil
		})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = src.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sub.handlerFor("relics.>") != nil }, time.Second, 5*time.Millisecond)
	sub.handlerFor("relics.>")("relics/hall-a/temp", []byte("{}"))
	assert.Equal(t, "relics/hall-a/temp={}", <-got)

	cancel()
	<-done
	assert.Equal(t, "relicwatch", sub.queues["relics.>"])
	assert.Equal(t, 1, sub.unsubbed)
}

func TestNewNATSSource_RequiresSubjects(t *testing.T) {
	_, err := ingest.NewNATSSource(ingest.NATSConfig{}, &fakeSub{}, nil)
	assert.Error(t, err)
}
