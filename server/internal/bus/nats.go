package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/relicwatch/relicwatch/server/internal/notify"
)

// TopicToSubject maps "relics/hall-a/temp" to "relics.hall-a.temp".
func TopicToSubject(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// SubjectToTopic is the inverse of TopicToSubject.
func SubjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

func connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", url, err)
	}
	return conn, nil
}

// Publisher publishes notifications to NATS.
type Publisher struct {
	Conn *nats.Conn
}

var _ notify.Pusher = (*Publisher)(nil)

// NewPublisher connects to url.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := connect(url, "relicwatch-publisher")
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain() //nolint:errcheck
		p.Conn.Close()
	}
}

// Publish marshals payload as JSON onto subject.
func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

// Push publishes n's envelope on the subject derived from topic.
func (p *Publisher) Push(ctx context.Context, topic string, n notify.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.Publish(TopicToSubject(topic), n.Payload()); err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return nil
}

// MsgHandler receives the topic (converted from the subject) and raw data of
// one message.
type MsgHandler func(topic string, data []byte)

// Unsubscriber cancels a subscription.
type Unsubscriber interface {
	Unsubscribe() error
}

// Subscriber receives raw messages from NATS.
type Subscriber struct {
	Conn *nats.Conn
}

// NewSubscriber connects to url.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := connect(url, "relicwatch-ingest")
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		s.Conn.Drain() //nolint:errcheck
		s.Conn.Close()
	}
}

// Subscribe delivers messages on subject to handler. A non-empty queue joins
// a queue group so that only one member handles each message.
func (s *Subscriber) Subscribe(subject, queue string, handler MsgHandler) (Unsubscriber, error) {
	cb := func(msg *nats.Msg) {
		handler(SubjectToTopic(msg.Subject), msg.Data)
	}
	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = s.Conn.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = s.Conn.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}
