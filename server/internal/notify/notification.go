package notify

import (
	"time"

	"github.com/relicwatch/relicwatch/pkg/types"
)

// Kind tags which payload a Notification carries.
type Kind string

const (
	KindAlert   Kind = "alert"
	KindReading Kind = "reading"
)

// Notification is one outward message. Exactly one of Alert or Reading is
// set, matching Kind.
type Notification struct {
	Kind    Kind
	Topic   string
	Alert   *types.Alert
	Reading *types.Reading
	SentAt  time.Time
	// Suppressed is set by the Dispatcher when its policy vetoed the push.
	Suppressed bool
}

// Envelope is the JSON body pushed to subscribers.
type Envelope struct {
	Kind   Kind      `json:"kind"`
	Topic  string    `json:"topic"`
	SentAt time.Time `json:"sent_at"`
	Data   any       `json:"data"`
}

// ForAlert wraps a on topic.
func ForAlert(topic string, a types.Alert) Notification {
	return Notification{Kind: KindAlert, Topic: topic, Alert: &a}
}

// ForReading wraps r on topic.
func ForReading(topic string, r types.Reading) Notification {
	return Notification{Kind: KindReading, Topic: topic, Reading: &r}
}

// SensorID returns the sensor the notification is about.
func (n Notification) SensorID() string {
	switch n.Kind {
	case KindAlert:
		if n.Alert != nil {
			return n.Alert.SensorID
		}
	case KindReading:
		if n.Reading != nil {
			return n.Reading.SensorID
		}
	}
	return ""
}

// Payload returns the JSON-ready envelope for n.
func (n Notification) Payload() Envelope {
	env := Envelope{Kind: n.Kind, Topic: n.Topic, SentAt: n.SentAt}
	switch n.Kind {
	case KindAlert:
		env.Data = n.Alert
	case KindReading:
		env.Data = n.Reading
	}
	return env
}
