package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/notify"
)

type capture struct {
	mu     sync.Mutex
	topics []string
	got    []notify.Notification
	err    error
	block  bool
}

func (c *capture) Push(ctx context.Context, topic string, n notify.Notification) error {
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.got = append(c.got, n)
	return c.err
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func tempAlert(sensor string) types.Alert {
	return types.Alert{
		ID: "a-" + sensor, SensorID: sensor, SensorType: types.SensorTemperature,
		AlertType: "TEMPERATURE", Severity: types.SeverityWarning, Message: "too warm",
		CurrentReading: 35, Status: types.AlertActive,
	}
}

func TestNotifyAlert_PushesOnAlertTopic(t *testing.T) {
	c := &capture{}
	d := notify.NewDispatcher(c, nil, notify.Config{AlertTopic: "relics/alerts"})

	require.NoError(t, d.NotifyAlert(context.Background(), tempAlert("t-1")))
	require.Equal(t, 1, c.count())
	assert.Equal(t, "relics/alerts", c.topics[0])

	n := c.got[0]
	assert.Equal(t, notify.KindAlert, n.Kind)
	require.NotNil(t, n.Alert)
	assert.Nil(t, n.Reading)
	assert.False(t, n.SentAt.IsZero())
}

func TestNotifyReading_DefaultTopic(t *testing.T) {
	c := &capture{}
	d := notify.NewDispatcher(c, nil, notify.Config{})

	require.NoError(t, d.NotifyReading(context.Background(), types.Reading{SensorID: "h-1"}))
	assert.Equal(t, notify.DefaultReadingTopic, c.topics[0])
	assert.Equal(t, "h-1", c.got[0].SensorID())
}

func TestSend_PushFailureReturned(t *testing.T) {
	c := &capture{err: errors.New("broken pipe")}
	d := notify.NewDispatcher(c, nil, notify.Config{})

	err := d.NotifyAlert(context.Background(), tempAlert("t-1"))
	assert.ErrorIs(t, err, c.err)
}

func TestSend_BoundedByPushTimeout(t *testing.T) {
	c := &capture{block: true}
	d := notify.NewDispatcher(c, nil, notify.Config{PushTimeout: 20 * time.Millisecond})

	start := time.Now()
	err := d.NotifyAlert(context.Background(), tempAlert("t-1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

type deny struct{}

func (deny) ShouldSend(notify.Notification) bool { return false }

func TestSend_SuppressedIsMarkedAndNotPushed(t *testing.T) {
	c := &capture{}
	d := notify.NewDispatcher(c, deny{}, notify.Config{})

	n := notify.ForAlert("alerts", tempAlert("t-1"))
	require.NoError(t, d.Send(context.Background(), &n))
	assert.True(t, n.Suppressed)
	assert.Zero(t, c.count())
}

func TestPayload(t *testing.T) {
	n := notify.ForReading("readings", types.Reading{SensorID: "g-1", Value: 12})
	raw, err := json.Marshal(n.Payload())
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "reading", env["kind"])
	assert.Equal(t, "readings", env["topic"])
	data := env["data"].(map[string]any)
	assert.Equal(t, "g-1", data["sensor_id"])
}

func TestPushers_AttemptsAllAndJoins(t *testing.T) {
	bad := &capture{err: errors.New("down")}
	good := &capture{}
	p := notify.Pushers(bad, nil, good)

	err := p.Push(context.Background(), "alerts", notify.ForAlert("alerts", tempAlert("t-1")))
	assert.ErrorIs(t, err, bad.err)
	assert.Equal(t, 1, good.count())
}

func TestCooldownPolicy(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	p := notify.NewCooldownPolicy(10 * time.Minute)
	p.SetClock(func() time.Time { return now })

	a := notify.ForAlert("alerts", tempAlert("t-1"))
	other := notify.ForAlert("alerts", tempAlert("t-2"))
	reading := notify.ForReading("readings", types.Reading{SensorID: "t-1"})

	assert.True(t, p.ShouldSend(a))
	assert.False(t, p.ShouldSend(a), "inside window")
	assert.True(t, p.ShouldSend(other), "different sensor")
	assert.True(t, p.ShouldSend(reading), "readings pass")

	now = now.Add(11 * time.Minute)
	assert.True(t, p.ShouldSend(a), "window elapsed")
}

func TestRateLimitPolicy(t *testing.T) {
	p := notify.NewRateLimitPolicy(0.001, 2)
	r1 := notify.ForReading("readings", types.Reading{SensorID: "s1"})
	r2 := notify.ForReading("readings", types.Reading{SensorID: "s2"})

	assert.True(t, p.ShouldSend(r1))
	assert.True(t, p.ShouldSend(r1))
	assert.False(t, p.ShouldSend(r1), "burst exhausted")
	assert.True(t, p.ShouldSend(r2), "buckets are per sensor")
	assert.True(t, p.ShouldSend(notify.ForAlert("alerts", tempAlert("s1"))), "alerts pass")
}

type countingPolicy struct {
	calls int
	allow bool
}

func (c *countingPolicy) ShouldSend(notify.Notification) bool {
	c.calls++
	return c.allow
}

func TestPolicies_ShortCircuit(t *testing.T) {
	first := &countingPolicy{allow: false}
	second := &countingPolicy{allow: true}
	p := notify.Policies(first, second)

	assert.False(t, p.ShouldSend(notify.ForAlert("alerts", tempAlert("t-1"))))
	assert.Equal(t, 0, second.calls)

	assert.True(t, notify.Policies(notify.AlwaysSend, second).ShouldSend(notify.Notification{}))
}

func TestReadingBroadcaster(t *testing.T) {
	c := &capture{}
	b := notify.NewReadingBroadcaster(notify.NewDispatcher(c, nil, notify.Config{}))

	assert.Equal(t, "broadcast", b.Name())
	require.NoError(t, b.OnReading(context.Background(), types.Reading{SensorID: "t-1"}))
	require.Equal(t, 1, c.count())
	assert.Equal(t, notify.KindReading, c.got[0].Kind)
}

func TestWebhooks_Formats(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies = map[string]map[string]any{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		mu.Lock()
		bodies[r.URL.Path] = m
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := notify.NewWebhooks([]notify.WebhookTarget{
		{Type: "slack", URL: srv.URL + "/slack"},
		{Type: "teams", URL: srv.URL + "/teams"},
		{Type: "http", URL: srv.URL + "/http"},
		{Type: "pager", URL: srv.URL + "/pager"},
		{Type: "slack", URL: ""},
	}, srv.Client())
	assert.Equal(t, 3, w.Len())

	require.NoError(t, w.Push(context.Background(), "alerts", notify.ForAlert("alerts", tempAlert("t-1"))))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "*[WARNING]* too warm", bodies["/slack"]["text"])
	assert.Equal(t, "MessageCard", bodies["/teams"]["@type"])
	assert.Equal(t, "FFAB40", bodies["/teams"]["themeColor"])
	assert.Contains(t, bodies["/http"], "alert")
}

func TestWebhooks_IgnoresReadings(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	defer srv.Close()

	w := notify.NewWebhooks([]notify.WebhookTarget{{Type: "http", URL: srv.URL}}, srv.Client())
	require.NoError(t, w.Push(context.Background(), "readings", notify.ForReading("readings", types.Reading{})))
	assert.Zero(t, hits.Load())
}

func TestWebhooks_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := notify.NewWebhooks([]notify.WebhookTarget{{Type: "http", URL: srv.URL}}, srv.Client())
	n := notify.ForAlert("alerts", tempAlert("t-1"))
	for i := 0; i < 3; i++ {
		assert.Error(t, w.Push(context.Background(), "alerts", n))
	}

	err := w.Push(context.Background(), "alerts", n)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), hits.Load())
}
