package notify

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy decides whether a notification is pushed.
type Policy interface {
	ShouldSend(n Notification) bool
}

type alwaysSend struct{}

func (alwaysSend) ShouldSend(Notification) bool { return true }

// AlwaysSend never suppresses.
var AlwaysSend Policy = alwaysSend{}

// CooldownPolicy suppresses an alert notification when one for the same
// sensor and alert type was let through within the window. Reading
// notifications pass untouched.
type CooldownPolicy struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewCooldownPolicy returns a CooldownPolicy with the given window.
func NewCooldownPolicy(window time.Duration) *CooldownPolicy {
	return &CooldownPolicy{window: window, last: make(map[string]time.Time), now: time.Now}
}

func (p *CooldownPolicy) ShouldSend(n Notification) bool {
	if n.Kind != KindAlert || n.Alert == nil || p.window <= 0 {
		return true
	}
	key := n.Alert.SensorID + ":" + n.Alert.AlertType
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.last[key]; ok && now.Sub(last) < p.window {
		return false
	}
	p.last[key] = now
	return true
}

// RateLimitPolicy caps reading notifications per sensor with a token
// bucket. Alert notifications pass untouched.
type RateLimitPolicy struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimitPolicy allows perSecond reading notifications per sensor with
// the given burst.
func NewRateLimitPolicy(perSecond float64, burst int) *RateLimitPolicy {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitPolicy{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *RateLimitPolicy) ShouldSend(n Notification) bool {
	if n.Kind != KindReading {
		return true
	}
	return p.limiter(n.SensorID()).Allow()
}

func (p *RateLimitPolicy) limiter(sensorID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[sensorID]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[sensorID] = l
	}
	return l
}

type allOf []Policy

// Policies lets a notification through only if every policy agrees. Later
// policies are not consulted once one refuses.
func Policies(ps ...Policy) Policy {
	return allOf(ps)
}

func (a allOf) ShouldSend(n Notification) bool {
	for _, p := range a {
		if !p.ShouldSend(n) {
			return false
		}
	}
	return true
}
