package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/relicwatch/relicwatch/pkg/types"
)

// WebhookTarget is one outbound webhook.
type WebhookTarget struct {
	Type string // "teams" | "slack" | "http"
	URL  string
}

type webhook struct {
	target WebhookTarget
	cb     *gobreaker.CircuitBreaker
}

// Webhooks pushes alert notifications to chat and HTTP webhooks. Each
// target sits behind its own circuit breaker; an open breaker fails the
// push with gobreaker.ErrOpenState without calling the target. Reading
// notifications are ignored.
type Webhooks struct {
	hooks  []webhook
	client *http.Client
}

// NewWebhooks builds a pusher for targets. Targets with an empty URL or an
// unknown type are skipped with a warning.
func NewWebhooks(targets []WebhookTarget, client *http.Client) *Webhooks {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	w := &Webhooks{client: client}
	for _, t := range targets {
		if t.URL == "" {
			continue
		}
		switch t.Type {
		case "teams", "slack", "http":
		default:
			slog.Warn("notify: unknown webhook type, skipping", "type", t.Type)
			continue
		}
		w.hooks = append(w.hooks, webhook{
			target: t,
			cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    "webhook-" + t.Type,
				Timeout: 30 * time.Second,
				ReadyToTrip: func(c gobreaker.Counts) bool {
					return c.ConsecutiveFailures >= 3
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					slog.Warn("notify: webhook breaker state change",
						"name", name, "from", from.String(), "to", to.String())
				},
			}),
		})
	}
	return w
}

// Len returns the number of active targets.
func (w *Webhooks) Len() int { return len(w.hooks) }

// Push sends n to every target and joins the failures.
func (w *Webhooks) Push(ctx context.Context, _ string, n Notification) error {
	if n.Kind != KindAlert || n.Alert == nil {
		return nil
	}
	var errs []error
	for _, h := range w.hooks {
		body, err := h.body(n.Alert)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, err = h.cb.Execute(func() (interface{}, error) {
			return nil, w.post(ctx, h.target.URL, body)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", h.target.Type, err))
			continue
		}
		slog.Debug("notify: webhook delivered", "type", h.target.Type, "alert_id", n.Alert.ID)
	}
	return errors.Join(errs...)
}

func (h webhook) body(a *types.Alert) ([]byte, error) {
	switch h.target.Type {
	case "slack":
		return json.Marshal(map[string]string{
			"text": fmt.Sprintf("*%s* %s", severityLabel(a.Severity), a.Message),
		})
	case "teams":
		return json.Marshal(map[string]interface{}{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(a.Severity),
			"summary":    a.AlertType,
			"title":      fmt.Sprintf("relicwatch %s alert: %s", a.AlertType, a.SensorID),
			"text":       a.Message,
		})
	default:
		return json.Marshal(map[string]interface{}{"alert": a})
	}
}

func (w *Webhooks) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case types.SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case types.SeverityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
