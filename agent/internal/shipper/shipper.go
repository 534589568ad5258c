package shipper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relicwatch/relicwatch/agent/internal/config"
	"github.com/relicwatch/relicwatch/agent/internal/scraper"
	"github.com/relicwatch/relicwatch/agent/internal/transport"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second

	ingestPath = "/api/v1/readings"
)

// errPermanent marks a batch the server will never accept.
var errPermanent = errors.New("permanent")

// Shipper buffers scraper batches and forwards them to relicwatch-server's
// ingest endpoint. Ship is non-blocking; when the buffer is full the oldest
// batch is evicted. Run must be called in a goroutine to drain the buffer.
type Shipper struct {
	buf     chan *scraper.Batch
	client  *http.Client
	ingest  string
	initial time.Duration // first backoff step
}

// New creates a Shipper for cfg.
func New(cfg config.AgentConfig) (*Shipper, error) {
	client, err := transport.NewClient(cfg.ServerAuth, cfg.ServerTLS, sendTimeout)
	if err != nil {
		return nil, fmt.Errorf("shipper: %w", err)
	}
	return &Shipper{
		buf:     make(chan *scraper.Batch, cfg.BufferSize),
		client:  client,
		ingest:  strings.TrimRight(cfg.ServerURL, "/") + ingestPath,
		initial: backoffInitial,
	}, nil
}

// Ship enqueues b. If the buffer is full the oldest entry is evicted.
func (s *Shipper) Ship(b *scraper.Batch) {
	for {
		select {
		case s.buf <- b:
			return
		default:
		}
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest batch",
				"source", old.SourceID, "readings", old.Readings, "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Run drains the buffer in order. A batch that fails with a transient error
// is retried with exponential backoff before the next one is sent; a batch
// the server rejects outright is logged and discarded. Run blocks until ctx
// is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff(s.initial)

	for {
		var b *scraper.Batch
		select {
		case <-ctx.Done():
			return
		case b = <-s.buf:
		}

		for {
			err := s.send(ctx, b)
			if err == nil {
				bo.reset()
				slog.Debug("shipper: batch delivered", "source", b.SourceID, "readings", b.Readings)
				break
			}
			if errors.Is(err, errPermanent) {
				slog.Error("shipper: server rejected batch, discarding",
					"source", b.SourceID, "readings", b.Readings, "err", err)
				break
			}
			if ctx.Err() != nil {
				return
			}

			wait := bo.next()
			slog.Warn("shipper: send failed, will retry",
				"endpoint", s.ingest, "source", b.SourceID, "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// send posts one batch. 4xx answers other than 408 and 429 are permanent.
func (s *Shipper) send(ctx context.Context, b *scraper.Batch) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	target := s.ingest
	if b.Topic != "" {
		target += "?topic=" + url.QueryEscape(b.Topic)
	}
	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, target, bytes.NewReader(b.Payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d: %s", errPermanent, resp.StatusCode, bytes.TrimSpace(msg))
	default:
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	current time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{initial: initial, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
