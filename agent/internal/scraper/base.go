package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relicwatch/relicwatch/agent/internal/config"
	"github.com/relicwatch/relicwatch/agent/internal/transport"
)

const (
	defaultScrapeTimeout = 10 * time.Second

	// maxBodyBytes caps a single gateway response.
	maxBodyBytes = 4 << 20
)

// Batch is the output of one poll of a single gateway: a JSON payload the
// server's ingest endpoint accepts unchanged.
type Batch struct {
	SourceID  string
	Topic     string
	Payload   []byte
	Readings  int
	ScrapedAt time.Time
}

// Scraper is the common interface implemented by every gateway format.
type Scraper interface {
	Scrape(ctx context.Context) (*Batch, error)
}

// New returns the Scraper for src.Format. It builds the HTTP client once and
// reuses it across polls.
func New(src config.Source) (Scraper, error) {
	client, err := transport.NewClient(src.Auth, src.TLS, defaultScrapeTimeout)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: %w", src.ID, err)
	}
	switch src.Format {
	case config.FormatJSON, "":
		return &jsonScraper{src: src, client: client}, nil
	case config.FormatPrometheus:
		return &promScraper{src: src, client: client, now: time.Now}, nil
	default:
		return nil, fmt.Errorf("scraper %q: unsupported format %q", src.ID, src.Format)
	}
}

// fetch performs an HTTP GET to url and returns the body.
func fetch(ctx context.Context, client *http.Client, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

func newBatch(src config.Source, payload []byte, n int) *Batch {
	return &Batch{
		SourceID:  src.ID,
		Topic:     src.Topic,
		Payload:   payload,
		Readings:  n,
		ScrapedAt: time.Now().UTC(),
	}
}
