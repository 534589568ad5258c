package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/relicwatch/relicwatch/agent/internal/config"
)

// jsonScraper polls a gateway that already serves readings in the server's
// wire format: one object or an array of them. The body is forwarded as is;
// field validation happens on the server.
type jsonScraper struct {
	src    config.Source
	client *http.Client
}

func (s *jsonScraper) Scrape(ctx context.Context) (*Batch, error) {
	body, err := fetch(ctx, s.client, s.src.Endpoint, "application/json")
	if err != nil {
		return nil, fmt.Errorf("json scrape %q: %w", s.src.ID, err)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	var n int
	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("json scrape %q: %w", s.src.ID, err)
		}
		n = len(items)
	case '{':
		if !json.Valid(body) {
			return nil, fmt.Errorf("json scrape %q: invalid JSON object", s.src.ID)
		}
		n = 1
	default:
		return nil, fmt.Errorf("json scrape %q: want an object or array", s.src.ID)
	}
	if n == 0 {
		return nil, nil
	}
	return newBatch(s.src, body, n), nil
}
