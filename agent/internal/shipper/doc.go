// Package shipper forwards scraper batches to relicwatch-server over HTTP
// (POST /api/v1/readings?topic=...).
//
// Ship is non-blocking: batches go into an in-memory channel (default
// capacity 1000) and the oldest is evicted when it is full, so the latest
// readings are always kept.
//
// Run drains the buffer in order. Network errors, 5xx, 408 and 429 answers
// are retried with truncated exponential backoff (1s to 60s, ±25% jitter)
// before the next batch is sent. Other 4xx answers (malformed payload, bad
// API key) discard the batch immediately.
package shipper
