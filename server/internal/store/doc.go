// Package store holds relicwatch state: the alert stores behind the alert
// lifecycle manager (in-memory with retention, or PostgreSQL) and the
// latest-reading-per-sensor store with TTL eviction.
package store
