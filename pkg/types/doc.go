// Package types defines the shared Go types that flow through the relicwatch
// pipeline: sensor readings, threshold rules, alerts and alert queries.
// These are the canonical in-memory representations, separate from any wire
// format a transport or store may use.
package types
