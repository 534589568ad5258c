// Package config loads and watches the relicwatch-agent configuration file.
//
// AgentConfig names the server (server_url, server_auth, server_tls), the poll
// cadence and buffer size, and the sensor gateways under sources. Each Source
// has an id, a format (json | prometheus), an endpoint, an optional topic and
// its own auth (mtls | apikey | bearer | basic | none). Secrets are never
// stored in the file; *_env fields name environment variables.
//
// Watch(ctx, path, onChange) reloads the file on change. Bursts of events from
// one save are coalesced before the file is re-read.
package config
