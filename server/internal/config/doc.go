// Package config loads the relicwatch server configuration from YAML.
//
// Sections:
//   - server     http_port (default 8080), log_level, auth {mode, key_env, header}
//   - thresholds per sensor type {min, max}; gas/temp/hum entries override defaults
//   - dispatch   observer_timeout (0 = unbounded)
//   - alerts     dedup_active (default true), query_limit (default 100), retention
//   - storage    backend memory|postgres, dsn_env
//   - readings   ttl for the latest-reading store (default 15m)
//   - ingest     kafka {brokers, topics, group_id, workers}, nats {url, subjects, queue}
//   - notify     topics, push_timeout, cooldown, reading rate limit, nats, webhooks
//   - ws         snapshot_interval (default 5s)
//
// Secrets never live in the file: *_env keys name environment variables.
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change.
package config
