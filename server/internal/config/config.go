package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/threshold"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort         = 8080
	DefaultLogLevel         = "info"
	DefaultQueryLimit       = 100
	DefaultReadingTTL       = 15 * time.Minute
	DefaultPushTimeout      = 2 * time.Second
	DefaultSnapshotInterval = 5 * time.Second
	DefaultKafkaWorkers     = 4
	DefaultKafkaGroupID     = "relicwatch"
	DefaultAlertTopic       = "alerts"
	DefaultReadingTopic     = "readings"
)

// Config is the whole server configuration file.
type Config struct {
	Server     ServerConfig               `yaml:"server"`
	Thresholds map[string]ThresholdConfig `yaml:"thresholds"`
	Dispatch   DispatchConfig             `yaml:"dispatch"`
	Alerts     AlertsConfig               `yaml:"alerts"`
	Storage    StorageConfig              `yaml:"storage"`
	Readings   ReadingsConfig             `yaml:"readings"`
	Ingest     IngestConfig               `yaml:"ingest"`
	Notify     NotifyConfig               `yaml:"notify"`
	WS         WSConfig                   `yaml:"ws"`
}

// ServerConfig holds listener, logging and auth settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Auth configures how the server authenticates mutating REST calls.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// ThresholdConfig is one sensor type's operating range. For the built-in
// types a missing bound keeps the default; other types need both.
type ThresholdConfig struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

// DispatchConfig tunes observer delivery.
type DispatchConfig struct {
	// ObserverTimeout bounds each observer call. Zero means no bound.
	ObserverTimeout time.Duration `yaml:"observer_timeout"`
}

// AlertsConfig tunes the alert lifecycle manager.
type AlertsConfig struct {
	// DedupActive skips a breach while the sensor already has an ACTIVE
	// alert of the same type. Default true.
	DedupActive bool `yaml:"dedup_active"`

	// QueryLimit caps alert queries that carry no limit. Default 100.
	QueryLimit int `yaml:"query_limit"`

	// Retention drops RESOLVED alerts from the memory store this long after
	// resolution. Zero keeps them.
	Retention time.Duration `yaml:"retention"`
}

// StorageConfig selects the alert store.
type StorageConfig struct {
	// Backend is one of: memory | postgres.
	Backend string `yaml:"backend"`

	// DSNEnv names the environment variable holding the PostgreSQL DSN.
	DSNEnv string `yaml:"dsn_env"`
}

// DSN returns the database DSN resolved from the environment.
func (s StorageConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// ReadingsConfig controls the latest-reading store.
type ReadingsConfig struct {
	// TTL is how long a sensor stays listed after its last reading.
	TTL time.Duration `yaml:"ttl"`
}

// IngestConfig lists the inbound transports. An empty section disables it.
type IngestConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
	NATS  NATSConfig  `yaml:"nats"`
}

// KafkaConfig configures the Kafka consumer group.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topics  []string `yaml:"topics"`
	GroupID string   `yaml:"group_id"`
	Workers int      `yaml:"workers"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// NATSConfig configures the NATS ingest subscription.
type NATSConfig struct {
	URL      string   `yaml:"url"`
	Subjects []string `yaml:"subjects"`
	Queue    string   `yaml:"queue"`
}

// Enabled reports whether a NATS URL is configured.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// NotifyConfig controls outward notifications.
type NotifyConfig struct {
	AlertTopic   string        `yaml:"alert_topic"`
	ReadingTopic string        `yaml:"reading_topic"`
	PushTimeout  time.Duration `yaml:"push_timeout"`

	// Cooldown suppresses repeat alert notifications per sensor and type.
	Cooldown time.Duration `yaml:"cooldown"`

	// BroadcastReadings registers the real-time reading broadcaster.
	BroadcastReadings bool `yaml:"broadcast_readings"`

	// ReadingRate caps reading notifications per sensor per second. Zero
	// means unlimited.
	ReadingRate  float64 `yaml:"reading_rate"`
	ReadingBurst int     `yaml:"reading_burst"`

	NATS     NotifyNATSConfig `yaml:"nats"`
	Webhooks []WebhookConfig  `yaml:"webhooks"`
}

// NotifyNATSConfig configures the NATS publisher.
type NotifyNATSConfig struct {
	URL string `yaml:"url"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// WSConfig controls the WebSocket hub.
type WSConfig struct {
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaults()
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
		},
		Alerts: AlertsConfig{
			DedupActive: true,
			QueryLimit:  DefaultQueryLimit,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Readings: ReadingsConfig{
			TTL: DefaultReadingTTL,
		},
		Ingest: IngestConfig{
			Kafka: KafkaConfig{
				GroupID: DefaultKafkaGroupID,
				Workers: DefaultKafkaWorkers,
			},
		},
		Notify: NotifyConfig{
			AlertTopic:        DefaultAlertTopic,
			ReadingTopic:      DefaultReadingTopic,
			PushTimeout:       DefaultPushTimeout,
			BroadcastReadings: true,
		},
		WS: WSConfig{
			SnapshotInterval: DefaultSnapshotInterval,
		},
	}
}

// ThresholdRules resolves the thresholds section against the built-in
// defaults. The result can be passed to threshold.NewWithDefaults.
func (c *Config) ThresholdRules() map[string]types.ThresholdRule {
	defaults := make(map[string]types.ThresholdRule)
	for _, d := range threshold.Defaults() {
		defaults[d.SensorType] = d
	}

	out := make(map[string]types.ThresholdRule, len(c.Thresholds))
	for st, tc := range c.Thresholds {
		rule := defaults[st]
		rule.SensorType = st
		if tc.Min != nil {
			rule.Min = *tc.Min
		}
		if tc.Max != nil {
			rule.Max = *tc.Max
		}
		out[st] = rule
	}
	return out
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", cfg.Server.LogLevel)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}

	builtin := map[string]bool{}
	for _, d := range threshold.Defaults() {
		builtin[d.SensorType] = true
	}
	for st, tc := range cfg.Thresholds {
		if strings.TrimSpace(st) == "" {
			return fmt.Errorf("thresholds: empty sensor type")
		}
		if !builtin[st] && (tc.Min == nil || tc.Max == nil) {
			return fmt.Errorf("thresholds.%s: min and max are required", st)
		}
	}
	for st, rule := range cfg.ThresholdRules() {
		if math.IsNaN(rule.Min) || math.IsNaN(rule.Max) || rule.Min > rule.Max {
			return fmt.Errorf("thresholds.%s: min %v must not exceed max %v", st, rule.Min, rule.Max)
		}
	}

	if cfg.Dispatch.ObserverTimeout < 0 {
		return fmt.Errorf("dispatch.observer_timeout must not be negative")
	}
	if cfg.Alerts.QueryLimit <= 0 {
		return fmt.Errorf("alerts.query_limit must be positive")
	}
	if cfg.Alerts.Retention < 0 {
		return fmt.Errorf("alerts.retention must not be negative")
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "postgres":
		if cfg.Storage.DSNEnv == "" {
			return fmt.Errorf("storage.dsn_env is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q unknown: want memory|postgres", cfg.Storage.Backend)
	}
	if cfg.Readings.TTL <= 0 {
		return fmt.Errorf("readings.ttl must be positive")
	}

	if k := cfg.Ingest.Kafka; k.Enabled() {
		if len(k.Topics) == 0 {
			return fmt.Errorf("ingest.kafka.topics is required when brokers are set")
		}
		if k.Workers < 1 {
			return fmt.Errorf("ingest.kafka.workers must be at least 1")
		}
	}
	if n := cfg.Ingest.NATS; n.Enabled() && len(n.Subjects) == 0 {
		return fmt.Errorf("ingest.nats.subjects is required when url is set")
	}

	if cfg.Notify.PushTimeout <= 0 {
		return fmt.Errorf("notify.push_timeout must be positive")
	}
	if cfg.Notify.Cooldown < 0 {
		return fmt.Errorf("notify.cooldown must not be negative")
	}
	if cfg.Notify.ReadingRate < 0 {
		return fmt.Errorf("notify.reading_rate must not be negative")
	}
	for i, wh := range cfg.Notify.Webhooks {
		switch wh.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("notify.webhooks[%d].type %q unknown: want teams|slack|http", i, wh.Type)
		}
	}
	if cfg.WS.SnapshotInterval < 0 {
		return fmt.Errorf("ws.snapshot_interval must not be negative")
	}
	return nil
}
