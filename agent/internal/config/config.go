package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultBufferSize   = 1000
	DefaultAPIKeyHeader = "x-api-key"
)

// Source formats.
const (
	FormatJSON       = "json"
	FormatPrometheus = "prometheus"
)

// Config is the top-level agent configuration.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerURL is the base URL of relicwatch-server, e.g. http://localhost:8080.
	ServerURL string `yaml:"server_url"`

	// PollInterval controls how often each gateway is polled.
	PollInterval time.Duration `yaml:"poll_interval"`

	// BufferSize is the maximum number of batches held in memory while the
	// server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// Sources is the list of sensor gateways to poll.
	Sources []Source `yaml:"sources"`

	// ServerAuth configures how the agent authenticates to relicwatch-server.
	// Supported modes: mtls | apikey | none.
	ServerAuth AuthConfig `yaml:"server_auth"`

	// ServerTLS holds TLS dial options for the server connection.
	ServerTLS TLSConfig `yaml:"server_tls"`
}

// Source describes one sensor gateway.
type Source struct {
	// ID is a unique, human-readable identifier for this gateway.
	ID string `yaml:"id"`

	// Format is how the gateway exposes readings: json | prometheus.
	// Defaults to json.
	Format string `yaml:"format"`

	// Endpoint is the full URL the agent polls.
	Endpoint string `yaml:"endpoint"`

	// Topic is forwarded with every batch from this gateway. The server
	// derives a missing sensor type and location from it
	// (<prefix>/<locationId>/<sensorType>).
	Topic string `yaml:"topic"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// AuthConfig specifies an authentication mode.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header the API key is sent in. Defaults to x-api-key.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable holding a bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth username.
	Username string `yaml:"username"`
	// PasswordEnv names the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string { return env(a.KeyEnv) }

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string { return env(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return env(a.PasswordEnv) }

// EffectiveHeader returns the configured API key header or the default.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAPIKeyHeader
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Development only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("agent config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			PollInterval: DefaultPollInterval,
			BufferSize:   DefaultBufferSize,
		},
	}
}

// validate checks required fields and enums, and fills per-source defaults.
func validate(cfg *Config) error {
	a := &cfg.Agent
	if a.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if err := httpURL(a.ServerURL); err != nil {
		return fmt.Errorf("agent.server_url: %w", err)
	}
	if a.PollInterval <= 0 {
		return fmt.Errorf("agent.poll_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch a.ServerAuth.Mode {
	case "mtls", "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}

	seen := make(map[string]bool, len(a.Sources))
	for i := range a.Sources {
		src := &a.Sources[i]
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true

		if src.Endpoint == "" {
			return fmt.Errorf("sources[%d] %q: endpoint is required", i, src.ID)
		}
		if err := httpURL(src.Endpoint); err != nil {
			return fmt.Errorf("sources[%d] %q: endpoint: %w", i, src.ID, err)
		}
		if src.Format == "" {
			src.Format = FormatJSON
		}
		switch src.Format {
		case FormatJSON, FormatPrometheus:
		default:
			return fmt.Errorf("sources[%d] %q: unknown format %q", i, src.ID, src.Format)
		}
		switch src.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("sources[%d] %q: unknown auth mode %q", i, src.ID, src.Auth.Mode)
		}
	}
	return nil
}

func httpURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
