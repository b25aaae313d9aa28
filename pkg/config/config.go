package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for ouroboros.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Agent     AgentConfig     `yaml:"agent" json:"agent"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	Tracker   TrackerConfig   `yaml:"tracker" json:"tracker"`
	Publish   PublishConfig   `yaml:"publish" json:"publish"`
	Intake    IntakeConfig    `yaml:"intake" json:"intake"`
	Lease     LeaseConfig     `yaml:"lease" json:"lease"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	HotReload HotReloadConfig `yaml:"hot_reload" json:"hot_reload"`
}

// ServerConfig configures the admin HTTP server
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port" json:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// DatabaseConfig configures the work item store
type DatabaseConfig struct {
	Type string `yaml:"type" json:"type"` // "sqlite", "postgres", "memory"
	Path string `yaml:"path" json:"path"` // For SQLite
	DSN  string `yaml:"dsn" json:"dsn"`   // For Postgres
}

// AgentConfig configures the lifecycle poller
type AgentConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval"`
	GenerateTimeout time.Duration `yaml:"generate_timeout" json:"generate_timeout"`
	PublishTimeout  time.Duration `yaml:"publish_timeout" json:"publish_timeout"`
	Workers         int           `yaml:"workers" json:"workers"`
	// StaleAfter fails in_progress items untouched for this long. Zero disables recovery.
	StaleAfter time.Duration `yaml:"stale_after" json:"stale_after"`
}

// LLMConfig configures the generation backends
type LLMConfig struct {
	DefaultModelID string          `yaml:"default_model_id" json:"default_model_id"`
	Backends       []BackendConfig `yaml:"backends" json:"backends"`
}

// BackendConfig is one generation backend entry (credential/model-id pair)
type BackendConfig struct {
	Type     string        `yaml:"type" json:"type"` // openai, anthropic, google, custom, ollama, mock
	ModelID  string        `yaml:"model_id" json:"model_id"`
	APIKey   string        `yaml:"api_key" json:"api_key,omitempty"`
	Endpoint string        `yaml:"endpoint" json:"endpoint,omitempty"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// TrackerConfig configures the external issue tracker integration
type TrackerConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	SyncInterval   time.Duration `yaml:"sync_interval" json:"sync_interval"`
	CursorLookback time.Duration `yaml:"cursor_lookback" json:"cursor_lookback"`
	Token          string        `yaml:"token" json:"token,omitempty"`
	Owner          string        `yaml:"owner" json:"owner"`
	Repo           string        `yaml:"repo" json:"repo"`
	GHPath         string        `yaml:"gh_path" json:"gh_path"`
	WorkDir        string        `yaml:"work_dir" json:"work_dir"`
}

// PublishConfig selects the publish collaborator
type PublishConfig struct {
	Type       string `yaml:"type" json:"type"` // "log" or "nats"
	NATSURL    string `yaml:"nats_url" json:"nats_url"`
	StreamName string `yaml:"stream_name" json:"stream_name"`
}

// IntakeConfig configures work item submission over NATS
type IntakeConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Subject string `yaml:"subject" json:"subject"`
	Durable string `yaml:"durable" json:"durable"`
}

// LeaseConfig configures the cross-process sync cycle lease
type LeaseConfig struct {
	Backend  string        `yaml:"backend" json:"backend"` // "memory", "redis" or "database"
	RedisURL string        `yaml:"redis_url" json:"redis_url,omitempty"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// SecurityConfig configures admin API authentication
type SecurityConfig struct {
	EnableAuth bool     `yaml:"enable_auth" json:"enable_auth"`
	JWTSecret  string   `yaml:"jwt_secret" json:"jwt_secret,omitempty"`
	APIKeys    []string `yaml:"api_keys" json:"api_keys,omitempty"`
}

// TelemetryConfig configures OpenTelemetry tracing
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name" json:"service_name"`
}

// LoggingConfig configures zerolog output
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "console" or "json"
}

// HotReloadConfig configures the config file watcher
type HotReloadConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Load returns the defaults with environment overrides applied, for runs without a config file.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromFile loads configuration from a YAML file at the specified path,
// layered on top of DefaultConfig.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables (e.g. ${OPENAI_API_KEY}) before parsing YAML
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides selected fields from the environment.
func (c *Config) ApplyEnv() {
	if dsn := os.Getenv("OUROBOROS_DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" && c.Tracker.Token == "" {
		c.Tracker.Token = token
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Telemetry.OTLPEndpoint = endpoint
	}
	for i := range c.LLM.Backends {
		b := &c.LLM.Backends[i]
		if b.APIKey != "" {
			continue
		}
		if env, ok := apiKeyEnv[b.Type]; ok {
			b.APIKey = os.Getenv(env)
		}
	}
}

// apiKeyEnv maps a backend type to the environment variable holding its credential.
var apiKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"google":    "GOOGLE_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// Validate checks the config for values the engines cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Agent.PollInterval <= 0 {
		errs = append(errs, errors.New("agent.poll_interval must be positive"))
	}
	if c.Tracker.SyncInterval <= 0 {
		errs = append(errs, errors.New("tracker.sync_interval must be positive"))
	}
	if c.Agent.Workers <= 0 {
		errs = append(errs, errors.New("agent.workers must be positive"))
	}
	switch c.Database.Type {
	case "sqlite", "memory":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.type %q", c.Database.Type))
	}
	switch c.Publish.Type {
	case "log", "nats":
	default:
		errs = append(errs, fmt.Errorf("unsupported publish.type %q", c.Publish.Type))
	}
	if c.Intake.Enabled && c.Publish.NATSURL == "" {
		errs = append(errs, errors.New("publish.nats_url is required when intake is enabled"))
	}
	switch c.Lease.Backend {
	case "memory", "database":
	case "redis":
		if c.Lease.RedisURL == "" {
			errs = append(errs, errors.New("lease.redis_url is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported lease.backend %q", c.Lease.Backend))
	}
	seen := make(map[string]struct{}, len(c.LLM.Backends))
	for i, b := range c.LLM.Backends {
		if b.ModelID == "" {
			errs = append(errs, fmt.Errorf("llm.backends[%d].model_id is required", i))
			continue
		}
		if _, dup := seen[b.ModelID]; dup {
			errs = append(errs, fmt.Errorf("llm.backends[%d]: duplicate model_id %q", i, b.ModelID))
		}
		seen[b.ModelID] = struct{}{}
	}
	if c.LLM.DefaultModelID == "" {
		errs = append(errs, errors.New("llm.default_model_id is required"))
	} else if _, ok := seen[c.LLM.DefaultModelID]; !ok {
		errs = append(errs, fmt.Errorf("llm.default_model_id %q does not match any llm.backends entry", c.LLM.DefaultModelID))
	}
	return errors.Join(errs...)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "./ouroboros.db",
		},
		Agent: AgentConfig{
			PollInterval:    10 * time.Second,
			GenerateTimeout: 2 * time.Minute,
			PublishTimeout:  time.Minute,
			Workers:         2,
			StaleAfter:      30 * time.Minute,
		},
		LLM: LLMConfig{
			DefaultModelID: "gpt-4",
			Backends: []BackendConfig{
				{Type: "openai", ModelID: "gpt-4", Endpoint: "https://api.openai.com/v1"},
				{Type: "google", ModelID: "gemini-pro", Endpoint: "https://generativelanguage.googleapis.com/v1beta/openai"},
				{Type: "anthropic", ModelID: "claude-3-haiku", Endpoint: "https://api.anthropic.com/v1"},
			},
		},
		Tracker: TrackerConfig{
			Enabled:        false,
			SyncInterval:   time.Minute,
			CursorLookback: time.Hour,
			GHPath:         "gh",
			WorkDir:        ".",
		},
		Publish: PublishConfig{
			Type:       "log",
			NATSURL:    "nats://localhost:4222",
			StreamName: "OUROBOROS",
		},
		Intake: IntakeConfig{
			Subject: "ouroboros.submit",
			Durable: "ouroboros-intake",
		},
		Lease: LeaseConfig{
			Backend: "memory",
			TTL:     5 * time.Minute,
		},
		Security: SecurityConfig{
			EnableAuth: false,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "ouroboros",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
