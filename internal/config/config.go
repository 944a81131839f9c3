// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	BrightData BrightDataConfig `mapstructure:"brightdata"`
	Apify      ApifyConfig      `mapstructure:"apify"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BrightDataConfig holds BrightData dataset API credentials and routing.
type BrightDataConfig struct {
	BaseURL           string            `mapstructure:"base_url"`
	APIKey            string            `mapstructure:"api_key"`
	DatasetIDs        map[string]string `mapstructure:"dataset_ids"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
}

// ApifyConfig holds Apify actor API credentials and routing.
type ApifyConfig struct {
	BaseURL           string            `mapstructure:"base_url"`
	Token             string            `mapstructure:"token"`
	ActorIDs          map[string]string `mapstructure:"actor_ids"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
}

// DispatchConfig governs outbound job submission.
type DispatchConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// CallbackBaseURL is the public base URL providers deliver webhooks to,
	// e.g. "https://engine.example.com".
	CallbackBaseURL string `mapstructure:"callback_base_url"`
}

// SweeperConfig governs webhook-miss reconciliation.
type SweeperConfig struct {
	IntervalSeconds    int `mapstructure:"interval_seconds"`
	StalenessSeconds   int `mapstructure:"staleness_seconds"`
	MaxPollAttempts    int `mapstructure:"max_poll_attempts"`
	PollTimeoutSeconds int `mapstructure:"poll_timeout_seconds"`
}

// StorageConfig sets the raw payload archive destination.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores, which is the development default.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for completion event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("brightdata.base_url", "https://api.brightdata.com")
	v.SetDefault("brightdata.requests_per_second", 5)
	v.SetDefault("apify.base_url", "https://api.apify.com")
	v.SetDefault("apify.requests_per_second", 5)
	v.SetDefault("dispatch.timeout_seconds", 30)
	v.SetDefault("sweeper.interval_seconds", 60)
	v.SetDefault("sweeper.staleness_seconds", 300)
	v.SetDefault("sweeper.max_poll_attempts", 10)
	v.SetDefault("sweeper.poll_timeout_seconds", 15)
	v.SetDefault("storage.prefix", "payloads")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Sweeper.MaxPollAttempts <= 0 {
		return fmt.Errorf("sweeper.max_poll_attempts must be > 0")
	}
	if c.Sweeper.IntervalSeconds <= 0 {
		return fmt.Errorf("sweeper.interval_seconds must be > 0")
	}
	if c.BrightData.APIKey == "" && c.Apify.Token == "" {
		return fmt.Errorf("at least one provider credential must be configured")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when a topic is configured")
	}
	return nil
}

// ServerTimeout returns the inbound request budget.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// DispatchTimeout returns the per-attempt provider submission budget.
func (c Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Dispatch.TimeoutSeconds) * time.Second
}

// SweepInterval returns the time between reconciliation sweeps.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalSeconds) * time.Second
}

// Staleness returns how long a processing request may wait for its webhook.
func (c Config) Staleness() time.Duration {
	return time.Duration(c.Sweeper.StalenessSeconds) * time.Second
}

// PollTimeout returns the budget for one provider result fetch.
func (c Config) PollTimeout() time.Duration {
	return time.Duration(c.Sweeper.PollTimeoutSeconds) * time.Second
}
