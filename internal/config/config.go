// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/docuflow/harvester/internal/extract/selector"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Output    OutputConfig   `mapstructure:"output"`
	Engine    EngineConfig   `mapstructure:"engine"`
	Retry     RetryConfig    `mapstructure:"retry"`
	Frontier  FrontierConfig `mapstructure:"frontier"`
	Fetch     FetchConfig    `mapstructure:"fetch"`
	Browser   BrowserConfig  `mapstructure:"browser"`
	Tracking  TrackingConfig `mapstructure:"tracking"`
	Mirror    MirrorConfig   `mapstructure:"mirror"`
	PubSub    PubSubConfig   `mapstructure:"pubsub"`
	Server    ServerConfig   `mapstructure:"server"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	Seeds     []SeedConfig   `mapstructure:"seeds"`
	Selectors selector.Rules `mapstructure:"selectors"`
}

// OutputConfig sets where validated artifacts land.
type OutputConfig struct {
	Dir              string `mapstructure:"dir"`
	MinArtifactBytes int64  `mapstructure:"min_artifact_bytes"`
}

// EngineConfig governs the worker pool and politeness pacing.
type EngineConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	DelayMs     int `mapstructure:"delay_ms"`
	JitterMs    int `mapstructure:"jitter_ms"`
}

// RetryConfig controls the orchestrator's retry rounds and backoff curve.
type RetryConfig struct {
	Rounds           int `mapstructure:"rounds"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	AttemptTimeoutS  int `mapstructure:"attempt_timeout_seconds"`
}

// FrontierConfig caps discovery.
type FrontierConfig struct {
	MaxPages int `mapstructure:"max_pages"`
	MaxDepth int `mapstructure:"max_depth"`
}

// FetchConfig selects and tunes the fetch strategies.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	DirectEnabled  bool   `mapstructure:"direct_enabled"`
	BrowserEnabled bool   `mapstructure:"browser_enabled"`
}

// BrowserConfig tunes the shared headless browser provider.
type BrowserConfig struct {
	MaxParallel     int `mapstructure:"max_parallel"`
	NavTimeoutSec   int `mapstructure:"nav_timeout_seconds"`
	RefererSettleMs int `mapstructure:"referer_settle_ms"`
}

// TrackingConfig selects the durable ledger backend. Dir defaults to the
// output directory so the ledger travels with the artifacts it describes.
type TrackingConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// MirrorConfig configures the optional GCS artifact mirror.
type MirrorConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for acquisition event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the optional status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SeedConfig names one root listing page and its output category.
type SeedConfig struct {
	URL      string `mapstructure:"url"`
	Category string `mapstructure:"category"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("output.dir", "downloads")
	v.SetDefault("output.min_artifact_bytes", 1000)
	v.SetDefault("engine.concurrency", 2)
	v.SetDefault("engine.delay_ms", 1000)
	v.SetDefault("engine.jitter_ms", 500)
	v.SetDefault("retry.rounds", 3)
	v.SetDefault("retry.backoff_initial_ms", 2000)
	v.SetDefault("retry.backoff_max_ms", 30000)
	v.SetDefault("retry.attempt_timeout_seconds", 45)
	v.SetDefault("frontier.max_pages", 50)
	v.SetDefault("frontier.max_depth", 2)
	v.SetDefault("fetch.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("fetch.direct_enabled", true)
	v.SetDefault("fetch.browser_enabled", true)
	v.SetDefault("browser.max_parallel", 2)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.referer_settle_ms", 2000)
	v.SetDefault("tracking.backend", "file")
	v.SetDefault("tracking.table", "document_tracking")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if c.Engine.Concurrency < 1 || c.Engine.Concurrency > 5 {
		return fmt.Errorf("engine.concurrency must be between 1 and 5")
	}
	if c.Retry.Rounds <= 0 {
		return fmt.Errorf("retry.rounds must be > 0")
	}
	if c.Frontier.MaxPages <= 0 {
		return fmt.Errorf("frontier.max_pages must be > 0")
	}
	if !c.Fetch.DirectEnabled && !c.Fetch.BrowserEnabled {
		return fmt.Errorf("at least one of fetch.direct_enabled or fetch.browser_enabled must be true")
	}
	if c.Fetch.BrowserEnabled && c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0 when the browser strategies are enabled")
	}
	switch c.Tracking.Backend {
	case "file":
	case "postgres":
		if c.Tracking.DSN == "" {
			return fmt.Errorf("tracking.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("tracking.backend must be file or postgres, got %q", c.Tracking.Backend)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// TrackingDir returns the directory holding the file-backed ledger.
func (c Config) TrackingDir() string {
	if c.Tracking.Dir != "" {
		return c.Tracking.Dir
	}
	return c.Output.Dir
}

// Delay returns the politeness delay between items.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Engine.DelayMs) * time.Millisecond
}

// Jitter returns the random extra delay added on top of Delay.
func (c Config) Jitter() time.Duration {
	return time.Duration(c.Engine.JitterMs) * time.Millisecond
}

// BackoffBase returns the first-round backoff delay.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Retry.BackoffInitialMs) * time.Millisecond
}

// BackoffCap returns the maximum backoff delay.
func (c Config) BackoffCap() time.Duration {
	return time.Duration(c.Retry.BackoffMaxMs) * time.Millisecond
}

// AttemptTimeout bounds a single strategy attempt.
func (c Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Retry.AttemptTimeoutS) * time.Second
}

// NavTimeout bounds one browser navigation.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}

// RefererSettle is the pause after replaying a referer page.
func (c Config) RefererSettle() time.Duration {
	return time.Duration(c.Browser.RefererSettleMs) * time.Millisecond
}
