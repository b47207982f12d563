// Package config loads and validates the docpress configuration file.
// Environment variables referenced as ${VAR} in the YAML are expanded at load
// time, with .env files loaded first for local development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/docpress/internal/retry"
)

// Config represents the application configuration.
type Config struct {
	Manifest string         `yaml:"manifest,omitempty"` // path to docpress.yaml
	Source   string         `yaml:"source,omitempty"`   // project source directory
	Registry RegistryConfig `yaml:"registry,omitempty"`
	Output   OutputConfig   `yaml:"output"`
	Assets   AssetsConfig   `yaml:"assets,omitempty"`
	Compiler CompilerConfig `yaml:"compiler"`
	Cache    CacheConfig    `yaml:"cache,omitempty"`
	Build    BuildConfig    `yaml:"build,omitempty"`
	Verify   VerifyConfig   `yaml:"verify,omitempty"`
	History  HistoryConfig  `yaml:"history,omitempty"`
	Events   EventsConfig   `yaml:"events,omitempty"`
	Daemon   DaemonConfig   `yaml:"daemon,omitempty"`
}

// RegistryConfig points at the dependency registry.
type RegistryConfig struct {
	URL string `yaml:"url,omitempty"` // https://, http://, or file://
}

// OutputConfig describes the servable output tree.
type OutputConfig struct {
	Directory    string `yaml:"directory"`
	ReservedPath string `yaml:"reserved_path,omitempty"` // subpath owned by compiled docs
}

// AssetsConfig locates the static assets copied verbatim into the output.
type AssetsConfig struct {
	Directory string `yaml:"directory,omitempty"`
}

// CompilerConfig describes the external documentation compiler.
type CompilerConfig struct {
	Bin       string   `yaml:"bin"`
	Args      []string `yaml:"args,omitempty"`       // appended after the fixed argument set
	OutputDir string   `yaml:"output_dir,omitempty"` // relative to source; default target/doc
	DepsEnv   string   `yaml:"deps_env,omitempty"`   // env var exposing the materialized deps dir
}

// CacheConfig locates the dependency cache.
type CacheConfig struct {
	Directory string `yaml:"directory,omitempty"`
}

// BuildConfig holds run timeout and fetch retry knobs. Durations are
// expressed as Go duration strings ("30m", "2s").
type BuildConfig struct {
	Timeout           string `yaml:"timeout,omitempty"`
	MaxRetries        int    `yaml:"max_retries,omitempty"`
	RetryBackoff      string `yaml:"retry_backoff,omitempty"` // fixed|linear|exponential
	RetryInitialDelay string `yaml:"retry_initial_delay,omitempty"`
	RetryMaxDelay     string `yaml:"retry_max_delay,omitempty"`
}

// VerifyConfig controls post-assembly link verification.
type VerifyConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	Strict  bool `yaml:"strict,omitempty"` // broken links fail the run
}

// HistoryConfig locates the run history database.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// EventsConfig controls NATS run-event publishing.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// DaemonConfig controls the long-running rebuild daemon.
type DaemonConfig struct {
	Interval    string `yaml:"interval,omitempty"`     // scheduled rebuild interval; empty disables
	Watch       bool   `yaml:"watch,omitempty"`        // rebuild on filesystem changes
	QuietWindow string `yaml:"quiet_window,omitempty"` // debounce after a change burst
	MaxDelay    string `yaml:"max_delay,omitempty"`    // cap on debounce deferral
	HTTPAddr    string `yaml:"http_addr,omitempty"`    // health/metrics/preview listener
}

// Defaults applied by Load for unset fields.
const (
	DefaultManifestPath = "docpress.yaml"
	DefaultOutputDir    = "./site"
	DefaultReservedPath = "doc"
	DefaultCacheDir     = ".docpress/cache"
	DefaultHistoryPath  = ".docpress/history.db"
	DefaultTimeout      = "30m"
	DefaultQuietWindow  = "2s"
	DefaultMaxDelay     = "30s"
	DefaultHTTPAddr     = ":8080"
	DefaultNATSSubject  = "docpress.runs"
)

// Load reads, expands, defaults, and validates the configuration file.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path) // #nosec G304 - config path comes from the CLI
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Manifest == "" {
		c.Manifest = DefaultManifestPath
	}
	if c.Source == "" {
		c.Source = "."
	}
	if c.Output.Directory == "" {
		c.Output.Directory = DefaultOutputDir
	}
	if c.Output.ReservedPath == "" {
		c.Output.ReservedPath = DefaultReservedPath
	}
	if c.Cache.Directory == "" {
		c.Cache.Directory = DefaultCacheDir
	}
	if c.Build.Timeout == "" {
		c.Build.Timeout = DefaultTimeout
	}
	if c.History.Path == "" {
		c.History.Path = DefaultHistoryPath
	}
	if c.Events.Enabled && c.Events.Subject == "" {
		c.Events.Subject = DefaultNATSSubject
	}
	if c.Daemon.QuietWindow == "" {
		c.Daemon.QuietWindow = DefaultQuietWindow
	}
	if c.Daemon.MaxDelay == "" {
		c.Daemon.MaxDelay = DefaultMaxDelay
	}
	if c.Daemon.HTTPAddr == "" {
		c.Daemon.HTTPAddr = DefaultHTTPAddr
	}
}

// Validate checks field formats and relationships.
func (c *Config) Validate() error {
	if c.Compiler.Bin == "" {
		return fmt.Errorf("compiler.bin is required")
	}
	if _, err := time.ParseDuration(c.Build.Timeout); err != nil {
		return fmt.Errorf("invalid build.timeout: %s: %w", c.Build.Timeout, err)
	}
	if c.Build.MaxRetries < 0 {
		return fmt.Errorf("build.max_retries cannot be negative: %d", c.Build.MaxRetries)
	}
	if c.Build.RetryBackoff != "" {
		switch retry.BackoffMode(c.Build.RetryBackoff) {
		case retry.BackoffFixed, retry.BackoffLinear, retry.BackoffExponential:
		default:
			return fmt.Errorf("invalid build.retry_backoff: %s (allowed: fixed|linear|exponential)", c.Build.RetryBackoff)
		}
	}
	for name, v := range map[string]string{
		"build.retry_initial_delay": c.Build.RetryInitialDelay,
		"build.retry_max_delay":     c.Build.RetryMaxDelay,
		"daemon.interval":           c.Daemon.Interval,
		"daemon.quiet_window":       c.Daemon.QuietWindow,
		"daemon.max_delay":          c.Daemon.MaxDelay,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %s: %w", name, v, err)
		}
	}
	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events.url is required when events are enabled")
	}
	return nil
}

// BuildTimeout returns the parsed run timeout.
func (c *Config) BuildTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Build.Timeout)
	return d
}

// RetryPolicy converts the build retry fields into a retry.Policy.
func (c *Config) RetryPolicy() retry.Policy {
	initial, _ := time.ParseDuration(c.Build.RetryInitialDelay)
	maxDelay, _ := time.ParseDuration(c.Build.RetryMaxDelay)
	return retry.NewPolicy(retry.BackoffMode(c.Build.RetryBackoff), initial, maxDelay, c.Build.MaxRetries)
}

// DaemonInterval returns the scheduled rebuild interval, zero when disabled.
func (c *Config) DaemonInterval() time.Duration {
	if c.Daemon.Interval == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.Daemon.Interval)
	return d
}

// DaemonQuietWindow returns the parsed watch debounce window.
func (c *Config) DaemonQuietWindow() time.Duration {
	d, _ := time.ParseDuration(c.Daemon.QuietWindow)
	return d
}

// DaemonMaxDelay returns the parsed debounce deferral cap.
func (c *Config) DaemonMaxDelay() time.Duration {
	d, _ := time.ParseDuration(c.Daemon.MaxDelay)
	return d
}

// Init creates a new configuration file with example content.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	example := Config{
		Manifest: DefaultManifestPath,
		Source:   ".",
		Registry: RegistryConfig{URL: "https://registry.example.com"},
		Output:   OutputConfig{Directory: DefaultOutputDir, ReservedPath: DefaultReservedPath},
		Assets:   AssetsConfig{Directory: "./assets"},
		Compiler: CompilerConfig{Bin: "texide"},
		Cache:    CacheConfig{Directory: DefaultCacheDir},
		Build:    BuildConfig{Timeout: DefaultTimeout},
		Verify:   VerifyConfig{Enabled: true},
		History:  HistoryConfig{Path: DefaultHistoryPath},
		Daemon:   DaemonConfig{Interval: "1h", Watch: true, HTTPAddr: DefaultHTTPAddr},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("marshal example config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	// Seed an example manifest next to the config, never overwriting one.
	manifestPath := filepath.Join(filepath.Dir(path), DefaultManifestPath)
	if _, err := os.Stat(manifestPath); err == nil {
		return nil
	}
	manifest := `project: example
source: .
dependencies:
  libfoo: "^1.0"
`
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o600); err != nil {
		return fmt.Errorf("write example manifest: %w", err)
	}
	return nil
}
