// Package config provides YAML configuration parsing for the walletfleet
// binary.
//
// Example configuration:
//
//	database:
//	  driver: sqlite
//	  dsn: flow3.db
//
//	proxy: ${FLEET_PROXY:-}
//	dashboard_port: 8080
//	log_level: info
//
//	api:
//	  login_url: https://api.flow3.tech/api/v1/user/login
//	  action_url: https://api.mtcadmin.click/api/v1/bandwidth
//	  login_timeout: 35s
//	  action_timeout: 15s
//
//	poll:
//	  min_delay: 30s
//	  max_delay: 60s
//	  startup_stagger: 5s
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/walletfleet"
	"github.com/jpalmerr/walletfleet/internal/api"
	"github.com/jpalmerr/walletfleet/internal/transport"
)

// minRenderInterval keeps the terminal from redrawing faster than it can be read.
const minRenderInterval = 100 * time.Millisecond

// minRequestTimeout applies to the login and action timeouts.
const minRequestTimeout = time.Second

// Config is the root configuration structure.
//
// It maps directly to the YAML configuration file structure.
// Use [Load], [Parse] or [Default] to create one.
type Config struct {
	Database DatabaseConfig `yaml:"database"`

	// Proxy routes every request through http, https, socks5 or socks5h.
	// Empty connects directly. Supports ${VAR} substitution.
	Proxy string `yaml:"proxy"`

	// ConnectivityURL is requested by the proxy self-test and must echo the
	// caller's IP.
	ConnectivityURL string `yaml:"connectivity_url"`

	// RenderInterval is how often the terminal table redraws. Defaults to 1s.
	RenderInterval Duration `yaml:"render_interval"`

	// DashboardPort serves the web dashboard when non-zero.
	DashboardPort int `yaml:"dashboard_port"`

	// Title is shown above the stats table and on the dashboard.
	Title string `yaml:"title"`

	// LogLevel is debug, info, warn or error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	API  APIConfig  `yaml:"api"`
	Poll PollConfig `yaml:"poll"`
}

// DatabaseConfig selects the wallet store.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`

	// DSN is a file path for sqlite or a connection string for postgres.
	// Supports ${VAR} substitution.
	DSN string `yaml:"dsn"`
}

// APIConfig configures the login and action endpoints.
type APIConfig struct {
	LoginURL  string `yaml:"login_url"`
	ActionURL string `yaml:"action_url"`

	// Message is the challenge every wallet signs to log in.
	Message string `yaml:"message"`

	LoginTimeout  Duration `yaml:"login_timeout"`
	ActionTimeout Duration `yaml:"action_timeout"`

	// ElapsedField is the dot path of the server-reported elapsed time in
	// action responses.
	ElapsedField string `yaml:"elapsed_field"`

	UserAgent string `yaml:"user_agent"`
}

// PollConfig configures each wallet's schedule.
type PollConfig struct {
	MinDelay       Duration `yaml:"min_delay"`
	MaxDelay       Duration `yaml:"max_delay"`
	StartupStagger Duration `yaml:"startup_stagger"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string such as "30s".
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "flow3.db"
	}
	if c.ConnectivityURL == "" {
		c.ConnectivityURL = transport.DefaultConnectivityURL
	}
	if c.RenderInterval == 0 {
		c.RenderInterval = Duration(time.Second)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.API.LoginURL == "" {
		c.API.LoginURL = api.DefaultLoginURL
	}
	if c.API.ActionURL == "" {
		c.API.ActionURL = api.DefaultActionURL
	}
	if c.API.Message == "" {
		c.API.Message = walletfleet.DefaultChallengeMessage
	}
	if c.API.LoginTimeout == 0 {
		c.API.LoginTimeout = Duration(api.DefaultLoginTimeout)
	}
	if c.API.ActionTimeout == 0 {
		c.API.ActionTimeout = Duration(api.DefaultActionTimeout)
	}
	if c.API.ElapsedField == "" {
		c.API.ElapsedField = "data.totalTime"
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = api.DefaultUserAgent
	}
	if c.Poll.MinDelay == 0 {
		c.Poll.MinDelay = Duration(30 * time.Second)
	}
	if c.Poll.MaxDelay == 0 {
		c.Poll.MaxDelay = max(c.Poll.MinDelay, Duration(60*time.Second))
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults, expands
// environment variables in the DSN, proxy and API URLs, and validates the
// result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.expand(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expand() error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"database.dsn", &c.Database.DSN},
		{"proxy", &c.Proxy},
		{"connectivity_url", &c.ConnectivityURL},
		{"api.login_url", &c.API.LoginURL},
		{"api.action_url", &c.API.ActionURL},
	}

	for _, f := range fields {
		expanded, err := expandEnvVars(*f.ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.ptr = expanded
	}
	return nil
}

// Validate checks a configuration that already has defaults applied.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if _, err := transport.ParseProxy(c.Proxy); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}

	for _, u := range []struct{ name, value string }{
		{"connectivity_url", c.ConnectivityURL},
		{"api.login_url", c.API.LoginURL},
		{"api.action_url", c.API.ActionURL},
	} {
		if err := validateHTTPURL(u.value); err != nil {
			return fmt.Errorf("%s: %w", u.name, err)
		}
	}

	if c.RenderInterval.Duration() < minRenderInterval {
		return fmt.Errorf("render_interval must be at least %s, got %s", minRenderInterval, c.RenderInterval.Duration())
	}
	if c.DashboardPort < 0 || c.DashboardPort > 65535 {
		return fmt.Errorf("dashboard_port must be between 0 and 65535, got %d", c.DashboardPort)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	if c.API.LoginTimeout.Duration() < minRequestTimeout {
		return fmt.Errorf("api.login_timeout must be at least %s, got %s", minRequestTimeout, c.API.LoginTimeout.Duration())
	}
	if c.API.ActionTimeout.Duration() < minRequestTimeout {
		return fmt.Errorf("api.action_timeout must be at least %s, got %s", minRequestTimeout, c.API.ActionTimeout.Duration())
	}

	if c.Poll.MinDelay.Duration() <= 0 {
		return fmt.Errorf("poll.min_delay must be positive, got %s", c.Poll.MinDelay.Duration())
	}
	if c.Poll.MaxDelay.Duration() < c.Poll.MinDelay.Duration() {
		return fmt.Errorf("poll.max_delay (%s) must not be less than poll.min_delay (%s)",
			c.Poll.MaxDelay.Duration(), c.Poll.MinDelay.Duration())
	}
	if c.Poll.StartupStagger.Duration() < 0 {
		return fmt.Errorf("poll.startup_stagger cannot be negative, got %s", c.Poll.StartupStagger.Duration())
	}

	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("url must have a scheme (http:// or https://)")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url must have a host")
	}
	return nil
}
