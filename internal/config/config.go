// Package config provides configuration loading and validation for the CLI and
// HTTP server.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/pipeline-monitor/internal/backend"
	"github.com/jonathan/pipeline-monitor/internal/schemas"
	"github.com/jonathan/pipeline-monitor/internal/server/ratelimit"
	"github.com/jonathan/pipeline-monitor/internal/steps"
)

// Environment variables that override file values.
const (
	EnvBackendURL = "PIPELINE_BACKEND_URL"
	EnvLogLevel   = "LOG_LEVEL"
)

// Config represents the configuration that can be loaded from a JSON or YAML
// file. All fields are optional; missing values use defaults or CLI flags.
type Config struct {
	// Backend
	BackendURL            string            `json:"backend_url,omitempty" yaml:"backend_url,omitempty" validate:"omitempty,url"`
	RunPath               string            `json:"run_path,omitempty" yaml:"run_path,omitempty"`
	ConnectTimeoutSeconds int               `json:"connect_timeout_seconds,omitempty" yaml:"connect_timeout_seconds,omitempty" validate:"gte=0"`
	Headers               map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Run
	Mode          steps.Mode `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=signal research pre-research post-research full"`
	ExecuteTrades bool       `json:"execute_trades,omitempty" yaml:"execute_trades,omitempty"`
	DryRun        bool       `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Tickers       []string   `json:"tickers,omitempty" yaml:"tickers,omitempty" validate:"dive,required"`
	StartDate     string     `json:"start_date,omitempty" yaml:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate       string     `json:"end_date,omitempty" yaml:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ModelName     string     `json:"model_name,omitempty" yaml:"model_name,omitempty"`

	// Logging
	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty" validate:"omitempty,oneof=text json"`

	// Server
	Port          int        `json:"port,omitempty" yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	RegistryLimit int        `json:"registry_limit,omitempty" yaml:"registry_limit,omitempty" validate:"gte=0"`
	RateLimit     *RateLimit `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// RateLimit overrides the server's request limits. Unset fields keep the
// built-in defaults.
type RateLimit struct {
	Enabled              *bool        `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	DefaultLimit         int          `json:"default_limit,omitempty" yaml:"default_limit,omitempty" validate:"gte=0"`
	DefaultWindowSeconds int          `json:"default_window_seconds,omitempty" yaml:"default_window_seconds,omitempty" validate:"gte=0"`
	Whitelist            []string     `json:"whitelist,omitempty" yaml:"whitelist,omitempty" validate:"dive,ip"`
	Blacklist            []string     `json:"blacklist,omitempty" yaml:"blacklist,omitempty" validate:"dive,ip"`
	Routes               []RouteLimit `json:"routes,omitempty" yaml:"routes,omitempty" validate:"dive"`
}

// RouteLimit sets the limit for one server route, named by its method and
// pattern ("POST /runs"). A zero limit leaves the route unlimited.
type RouteLimit struct {
	Route         string `json:"route" yaml:"route" validate:"required"`
	Limit         int    `json:"limit" yaml:"limit" validate:"gte=0"`
	WindowSeconds int    `json:"window_seconds,omitempty" yaml:"window_seconds,omitempty" validate:"gte=0"`
	Burst         int    `json:"burst,omitempty" yaml:"burst,omitempty" validate:"gte=0"`
}

// Defaults returns the values used when neither the file nor flags set one.
func Defaults() Config {
	return Config{
		BackendURL:            "http://localhost:8000",
		RunPath:               backend.DefaultRunPath,
		ConnectTimeoutSeconds: int(backend.DefaultConnectTimeout / time.Second),
		Mode:                  steps.ModeSignal,
		LogLevel:              "info",
		LogFormat:             "text",
		Port:                  8080,
		RegistryLimit:         32,
	}
}

// ValidationError is a semantic configuration error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config error: '%s' %s", e.Field, e.Message)
}

// LoadConfig loads configuration from a JSON or YAML file. The format is
// chosen by extension (.yaml/.yml, otherwise JSON). The document is checked
// against the config schema before it is decoded.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if !json.Valid(data) {
			return nil, fmt.Errorf("failed to parse config JSON: invalid JSON in %s", path)
		}
	}

	if err := schemas.ValidateConfig(data); err != nil {
		return nil, fmt.Errorf("config %s does not match schema: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return &cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share one
// schema check and one decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(doc)
}

// Validate checks that the configuration has valid values. Required fields are
// not checked here since flags may still supply them after merging.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("failed '%s' validation", fe.Tag())}
		}
		return err
	}

	if c.StartDate != "" && c.EndDate != "" && c.EndDate < c.StartDate {
		return &ValidationError{Field: "EndDate", Message: "must not be before start_date"}
	}
	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from
// defaults. This is used to apply config file values as defaults for CLI
// flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.BackendURL == "" {
		result.BackendURL = defaults.BackendURL
	}
	if result.RunPath == "" {
		result.RunPath = defaults.RunPath
	}
	if result.Mode == "" {
		result.Mode = defaults.Mode
	}
	if len(result.Tickers) == 0 {
		result.Tickers = defaults.Tickers
	}
	if len(result.Headers) == 0 {
		result.Headers = defaults.Headers
	}
	if result.StartDate == "" {
		result.StartDate = defaults.StartDate
	}
	if result.EndDate == "" {
		result.EndDate = defaults.EndDate
	}
	if result.ModelName == "" {
		result.ModelName = defaults.ModelName
	}
	if result.LogLevel == "" {
		result.LogLevel = defaults.LogLevel
	}
	if result.LogFormat == "" {
		result.LogFormat = defaults.LogFormat
	}

	if result.ConnectTimeoutSeconds == 0 {
		result.ConnectTimeoutSeconds = defaults.ConnectTimeoutSeconds
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.RegistryLimit == 0 {
		result.RegistryLimit = defaults.RegistryLimit
	}
	if result.RateLimit == nil {
		result.RateLimit = defaults.RateLimit
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvBackendURL)); v != "" {
		c.BackendURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

// ConnectTimeout returns the backend connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// ClientOptions returns the backend client options described by the config.
func (c *Config) ClientOptions() *backend.Options {
	return &backend.Options{
		RunPath:        c.RunPath,
		ConnectTimeout: c.ConnectTimeout(),
		Headers:        c.Headers,
	}
}

// RunRequest builds the backend request for a run.
func (c *Config) RunRequest() backend.RunRequest {
	return backend.RunRequest{
		Tickers:       c.Tickers,
		Mode:          c.Mode,
		ExecuteTrades: c.ExecuteTrades,
		DryRun:        c.DryRun,
		StartDate:     c.StartDate,
		EndDate:       c.EndDate,
		ModelName:     c.ModelName,
	}
}

// RateLimitConfig returns the server rate limiter settings: the built-in
// defaults with the config file's overrides applied. Route entries replace the
// default rule for the same route or add a new one.
func (c *Config) RateLimitConfig() *ratelimit.Config {
	rl := ratelimit.DefaultConfig()
	if c.RateLimit == nil {
		return rl
	}
	o := c.RateLimit

	if o.Enabled != nil {
		rl.Enabled = *o.Enabled
	}
	if o.DefaultLimit > 0 {
		rl.DefaultLimit = o.DefaultLimit
	}
	if o.DefaultWindowSeconds > 0 {
		rl.DefaultWindow = time.Duration(o.DefaultWindowSeconds) * time.Second
	}
	for _, ip := range o.Whitelist {
		rl.Whitelist[ip] = true
	}
	for _, ip := range o.Blacklist {
		rl.Blacklist[ip] = true
	}

	for _, r := range o.Routes {
		rule := ratelimit.Rule{
			Pattern: strings.TrimSpace(r.Route),
			Limit:   r.Limit,
			Window:  time.Duration(r.WindowSeconds) * time.Second,
			Burst:   r.Burst,
		}
		if rule.Limit > 0 && rule.Window == 0 {
			rule.Window = time.Minute
		}

		replaced := false
		for i := range rl.Rules {
			if rl.Rules[i].Pattern == rule.Pattern {
				rl.Rules[i] = rule
				replaced = true
				break
			}
		}
		if !replaced {
			rl.Rules = append(rl.Rules, rule)
		}
	}
	return rl
}
