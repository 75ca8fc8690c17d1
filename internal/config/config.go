// Package config loads the scraping engine's tunables from environment
// variables, with an optional YAML file overlay and hot-reload, following
// the teacher's ApplyDefaults/LoadFromEnv/ComputeDerived pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the external-interfaces contract.
type Config struct {
	MaxConcurrentCards   int           `yaml:"max_concurrent_cards"`
	StaleScrollLimit     int           `yaml:"stale_scroll_limit"`
	DefaultTargetCount   int           `yaml:"default_target_count"`
	ScrollDelayMin       time.Duration `yaml:"-"`
	ScrollDelayMax       time.Duration `yaml:"-"`
	ScrollDelayMinMS     int           `yaml:"scroll_delay_min_ms"`
	ScrollDelayMaxMS     int           `yaml:"scroll_delay_max_ms"`
	CardExtractDelayMin  time.Duration `yaml:"-"`
	CardExtractDelayMax  time.Duration `yaml:"-"`
	CardExtractDelayMinMS int          `yaml:"card_extract_delay_min_ms"`
	CardExtractDelayMaxMS int          `yaml:"card_extract_delay_max_ms"`
	Headless             bool          `yaml:"headless"`
	BrowserTimeoutMS     int           `yaml:"browser_timeout_ms"`
	BrowserTimeout       time.Duration `yaml:"-"`
	UserAgents           []string      `yaml:"user_agents"`
	IdleTimeoutMinutes   int           `yaml:"idle_timeout_minutes"`
	IdleTimeout          time.Duration `yaml:"-"`
	SessionMaxAgeMinutes int           `yaml:"session_max_age_minutes"`
	SessionMaxAge        time.Duration `yaml:"-"`
	PoolMaxSessions      int           `yaml:"pool_max_sessions"`
	CursorTTLDays        int           `yaml:"cursor_ttl_days"`
	CursorTTL            time.Duration `yaml:"-"`

	DataDir     string `yaml:"data_dir"`
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	LogOutput   string `yaml:"log_output"`
	MetricsAddr string `yaml:"metrics_addr"`

	APIRateLimitPerSecond float64 `yaml:"api_rate_limit_per_second"`
	APIRateLimitBurst     int     `yaml:"api_rate_limit_burst"`
}

// DefaultConfig mirrors the defaults enumerated in the external-interfaces spec.
func DefaultConfig() Config {
	c := Config{
		MaxConcurrentCards:    4,
		StaleScrollLimit:      5,
		DefaultTargetCount:    50,
		ScrollDelayMinMS:      800,
		ScrollDelayMaxMS:      1800,
		CardExtractDelayMinMS: 300,
		CardExtractDelayMaxMS: 900,
		Headless:              true,
		BrowserTimeoutMS:       60_000,
		IdleTimeoutMinutes:     30,
		SessionMaxAgeMinutes:   120,
		PoolMaxSessions:        20,
		CursorTTLDays:          30,
		DataDir:                "./data",
		HTTPAddr:               ":8080",
		LogLevel:               "info",
		LogFormat:              "console",
		LogOutput:              "stdout",
		MetricsAddr:            ":9090",
		APIRateLimitPerSecond:  5,
		APIRateLimitBurst:      10,
	}
	c.ComputeDerived()
	return c
}

// LoadFromFile reads a YAML overlay, applying it on top of DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	cfg.ComputeDerived()
	return &cfg, nil
}

// LoadFromEnv overrides c's fields from environment variables, taking
// precedence over any file-supplied values.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("MAX_CONCURRENT_CARDS"); v != "" {
		setInt(&c.MaxConcurrentCards, v)
	}
	if v := os.Getenv("STALE_SCROLL_LIMIT"); v != "" {
		setInt(&c.StaleScrollLimit, v)
	}
	if v := os.Getenv("DEFAULT_TARGET_COUNT"); v != "" {
		setInt(&c.DefaultTargetCount, v)
	}
	if v := os.Getenv("SCROLL_DELAY_MIN"); v != "" {
		setIntMillisFromSeconds(&c.ScrollDelayMinMS, v)
	}
	if v := os.Getenv("SCROLL_DELAY_MAX"); v != "" {
		setIntMillisFromSeconds(&c.ScrollDelayMaxMS, v)
	}
	if v := os.Getenv("CARD_EXTRACT_DELAY_MIN"); v != "" {
		setIntMillisFromSeconds(&c.CardExtractDelayMinMS, v)
	}
	if v := os.Getenv("CARD_EXTRACT_DELAY_MAX"); v != "" {
		setIntMillisFromSeconds(&c.CardExtractDelayMaxMS, v)
	}
	if v := os.Getenv("HEADLESS"); v != "" {
		c.Headless = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("BROWSER_TIMEOUT_MS"); v != "" {
		setInt(&c.BrowserTimeoutMS, v)
	}
	if v := os.Getenv("USER_AGENTS"); v != "" {
		c.UserAgents = strings.Split(v, "|")
	}
	if v := os.Getenv("IDLE_TIMEOUT_MINUTES"); v != "" {
		setInt(&c.IdleTimeoutMinutes, v)
	}
	if v := os.Getenv("SESSION_MAX_AGE_MINUTES"); v != "" {
		setInt(&c.SessionMaxAgeMinutes, v)
	}
	if v := os.Getenv("POOL_MAX_SESSIONS"); v != "" {
		setInt(&c.PoolMaxSessions, v)
	}
	if v := os.Getenv("CURSOR_TTL_DAYS"); v != "" {
		setInt(&c.CursorTTLDays, v)
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	c.ApplyDefaults()
	c.ComputeDerived()
}

func setInt(dst *int, raw string) {
	if n, err := strconv.Atoi(raw); err == nil {
		*dst = n
	}
}

func setIntMillisFromSeconds(dst *int, raw string) {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		*dst = int(n * 1000)
	}
}

// ApplyDefaults clamps and fills zero-valued fields, the way the teacher's
// config guards against a malformed file leaving a field at its zero value.
func (c *Config) ApplyDefaults() {
	if c.MaxConcurrentCards <= 0 {
		c.MaxConcurrentCards = 4
	}
	if c.StaleScrollLimit <= 0 {
		c.StaleScrollLimit = 5
	}
	if c.DefaultTargetCount <= 0 {
		c.DefaultTargetCount = 50
	}
	if c.ScrollDelayMinMS <= 0 {
		c.ScrollDelayMinMS = 800
	}
	if c.ScrollDelayMaxMS < c.ScrollDelayMinMS {
		c.ScrollDelayMaxMS = c.ScrollDelayMinMS + 1000
	}
	if c.CardExtractDelayMinMS <= 0 {
		c.CardExtractDelayMinMS = 300
	}
	if c.CardExtractDelayMaxMS < c.CardExtractDelayMinMS {
		c.CardExtractDelayMaxMS = c.CardExtractDelayMinMS + 600
	}
	if c.BrowserTimeoutMS <= 0 {
		c.BrowserTimeoutMS = 60_000
	}
	if c.IdleTimeoutMinutes <= 0 {
		c.IdleTimeoutMinutes = 30
	}
	if c.SessionMaxAgeMinutes <= 0 {
		c.SessionMaxAgeMinutes = 120
	}
	if c.PoolMaxSessions <= 0 {
		c.PoolMaxSessions = 20
	}
	if c.CursorTTLDays <= 0 {
		c.CursorTTLDays = 30
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.LogOutput == "" {
		c.LogOutput = "stdout"
	}
	if c.APIRateLimitPerSecond <= 0 {
		c.APIRateLimitPerSecond = 5
	}
	if c.APIRateLimitBurst <= 0 {
		c.APIRateLimitBurst = 10
	}
}

// ComputeDerived fills the time.Duration fields derived from the raw
// millisecond/minute/day fields.
func (c *Config) ComputeDerived() {
	c.ScrollDelayMin = time.Duration(c.ScrollDelayMinMS) * time.Millisecond
	c.ScrollDelayMax = time.Duration(c.ScrollDelayMaxMS) * time.Millisecond
	c.CardExtractDelayMin = time.Duration(c.CardExtractDelayMinMS) * time.Millisecond
	c.CardExtractDelayMax = time.Duration(c.CardExtractDelayMaxMS) * time.Millisecond
	c.BrowserTimeout = time.Duration(c.BrowserTimeoutMS) * time.Millisecond
	c.IdleTimeout = time.Duration(c.IdleTimeoutMinutes) * time.Minute
	c.SessionMaxAge = time.Duration(c.SessionMaxAgeMinutes) * time.Minute
	c.CursorTTL = time.Duration(c.CursorTTLDays) * 24 * time.Hour
}

// Load builds a Config from an optional YAML file overlaid with environment
// variables; file and env omitted entirely falls back to DefaultConfig.
func Load(path string) (*Config, error) {
	var cfg *Config
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		d := DefaultConfig()
		cfg = &d
	}
	cfg.LoadFromEnv()
	return cfg, nil
}
