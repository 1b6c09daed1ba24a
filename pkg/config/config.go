package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	configDirName  = ".spin-gpt"
	configFileName = "config.yaml"
	envPrefix      = "SPIN_GPT_"
)

// Config holds all relay configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Session SessionConfig `yaml:"session"`
	Relay   RelayConfig   `yaml:"relay"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Bind         string        `yaml:"bind"`
	AllowRemote  bool          `yaml:"allow_remote"`
	CORSOrigins  []string      `yaml:"cors_origins"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second per client, 0 disables
	RateBurst    int           `yaml:"rate_burst"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// BrowserConfig controls how the single browser instance is launched.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless"`
	ExecPath       string        `yaml:"exec_path"`
	UserDataDir    string        `yaml:"user_data_dir"`
	UserAgent      string        `yaml:"user_agent"`
	ViewportWidth  int           `yaml:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// SessionConfig describes the chat page being driven.
type SessionConfig struct {
	BaseURL              string        `yaml:"base_url"`
	CookieFile           string        `yaml:"cookie_file"`
	ProbeSelector        string        `yaml:"probe_selector"`
	InputSelector        string        `yaml:"input_selector"`
	EndpointMarker       string        `yaml:"endpoint_marker"`
	ProbeTimeout         time.Duration `yaml:"probe_timeout"`
	RecoveryProbeTimeout time.Duration `yaml:"recovery_probe_timeout"`
	RenderPause          time.Duration `yaml:"render_pause"`
	NavigateTimeout      time.Duration `yaml:"navigate_timeout"`
}

// RelayConfig tunes a single prompt cycle.
type RelayConfig struct {
	ChunkTimeout time.Duration `yaml:"chunk_timeout"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
	TypeDelay    time.Duration `yaml:"type_delay"`
	SaveCookies  bool          `yaml:"save_cookies"`
}

// LoggingConfig controls the JSONL event log and tracing.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
	Trace bool   `yaml:"trace"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:         "127.0.0.1:8000",
			RateLimit:    2,
			RateBurst:    4,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:       true,
			UserAgent:      defaultUserAgent,
			ViewportWidth:  1280,
			ViewportHeight: 800,
			StartupTimeout: 60 * time.Second,
		},
		Session: SessionConfig{
			BaseURL:              "https://chatgpt.com/",
			CookieFile:           "chatgpt_cookies.json",
			ProbeSelector:        "#prompt-textarea",
			InputSelector:        "div[contenteditable='true']",
			EndpointMarker:       "conversation",
			ProbeTimeout:         2 * time.Second,
			RecoveryProbeTimeout: 5 * time.Second,
			RenderPause:          2 * time.Second,
			NavigateTimeout:      30 * time.Second,
		},
		Relay: RelayConfig{
			ChunkTimeout: 60 * time.Second,
			SettleDelay:  time.Second,
			TypeDelay:    500 * time.Millisecond,
			SaveCookies:  true,
		},
		Logging: LoggingConfig{
			Dir:   defaultLogDir(),
			Level: "info",
		},
	}
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(configDirName, "logs")
	}
	return filepath.Join(home, configDirName, "logs")
}

// Load resolves configuration from defaults, the user file, the project
// file and SPIN_GPT_* environment variables, in that order.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, configDirName, configFileName)
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectConfigPath := filepath.Join(".", configDirName, configFileName)
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads defaults, then path, then environment overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if val, ok := envBool(envPrefix + "ALLOW_REMOTE"); ok {
		cfg.Server.AllowRemote = val
	}
	if v := os.Getenv(envPrefix + "CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitCommaList(v)
	}
	if v, ok := envFloat(envPrefix + "RATE_LIMIT"); ok {
		cfg.Server.RateLimit = v
	}

	if val, ok := envBool(envPrefix + "HEADLESS"); ok {
		cfg.Browser.Headless = val
	}
	if v := os.Getenv(envPrefix + "CHROME_PATH"); v != "" {
		cfg.Browser.ExecPath = v
	}
	if v := os.Getenv(envPrefix + "USER_DATA_DIR"); v != "" {
		cfg.Browser.UserDataDir = v
	}

	if v := os.Getenv(envPrefix + "BASE_URL"); v != "" {
		cfg.Session.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "COOKIE_FILE"); v != "" {
		cfg.Session.CookieFile = v
	}
	if v, ok := envDuration(envPrefix + "CHUNK_TIMEOUT"); ok {
		cfg.Relay.ChunkTimeout = v
	}
	if val, ok := envBool(envPrefix + "SAVE_COOKIES"); ok {
		cfg.Relay.SaveCookies = val
	}

	if v := os.Getenv(envPrefix + "LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if val, ok := envBool(envPrefix + "TRACE"); ok {
		cfg.Logging.Trace = val
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func envDuration(key string) (time.Duration, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, false
	}
	return d, true
}

func envFloat(key string) (float64, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// IsLoopbackBindAddress reports whether addr only listens on loopback.
func IsLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback()
	}
}

// Validate rejects configurations the relay cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(c.Server.Bind) == "" {
		return fmt.Errorf("server.bind is required")
	}
	if !c.Server.AllowRemote && !IsLoopbackBindAddress(c.Server.Bind) {
		return fmt.Errorf("server.bind %q is not loopback; set server.allow_remote to expose the relay", c.Server.Bind)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be >= 1 when rate limiting is enabled")
	}

	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d", c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}

	u, err := url.Parse(c.Session.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("session.base_url %q must be an absolute URL", c.Session.BaseURL)
	}
	if strings.TrimSpace(c.Session.ProbeSelector) == "" {
		return fmt.Errorf("session.probe_selector is required")
	}
	if strings.TrimSpace(c.Session.InputSelector) == "" {
		return fmt.Errorf("session.input_selector is required")
	}
	if strings.TrimSpace(c.Session.EndpointMarker) == "" {
		return fmt.Errorf("session.endpoint_marker is required")
	}

	positive := map[string]time.Duration{
		"session.probe_timeout":          c.Session.ProbeTimeout,
		"session.recovery_probe_timeout": c.Session.RecoveryProbeTimeout,
		"session.navigate_timeout":       c.Session.NavigateTimeout,
		"relay.chunk_timeout":            c.Relay.ChunkTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	nonNegative := map[string]time.Duration{
		"session.render_pause": c.Session.RenderPause,
		"relay.settle_delay":   c.Relay.SettleDelay,
		"relay.type_delay":     c.Relay.TypeDelay,
	}
	for name, d := range nonNegative {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
