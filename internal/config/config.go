package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Store     StoreConfig     `yaml:"store"`
	Admission AdmissionConfig `yaml:"admission"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"` // "1.2" or "1.3"
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	BasePath  string          `yaml:"base_path"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Auth      AuthConfig      `yaml:"auth"`
}

// AuthConfig contains API key authentication. No keys disables it.
type AuthConfig struct {
	APIKeys    []string `yaml:"api_keys"`
	HeaderName string   `yaml:"header_name"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects and tunes the ledger store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path"`
	// DSN is the PostgreSQL connection string.
	DSN          string        `yaml:"dsn"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	// LogQueries routes every statement through the structured logger at debug level.
	LogQueries bool `yaml:"log_queries"`
}

// AdmissionConfig contains admission controller configuration.
type AdmissionConfig struct {
	// Timeout bounds a whole check including rollback.
	Timeout time.Duration `yaml:"timeout"`
	// LiveProbe asks the usage oracle before reserving a quota axis.
	LiveProbe       bool          `yaml:"live_probe"`
	ProbeCacheTTL   time.Duration `yaml:"probe_cache_ttl"`
	ProbeCacheBytes int           `yaml:"probe_cache_bytes"`
	FlavorCacheSize int           `yaml:"flavor_cache_size"`
}

// Oracle modes.
const (
	OracleHTTP   = "http"
	OracleStatic = "static"
)

// OracleConfig describes how to reach the usage oracle.
type OracleConfig struct {
	Mode    string        `yaml:"mode"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// UTLSFingerprint enables a uTLS transport with the named ClientHello (e.g. "chrome").
	UTLSFingerprint string             `yaml:"utls_fingerprint"`
	Headers         map[string]string  `yaml:"headers"`
	Static          StaticOracleConfig `yaml:"static"`
}

// StaticOracleConfig seeds the in-memory oracle.
type StaticOracleConfig struct {
	Usage  []StaticUsage    `yaml:"usage"`
	Budget map[string]int64 `yaml:"budget"`
}

// StaticUsage is the fixed consumption of one owner/group pair. Empty
// fields mean "all".
type StaticUsage struct {
	User  string `yaml:"user"`
	Group string `yaml:"group"`
	Value int64  `yaml:"value"`
}

// ReconcileConfig contains reconciliation scheduler configuration.
type ReconcileConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Interval       time.Duration        `yaml:"interval"`
	Timeout        time.Duration        `yaml:"timeout"`
	GraceWindow    time.Duration        `yaml:"grace_window"`
	RetryAttempts  int                  `yaml:"retry_attempts"`
	RetryBackoff   time.Duration        `yaml:"retry_backoff"`
	Concurrency    int                  `yaml:"concurrency"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig contains circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	HalfOpenLimit    int           `yaml:"half_open_limit"` // Number of successes in half-open state to close
}

// TelegramConfig contains Telegram notification configuration.
type TelegramConfig struct {
	Enabled   bool              `yaml:"enabled"`
	BotToken  string            `yaml:"bot_token"`
	ChatID    int64             `yaml:"chat_id"`
	Dedup     time.Duration     `yaml:"dedup"`
	RateLimit TelegramRateLimit `yaml:"rate_limit"`
}

// TelegramRateLimit contains Telegram rate limiting configuration.
type TelegramRateLimit struct {
	MessagesPerMinute int `yaml:"messages_per_minute"`
}

// MetricsConfig contains prometheus configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry configuration.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if err := c.Admission.Validate(); err != nil {
		return fmt.Errorf("admission: %w", err)
	}

	if err := c.Oracle.Validate(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}

	if err := c.Reconcile.Validate(); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("host is required")
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.TLS.Enabled {
		if s.TLS.CertFile == "" {
			return fmt.Errorf("tls cert_file is required when TLS is enabled")
		}
		if s.TLS.KeyFile == "" {
			return fmt.Errorf("tls key_file is required when TLS is enabled")
		}
		if s.TLS.MinVersion != "" && s.TLS.MinVersion != "1.2" && s.TLS.MinVersion != "1.3" {
			return fmt.Errorf("tls min_version must be either \"1.2\" or \"1.3\"")
		}
		if s.TLS.MinVersion == "" {
			s.TLS.MinVersion = "1.3"
		}
	}
	return nil
}

// Validate validates API configuration.
func (a *APIConfig) Validate() error {
	if a.BasePath == "" {
		a.BasePath = "/api/v1"
	}
	if a.RateLimit.RequestsPerMinute <= 0 {
		a.RateLimit.RequestsPerMinute = 6000
	}
	if a.RateLimit.RequestsPerMinute > 100000 {
		a.RateLimit.RequestsPerMinute = 100000
	}
	if a.RateLimit.Burst <= 0 {
		a.RateLimit.Burst = 200
	}
	if a.RateLimit.Burst > 10000 {
		a.RateLimit.Burst = 10000
	}
	if a.Auth.HeaderName == "" {
		a.Auth.HeaderName = "X-API-Key"
	}
	for i, k := range a.Auth.APIKeys {
		if k == "" {
			return fmt.Errorf("auth.api_keys[%d] is empty", i)
		}
	}
	return nil
}

// Validate validates store configuration.
func (s *StoreConfig) Validate() error {
	if s.Driver == "" {
		s.Driver = DriverSQLite
	}
	switch s.Driver {
	case DriverMemory:
	case DriverSQLite:
		if s.Path == "" {
			s.Path = "data/quotaledger.db"
		}
	case DriverPostgres:
		if s.DSN == "" {
			return fmt.Errorf("dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("driver must be one of: memory, sqlite, postgres")
	}
	if s.BusyTimeout <= 0 {
		s.BusyTimeout = 5 * time.Second
	}
	if s.MaxOpenConns < 0 {
		return fmt.Errorf("max_open_conns cannot be negative")
	}
	if s.MaxOpenConns == 0 {
		s.MaxOpenConns = 10
	}
	return nil
}

// Validate validates admission configuration.
func (a *AdmissionConfig) Validate() error {
	if a.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if a.Timeout == 0 {
		a.Timeout = 2 * time.Second
	}
	if a.ProbeCacheTTL <= 0 {
		a.ProbeCacheTTL = 5 * time.Second
	}
	if a.ProbeCacheBytes <= 0 {
		a.ProbeCacheBytes = 1 << 20
	}
	if a.FlavorCacheSize <= 0 {
		a.FlavorCacheSize = 1024
	}
	return nil
}

// Validate validates oracle configuration.
func (o *OracleConfig) Validate() error {
	if o.Mode == "" {
		o.Mode = OracleStatic
	}
	switch o.Mode {
	case OracleStatic:
	case OracleHTTP:
		if o.BaseURL == "" {
			return fmt.Errorf("base_url is required for http mode")
		}
		if _, err := url.ParseRequestURI(o.BaseURL); err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
	default:
		return fmt.Errorf("mode must be one of: http, static")
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	for i, u := range o.Static.Usage {
		if u.Value < 0 {
			return fmt.Errorf("static.usage[%d]: value cannot be negative", i)
		}
	}
	return nil
}

// Validate validates reconcile configuration.
func (r *ReconcileConfig) Validate() error {
	if r.Interval <= 0 {
		r.Interval = time.Minute
	}
	if r.Timeout <= 0 {
		r.Timeout = 10 * time.Second
	}
	if r.GraceWindow < 0 {
		return fmt.Errorf("grace_window cannot be negative")
	}
	if r.GraceWindow == 0 {
		r.GraceWindow = 5 * time.Minute
	}
	if r.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	if r.RetryBackoff <= 0 {
		r.RetryBackoff = 200 * time.Millisecond
	}
	if r.Concurrency <= 0 {
		r.Concurrency = 4
	}
	if r.CircuitBreaker.FailureThreshold <= 0 {
		r.CircuitBreaker.FailureThreshold = 3
	}
	if r.CircuitBreaker.Timeout <= 0 {
		r.CircuitBreaker.Timeout = 5 * time.Minute
	}
	if r.CircuitBreaker.HalfOpenLimit <= 0 {
		r.CircuitBreaker.HalfOpenLimit = 1
	}
	return nil
}

// Validate validates Telegram configuration.
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.BotToken == "" {
		return fmt.Errorf("bot_token is required when telegram is enabled")
	}
	if t.ChatID == 0 {
		return fmt.Errorf("chat_id is required when telegram is enabled")
	}
	if t.Dedup <= 0 {
		t.Dedup = 30 * time.Minute
	}
	if t.RateLimit.MessagesPerMinute <= 0 {
		t.RateLimit.MessagesPerMinute = 20
	}
	return nil
}

// Validate validates tracing configuration.
func (t *TracingConfig) Validate() error {
	if t.ServiceName == "" {
		t.ServiceName = "quotaledger"
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("sample_ratio must be between 0 and 1")
	}
	if t.Enabled && t.Endpoint == "" {
		return fmt.Errorf("endpoint is required when tracing is enabled")
	}
	if t.Enabled && t.SampleRatio == 0 {
		t.SampleRatio = 1
	}
	return nil
}

// Defaults returns a configuration with every default applied, usable without a file.
func Defaults() *Config {
	cfg := &Config{
		Version: "1",
		Server: ServerConfig{
			Host:     "127.0.0.1",
			HTTPPort: 8420,
		},
		API:       APIConfig{Enabled: true},
		Reconcile: ReconcileConfig{Enabled: true},
		Metrics:   MetricsConfig{Enabled: true},
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return cfg
}
