package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
version: "1"
server:
  host: "127.0.0.1"
  http_port: 8420
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing version",
			mutate:  func(c *Config) { c.Version = "" },
			wantErr: true,
			errMsg:  "version is required",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: true,
			errMsg:  "http_port",
		},
		{
			name:    "unknown store driver",
			mutate:  func(c *Config) { c.Store.Driver = "mysql" },
			wantErr: true,
			errMsg:  "driver must be one of",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Store.Driver = DriverPostgres; c.Store.DSN = "" },
			wantErr: true,
			errMsg:  "dsn is required",
		},
		{
			name:    "http oracle without url",
			mutate:  func(c *Config) { c.Oracle.Mode = OracleHTTP },
			wantErr: true,
			errMsg:  "base_url is required",
		},
		{
			name:    "negative grace window",
			mutate:  func(c *Config) { c.Reconcile.GraceWindow = -time.Second },
			wantErr: true,
			errMsg:  "grace_window",
		},
		{
			name:    "telegram without token",
			mutate:  func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = 1 },
			wantErr: true,
			errMsg:  "bot_token",
		},
		{
			name:    "tracing without endpoint",
			mutate:  func(c *Config) { c.Tracing.Enabled = true },
			wantErr: true,
			errMsg:  "endpoint is required",
		},
		{
			name:    "negative static usage",
			mutate:  func(c *Config) { c.Oracle.Static.Usage = []StaticUsage{{User: "u", Value: -1}} },
			wantErr: true,
			errMsg:  "static.usage[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "data/quotaledger.db", cfg.Store.Path)
	assert.Equal(t, OracleStatic, cfg.Oracle.Mode)
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.GraceWindow)
	assert.Equal(t, 2*time.Second, cfg.Admission.Timeout)
	assert.Equal(t, 3, cfg.Reconcile.CircuitBreaker.FailureThreshold)
	assert.Equal(t, "/api/v1", cfg.API.BasePath)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "quotaledger", cfg.Tracing.ServiceName)
}

func TestServerConfig_TLS(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", HTTPPort: 443, TLS: TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k"}}
	require.NoError(t, s.Validate())
	assert.Equal(t, "1.3", s.TLS.MinVersion)

	s.TLS.MinVersion = "1.1"
	assert.Error(t, s.Validate())
}

func TestAPIConfig_RateLimitCaps(t *testing.T) {
	a := APIConfig{RateLimit: RateLimitConfig{RequestsPerMinute: 1 << 30, Burst: 1 << 20}}
	require.NoError(t, a.Validate())
	assert.Equal(t, 100000, a.RateLimit.RequestsPerMinute)
	assert.Equal(t, 10000, a.RateLimit.Burst)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test_value")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no substitution", "hello world", "hello world"},
		{"single substitution", "value is ${TEST_VAR}", "value is test_value"},
		{"missing env var returns empty", "value is ${MISSING_VAR_XYZ}", "value is "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(substituteEnvVars([]byte(tt.input))))
		})
	}
}

func TestParse(t *testing.T) {
	configYAML := `
version: "1"
server:
  host: "0.0.0.0"
  http_port: 9000
  log_level: "debug"
store:
  driver: postgres
  dsn: "postgres://ledger@localhost/ledger?sslmode=disable"
  log_queries: true
admission:
  timeout: "500ms"
  live_probe: true
  probe_cache_ttl: "2s"
oracle:
  mode: http
  base_url: "https://usage.internal"
  timeout: "3s"
  headers:
    X-Token: abc
reconcile:
  interval: "30s"
  grace_window: "2m"
  retry_attempts: 2
  circuit_breaker:
    failure_threshold: 5
telegram:
  enabled: false
`

	config, err := Parse([]byte(configYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Server.LogLevel)
	assert.Equal(t, 9000, config.Server.HTTPPort)
	assert.Equal(t, DriverPostgres, config.Store.Driver)
	assert.True(t, config.Store.LogQueries)
	assert.Equal(t, 500*time.Millisecond, config.Admission.Timeout)
	assert.True(t, config.Admission.LiveProbe)
	assert.Equal(t, 2*time.Second, config.Admission.ProbeCacheTTL)
	assert.Equal(t, OracleHTTP, config.Oracle.Mode)
	assert.Equal(t, "abc", config.Oracle.Headers["X-Token"])
	assert.Equal(t, 30*time.Second, config.Reconcile.Interval)
	assert.Equal(t, 2*time.Minute, config.Reconcile.GraceWindow)
	assert.Equal(t, 2, config.Reconcile.RetryAttempts)
	assert.Equal(t, 5, config.Reconcile.CircuitBreaker.FailureThreshold)
	assert.True(t, config.Reconcile.Enabled, "enabled by default")
	assert.True(t, config.API.Enabled, "enabled by default")
}

func TestParse_StaticOracle(t *testing.T) {
	config, err := Parse([]byte(minimalYAML + `
oracle:
  mode: static
  static:
    usage:
      - user: alice
        group: gpu
        value: 3
      - group: gpu
        value: 10
    budget:
      alice: 40
`))
	require.NoError(t, err)
	require.Len(t, config.Oracle.Static.Usage, 2)
	assert.Equal(t, StaticUsage{User: "alice", Group: "gpu", Value: 3}, config.Oracle.Static.Usage[0])
	assert.Equal(t, int64(40), config.Oracle.Static.Budget["alice"])
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("version: \"1\"\nserver:\n  http_port: not_a_number\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParse_InvalidConfig(t *testing.T) {
	_, err := Parse([]byte("version: \"\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_DSN", "postgres://x@y/z")
	path := writeConfig(t, minimalYAML+`
store:
  driver: postgres
  dsn: "${TEST_DSN}"
`)

	loader := NewLoader(path)
	config, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://x@y/z", config.Store.DSN)
	assert.Equal(t, config, loader.Get())
	assert.Equal(t, path, loader.Path())
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := NewLoader("/nonexistent/path/config.yaml").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoader_OnChange(t *testing.T) {
	loader := NewLoader(writeConfig(t, minimalYAML))

	changeCalled := false
	loader.SetOnChange(func(c *Config) {
		changeCalled = true
	})

	_, err := loader.Load()
	require.NoError(t, err)
	assert.False(t, changeCalled, "Load must not fire the callback")

	_, err = loader.Reload()
	require.NoError(t, err)
	assert.True(t, changeCalled)
}

func TestLoader_Watcher(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	var reloads atomic.Int32
	changed := make(chan *Config, 4)
	loader.SetOnChange(func(c *Config) {
		reloads.Add(1)
		changed <- c
	})
	require.NoError(t, loader.StartWatcher())
	defer loader.StopWatcher()

	updated := minimalYAML + "reconcile:\n  interval: \"45s\"\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case c := <-changed:
		assert.Equal(t, 45*time.Second, c.Reconcile.Interval)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload the file")
	}
	assert.Equal(t, 45*time.Second, loader.Get().Reconcile.Interval)
}

func TestLoader_WatcherKeepsConfigOnError(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	loader := NewLoader(path)
	original, err := loader.Load()
	require.NoError(t, err)

	errs := make(chan error, 4)
	loader.SetOnError(func(err error) { errs <- err })
	require.NoError(t, loader.StartWatcher())
	defer loader.StopWatcher()

	require.NoError(t, os.WriteFile(path, []byte("version: [broken"), 0o644))

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "failed to parse YAML")
	case <-time.After(5 * time.Second):
		t.Fatal("expected reload error")
	}
	assert.Same(t, original, loader.Get())
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	t.Setenv(EnvConfigPath, path)
	t.Setenv(EnvDBPath, "/var/lib/quotaledger/ledger.db")

	config, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "1", config.Version)
	assert.Equal(t, "/var/lib/quotaledger/ledger.db", config.Store.Path)
}

func TestLoadFromEnv_NotFound(t *testing.T) {
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestMustLoad_Panic(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad("/nonexistent/config.yaml")
	})
	assert.NotPanics(t, func() {
		MustLoad(writeConfig(t, minimalYAML))
	})
}

func TestReloadableChanged(t *testing.T) {
	a := Defaults()
	b := Defaults()
	assert.False(t, ReloadableChanged(a, b))

	b.Reconcile.Interval = time.Hour
	assert.True(t, ReloadableChanged(a, b))

	b = Defaults()
	b.Server.HTTPPort = 1
	assert.False(t, ReloadableChanged(a, b))
	assert.True(t, ReloadableChanged(nil, b))
}
