package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/quotaledger/quotaledger/internal/errors"
)

// Environment variables read by LoadFromEnv.
const (
	EnvConfigPath = "QUOTALEDGER_CONFIG_PATH"
	EnvDBPath     = "QUOTALEDGER_DB_PATH"
)

// reloadDebounce coalesces the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Loader handles configuration loading and hot-reloading
type Loader struct {
	path     string
	mu       sync.RWMutex
	config   *Config
	onChange func(*Config)
	onError  func(error)
	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(path string) *Loader {
	return &Loader{
		path:     path,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Path returns the watched file.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, substitutes env vars in, parses and validates the file.
func (l *Loader) Load() (*Config, error) {
	content, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.ErrConfigNotFound{Path: l.path}
		}
		return nil, &errors.ErrFileRead{Path: l.path, Err: err}
	}

	config, err := Parse(substituteEnvVars(content))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = config
	l.mu.Unlock()

	return config, nil
}

// Reload forces a reload of the configuration and notifies the change callback.
func (l *Loader) Reload() (*Config, error) {
	config, err := l.Load()
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	onChange := l.onChange
	l.mu.RUnlock()

	if onChange != nil {
		onChange(config)
	}

	return config, nil
}

// Get returns the current configuration
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// SetOnChange sets a callback to be called when configuration changes
func (l *Loader) SetOnChange(fn func(*Config)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// SetOnError sets a callback for reload failures. The previous configuration stays active.
func (l *Loader) SetOnError(fn func(error)) {
	l.mu.Lock()
	l.onError = fn
	l.mu.Unlock()
}

// StartWatcher watches the config file's directory and reloads on change.
// The directory is watched rather than the file so that atomic
// rename-on-save keeps working.
func (l *Loader) StartWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	l.watcher = w

	go l.watch()
	return nil
}

func (l *Loader) watch() {
	defer close(l.done)
	defer l.watcher.Close()

	target := filepath.Clean(l.path)
	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-l.stopChan:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C
		case <-fire:
			fire = nil
			if _, err := l.Reload(); err != nil {
				l.reportError(err)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.reportError(err)
		}
	}
}

func (l *Loader) reportError(err error) {
	l.mu.RLock()
	onError := l.onError
	l.mu.RUnlock()
	if onError != nil {
		onError(err)
		return
	}
	fmt.Fprintf(os.Stderr, "Error reloading config: %v\n", err)
}

// StopWatcher stops the file watcher and waits for it to exit.
func (l *Loader) StopWatcher() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
		if l.watcher != nil {
			<-l.done
		}
	})
}

// LoadFromEnv loads the file named by QUOTALEDGER_CONFIG_PATH (default
// config.yaml) and applies QUOTALEDGER_DB_PATH on top.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = "config.yaml"
	}
	config, err := NewLoader(path).Load()
	if err != nil {
		return nil, err
	}
	ApplyEnv(config)
	return config, nil
}

// ApplyEnv overrides file settings from the environment.
func ApplyEnv(config *Config) {
	if dbPath := os.Getenv(EnvDBPath); dbPath != "" {
		config.Store.Path = dbPath
	}
}

// MustLoad loads configuration or panics on error
func MustLoad(path string) *Config {
	config, err := NewLoader(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return config
}

// Parse parses configuration from byte slice
func Parse(data []byte) (*Config, error) {
	var config Config

	// Defaults the file may override.
	config.Server.Host = "127.0.0.1"
	config.Server.HTTPPort = 8420
	config.Server.ShutdownTimeout = 30 * time.Second
	config.Server.LogLevel = "info"
	config.API.Enabled = true
	config.Reconcile.Enabled = true
	config.Metrics.Enabled = true

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, &errors.ErrConfigParse{Err: err}
	}

	if err := config.Validate(); err != nil {
		return nil, &errors.ErrConfigValidation{Err: err}
	}

	return &config, nil
}

func substituteEnvVars(content []byte) []byte {
	return []byte(os.ExpandEnv(string(content)))
}

// ReloadableChanged reports whether b differs from a in a section that can
// be applied without restarting (admission, reconcile, telegram).
func ReloadableChanged(a, b *Config) bool {
	if a == nil || b == nil {
		return a != b
	}
	return a.Admission != b.Admission ||
		a.Reconcile != b.Reconcile ||
		a.Telegram != b.Telegram
}
