package store

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/quotaledger/quotaledger/internal/errors"
)

// SettingsStore is a small key/value area for process state that must
// survive restarts, such as the time of the last successful sync.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Well-known settings keys.
const (
	SettingLastSync   = "reconcile.last_sync"
	SettingLastReport = "reconcile.last_report"
)

// GetTime reads an RFC 3339 timestamp setting.
func GetTime(ctx context.Context, s SettingsStore, key string) (time.Time, bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, errors.Invalid(key, "not a timestamp: %v", err)
	}
	return t, true, nil
}

// SetTime stores t as an RFC 3339 timestamp.
func SetTime(ctx context.Context, s SettingsStore, key string, t time.Time) error {
	return s.Set(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

// GetInt reads an integer setting, returning def when absent or malformed.
func GetInt(ctx context.Context, s SettingsStore, key string, def int64) int64 {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// MemorySettingsStore implements SettingsStore in memory.
type MemorySettingsStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{data: make(map[string]string)}
}

func (s *MemorySettingsStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemorySettingsStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemorySettingsStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// sqlSettingsStore implements SettingsStore on the settings table.
type sqlSettingsStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlSettingsStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.d.rebind("SELECT value FROM settings WHERE key = ?"), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Store("get setting", err)
	}
	return value, true, nil
}

func (s *sqlSettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`), key, value, now())
	return errors.Store("set setting", err)
}

func (s *sqlSettingsStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind("DELETE FROM settings WHERE key = ?"), key)
	return errors.Store("delete setting", err)
}
