package store

import (
	"fmt"

	"github.com/quotaledger/quotaledger/internal/config"
	"github.com/quotaledger/quotaledger/internal/logging"
)

// Open builds the store selected by cfg.Driver.
func Open(cfg config.StoreConfig, logger *logging.Logger) (Store, error) {
	opts := []SQLOption{
		WithLogger(logger),
		WithQueryLogging(cfg.LogQueries),
		WithBusyTimeout(cfg.BusyTimeout),
		WithMaxOpenConns(cfg.MaxOpenConns),
	}

	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverSQLite, "":
		return NewSQLiteStore(cfg.Path, opts...)
	case config.DriverPostgres:
		return NewPostgresStore(cfg.DSN, opts...)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
