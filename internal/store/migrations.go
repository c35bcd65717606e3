package store

import (
	"context"
	"database/sql"

	"github.com/quotaledger/quotaledger/internal/errors"
)

type migration struct {
	version int
	up      string
}

var sqliteMigrations = []migration{
	{
		version: 1,
		up: `
			CREATE TABLE IF NOT EXISTS quotas (
				id TEXT PRIMARY KEY,
				scope TEXT NOT NULL,
				group_ref TEXT NOT NULL DEFAULT '',
				owner_ref TEXT NOT NULL DEFAULT '',
				limit_value INTEGER NOT NULL CHECK (limit_value >= 0),
				consumed INTEGER NOT NULL DEFAULT 0,
				outstanding INTEGER NOT NULL DEFAULT 0,
				last_reserved_at DATETIME,
				synced_at DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE (owner_ref, group_ref)
			);

			CREATE TABLE IF NOT EXISTS budgets (
				id TEXT PRIMARY KEY,
				owner_ref TEXT NOT NULL UNIQUE,
				limit_value INTEGER NOT NULL CHECK (limit_value >= 0),
				consumed INTEGER NOT NULL DEFAULT 0,
				outstanding INTEGER NOT NULL DEFAULT 0,
				last_reserved_at DATETIME,
				synced_at DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS reservations (
				id TEXT PRIMARY KEY,
				entry_kind TEXT NOT NULL,
				entry_id TEXT NOT NULL,
				delta INTEGER NOT NULL CHECK (delta > 0),
				correlation_id TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_reservations_entry ON reservations(entry_kind, entry_id);
		`,
	},
	{
		version: 2,
		up: `
			CREATE TABLE IF NOT EXISTS flavors (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				group_ref TEXT NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_flavors_group ON flavors(group_ref);
			CREATE INDEX IF NOT EXISTS idx_quotas_group ON quotas(group_ref);
		`,
	},
}

var postgresMigrations = []migration{
	{
		version: 1,
		up: `
			CREATE TABLE IF NOT EXISTS quotas (
				id TEXT PRIMARY KEY,
				scope TEXT NOT NULL,
				group_ref TEXT NOT NULL DEFAULT '',
				owner_ref TEXT NOT NULL DEFAULT '',
				limit_value BIGINT NOT NULL CHECK (limit_value >= 0),
				consumed BIGINT NOT NULL DEFAULT 0,
				outstanding BIGINT NOT NULL DEFAULT 0,
				last_reserved_at TIMESTAMPTZ,
				synced_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (owner_ref, group_ref)
			);

			CREATE TABLE IF NOT EXISTS budgets (
				id TEXT PRIMARY KEY,
				owner_ref TEXT NOT NULL UNIQUE,
				limit_value BIGINT NOT NULL CHECK (limit_value >= 0),
				consumed BIGINT NOT NULL DEFAULT 0,
				outstanding BIGINT NOT NULL DEFAULT 0,
				last_reserved_at TIMESTAMPTZ,
				synced_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			);

			CREATE TABLE IF NOT EXISTS reservations (
				id TEXT PRIMARY KEY,
				entry_kind TEXT NOT NULL,
				entry_id TEXT NOT NULL,
				delta BIGINT NOT NULL CHECK (delta > 0),
				correlation_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL
			);

			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_reservations_entry ON reservations(entry_kind, entry_id);
		`,
	},
	{
		version: 2,
		up: `
			CREATE TABLE IF NOT EXISTS flavors (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				group_ref TEXT NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_flavors_group ON flavors(group_ref);
			CREATE INDEX IF NOT EXISTS idx_quotas_group ON quotas(group_ref);
		`,
	},
}

// runMigrations applies every migration newer than the recorded schema version.
func runMigrations(ctx context.Context, db *sql.DB, d dialect) error {
	createdAt := "DATETIME DEFAULT CURRENT_TIMESTAMP"
	if d.dollar {
		createdAt = "TIMESTAMPTZ DEFAULT now()"
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at `+createdAt+`
		)
	`)
	if err != nil {
		return errors.Store("create migrations table", err)
	}

	var currentVersion int
	err = db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return errors.Store("get current migration version", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Store("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range d.migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
		}
		if _, err := tx.ExecContext(ctx, d.rebind("INSERT INTO schema_migrations (version) VALUES (?)"), m.version); err != nil {
			return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Store("commit migrations", err)
	}

	return nil
}
