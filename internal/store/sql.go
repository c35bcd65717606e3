package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	sqldblogger "github.com/simukti/sqldb-logger"
	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/logging"
	"github.com/quotaledger/quotaledger/internal/models"
)

// SQLStore is the durable Store over database/sql. Per-entry serialization
// comes from the database: reserve is a conditional UPDATE on the entry row,
// and every other counter mutation starts its transaction by updating that
// row, so the row lock (PostgreSQL) or the write lock (SQLite) orders them.
type SQLStore struct {
	db       *sql.DB
	d        dialect
	logger   *logging.Logger
	settings *sqlSettingsStore
}

// SQLOption configures an SQLStore.
type SQLOption func(*sqlOptions)

type sqlOptions struct {
	logger       *logging.Logger
	logQueries   bool
	busyTimeout  time.Duration
	maxOpenConns int
}

// WithLogger sets the logger used for store diagnostics.
func WithLogger(l *logging.Logger) SQLOption {
	return func(o *sqlOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithQueryLogging routes every statement through the logger.
func WithQueryLogging(enabled bool) SQLOption {
	return func(o *sqlOptions) { o.logQueries = enabled }
}

// WithBusyTimeout sets how long SQLite waits for the write lock.
func WithBusyTimeout(d time.Duration) SQLOption {
	return func(o *sqlOptions) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) SQLOption {
	return func(o *sqlOptions) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}

func buildOptions(opts []SQLOption) sqlOptions {
	o := sqlOptions{busyTimeout: 5 * time.Second, maxOpenConns: 10}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewLogger()
	}
	return o
}

// NewSQLiteStore opens (creating if needed) a SQLite database in WAL mode.
func NewSQLiteStore(dbPath string, opts ...SQLOption) (*SQLStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}
	o := buildOptions(opts)
	return openSQL(sqliteDialect, sqliteDSN(dbPath, o.busyTimeout.Milliseconds()), dbPath, o)
}

// NewPostgresStore connects to PostgreSQL through lib/pq.
func NewPostgresStore(dsn string, opts ...SQLOption) (*SQLStore, error) {
	return openSQL(postgresDialect, dsn, "postgres", buildOptions(opts))
}

func openSQL(d dialect, dsn, label string, o sqlOptions) (*SQLStore, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: label, Err: err}
	}
	if o.logQueries {
		db = sqldblogger.OpenDriver(dsn, db.Driver(), logging.NewSQLLogger(o.logger), logging.SQLLogOptions(o.logger)...)
	}
	db.SetMaxOpenConns(o.maxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: label, Err: err}
	}

	if err := runMigrations(ctx, db, d); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLStore{
		db:       db,
		d:        d,
		logger:   o.logger.With("component", "store", "dialect", d.name),
		settings: &sqlSettingsStore{db: db, d: d},
	}, nil
}

// Dialect returns "sqlite" or "postgres".
func (s *SQLStore) Dialect() string {
	return s.d.name
}

func (s *SQLStore) Settings() SettingsStore {
	return s.settings
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return errors.Store("ping", s.db.PingContext(ctx))
}

// Close gracefully shuts down the store
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	return s.d.rebind(query)
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Store(op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return errors.Store(op, tx.Commit())
}

// mapErr converts a driver error, leaving ledger errors untouched.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.IsNotFound(err) || errors.IsValidation(err) || errors.IsDenied(err) {
		return err
	}
	return errors.Store(op, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// Quota entries

const quotaColumns = `id, scope, group_ref, owner_ref, limit_value, consumed, outstanding,
	last_reserved_at, synced_at, created_at, updated_at`

func scanQuota(row scanner) (*models.QuotaEntry, error) {
	var q models.QuotaEntry
	var scope string
	var reservedAt, syncedAt sql.NullTime
	if err := row.Scan(&q.ID, &scope, &q.GroupRef, &q.OwnerRef, &q.Limit, &q.Consumed, &q.Outstanding,
		&reservedAt, &syncedAt, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	q.Scope = models.Scope(scope)
	q.LastReservedAt = timePtr(reservedAt)
	q.SyncedAt = timePtr(syncedAt)
	q.CreatedAt = q.CreatedAt.UTC()
	q.UpdatedAt = q.UpdatedAt.UTC()
	return &q, nil
}

func (s *SQLStore) GetQuota(ctx context.Context, id string) (*models.QuotaEntry, error) {
	q, err := scanQuota(s.db.QueryRowContext(ctx, s.q("SELECT "+quotaColumns+" FROM quotas WHERE id = ?"), id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("quota", id)
	}
	return q, mapErr("get quota", err)
}

func (s *SQLStore) FindQuota(ctx context.Context, owner, group string) (*models.QuotaEntry, error) {
	q, err := scanQuota(s.db.QueryRowContext(ctx,
		s.q("SELECT "+quotaColumns+" FROM quotas WHERE owner_ref = ? AND group_ref = ?"), owner, group))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("quota", owner+"/"+group)
	}
	return q, mapErr("find quota", err)
}

func (s *SQLStore) ListQuotas(ctx context.Context, filter models.QuotaFilter) ([]*models.QuotaEntry, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	query := "SELECT " + quotaColumns + " FROM quotas"
	var args []any
	switch {
	case filter.Group != "":
		query += " WHERE group_ref = ?"
		args = append(args, filter.Group)
	case filter.User != "":
		query += " WHERE owner_ref = ?"
		args = append(args, filter.User)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errors.Store("list quotas", err)
	}
	defer rows.Close()

	result := []*models.QuotaEntry{}
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, errors.Store("scan quota", err)
		}
		result = append(result, q)
	}
	return result, errors.Store("list quotas", rows.Err())
}

func (s *SQLStore) InsertQuota(ctx context.Context, q *models.QuotaEntry) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO quotas (id, scope, group_ref, owner_ref, limit_value, consumed, outstanding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), q.ID, string(q.Scope), q.GroupRef, q.OwnerRef, q.Limit, q.Consumed, q.Outstanding, q.CreatedAt, q.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.Invalid("scope", "a quota for user %q and group %q already exists", q.OwnerRef, q.GroupRef)
	}
	return errors.Store("insert quota", err)
}

func (s *SQLStore) UpdateQuota(ctx context.Context, q *models.QuotaEntry) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE quotas SET scope = ?, group_ref = ?, owner_ref = ?, limit_value = ?, updated_at = ?
		WHERE id = ?
	`), string(q.Scope), q.GroupRef, q.OwnerRef, q.Limit, now(), q.ID)
	if isUniqueViolation(err) {
		return errors.Invalid("scope", "a quota for user %q and group %q already exists", q.OwnerRef, q.GroupRef)
	}
	if err != nil {
		return errors.Store("update quota", err)
	}
	return affected(res, "quota", q.ID)
}

func (s *SQLStore) DeleteQuota(ctx context.Context, id string) error {
	return s.deleteEntry(ctx, models.KindQuota, id)
}

func affected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Store("rows affected", err)
	}
	if n == 0 {
		return errors.NotFound(kind, id)
	}
	return nil
}

func entryTable(kind models.EntryKind) (string, error) {
	switch kind {
	case models.KindQuota:
		return "quotas", nil
	case models.KindBudget:
		return "budgets", nil
	}
	return "", errors.Invalid("kind", "unknown entry kind %q", kind)
}

func (s *SQLStore) deleteEntry(ctx context.Context, kind models.EntryKind, id string) error {
	table, err := entryTable(kind)
	if err != nil {
		return err
	}
	return s.inTx(ctx, "delete "+string(kind), func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q("DELETE FROM "+table+" WHERE id = ?"), id)
		if err != nil {
			return errors.Store("delete "+string(kind), err)
		}
		if err := affected(res, string(kind), id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q("DELETE FROM reservations WHERE entry_kind = ? AND entry_id = ?"), string(kind), id)
		return errors.Store("delete reservations", err)
	})
}

// Budget entries

const budgetColumns = `id, owner_ref, limit_value, consumed, outstanding,
	last_reserved_at, synced_at, created_at, updated_at`

func scanBudget(row scanner) (*models.BudgetEntry, error) {
	var b models.BudgetEntry
	var reservedAt, syncedAt sql.NullTime
	if err := row.Scan(&b.ID, &b.OwnerRef, &b.Limit, &b.Consumed, &b.Outstanding,
		&reservedAt, &syncedAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.LastReservedAt = timePtr(reservedAt)
	b.SyncedAt = timePtr(syncedAt)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func (s *SQLStore) GetBudget(ctx context.Context, id string) (*models.BudgetEntry, error) {
	b, err := scanBudget(s.db.QueryRowContext(ctx, s.q("SELECT "+budgetColumns+" FROM budgets WHERE id = ?"), id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("budget", id)
	}
	return b, mapErr("get budget", err)
}

func (s *SQLStore) BudgetByOwner(ctx context.Context, owner string) (*models.BudgetEntry, error) {
	b, err := scanBudget(s.db.QueryRowContext(ctx, s.q("SELECT "+budgetColumns+" FROM budgets WHERE owner_ref = ?"), owner))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("budget", owner)
	}
	return b, mapErr("budget by owner", err)
}

func (s *SQLStore) ListBudgets(ctx context.Context, owner string) ([]*models.BudgetEntry, error) {
	query := "SELECT " + budgetColumns + " FROM budgets"
	var args []any
	if owner != "" {
		query += " WHERE owner_ref = ?"
		args = append(args, owner)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errors.Store("list budgets", err)
	}
	defer rows.Close()

	result := []*models.BudgetEntry{}
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, errors.Store("scan budget", err)
		}
		result = append(result, b)
	}
	return result, errors.Store("list budgets", rows.Err())
}

func (s *SQLStore) InsertBudget(ctx context.Context, b *models.BudgetEntry) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO budgets (id, owner_ref, limit_value, consumed, outstanding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), b.ID, b.OwnerRef, b.Limit, b.Consumed, b.Outstanding, b.CreatedAt, b.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.Invalid("user", "user %q already has a budget", b.OwnerRef)
	}
	return errors.Store("insert budget", err)
}

func (s *SQLStore) UpdateBudget(ctx context.Context, id string, patch models.BudgetPatch) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE budgets
		SET limit_value = COALESCE(?, limit_value), consumed = COALESCE(?, consumed), updated_at = ?
		WHERE id = ?
	`), nullInt64(patch.Limit), nullInt64(patch.Consumed), now(), id)
	if err != nil {
		return errors.Store("update budget", err)
	}
	return affected(res, "budget", id)
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func (s *SQLStore) DeleteBudget(ctx context.Context, id string) error {
	return s.deleteEntry(ctx, models.KindBudget, id)
}

// Reservations

const reservationColumns = "id, entry_kind, entry_id, delta, correlation_id, created_at"

func scanReservation(row scanner) (*models.Reservation, error) {
	var r models.Reservation
	var kind string
	if err := row.Scan(&r.ID, &kind, &r.EntryID, &r.Delta, &r.CorrelationID, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.EntryKind = models.EntryKind(kind)
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (s *SQLStore) Reserve(ctx context.Context, kind models.EntryKind, entryID string, delta int64, correlationID string) (*models.Reservation, Balance, error) {
	if delta <= 0 {
		return nil, Balance{}, errors.Invalid("delta", "must be positive, got %d", delta)
	}
	table, err := entryTable(kind)
	if err != nil {
		return nil, Balance{}, err
	}

	ts := now()
	res := &models.Reservation{
		ID:            uuid.New().String(),
		EntryKind:     kind,
		EntryID:       entryID,
		Delta:         delta,
		CorrelationID: correlationID,
		CreatedAt:     ts,
	}
	var bal Balance

	err = s.inTx(ctx, "reserve", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.q(`
			UPDATE `+table+`
			SET outstanding = outstanding + ?, last_reserved_at = ?, updated_at = ?
			WHERE id = ? AND consumed + outstanding + ? <= limit_value
			RETURNING limit_value, consumed, outstanding
		`), delta, ts, ts, entryID, delta).Scan(&bal.Limit, &bal.Consumed, &bal.Outstanding)
		if err == sql.ErrNoRows {
			// Either the entry is gone or the reservation does not fit.
			err = tx.QueryRowContext(ctx, s.q("SELECT limit_value, consumed, outstanding FROM "+table+" WHERE id = ?"), entryID).
				Scan(&bal.Limit, &bal.Consumed, &bal.Outstanding)
			if err == sql.ErrNoRows {
				return errors.NotFound(string(kind), entryID)
			}
			if err != nil {
				return errors.Store("reserve", err)
			}
			return &errors.ErrLimitExceeded{
				Kind: string(kind), EntryID: entryID, Limit: bal.Limit,
				Used: bal.Consumed + bal.Outstanding, Requested: delta,
			}
		}
		if err != nil {
			return errors.Store("reserve", err)
		}

		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO reservations (id, entry_kind, entry_id, delta, correlation_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`), res.ID, string(kind), entryID, delta, correlationID, ts)
		return errors.Store("insert reservation", err)
	})
	if err != nil {
		return nil, bal, err
	}
	return res, bal, nil
}

// settle locks the owning entry row first, then deletes the reservation, so
// that it orders the same way as ApplyUsage on that entry.
func (s *SQLStore) settle(ctx context.Context, op, reservationID string, fold bool) (*models.Reservation, error) {
	res, err := s.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	table, err := entryTable(res.EntryKind)
	if err != nil {
		return nil, err
	}

	consumedDelta := int64(0)
	if fold {
		consumedDelta = res.Delta
	}

	err = s.inTx(ctx, op, func(tx *sql.Tx) error {
		upd, err := tx.ExecContext(ctx, s.q(`
			UPDATE `+table+`
			SET outstanding = CASE WHEN outstanding >= ? THEN outstanding - ? ELSE 0 END,
				consumed = consumed + ?,
				updated_at = ?
			WHERE id = ?
		`), res.Delta, res.Delta, consumedDelta, now(), res.EntryID)
		if err != nil {
			return errors.Store(op, err)
		}
		if err := affected(upd, "reservation", reservationID); err != nil {
			return err
		}

		del, err := tx.ExecContext(ctx, s.q("DELETE FROM reservations WHERE id = ?"), reservationID)
		if err != nil {
			return errors.Store(op, err)
		}
		// Zero rows: reconciliation or a concurrent settle got there first;
		// rolling back undoes the counter update above.
		return affected(del, "reservation", reservationID)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SQLStore) Release(ctx context.Context, reservationID string) (*models.Reservation, error) {
	return s.settle(ctx, "release", reservationID, false)
}

func (s *SQLStore) Confirm(ctx context.Context, reservationID string) (*models.Reservation, error) {
	return s.settle(ctx, "confirm", reservationID, true)
}

func (s *SQLStore) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	r, err := scanReservation(s.db.QueryRowContext(ctx, s.q("SELECT "+reservationColumns+" FROM reservations WHERE id = ?"), id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("reservation", id)
	}
	return r, mapErr("get reservation", err)
}

func (s *SQLStore) ListReservations(ctx context.Context, kind models.EntryKind, entryID string) (models.ReservationSlice, error) {
	return listReservations(ctx, s.db, s.d, kind, entryID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listReservations(ctx context.Context, db queryer, d dialect, kind models.EntryKind, entryID string) (models.ReservationSlice, error) {
	rows, err := db.QueryContext(ctx, d.rebind(
		"SELECT "+reservationColumns+" FROM reservations WHERE entry_kind = ? AND entry_id = ? ORDER BY created_at, id"),
		string(kind), entryID)
	if err != nil {
		return nil, errors.Store("list reservations", err)
	}
	defer rows.Close()

	var out models.ReservationSlice
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, errors.Store("scan reservation", err)
		}
		out = append(out, r)
	}
	return out, errors.Store("list reservations", rows.Err())
}

func (s *SQLStore) ApplyUsage(ctx context.Context, kind models.EntryKind, entryID string, actual int64, graceCutoff time.Time) (*models.ApplyResult, error) {
	table, err := entryTable(kind)
	if err != nil {
		return nil, err
	}

	result := &models.ApplyResult{Kind: kind, EntryID: entryID, Current: actual}
	ts := now()

	err = s.inTx(ctx, "apply usage", func(tx *sql.Tx) error {
		// Touching the row first takes the entry lock before anything is read.
		err := tx.QueryRowContext(ctx, s.q(`
			UPDATE `+table+` SET updated_at = ? WHERE id = ?
			RETURNING limit_value, consumed
		`), ts, entryID).Scan(&result.Limit, &result.Previous)
		if err == sql.ErrNoRows {
			return errors.NotFound(string(kind), entryID)
		}
		if err != nil {
			return errors.Store("apply usage", err)
		}

		all, err := listReservations(ctx, tx, s.d, kind, entryID)
		if err != nil {
			return err
		}
		result.Kept, result.Discarded = all.Split(graceCutoff)

		for _, r := range result.Discarded {
			if _, err := tx.ExecContext(ctx, s.q("DELETE FROM reservations WHERE id = ?"), r.ID); err != nil {
				return errors.Store("discard reservation", err)
			}
		}

		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE `+table+` SET consumed = ?, outstanding = ?, synced_at = ?, updated_at = ? WHERE id = ?
		`), actual, result.Kept.Total(), ts, ts, entryID)
		return errors.Store("apply usage", err)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Flavors

func (s *SQLStore) InsertFlavor(ctx context.Context, f *models.Flavor) error {
	_, err := s.db.ExecContext(ctx, s.q("INSERT INTO flavors (id, name, group_ref) VALUES (?, ?, ?)"), f.ID, f.Name, f.GroupRef)
	if isUniqueViolation(err) {
		return errors.Invalid("name", "flavor %q already exists", f.Name)
	}
	return errors.Store("insert flavor", err)
}

func (s *SQLStore) GetFlavor(ctx context.Context, id string) (*models.Flavor, error) {
	var f models.Flavor
	err := s.db.QueryRowContext(ctx, s.q("SELECT id, name, group_ref FROM flavors WHERE id = ?"), id).Scan(&f.ID, &f.Name, &f.GroupRef)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("flavor", id)
	}
	if err != nil {
		return nil, errors.Store("get flavor", err)
	}
	return &f, nil
}

func (s *SQLStore) FlavorByName(ctx context.Context, name string) (*models.Flavor, error) {
	var f models.Flavor
	err := s.db.QueryRowContext(ctx, s.q("SELECT id, name, group_ref FROM flavors WHERE name = ?"), name).Scan(&f.ID, &f.Name, &f.GroupRef)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("flavor", name)
	}
	if err != nil {
		return nil, errors.Store("flavor by name", err)
	}
	return &f, nil
}

func (s *SQLStore) ListFlavors(ctx context.Context, group string) ([]*models.Flavor, error) {
	query := "SELECT id, name, group_ref FROM flavors"
	var args []any
	if group != "" {
		query += " WHERE group_ref = ?"
		args = append(args, group)
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, errors.Store("list flavors", err)
	}
	defer rows.Close()

	result := []*models.Flavor{}
	for rows.Next() {
		var f models.Flavor
		if err := rows.Scan(&f.ID, &f.Name, &f.GroupRef); err != nil {
			return nil, errors.Store("scan flavor", err)
		}
		result = append(result, &f)
	}
	return result, errors.Store("list flavors", rows.Err())
}

func (s *SQLStore) DeleteFlavor(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM flavors WHERE id = ?"), id)
	if err != nil {
		return errors.Store("delete flavor", err)
	}
	return affected(res, "flavor", id)
}

var _ Store = (*SQLStore)(nil)
