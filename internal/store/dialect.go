package store

import (
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name       string
	driver     string
	dollar     bool // $1 placeholders instead of ?
	migrations []migration
}

var (
	sqliteDialect = dialect{
		name:       "sqlite",
		driver:     "sqlite",
		migrations: sqliteMigrations,
	}
	postgresDialect = dialect{
		name:       "postgres",
		driver:     "postgres",
		dollar:     true,
		migrations: postgresMigrations,
	}
)

// rebind rewrites ? placeholders into the dialect's form.
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// isUniqueViolation reports whether err is a unique or primary key conflict.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if stderrors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// sqliteDSN enables WAL, immediate transactions and a busy timeout so that
// concurrent writers queue instead of failing with SQLITE_BUSY.
func sqliteDSN(path string, busyTimeoutMillis int64) string {
	return path + "?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(" + strconv.FormatInt(busyTimeoutMillis, 10) + ")" +
		"&_txlock=immediate" +
		"&_time_format=sqlite"
}
