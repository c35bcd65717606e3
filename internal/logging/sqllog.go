package logging

import (
	"context"

	sqldblogger "github.com/simukti/sqldb-logger"
)

// SQLLogger adapts Logger to the sqldb-logger interface so that database
// calls show up in the same stream. Successful statements are written at
// debug level, failed ones at error level.
type SQLLogger struct {
	logger *Logger
}

// NewSQLLogger returns an adapter writing through l.
func NewSQLLogger(l *Logger) *SQLLogger {
	return &SQLLogger{logger: l.With("component", "sql")}
}

// Log implements sqldblogger.Logger.
func (s *SQLLogger) Log(ctx context.Context, level sqldblogger.Level, msg string, data map[string]interface{}) {
	fields := make([]interface{}, 0, len(data)*2)
	for k, v := range data {
		fields = append(fields, k, v)
	}
	switch level {
	case sqldblogger.LevelError:
		s.logger.ErrorWithContext(ctx, msg, fields...)
	case sqldblogger.LevelInfo:
		s.logger.InfoWithContext(ctx, msg, fields...)
	default:
		s.logger.DebugWithContext(ctx, msg, fields...)
	}
}

// SQLLogOptions returns the sqldb-logger options used by the store.
func SQLLogOptions(l *Logger) []sqldblogger.Option {
	min := sqldblogger.LevelDebug
	if !l.Enabled(LevelDebug) {
		min = sqldblogger.LevelError
	}
	return []sqldblogger.Option{
		sqldblogger.WithMinimumLevel(min),
		sqldblogger.WithSQLQueryAsMessage(true),
	}
}
