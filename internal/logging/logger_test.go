package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	sqldblogger "github.com/simukti/sqldb-logger"
)

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelInfo), WithService("svc"))

	logger.Debug("skip")
	if buf.Len() != 0 {
		t.Fatalf("expected no output for debug at info level")
	}

	logger.Info("hello", "correlation_id", "abc", "foo", "bar", "num", 1)
	entry := decodeLastLog(t, buf.Bytes())

	if entry["message"] != "hello" {
		t.Fatalf("unexpected message: %v", entry["message"])
	}
	if entry["correlation_id"] != "abc" {
		t.Fatalf("unexpected correlation id: %v", entry["correlation_id"])
	}
	if entry["service"] != "svc" {
		t.Fatalf("unexpected service: %v", entry["service"])
	}

	fields := entry["fields"].(map[string]interface{})
	if fields["foo"] != "bar" {
		t.Fatalf("expected foo field")
	}
	if int(fields["num"].(float64)) != 1 {
		t.Fatalf("expected num field")
	}
}

func TestLoggerDefaultService(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(WithOutput(&buf)).Info("x")
	if decodeLastLog(t, buf.Bytes())["service"] != "quotaledger" {
		t.Fatalf("unexpected default service")
	}
}

func TestLoggerWithContextAndPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelWarn))
	ctx := WithCorrelationID(context.Background(), "ctxid")

	logger.InfoWithContext(ctx, "skip")
	if buf.Len() != 0 {
		t.Fatalf("expected no output for info at warn level")
	}

	logger.WarnWithContext(ctx, "warned", "k", "v")
	entry := decodeLastLog(t, buf.Bytes())
	if entry["correlation_id"] != "ctxid" {
		t.Fatalf("unexpected context correlation id")
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic")
		}
	}()
	logger.Panic("boom")
}

func TestLoggerFatalExits(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf))
	code := -1
	logger.exit = func(c int) { code = c }

	logger.Fatal("bye")
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(WithOutput(&buf))
	child := base.With("component", "reconcile")

	child.Info("tick", "pairs", 3)
	fields := decodeLastLog(t, buf.Bytes())["fields"].(map[string]interface{})
	if fields["component"] != "reconcile" || int(fields["pairs"].(float64)) != 3 {
		t.Fatalf("unexpected fields: %v", fields)
	}

	child.Info("override", "component", "other")
	fields = decodeLastLog(t, buf.Bytes())["fields"].(map[string]interface{})
	if fields["component"] != "other" {
		t.Fatalf("call fields must win over bound fields")
	}

	base.Info("plain")
	if _, ok := decodeLastLog(t, buf.Bytes())["fields"]; ok {
		t.Fatalf("parent logger must not inherit child fields")
	}
}

func TestLoggerRendersErrors(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(WithOutput(&buf)).Error("failed", "error", errors.New("disk full"))
	fields := decodeLastLog(t, buf.Bytes())["fields"].(map[string]interface{})
	if fields["error"] != "disk full" {
		t.Fatalf("expected error message, got %v", fields["error"])
	}
}

func TestLoggerMarshalError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelDebug))

	logger.Info("bad", "field", func() {})
	if buf.Len() != 0 {
		t.Fatalf("expected no output when marshal fails")
	}
}

func TestParseFields(t *testing.T) {
	cid, fields := parseFields([]interface{}{"correlation_id", "cid", "foo", 1, 42, "bad"})
	if cid != "cid" {
		t.Fatalf("unexpected correlation id: %s", cid)
	}
	if fields["foo"] != 1 {
		t.Fatalf("expected foo field")
	}
	if len(fields) != 1 {
		t.Fatalf("unexpected fields length: %d", len(fields))
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel(" DEBUG ") != LevelDebug {
		t.Fatalf("expected debug")
	}
	if ParseLevel("verbose") != LevelInfo {
		t.Fatalf("unknown level must fall back to info")
	}
}

func TestSQLLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithOutput(&buf), WithLevel(LevelDebug))
	adapter := NewSQLLogger(l)

	adapter.Log(context.Background(), sqldblogger.LevelDebug, "SELECT 1", map[string]interface{}{"duration": 1.5})
	entry := decodeLastLog(t, buf.Bytes())
	if entry["level"] != "debug" || entry["message"] != "SELECT 1" {
		t.Fatalf("unexpected entry: %v", entry)
	}

	adapter.Log(context.Background(), sqldblogger.LevelError, "UPDATE x", map[string]interface{}{"error": "locked"})
	entry = decodeLastLog(t, buf.Bytes())
	if entry["level"] != "error" {
		t.Fatalf("expected error level, got %v", entry["level"])
	}

	if len(SQLLogOptions(l)) == 0 {
		t.Fatalf("expected sql log options")
	}
}

func decodeLastLog(t *testing.T, data []byte) map[string]interface{} {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 {
		t.Fatalf("no log output")
	}
	line := lines[len(lines)-1]
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}
	return entry
}
