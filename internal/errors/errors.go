package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinels for errors.Is matching. The typed errors below unwrap to them.
var (
	ErrValidation        = stderrors.New("validation failed")
	ErrNotFound          = stderrors.New("not found")
	ErrQuotaExceeded     = stderrors.New("quota exceeded")
	ErrBudgetExceeded    = stderrors.New("budget exceeded")
	ErrStoreUnavailable  = stderrors.New("store unavailable")
	ErrOracleUnavailable = stderrors.New("usage oracle unavailable")
)

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

// ErrStore reports a transient failure of the ledger store. It matches ErrStoreUnavailable.
type ErrStore struct {
	Operation string
	Err       error
}

func (e *ErrStore) Error() string {
	return fmt.Sprintf("store operation %s failed: %v", e.Operation, e.Err)
}

func (e *ErrStore) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Ledger errors

// ErrInvalid is a malformed request: negative limit, missing scope reference, duplicate scope.
type ErrInvalid struct {
	Field  string
	Reason string
}

func (e *ErrInvalid) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Reason)
}

func (e *ErrInvalid) Unwrap() error {
	return ErrValidation
}

// ErrMissing reports a reference to an entry id that does not exist.
type ErrMissing struct {
	Kind string
	ID   string
}

func (e *ErrMissing) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *ErrMissing) Unwrap() error {
	return ErrNotFound
}

// ErrLimitExceeded is returned by a rejected reservation. Kind is "quota" or "budget".
type ErrLimitExceeded struct {
	Kind      string
	EntryID   string
	Limit     int64
	Used      int64
	Requested int64
}

func (e *ErrLimitExceeded) Error() string {
	return fmt.Sprintf("%s exceeded on %s: requested %d, used %d of %d",
		e.Kind, e.EntryID, e.Requested, e.Used, e.Limit)
}

// Remaining returns the capacity still available on the rejecting entry.
func (e *ErrLimitExceeded) Remaining() int64 {
	if rem := e.Limit - e.Used; rem > 0 {
		return rem
	}
	return 0
}

func (e *ErrLimitExceeded) Unwrap() error {
	if e.Kind == "budget" {
		return ErrBudgetExceeded
	}
	return ErrQuotaExceeded
}

// ErrOracle reports that the usage oracle could not answer for a pair.
type ErrOracle struct {
	Owner string
	Group string
	Err   error
}

func (e *ErrOracle) Error() string {
	return fmt.Sprintf("usage oracle failed for owner=%q group=%q: %v", e.Owner, e.Group, e.Err)
}

func (e *ErrOracle) Unwrap() []error {
	return []error{ErrOracleUnavailable, e.Err}
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

// Invalid builds an ErrInvalid.
func Invalid(field, format string, args ...any) error {
	return &ErrInvalid{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFound builds an ErrMissing.
func NotFound(kind, id string) error {
	return &ErrMissing{Kind: kind, ID: id}
}

// Store wraps a driver error as a retryable store failure. nil stays nil.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ErrStore
	if stderrors.As(err, &se) {
		return err
	}
	return &ErrStore{Operation: op, Err: err}
}

func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}

func IsValidation(err error) bool {
	return stderrors.Is(err, ErrValidation)
}

// IsDenied reports whether err is a quota or budget rejection.
func IsDenied(err error) bool {
	return stderrors.Is(err, ErrQuotaExceeded) || stderrors.Is(err, ErrBudgetExceeded)
}

// IsRetryable reports whether err is a transient infrastructure failure.
func IsRetryable(err error) bool {
	return stderrors.Is(err, ErrStoreUnavailable) || stderrors.Is(err, ErrOracleUnavailable)
}

// As is errors.As, re-exported so callers importing this package need not alias the stdlib.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
