package errors

import "fmt"

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

// Filesystem errors

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

// Store errors

type ErrStoreWrite struct {
	Path string
}

func (e *ErrStoreWrite) Error() string {
	return fmt.Sprintf("failed to write store document: %s", e.Path)
}

type ErrLockHeld struct {
	Path string
	PID  string
}

func (e *ErrLockHeld) Error() string {
	if e.PID != "" {
		return fmt.Sprintf("another instance holds the lock %s (pid %s)", e.Path, e.PID)
	}
	return fmt.Sprintf("another instance holds the lock %s", e.Path)
}

// Pool errors

// ErrBusy signals that an operation of the same class is already in flight.
// Callers treat it as an idempotent no-op, not a failure.
type ErrBusy struct {
	Op string
}

func (e *ErrBusy) Error() string {
	return fmt.Sprintf("%s already in flight", e.Op)
}

type ErrNoActiveCredential struct{}

func (e *ErrNoActiveCredential) Error() string {
	return "no active credential"
}

type ErrNoBackupAvailable struct {
	Reason string
}

func (e *ErrNoBackupAvailable) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("no usable backup credential: %s", e.Reason)
	}
	return "no usable backup credential"
}

type ErrNotInPool struct {
	ID string
}

func (e *ErrNotInPool) Error() string {
	return fmt.Sprintf("credential %s not found in reserve pool", e.ID)
}

type ErrQueryFailed struct {
	ID string
}

func (e *ErrQueryFailed) Error() string {
	return fmt.Sprintf("usage query failed for credential %s", e.ID)
}

type ErrQuotaExhausted struct {
	ID    string
	Ratio float64
}

func (e *ErrQuotaExhausted) Error() string {
	return fmt.Sprintf("credential %s quota exhausted (%.1f%%)", e.ID, e.Ratio*100)
}

type ErrSwitchRejected struct {
	ID     string
	Reason string
}

func (e *ErrSwitchRejected) Error() string {
	return fmt.Sprintf("switch to %s rejected: %s", e.ID, e.Reason)
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

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
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
