// Package exitcodes defines standard exit codes for CLI operations so that
// Airflow, Kubernetes, and other orchestration environments can distinguish
// retryable failures from permanent ones.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"

	"dbferry/internal/adapter"
	"dbferry/internal/datacopy"
	"dbferry/internal/engine"
)

const (
	// Success - migration completed without errors
	Success = 0

	// ConfigError - configuration/YAML parsing errors (non-recoverable, don't retry)
	ConfigError = 1

	// ConnectionError - source/target database connection errors (recoverable)
	ConnectionError = 2

	// CopyError - structure creation or data copy failed (non-recoverable)
	CopyError = 3

	// ValidationError - cross-store validation found mismatches (non-recoverable)
	ValidationError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - run state errors, phase ordering violations (non-recoverable)
	StateError = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error. Typed errors
// from the engine packages are classified first; the message heuristics
// below catch errors surfaced by drivers as plain strings.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var connErr *adapter.ConnectionError
	if errors.As(err, &connErr) {
		return ConnectionError
	}
	var mismatch *datacopy.ColumnMismatchError
	if errors.As(err, &mismatch) {
		return CopyError
	}
	var copyErr *datacopy.CopyError
	if errors.As(err, &copyErr) {
		return CopyError
	}
	if errors.Is(err, engine.ErrAlreadyRunning) ||
		errors.Is(err, engine.ErrStructureIncomplete) ||
		errors.Is(err, engine.ErrDataIncomplete) {
		return StateError
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	// Check validation before config so "validation failed" does not fall
	// through to the config keywords.
	if containsAny(errStr, []string{
		"row count",
		"mismatch",
		"validation failed",
		"checks failed",
	}) {
		return ValidationError
	}

	if containsAny(errStr, []string{
		"yaml:",
		"unmarshal",
		"invalid configuration",
		"missing required",
		"invalid value",
		"parsing config",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"timeout",
		"unreachable",
		"no such host",
		"network",
		"ping",
		"login failed",
		"authentication",
	}) {
		return ConnectionError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context canceled",
		"context deadline",
	}) {
		return Cancelled
	}

	if containsAny(errStr, []string{
		"run not found",
		"already terminal",
		"status backwards",
		"already running",
		"not complete",
	}) {
		return StateError
	}

	// Default to copy error for unknown errors
	return CopyError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case CopyError:
		return "copy error"
	case ValidationError:
		return "validation error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
