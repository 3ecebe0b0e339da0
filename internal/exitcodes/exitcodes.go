// Package exitcodes maps dbrep failures to process exit codes so that
// schedulers can tell a bad configuration from a lost database.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/johndauphine/dbrep/internal/checkpoint"
	"github.com/johndauphine/dbrep/internal/config"
	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/replication"
	"github.com/johndauphine/dbrep/internal/verify"
)

const (
	// Success - run completed without errors
	Success = 0

	// ConfigError - configuration, template or placeholder errors (non-recoverable, don't retry)
	ConfigError = 1

	// EngineError - a database primitive failed after its reconnect retry (recoverable)
	EngineError = 2

	// ReplicationError - the replication protocol failed (non-recoverable)
	ReplicationError = 3

	// VerificationError - source and destination differ (non-recoverable)
	VerificationError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - run history could not be read or written (non-recoverable)
	StateError = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7

	// InternalError - a programming error such as fetching without a cursor
	InternalError = 8
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

// FromError determines the appropriate exit code for an error. Typed
// errors are classified with errors.Is/As; message matching is only a
// fallback for errors from outside dbrep.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var (
		cfgErr   *config.Error
		stateErr *checkpoint.Error
		engErr   *engine.EngineError
		connErr  *engine.ConnectionError
		replErr  *replication.Error
		pathErr  *os.PathError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Cancelled
	case errors.Is(err, engine.ErrNoActiveCursor):
		return InternalError
	case errors.Is(err, verify.ErrVerification):
		return VerificationError
	case errors.As(err, &cfgErr):
		return ConfigError
	case errors.As(err, &stateErr):
		return StateError
	case errors.As(err, &engErr), errors.As(err, &connErr):
		return EngineError
	case errors.As(err, &replErr):
		return ReplicationError
	case errors.As(err, &pathErr):
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

	if containsAny(errStr, []string{
		"yaml:",
		"json:",
		"unmarshal",
		"invalid configuration",
		"missing required",
		"invalid value",
		"parse env",
		"flag provided but not defined",
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
		return EngineError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
	}) {
		return Cancelled
	}

	return ReplicationError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case EngineError, Cancelled, IOError:
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
	case EngineError:
		return "engine error (recoverable)"
	case ReplicationError:
		return "replication error"
	case VerificationError:
		return "verification error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	case InternalError:
		return "internal error"
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
