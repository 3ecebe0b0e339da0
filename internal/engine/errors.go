package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrNoActiveCursor is returned by FetchBatch when no fetch was begun. It
// signals a caller bug, not a data condition.
var ErrNoActiveCursor = errors.New("no active cursor: begin a fetch before fetching batches")

// ConnectionError marks a lost or unreachable connection. WithReconnect
// retries these once before giving up.
type ConnectionError struct {
	Engine string
	Op     string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: connection lost: %v", e.Engine, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// EngineError is a primitive failure that survived the reconnect-and-retry
// policy. It is fatal to the current run.
type EngineError struct {
	Engine string
	Op     string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Engine, e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

var connectionLostMarkers = []string{
	"bad connection",
	"broken pipe",
	"connection reset",
	"connection refused",
	"connection closed",
	"connection timed out",
	"server closed the connection",
	"conn closed",
	"unexpected eof",
	"i/o timeout",
	"use of closed network connection",
}

// IsConnectionLost reports whether err means the connection must be
// re-established. Context cancellation never counts.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range connectionLostMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
