package stats

import (
	"database/sql"
	"fmt"
)

// PoolStats contains connection pool statistics for logging.
// This provides a unified view of pool metrics across engines.
type PoolStats struct {
	DBType      string // engine type, e.g. "postgres"
	MaxConns    int    // Maximum connections allowed (0 = unlimited)
	ActiveConns int    // Currently in-use connections
	IdleConns   int    // Currently idle connections
	WaitCount   int64  // Total number of times a connection was waited for
	WaitTimeMs  int64  // Total time spent waiting for connections (milliseconds)
}

// FromDB snapshots the statistics of a database/sql pool.
func FromDB(dbType string, s sql.DBStats) PoolStats {
	return PoolStats{
		DBType:      dbType,
		MaxConns:    s.MaxOpenConnections,
		ActiveConns: s.InUse,
		IdleConns:   s.Idle,
		WaitCount:   s.WaitCount,
		WaitTimeMs:  s.WaitDuration.Milliseconds(),
	}
}

// String returns a formatted string for logging pool stats.
func (s PoolStats) String() string {
	maxConns := fmt.Sprint(s.MaxConns)
	if s.MaxConns == 0 {
		maxConns = "unlimited"
	}
	return fmt.Sprintf("%s: %d/%s active, %d idle, %d waits (%.1fms avg)",
		s.DBType, s.ActiveConns, maxConns, s.IdleConns,
		s.WaitCount, float64(s.WaitTimeMs)/float64(max(s.WaitCount, 1)))
}
