package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/johndauphine/dbrep/internal/dbconfig"
	"github.com/johndauphine/dbrep/internal/engine"
)

// Replication modes.
const (
	ModeFullRefresh = "full-refresh"
	ModeIncremental = "incremental"
)

// Job is a fully resolved replication job.
type Job struct {
	Name string
	Mode string
	Src  Side
	Dst  Side
}

// Side is one end of a job: how to connect and what to read or write.
type Side struct {
	Conn     dbconfig.Connection
	Endpoint engine.Endpoint
}

// NewJob builds a Job from a resolved tree holding "mode", "src", "dst" and
// a "connections" section that src.conn and dst.conn refer to.
func NewJob(name string, cfg map[string]any) (*Job, error) {
	job := &Job{Name: name}

	mode, err := stringField(cfg, "mode")
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(mode) {
	case "", ModeFullRefresh, "full", "full_refresh":
		job.Mode = ModeFullRefresh
	case ModeIncremental, "incr":
		job.Mode = ModeIncremental
	default:
		return nil, newError("mode", ErrInvalidValue, "unknown mode %q (want %s or %s)", mode, ModeFullRefresh, ModeIncremental)
	}

	if job.Src, err = newSide(cfg, "src"); err != nil {
		return nil, err
	}
	if job.Dst, err = newSide(cfg, "dst"); err != nil {
		return nil, err
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if job.Dst.Endpoint.Rid == "" {
		job.Dst.Endpoint.Rid = job.Src.Endpoint.Rid
	}
	return job, nil
}

// Validate checks the invariants that must hold before any I/O. A zero
// batch size means engine.DefaultBatchSize.
func (j *Job) Validate() error {
	if j.Src.Endpoint.Locator == nil {
		return newError("src", ErrMissingField, "table or query is required")
	}
	if j.Dst.Endpoint.Locator == nil {
		return newError("dst.table", ErrMissingField, "")
	}
	if _, ok := j.Dst.Endpoint.Locator.(engine.ByTable); !ok {
		return newError("dst", ErrInvalidValue, "destination must be a table, not a query")
	}
	if j.Mode == ModeIncremental && j.Src.Endpoint.Rid == "" {
		return newError("src.rid", ErrMissingField, "incremental mode needs a rid column")
	}
	for _, side := range []struct {
		key string
		ep  engine.Endpoint
	}{{"src", j.Src.Endpoint}, {"dst", j.Dst.Endpoint}} {
		if side.ep.BatchSize < 0 {
			return newError(side.key+".batch_size", ErrInvalidValue, "must not be negative, got %d", side.ep.BatchSize)
		}
	}
	return nil
}

func newSide(cfg map[string]any, key string) (Side, error) {
	var side Side
	raw, ok := cfg[key]
	if !ok {
		return side, newError(key, ErrMissingField, "")
	}
	m, ok := asMap(raw)
	if !ok {
		return side, newError(key, ErrInvalidValue, "must be a mapping, got %T", raw)
	}

	connName, err := stringField(m, "conn")
	if err != nil {
		return side, prefixKey(key, err)
	}
	if connName == "" {
		return side, newError(key+".conn", ErrMissingField, "")
	}
	connRaw, ok := Lookup(cfg, "connections."+connName)
	if !ok {
		return side, newError(key+".conn", ErrInvalidValue, "unknown connection %q", connName)
	}
	if side.Conn, err = dbconfig.Decode(connName, connRaw); err != nil {
		return side, newError("connections."+connName, ErrInvalidValue, "%v", err)
	}
	if err := side.Conn.Validate(); err != nil {
		return side, newError("connections."+connName, ErrInvalidValue, "%v", err)
	}

	table, err := stringField(m, "table")
	if err != nil {
		return side, prefixKey(key, err)
	}
	query, err := stringField(m, "query")
	if err != nil {
		return side, prefixKey(key, err)
	}
	if table != "" || query != "" {
		side.Endpoint.Locator, _ = engine.NewLocator(table, query)
	}
	if side.Endpoint.Rid, err = stringField(m, "rid"); err != nil {
		return side, prefixKey(key, err)
	}

	side.Endpoint.BatchSize = engine.DefaultBatchSize
	if v, ok := m["batch_size"]; ok && v != nil {
		n, err := toInt(v)
		if err != nil {
			return side, newError(key+".batch_size", ErrInvalidValue, "%v", err)
		}
		if n <= 0 {
			return side, newError(key+".batch_size", ErrInvalidValue, "must be positive, got %d", n)
		}
		side.Endpoint.BatchSize = n
	}
	return side, nil
}

func stringField(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), nil
	case int, int64, float64, bool:
		return fmt.Sprint(x), nil
	default:
		return "", newError(key, ErrInvalidValue, "must be a string, got %T", v)
	}
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	default:
		return 0, fmt.Errorf("%v (%T) is not an integer", v, v)
	}
}

func prefixKey(prefix string, err error) error {
	if e, ok := err.(*Error); ok {
		return &Error{Key: joinPath(prefix, e.Key), Err: e.Err, Msg: e.Msg}
	}
	return err
}
