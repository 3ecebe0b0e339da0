package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DBFile is the history database inside the data directory.
const DBFile = "dbrep.db"

const timeLayout = "2006-01-02 15:04:05.000000"

// State stores run history in SQLite.
type State struct {
	db *sql.DB
}

// New opens (creating if needed) the history database in dataDir.
func New(dataDir string) (*State, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, wrap("open", fmt.Errorf("creating data dir: %w", err))
	}

	dbPath := filepath.Join(dataDir, DBFile)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, wrap("open", fmt.Errorf("opening database: %w", err))
	}

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, wrap("open", fmt.Errorf("migrating schema: %w", err))
	}

	return s, nil
}

func (s *State) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		started_at TEXT NOT NULL,
		completed_at TEXT,
		rows INTEGER NOT NULL DEFAULT 0,
		src_rid TEXT,
		dst_rid TEXT,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS passes (
		run_id TEXT NOT NULL REFERENCES runs(id),
		n INTEGER NOT NULL,
		from_rid TEXT,
		to_rid TEXT,
		rows INTEGER NOT NULL DEFAULT 0,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (run_id, n)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_job_started ON runs(job, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *State) Close() error {
	return s.db.Close()
}

// StartRun records a new run in the running state.
func (s *State) StartRun(r *Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	r.Status = StatusRunning
	_, err := s.db.Exec(`
		INSERT INTO runs (id, job, mode, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.Job, r.Mode, string(r.Status), formatTime(r.StartedAt))
	return wrap("start run "+r.ID, err)
}

// RecordPass appends a streaming pass to a run.
func (s *State) RecordPass(runID string, p Pass) error {
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO passes (run_id, n, from_rid, to_rid, rows, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, n) DO UPDATE SET
			from_rid = excluded.from_rid, to_rid = excluded.to_rid,
			rows = excluded.rows, recorded_at = excluded.recorded_at
	`, runID, p.N, p.FromRid, p.ToRid, p.Rows, formatTime(p.RecordedAt))
	return wrap("record pass of "+runID, err)
}

// FinishRun stores the outcome of a run.
func (s *State) FinishRun(runID string, o Outcome) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, rows = ?, src_rid = ?, dst_rid = ?, error = ?
		WHERE id = ?
	`, string(o.Status), formatTime(time.Now()), o.Rows, o.SrcRid, o.DstRid, o.Error, runID)
	if err != nil {
		return wrap("finish run "+runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap("finish run "+runID, errors.New("run not found"))
	}
	return nil
}

// Runs returns recent runs, newest first, without their passes.
func (s *State) Runs(job string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, job, mode, status, started_at, completed_at, rows, src_rid, dst_rid, error
		FROM runs WHERE ? = '' OR job = ?
		ORDER BY started_at DESC LIMIT ?
	`, job, job, limit)
	if err != nil {
		return nil, wrap("list runs", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, wrap("list runs", err)
		}
		runs = append(runs, *r)
	}
	return runs, wrap("list runs", rows.Err())
}

// Run returns one run and its passes.
func (s *State) Run(id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`
		SELECT id, job, mode, status, started_at, completed_at, rows, src_rid, dst_rid, error
		FROM runs WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get run "+id, err)
	}

	rows, err := s.db.Query(`
		SELECT n, from_rid, to_rid, rows, recorded_at
		FROM passes WHERE run_id = ? ORDER BY n
	`, id)
	if err != nil {
		return nil, wrap("get run "+id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p          Pass
			from, to   sql.NullString
			recordedAt string
		)
		if err := rows.Scan(&p.N, &from, &to, &p.Rows, &recordedAt); err != nil {
			return nil, wrap("get run "+id, err)
		}
		p.FromRid, p.ToRid = from.String, to.String
		p.RecordedAt = parseTime(recordedAt)
		r.Passes = append(r.Passes, p)
	}
	return r, wrap("get run "+id, rows.Err())
}

// CleanupOldRuns deletes finished runs completed before the cutoff and
// returns how many were removed. Running runs are kept.
func (s *State) CleanupOldRuns(before time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, wrap("cleanup", err)
	}
	defer tx.Rollback()

	cutoff := formatTime(before)
	if _, err := tx.Exec(`
		DELETE FROM passes WHERE run_id IN (
			SELECT id FROM runs WHERE status != 'running' AND completed_at < ?
		)
	`, cutoff); err != nil {
		return 0, wrap("cleanup", err)
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE status != 'running' AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, wrap("cleanup", err)
	}
	n, _ := res.RowsAffected()
	return n, wrap("cleanup", tx.Commit())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r                    Run
		status, startedAt    string
		completedAt          sql.NullString
		srcRid, dstRid, errS sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.Job, &r.Mode, &status, &startedAt, &completedAt,
		&r.Rows, &srcRid, &dstRid, &errS); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		r.CompletedAt = &t
	}
	r.SrcRid, r.DstRid, r.Error = srcRid.String, dstRid.String, errS.String
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.ParseInLocation(timeLayout, s, time.UTC)
	return t
}
