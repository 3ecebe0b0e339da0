package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxFileRuns is the number of runs a FileState keeps.
const MaxFileRuns = 50

// FileState stores run history in a single YAML file.
// It suits headless environments where a SQLite file is impractical.
type FileState struct {
	path string
	mu   sync.RWMutex
	data *fileStateData
}

// fileStateData is the YAML structure for the state file.
type fileStateData struct {
	Runs []Run `yaml:"runs"`
}

// NewFileState creates a file-based history store.
// If the file exists, it loads the existing runs.
func NewFileState(path string) (*FileState, error) {
	fs := &FileState{path: path, data: &fileStateData{}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fs, nil
	case err != nil:
		return nil, wrap("open", fmt.Errorf("reading state file: %w", err))
	}
	if err := yaml.Unmarshal(data, fs.data); err != nil {
		return nil, wrap("open", fmt.Errorf("parsing state file %s: %w", path, err))
	}
	return fs, nil
}

// save writes the current state to the YAML file.
func (fs *FileState) save() error {
	data, err := yaml.Marshal(fs.data)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if dir := filepath.Dir(fs.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating state dir: %w", err)
		}
	}
	if err := os.WriteFile(fs.path, data, 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

func (fs *FileState) find(id string) *Run {
	for i := range fs.data.Runs {
		if fs.data.Runs[i].ID == id {
			return &fs.data.Runs[i]
		}
	}
	return nil
}

// StartRun records a new run, dropping the oldest runs beyond MaxFileRuns.
func (fs *FileState) StartRun(r *Run) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.find(r.ID) != nil {
		return wrap("start run "+r.ID, errors.New("run already exists"))
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	r.Status = StatusRunning
	fs.data.Runs = append(fs.data.Runs, *r)
	if n := len(fs.data.Runs); n > MaxFileRuns {
		fs.data.Runs = append([]Run(nil), fs.data.Runs[n-MaxFileRuns:]...)
	}
	return wrap("start run "+r.ID, fs.save())
}

// RecordPass appends or replaces a pass of a run.
func (fs *FileState) RecordPass(runID string, p Pass) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	r := fs.find(runID)
	if r == nil {
		return wrap("record pass of "+runID, errors.New("run not found"))
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now()
	}
	for i := range r.Passes {
		if r.Passes[i].N == p.N {
			r.Passes[i] = p
			return wrap("record pass of "+runID, fs.save())
		}
	}
	r.Passes = append(r.Passes, p)
	return wrap("record pass of "+runID, fs.save())
}

// FinishRun stores the outcome of a run.
func (fs *FileState) FinishRun(runID string, o Outcome) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	r := fs.find(runID)
	if r == nil {
		return wrap("finish run "+runID, errors.New("run not found"))
	}
	now := time.Now()
	r.Status = o.Status
	r.CompletedAt = &now
	r.Rows = o.Rows
	r.SrcRid, r.DstRid = o.SrcRid, o.DstRid
	r.Error = o.Error
	return wrap("finish run "+runID, fs.save())
}

// Runs returns recent runs, newest first, without their passes.
func (fs *FileState) Runs(job string, limit int) ([]Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var runs []Run
	for _, r := range fs.data.Runs {
		if job != "" && r.Job != job {
			continue
		}
		r.Passes = nil
		runs = append(runs, r)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Run returns one run and its passes.
func (fs *FileState) Run(id string) (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	r := fs.find(id)
	if r == nil {
		return nil, nil
	}
	out := *r
	out.Passes = append([]Pass(nil), r.Passes...)
	return &out, nil
}

// Close is a no-op; every change is already on disk.
func (fs *FileState) Close() error {
	return nil
}
