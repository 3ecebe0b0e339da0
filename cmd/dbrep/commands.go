package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/johndauphine/dbrep/internal/checkpoint"
	"github.com/johndauphine/dbrep/internal/config"
	"github.com/johndauphine/dbrep/internal/dbconfig"
	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/engine/builtin"
	"github.com/johndauphine/dbrep/internal/exitcodes"
	"github.com/johndauphine/dbrep/internal/logging"
	"github.com/johndauphine/dbrep/internal/orchestrator"
	"github.com/johndauphine/dbrep/internal/progress"
	"github.com/johndauphine/dbrep/internal/replication"
	"github.com/johndauphine/dbrep/internal/secrets"
	"github.com/johndauphine/dbrep/internal/tui"
)

const (
	defaultBackoff   = 2 * time.Second
	progressInterval = 2 * time.Second
	logFileName      = "dbrep.log"
)

// runResult is printed with --output-json.
type runResult struct {
	RunID           string  `json:"run_id"`
	Job             string  `json:"job"`
	Mode            string  `json:"mode"`
	Status          string  `json:"status"`
	Rows            int64   `json:"rows"`
	Passes          int     `json:"passes"`
	SrcRid          string  `json:"src_rid,omitempty"`
	DstRid          string  `json:"dst_rid,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	RowsPerSecond   float64 `json:"rows_per_second"`
	Error           string  `json:"error,omitempty"`
	ExitCode        int     `json:"exit_code"`
}

func runJob(c *cli.Context, env config.Env) error {
	overrides, err := runOverrides(c)
	if err != nil {
		return err
	}
	job, err := loadJob(c, overrides)
	if err != nil {
		return err
	}

	history, err := openHistory(c, env)
	if err != nil {
		return err
	}
	defer history.Close()

	runID := c.String("run-id")
	if runID == "" {
		runID = orchestrator.NewRunID()
	}

	repl := replication.DefaultOptions()
	repl.PipelineDepth = c.Int("pipeline")
	repl.MaxPasses = c.Int("max-passes")
	repl.CreateMissing = !c.Bool("no-create")

	opts := orchestrator.Options{RunID: runID, Replication: repl}
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	useTUI := c.Bool("tui") && interactive && !c.Bool("output-json")
	if !useTUI && !c.Bool("no-progress") && !c.Bool("output-json") && term.IsTerminal(int(os.Stderr.Fd())) {
		opts.ProgressWriter = os.Stderr
	}
	if c.Bool("output-json") {
		reporter := progress.NewJSONReporter(os.Stderr, progressInterval)
		defer reporter.Close()
		opts.Reporter = reporter
	}

	ctx, stop := signalContext()
	defer stop()

	var (
		res    *replication.Result
		runErr error
	)
	if useTUI {
		res, runErr = runWithTUI(ctx, env, history, job, opts)
	} else {
		res, runErr = newOrchestrator(env, history, opts).Run(ctx, job)
	}

	if c.Bool("output-json") {
		if err := printJSON(buildRunResult(runID, job, res, runErr)); err != nil {
			logging.Warn("Failed to output JSON: %v", err)
		}
	}
	return runErr
}

// runWithTUI runs the job in the background while the run view owns the
// terminal. Log lines go to a file in the data directory meanwhile.
func runWithTUI(ctx context.Context, env config.Env, history checkpoint.Backend, job *config.Job, opts orchestrator.Options) (*replication.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if restore, err := logToFile(env); err != nil {
		logging.Warn("Keeping logs on the terminal: %v", err)
	} else {
		defer restore()
	}

	events := make(chan replication.Event, 64)
	result := make(chan error, 1)
	opts.Events = events

	var (
		res    *replication.Result
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, runErr = newOrchestrator(env, history, opts).Run(ctx, job)
		close(events)
		result <- runErr
	}()

	model := tui.NewModel(opts.RunID, job.Name, job.Mode, cancel)
	if err := tui.Run(model, events, result); err != nil {
		cancel()
		<-done
		return res, fmt.Errorf("run view: %w", err)
	}
	<-done
	return res, runErr
}

func logToFile(env config.Env) (func(), error) {
	dir, err := dataDir(env)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	prev := logging.Output()
	logging.SetOutput(f)
	return func() {
		logging.SetOutput(prev)
		f.Close()
	}, nil
}

func runOverrides(c *cli.Context) ([]config.Pair, error) {
	var pairs []config.Pair
	if mode := c.String("mode"); mode != "" {
		pairs = append(pairs, config.Pair{Key: "mode", Value: mode})
	}
	if c.Bool("stdin") {
		fromStdin, err := config.ParseOverrides(os.Stdin)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, fromStdin...)
	}
	for _, s := range c.StringSlice("set") {
		p, err := config.ParseOverride(s)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func buildRunResult(runID string, job *config.Job, res *replication.Result, err error) runResult {
	out := runResult{
		RunID:    runID,
		Job:      job.Name,
		Mode:     job.Mode,
		Status:   string(checkpoint.StatusSuccess),
		ExitCode: exitcodes.FromError(err),
	}
	if res != nil {
		out.Rows = res.Rows
		out.Passes = res.Passes
		if res.SrcRid.Valid {
			out.SrcRid = res.SrcRid.String()
		}
		if res.DstRid.Valid {
			out.DstRid = res.DstRid.String()
		}
		out.DurationSeconds = res.Duration.Seconds()
		out.RowsPerSecond = res.RowsPerSecond()
	}
	if err != nil {
		out.Status = string(checkpoint.StatusFailed)
		if out.ExitCode == exitcodes.Cancelled {
			out.Status = string(checkpoint.StatusCancelled)
		}
		out.Error = err.Error()
	}
	return out
}

func verifyJob(c *cli.Context) error {
	job, err := loadJob(c, nil)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	o := orchestrator.New(builtin.NewRegistry(), nil, nil, orchestrator.Options{})
	verr := o.Verify(ctx, job)
	if c.Bool("output-json") {
		out := map[string]any{"job": job.Name, "equal": verr == nil}
		if verr != nil {
			out["error"] = verr.Error()
		}
		if err := printJSON(out); err != nil {
			return err
		}
	} else if verr == nil {
		fmt.Printf("%s: source and destination are identical\n", job.Name)
	}
	return verr
}

func checkJob(c *cli.Context) error {
	job, err := loadJob(c, nil)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	o := orchestrator.New(builtin.NewRegistry(), nil, nil, orchestrator.Options{})
	result, herr := o.WaitHealthy(ctx, job, c.Int("retries"), c.Duration("backoff"))
	if result == nil {
		return herr
	}

	if c.Bool("output-json") {
		if err := printJSON(result); err != nil {
			return err
		}
		return herr
	}

	for _, side := range []struct {
		label string
		h     orchestrator.SideHealth
	}{{"Source", result.Source}, {"Destination", result.Destination}} {
		status := "OK"
		if !side.h.Connected {
			status = "FAILED: " + side.h.Error
		}
		fmt.Printf("%-12s %-20s %-10s %6dms  %s\n", side.label, side.h.Name, side.h.DBType, side.h.LatencyMs, status)
		if side.h.Connected {
			if side.h.TableFound {
				fmt.Printf("%-12s latest rid: %s\n", "", orNone(side.h.LatestRid))
			} else {
				fmt.Printf("%-12s table not found\n", "")
			}
		}
	}
	return herr
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// jobView is the printable form of a resolved job.
type jobView struct {
	Name string   `yaml:"name"`
	Mode string   `yaml:"mode"`
	Src  sideView `yaml:"src"`
	Dst  sideView `yaml:"dst"`
}

type sideView struct {
	Connection string              `yaml:"conn"`
	Table      string              `yaml:"table,omitempty"`
	Query      string              `yaml:"query,omitempty"`
	Rid        string              `yaml:"rid,omitempty"`
	BatchSize  int                 `yaml:"batch_size"`
	Settings   dbconfig.Connection `yaml:"connection"`
}

func newSideView(s config.Side) sideView {
	v := sideView{
		Connection: s.Conn.Name,
		Rid:        s.Endpoint.Rid,
		BatchSize:  s.Endpoint.BatchSize,
		Settings:   s.Conn.Sanitized(),
	}
	switch loc := s.Endpoint.Locator.(type) {
	case engine.ByTable:
		v.Table = loc.Name
	case engine.ByQuery:
		v.Query = loc.SQL
	}
	return v
}

func showJob(c *cli.Context) error {
	job, err := loadJob(c, nil)
	if err != nil {
		return err
	}
	view := jobView{
		Name: job.Name,
		Mode: job.Mode,
		Src:  newSideView(job.Src),
		Dst:  newSideView(job.Dst),
	}
	if c.Bool("output-json") {
		return printJSON(view)
	}
	data, err := yaml.Marshal(view)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func listJobs(c *cli.Context) error {
	doc, err := loadDocument(c)
	if err != nil {
		return err
	}
	names := doc.JobNames()
	if c.Bool("output-json") {
		return printJSON(names)
	}
	if len(names) == 0 {
		fmt.Printf("No jobs found in %s\n", c.String("config-dir"))
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func showHistory(c *cli.Context, env config.Env) error {
	history, err := openHistory(c, env)
	if err != nil {
		return err
	}
	defer history.Close()

	if age := c.Duration("prune"); age > 0 {
		state, ok := history.(*checkpoint.State)
		if !ok {
			return fmt.Errorf("--prune needs the SQLite history, not a state file")
		}
		n, err := state.CleanupOldRuns(time.Now().Add(-age))
		if err != nil {
			return err
		}
		logging.Info("Deleted %d runs older than %s", n, age)
	}

	asJSON := c.Bool("json") || c.Bool("output-json")
	if runID := c.String("run"); runID != "" {
		return orchestrator.ShowRunDetails(os.Stdout, history, runID, asJSON)
	}
	return orchestrator.ShowHistory(os.Stdout, history, c.String("job"), c.Int("limit"), asJSON)
}

func keygen(c *cli.Context) error {
	path := c.String("out")
	if path == "" {
		path = defaultKeyFile(c)
	}
	if _, err := secrets.WriteKeyFile(path); err != nil {
		return err
	}
	fmt.Printf("Wrote key to %s (keep it out of version control)\n", path)
	return nil
}

func encryptCredentials(c *cli.Context) error {
	key, err := secrets.LoadKey(defaultKeyFile(c))
	if err != nil {
		return err
	}
	in := c.String("in")
	out := c.String("out")
	if out == "" {
		out = in + secrets.Suffix
	}
	if !secrets.IsEncrypted(out) {
		return fmt.Errorf("encrypted file name must end in %s: %s", secrets.Suffix, out)
	}
	if err := secrets.EncryptFile(key, in, out); err != nil {
		return err
	}
	fmt.Printf("Encrypted %s to %s\n", in, out)
	return nil
}

func decryptCredentials(c *cli.Context) error {
	key, err := secrets.LoadKey(defaultKeyFile(c))
	if err != nil {
		return err
	}
	plaintext, err := secrets.DecryptFile(key, c.String("in"))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(plaintext)
	return err
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
