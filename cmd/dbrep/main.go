package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/dbrep/internal/checkpoint"
	"github.com/johndauphine/dbrep/internal/config"
	"github.com/johndauphine/dbrep/internal/engine/builtin"
	"github.com/johndauphine/dbrep/internal/exitcodes"
	"github.com/johndauphine/dbrep/internal/logging"
	"github.com/johndauphine/dbrep/internal/notify"
	"github.com/johndauphine/dbrep/internal/orchestrator"
)

var version = "dev"

func main() {
	env, err := config.ParseEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitcodes.ConfigError)
	}

	app := newApp(env)
	if err := app.Run(os.Args); err != nil {
		code := exitcodes.FromError(err)
		fmt.Fprintf(os.Stderr, "Error (%s): %v\n", exitcodes.Description(code), err)
		os.Exit(code)
	}
}

func newApp(env config.Env) *cli.App {
	return &cli.App{
		Name:    "dbrep",
		Usage:   "Configuration-driven table replication between databases",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				Aliases: []string{"d"},
				Value:   env.ConfigDir,
				Usage:   "Directory holding credentials, connections, templates and jobs",
			},
			&cli.StringFlag{
				Name:  "key-file",
				Value: env.KeyFile,
				Usage: "Key for encrypted credentials (default: <config-dir>/" + config.DefaultKeyFile + ")",
			},
			&cli.StringFlag{
				Name:  "credentials",
				Usage: "Credentials file, plain YAML or encrypted (" + config.DefaultCredentialsFile + ")",
			},
			&cli.StringFlag{
				Name:  "connections",
				Usage: "Connections file (" + config.DefaultConnectionsFile + ")",
			},
			&cli.StringSliceFlag{
				Name:  "templates",
				Usage: "Template file glob, repeatable (" + config.DefaultTemplatesGlob + ")",
			},
			&cli.StringSliceFlag{
				Name:  "jobs",
				Usage: "Job file glob, repeatable (" + config.DefaultJobsGlob + ")",
			},
			&cli.StringFlag{
				Name:  "state-file",
				Value: env.StateFile,
				Usage: "Use YAML state file instead of SQLite (for Airflow/headless)",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Explicit run ID (for Airflow, default: auto-generated)",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: env.LogLevel,
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: env.LogFormat,
				Usage: "Log format: text or json",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON to stdout (logs go to stderr)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			format, err := logging.ParseFormat(c.String("log-format"))
			if err != nil {
				return err
			}
			if format == logging.FormatJSON {
				logging.SetFormat("json")
			}

			if c.Bool("output-json") {
				logging.SetOutput(os.Stderr)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Replicate one job",
				ArgsUsage: "JOB",
				Action:    func(c *cli.Context) error { return runJob(c, env) },
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Override the job mode (full-refresh or incremental)",
					},
					&cli.StringSliceFlag{
						Name:  "set",
						Usage: "Override a config value, key.path=value (repeatable)",
					},
					&cli.BoolFlag{
						Name:  "stdin",
						Usage: "Read key.path=value overrides from stdin, one per line",
					},
					&cli.IntFlag{
						Name:  "pipeline",
						Usage: "Batches buffered between fetch and insert (0 = sequential)",
					},
					&cli.IntFlag{
						Name:  "max-passes",
						Usage: "Fail an incremental run after this many passes (0 = unlimited)",
					},
					&cli.BoolFlag{
						Name:  "no-create",
						Usage: "Fail instead of creating a missing destination table",
					},
					&cli.BoolFlag{
						Name:  "tui",
						Usage: "Show the interactive run view",
					},
					&cli.BoolFlag{
						Name:  "no-progress",
						Usage: "Disable the progress bar",
					},
				},
			},
			{
				Name:      "verify",
				Usage:     "Compare the full contents of a job's source and destination",
				ArgsUsage: "JOB",
				Action:    verifyJob,
			},
			{
				Name:      "check",
				Usage:     "Test connectivity to a job's source and destination",
				ArgsUsage: "JOB",
				Action:    checkJob,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "retries",
						Usage: "Additional attempts when a connection fails",
					},
					&cli.DurationFlag{
						Name:  "backoff",
						Value: defaultBackoff,
						Usage: "Wait before the first retry, doubled after each attempt",
					},
				},
			},
			{
				Name:      "show",
				Usage:     "Print the resolved job with secrets redacted",
				ArgsUsage: "JOB",
				Action:    showJob,
			},
			{
				Name:   "jobs",
				Usage:  "List the configured jobs",
				Action: listJobs,
			},
			{
				Name:   "history",
				Usage:  "List past runs, or view the passes of a specific run",
				Action: func(c *cli.Context) error { return showHistory(c, env) },
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "job",
						Usage: "Only runs of this job",
					},
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show details for a specific run ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum runs to list (0 = all)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output history as JSON",
					},
					&cli.DurationFlag{
						Name:  "prune",
						Usage: "Delete runs that started longer ago than this (SQLite history only)",
					},
				},
			},
			{
				Name:   "keygen",
				Usage:  "Create a key file for encrypted credentials",
				Action: keygen,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "out",
						Usage: "Key file to create (default: <config-dir>/" + config.DefaultKeyFile + ")",
					},
				},
			},
			{
				Name:   "encrypt",
				Usage:  "Encrypt a credentials file",
				Action: encryptCredentials,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "in",
						Required: true,
						Usage:    "Plain YAML credentials file",
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "Encrypted file to write (default: <in>.crypto)",
					},
				},
			},
			{
				Name:   "decrypt",
				Usage:  "Print the plaintext of an encrypted credentials file",
				Action: decryptCredentials,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "in",
						Required: true,
						Usage:    "Encrypted credentials file",
					},
				},
			},
		},
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM. The run
// stops at the next batch boundary.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openHistory returns the YAML state file backend when one is configured,
// otherwise the SQLite store in the data directory.
func openHistory(c *cli.Context, env config.Env) (checkpoint.Backend, error) {
	if path := c.String("state-file"); path != "" {
		return checkpoint.NewFileState(path)
	}
	dataDir, err := dataDir(env)
	if err != nil {
		return nil, err
	}
	return checkpoint.New(dataDir)
}

func dataDir(env config.Env) (string, error) {
	if env.DataDir != "" {
		return config.EnsureDataDir(env.DataDir)
	}
	return config.DefaultDataDir()
}

func newNotifier(env config.Env) *notify.Notifier {
	return notify.New(notify.Config{
		Enabled:    env.SlackWebhook != "",
		WebhookURL: env.SlackWebhook,
		Channel:    env.SlackChannel,
	})
}

func newOrchestrator(env config.Env, history checkpoint.Backend, opts orchestrator.Options) *orchestrator.Orchestrator {
	return orchestrator.New(builtin.NewRegistry(), history, newNotifier(env), opts)
}

// loadDocument reads the configuration layers named by the global flags.
func loadDocument(c *cli.Context) (*config.Document, error) {
	dir := c.String("config-dir")
	l := config.DefaultLayers(dir)
	if v := c.String("key-file"); v != "" {
		l.KeyFile = v
	}
	if v := c.String("credentials"); v != "" {
		l.Credentials = v
	}
	if v := c.String("connections"); v != "" {
		l.Connections = v
	}
	if v := c.StringSlice("templates"); len(v) > 0 {
		l.Templates = v
	}
	if v := c.StringSlice("jobs"); len(v) > 0 {
		l.Jobs = v
	}
	l.SuppressWarnings = c.Bool("output-json")
	return config.Load(l)
}

// loadJob resolves the job named by the first argument, applying the
// overrides given on the command line.
func loadJob(c *cli.Context, overrides []config.Pair) (*config.Job, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("%s: expected exactly one JOB argument, got %d", c.Command.Name, c.NArg())
	}
	doc, err := loadDocument(c)
	if err != nil {
		return nil, err
	}
	return doc.Job(c.Args().First(), overrides)
}

func defaultKeyFile(c *cli.Context) string {
	if v := c.String("key-file"); v != "" {
		return v
	}
	return filepath.Join(c.String("config-dir"), config.DefaultKeyFile)
}
