package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/johndauphine/dbrep/internal/config"
	"github.com/johndauphine/dbrep/internal/dbconfig"
	"github.com/johndauphine/dbrep/internal/engine"
	"github.com/johndauphine/dbrep/internal/exitcodes"
	"github.com/johndauphine/dbrep/internal/replication"
)

func TestBuildRunResult(t *testing.T) {
	job := &config.Job{Name: "orders", Mode: config.ModeIncremental}

	t.Run("success", func(t *testing.T) {
		res := &replication.Result{Rows: 10, Passes: 2, SrcRid: engine.NewWatermark(int64(42)), DstRid: engine.NewWatermark(int64(42))}
		out := buildRunResult("r1", job, res, nil)
		if out.Status != "success" || out.ExitCode != exitcodes.Success {
			t.Errorf("status = %s, exit = %d", out.Status, out.ExitCode)
		}
		if out.Rows != 10 || out.Passes != 2 || out.DstRid != "42" {
			t.Errorf("result = %+v", out)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		err := &replication.Error{Mode: config.ModeIncremental, State: replication.StateStreaming, Err: context.Canceled}
		out := buildRunResult("r2", job, nil, err)
		if out.Status != "cancelled" || out.ExitCode != exitcodes.Cancelled {
			t.Errorf("status = %s, exit = %d", out.Status, out.ExitCode)
		}
		if out.SrcRid != "" || out.Error == "" {
			t.Errorf("result = %+v", out)
		}
	})

	t.Run("failed", func(t *testing.T) {
		out := buildRunResult("r3", job, nil, &replication.Error{Err: replication.ErrNoProgress})
		if out.Status != "failed" || out.ExitCode != exitcodes.ReplicationError {
			t.Errorf("status = %s, exit = %d", out.Status, out.ExitCode)
		}
	})
}

func TestNewSideViewRedactsSecrets(t *testing.T) {
	side := config.Side{
		Conn: dbconfig.Connection{
			Name:     "warehouse",
			Type:     "postgres",
			Host:     "db",
			Password: "hunter2",
			ConnStr:  "postgres://app:hunter2@db/wh",
		},
		Endpoint: engine.Endpoint{Locator: engine.ByQuery{SQL: "select 1"}, Rid: "id", BatchSize: 500},
	}
	v := newSideView(side)
	if v.Connection != "warehouse" || v.Query != "select 1" || v.Table != "" || v.BatchSize != 500 {
		t.Errorf("view = %+v", v)
	}
	if strings.Contains(v.Settings.Password, "hunter2") || strings.Contains(v.Settings.ConnStr, "hunter2") {
		t.Errorf("secrets leaked: %+v", v.Settings)
	}
}

func TestAppKeygenAndEncrypt(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "credentials.yaml")
	if err := os.WriteFile(plain, []byte("pg:\n  password: secret\n"), 0600); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) error {
		app := newApp(config.Env{ConfigDir: dir, LogLevel: "error", LogFormat: "text"})
		return app.Run(append([]string{"dbrep", "-d", dir}, args...))
	}
	if err := run("keygen"); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, config.DefaultKeyFile)); err != nil {
		t.Fatalf("key file: %v", err)
	}
	if err := run("encrypt", "--in", plain); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	data, err := os.ReadFile(plain + ".crypto")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret") {
		t.Error("encrypted file contains plaintext")
	}

	if err := run("encrypt", "--in", plain, "--out", filepath.Join(dir, "creds.yaml")); err == nil {
		t.Error("encrypt to a name without the .crypto suffix succeeded")
	}
}

func TestAppRunRequiresJob(t *testing.T) {
	dir := t.TempDir()
	app := newApp(config.Env{ConfigDir: dir, LogLevel: "error", LogFormat: "text"})
	err := app.Run([]string{"dbrep", "-d", dir, "--state-file", filepath.Join(dir, "state.yaml"), "show", "missing"})
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("show missing job error = %v, want *config.Error", err)
	}
	if code := exitcodes.FromError(err); code != exitcodes.ConfigError {
		t.Errorf("exit code = %d, want %d", code, exitcodes.ConfigError)
	}
}
