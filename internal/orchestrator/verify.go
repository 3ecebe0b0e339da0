package orchestrator

import (
	"context"
	"fmt"

	"github.com/johndauphine/dbrep/internal/config"
	"github.com/johndauphine/dbrep/internal/logging"
	"github.com/johndauphine/dbrep/internal/verify"
)

// Verify compares the full contents of the job's source and destination.
// A mismatch is returned as an error matching verify.ErrVerification.
func (o *Orchestrator) Verify(ctx context.Context, job *config.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	src, err := o.reg.Open(ctx, job.Src.Conn)
	if err != nil {
		return fmt.Errorf("opening source %s: %w", job.Src.Conn.Name, err)
	}
	defer src.Close()

	dst, err := o.reg.Open(ctx, job.Dst.Conn)
	if err != nil {
		return fmt.Errorf("opening destination %s: %w", job.Dst.Conn.Name, err)
	}
	defer dst.Close()

	logging.Info("Verifying %s: %s against %s", job.Name, job.Src.Endpoint, job.Dst.Endpoint)
	if err := verify.CompareTables(ctx, src, dst, job.Src.Endpoint, job.Dst.Endpoint); err != nil {
		logging.Error("%-30s FAIL %v", job.Name, err)
		return err
	}
	logging.Info("%-30s OK", job.Name)
	return nil
}
