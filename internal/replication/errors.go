package replication

import (
	"errors"
	"fmt"
)

// Guard failures. They are carried by *Error.
var (
	ErrNoProgress         = errors.New("streaming pass made no progress")
	ErrWatermarkRegressed = errors.New("destination watermark moved backwards")
	ErrMaxPasses          = errors.New("maximum number of passes exceeded")
	ErrMissingTable       = errors.New("destination table does not exist")
)

// Error is a failure of the replication protocol. Engine failures are
// wrapped as they are, so errors.As still reaches *engine.EngineError.
type Error struct {
	Mode  string
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s replication failed in state %s: %v", e.Mode, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
