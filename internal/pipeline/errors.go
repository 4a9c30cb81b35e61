package pipeline

import (
	"errors"
	"fmt"
)

// Pipeline states, in the only order a run may visit them
const (
	StageValidating = "validating"
	StageFetching   = "fetching"
	StageFusing     = "fusing"
	StagePrompting  = "prompting"
	StageGenerating = "generating"
	StageExtracting = "extracting"
	StageChecking   = "checking"
	StageGating     = "gating"
	StageDone       = "done"
	StageFailed     = "failed"
)

// ErrInvalidInput is returned for requests rejected before fetching
var ErrInvalidInput = errors.New("invalid input")

// StageError records which state a run failed in
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
