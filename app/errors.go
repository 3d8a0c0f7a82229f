package app

import (
	"errors"
	"fmt"
)

// Cycle stages, in execution order.
const (
	StageAcquisition = "acquisition"
	StageFeatures    = "features"
	StageTraining    = "training"
	StagePublication = "publication"
)

// Cycle failure kinds. A CycleError matches exactly one of them with
// errors.Is, according to its stage.
var (
	ErrTotalAcquisition  = errors.New("total acquisition failure")
	ErrEmptyFeatureTable = errors.New("empty feature table")
	ErrTraining          = errors.New("training failure")
	ErrPublication       = errors.New("publication failure")
)

var stageKinds = map[string]error{
	StageAcquisition: ErrTotalAcquisition,
	StageFeatures:    ErrEmptyFeatureTable,
	StageTraining:    ErrTraining,
	StagePublication: ErrPublication,
}

// CycleError aborts a cycle at the given stage
type CycleError struct {
	Stage string
	Err   error
}

// Error implements the error interface
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle aborted at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error
func (e *CycleError) Unwrap() error {
	return e.Err
}

// Is matches the failure kind of the stage
func (e *CycleError) Is(target error) bool {
	kind, ok := stageKinds[e.Stage]
	return ok && kind == target
}

// StageOf returns the failed stage of err, or "" if err is not a CycleError.
func StageOf(err error) string {
	var cerr *CycleError
	if errors.As(err, &cerr) {
		return cerr.Stage
	}
	return ""
}
