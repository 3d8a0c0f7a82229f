package database

import (
	"errors"
	"fmt"
)

// Sentinels callers match with errors.Is without importing the concrete types.
var (
	ErrRunNotFound = errors.New("training run not found")
	ErrInvalidRun  = errors.New("invalid training run")
)

const (
	tableRuns        = "training_runs"
	tableWebhookLogs = "publish_webhook_logs"
)

// DBError is a driver failure on one history table
type DBError struct {
	Operation string
	Table     string
	Err       error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Operation, e.Table, e.Err)
}

func (e *DBError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a run that is not recorded. An empty RunID means the
// lookup was by outcome rather than id.
type NotFoundError struct {
	RunID   string
	Outcome string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("training run %s not found", e.RunID)
	}
	return fmt.Sprintf("no %s training run recorded", e.Outcome)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrRunNotFound
}

// ValidationError is a run rejected before it reached the database
type ValidationError struct {
	Field  string
	Reason string
	Value  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("training run %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRun
}

func wrapDBError(operation, table string, err error) error {
	if err == nil {
		return nil
	}
	return &DBError{Operation: operation, Table: table, Err: err}
}

// validateRun checks what the schema cannot: a non-empty id and a known outcome.
func validateRun(run *TrainingRun) error {
	if run.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if run.Outcome != OutcomeSuccess && run.Outcome != OutcomeFailed {
		return &ValidationError{Field: "outcome", Reason: "must be SUCCESS or FAILED", Value: run.Outcome}
	}
	return nil
}
