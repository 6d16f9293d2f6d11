package pipeline

import (
	"errors"
	"fmt"
)

// ErrNothingToDo is returned by Run when intake holds no processable file.
var ErrNothingToDo = errors.New("nothing to do")

// ErrCancelled is returned when the confirmation hook declines the batch.
var ErrCancelled = errors.New("batch cancelled before start")

var ErrOverlappingLayout = errors.New("ingest, clean and originals must be separate directories")

// LedgerError marks a failure of the audit store. The orchestrator never
// swallows one: it is logged at error level and, unless configured
// otherwise, ends the batch.
type LedgerError struct {
	Stage string
	Err   error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger failure during %s: %v", e.Stage, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// stageError tags a per-file failure with the stage it happened in.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return e.err.Error()
}

func (e *stageError) Unwrap() error {
	return e.err
}

func failAt(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, err: err}
}

func ledgerFail(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, err: &LedgerError{Stage: stage, Err: err}}
}

func stageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return "unknown"
}
