package migration

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingPrimaryKey indicates the source table has no primary key.
	// Bridge deduplication depends on one, so this is fatal configuration:
	// no retry can succeed.
	ErrMissingPrimaryKey = errors.New("source table has no primary key")

	// ErrRunNotFound indicates the specified migration run does not exist
	// in the run store.
	ErrRunNotFound = errors.New("migration run not found")

	// ErrUnsupportedWrite indicates an update or delete was issued through
	// the bridge. Only insert-shaped requests are routed; which physical
	// row an update or delete should touch is ambiguous and never guessed.
	ErrUnsupportedWrite = errors.New("bridge accepts inserts only")

	// ErrOperatorActionRequired indicates the run carries the operator
	// intervention flag and the engine refuses to advance it.
	ErrOperatorActionRequired = errors.New("run requires operator intervention")
)

// PreconditionError reports that a gate returned FAIL before a transition.
// The run does not advance; the caller may retry after remediation.
type PreconditionError struct {
	// RunID identifies the run, empty for stateless cycles.
	RunID string

	// Phase is the run's phase at the time of the check.
	Phase Phase

	// Gate names the failing check.
	Gate string

	// Results holds the gate outcomes that blocked the transition.
	Results []GateResult
}

func (e *PreconditionError) Error() string {
	detail := ""
	for _, r := range e.Results {
		if r.Verdict == GateFail {
			detail = r.Detail
			break
		}
	}
	if e.RunID == "" {
		return fmt.Sprintf("precondition failed: gate %s: %s", e.Gate, detail)
	}
	return fmt.Sprintf("precondition failed: run %s phase %s gate %s: %s", e.RunID, e.Phase, e.Gate, detail)
}

// TransientError wraps a database error (timeout, connectivity) for a step
// that is safe to retry: every mutating step is a single statement, either
// idempotent or guarded by an existence gate.
type TransientError struct {
	// RunID identifies the run, empty for stateless cycles.
	RunID string

	// Phase is the run's phase at the time of the failure.
	Phase Phase

	// Statement is the statement or gate that failed.
	Statement string

	// Err is the underlying database error.
	Err error
}

func (e *TransientError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("transient database error: %s: %v", e.Statement, e.Err)
	}
	return fmt.Sprintf("transient database error: run %s phase %s: %s: %v", e.RunID, e.Phase, e.Statement, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// CutoverError reports the single irrecoverable case: the second cutover
// rename failed and the compensating rename failed too. Both physical
// tables are left under non-canonical names; the engine stops advancing the
// run entirely rather than guessing.
type CutoverError struct {
	// RunID identifies the run.
	RunID string

	// RetiredName is where the former source was left.
	RetiredName string

	// ShadowName is where the shadow was left.
	ShadowName string

	// RenameErr is the error from the failed rename.
	RenameErr error

	// CompensationErr is the error from the failed compensating rename.
	CompensationErr error
}

func (e *CutoverError) Error() string {
	return fmt.Sprintf("irrecoverable cutover failure: run %s: source left as %s, shadow left as %s: rename: %v; compensation: %v",
		e.RunID, e.RetiredName, e.ShadowName, e.RenameErr, e.CompensationErr)
}

func (e *CutoverError) Unwrap() error {
	return e.RenameErr
}

// IsTransient reports whether err is safe to retry at the same step.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
