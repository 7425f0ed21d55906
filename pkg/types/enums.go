// Package types defines the public domain types for the evextract batch extractor.
package types

// QueryState mirrors the Athena query execution state.
type QueryState string

// QueryState values enumerate the states reported by the query service.
const (
	QueryQueued    QueryState = "QUEUED"
	QueryRunning   QueryState = "RUNNING"
	QuerySucceeded QueryState = "SUCCEEDED"
	QueryFailed    QueryState = "FAILED"
	QueryCancelled QueryState = "CANCELLED"
)

// IsTerminal reports whether no further transitions are expected.
func (s QueryState) IsTerminal() bool {
	switch s {
	case QuerySucceeded, QueryFailed, QueryCancelled:
		return true
	default:
		return false
	}
}

// Outcome classifies the result of a single query run.
type Outcome string

// Outcome values distinguish success from remote and transient failures.
const (
	OutcomeSucceeded      Outcome = "SUCCEEDED"
	OutcomeRemoteFailure  Outcome = "REMOTE_FAILURE"
	OutcomeTransientError Outcome = "TRANSIENT_ERROR"
	OutcomeCanceled       Outcome = "CANCELED"
)

// FailurePolicy decides what the batch does when a subject fails.
type FailurePolicy string

// FailurePolicy values.
const (
	FailureSkip  FailurePolicy = "skip"
	FailureHalt  FailurePolicy = "halt"
	FailureRetry FailurePolicy = "retry"
)

// Valid reports whether p is a known policy.
func (p FailurePolicy) Valid() bool {
	switch p {
	case FailureSkip, FailureHalt, FailureRetry:
		return true
	default:
		return false
	}
}

// Side names one of the two devices worn by a subject.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// SubjectStatus is the final state of a subject in a batch report.
type SubjectStatus string

// SubjectStatus values recorded in the batch manifest.
const (
	SubjectWritten SubjectStatus = "WRITTEN"
	SubjectSkipped SubjectStatus = "SKIPPED"
	SubjectFailed  SubjectStatus = "FAILED"
)
