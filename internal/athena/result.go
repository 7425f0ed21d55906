package athena

import (
	"errors"
	"fmt"

	"github.com/dwsmith1983/evextract/internal/table"
	"github.com/dwsmith1983/evextract/pkg/types"
)

// ErrPollTimeout is returned when a query is still running after MaxWait.
var ErrPollTimeout = errors.New("query did not finish before the poll deadline")

// QueryExecutionError reports a query that Athena marked FAILED or CANCELLED.
type QueryExecutionError struct {
	ExecutionID string
	State       types.QueryState
	Reason      string
	Query       string
}

func (e *QueryExecutionError) Error() string {
	msg := fmt.Sprintf("athena query %s %s", e.ExecutionID, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg + fmt.Sprintf(" (query %q)", e.Query)
}

// Result is the outcome of one Run. Table is set only for OutcomeSucceeded.
type Result struct {
	Outcome   types.Outcome
	Execution types.QueryExecution
	Table     *table.Table
	Err       error
}

// OK reports whether the query succeeded and its table was fetched.
func (r Result) OK() bool { return r.Outcome == types.OutcomeSucceeded }

// Retryable reports whether running the same query again may succeed.
func (r Result) Retryable() bool { return r.Outcome == types.OutcomeTransientError }
