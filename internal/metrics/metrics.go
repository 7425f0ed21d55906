// Package metrics exposes runtime counters via expvar and mirrors them to
// the global OpenTelemetry meter.
package metrics

import (
	"context"
	"expvar"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dwsmith1983/evextract"

var (
	QueriesSubmitted = newCounter("queries_submitted", "Athena queries submitted")
	QueriesSucceeded = newCounter("queries_succeeded", "Athena queries that reached SUCCEEDED")
	QueriesFailed    = newCounter("queries_failed", "Athena queries that did not succeed")
	QueryPolls       = newCounter("query_polls", "GetQueryExecution calls")
	SubjectsWritten  = newCounter("subjects_written", "subjects whose files were written")
	SubjectsSkipped  = newCounter("subjects_skipped", "subjects skipped")
	SubjectsFailed   = newCounter("subjects_failed", "subjects that failed")
	RowsWritten      = newCounter("rows_written", "rows written across all output files")
	RetriesScheduled = newCounter("retries_scheduled", "subject retries after transient failures")
)

// Counter is an expvar integer with an OpenTelemetry twin.
type Counter struct {
	name string
	desc string
	v    *expvar.Int

	once sync.Once
	otel metric.Int64Counter
}

func newCounter(name, desc string) *Counter {
	return &Counter{name: name, desc: desc, v: expvar.NewInt(name)}
}

// Add increments the counter by n.
func (c *Counter) Add(ctx context.Context, n int64) {
	c.v.Add(n)
	c.once.Do(func() {
		ctr, err := otel.Meter(meterName).Int64Counter("evextract."+c.name, metric.WithDescription(c.desc))
		if err == nil {
			c.otel = ctr
		}
	})
	if c.otel != nil {
		c.otel.Add(ctx, n)
	}
}

// Inc increments the counter by one.
func (c *Counter) Inc(ctx context.Context) { c.Add(ctx, 1) }

// Value returns the current expvar value.
func (c *Counter) Value() int64 { return c.v.Value() }

// Name returns the expvar name.
func (c *Counter) Name() string { return c.name }

// All returns every counter in declaration order.
func All() []*Counter {
	return []*Counter{
		QueriesSubmitted, QueriesSucceeded, QueriesFailed, QueryPolls,
		SubjectsWritten, SubjectsSkipped, SubjectsFailed, RowsWritten, RetriesScheduled,
	}
}
