// Package driver runs the per-subject extraction batch: look up a subject,
// query its devices, split the result by side and write the files.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/evextract/internal/athena"
	"github.com/dwsmith1983/evextract/internal/metrics"
	"github.com/dwsmith1983/evextract/internal/query"
	"github.com/dwsmith1983/evextract/internal/table"
	"github.com/dwsmith1983/evextract/pkg/types"
)

// DeviceColumn is the result column used to route rows to a side.
const DeviceColumn = "device_id"

// Driver defaults.
const (
	DefaultPrefix           = types.DefaultSubjectPrefix
	DefaultRangeStart       = types.DefaultRangeStart
	DefaultRangeEnd         = types.DefaultRangeEnd
	DefaultBreakerThreshold = types.DefaultBreakerThreshold
)

var tracer = otel.Tracer("github.com/dwsmith1983/evextract/internal/driver")

// ErrBatchHalted is returned when a subject failure stops the batch.
var ErrBatchHalted = errors.New("batch halted")

// QueryRunner executes one query to completion.
type QueryRunner interface {
	Run(ctx context.Context, sql string) athena.Result
}

// SubjectSource resolves a subject to its reference data.
type SubjectSource interface {
	Lookup(subject string) (types.SubjectRecord, error)
}

// Sink persists subject files and the batch manifest.
type Sink interface {
	Write(ctx context.Context, subject string, side types.Side, tbl *table.Table) ([]string, error)
	WriteManifest(ctx context.Context, report types.BatchReport) ([]string, error)
	Exists(subject string) bool
}

// Config selects the subjects and the query shape.
type Config struct {
	Athena   types.AthenaConfig
	Batch    types.BatchConfig
	Manifest bool
}

// Driver runs the batch. Each subject is independent; no state is shared
// between subjects apart from the circuit breaker.
type Driver struct {
	cfg     Config
	retry   types.RetryPolicy
	runner  QueryRunner
	source  SubjectSource
	sink    Sink
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	breaker *gobreaker.CircuitBreaker
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithSleep replaces the wait between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Driver) { d.sleep = fn }
}

// New creates a Driver.
func New(cfg Config, runner QueryRunner, source SubjectSource, sink Sink, opts ...Option) *Driver {
	if cfg.Batch.OnFailure == "" {
		cfg.Batch.OnFailure = types.FailureSkip
	}
	if cfg.Batch.Parallelism <= 0 {
		cfg.Batch.Parallelism = 1
	}
	if len(cfg.Batch.Subjects) == 0 && cfg.Batch.RangeStart == 0 && cfg.Batch.RangeEnd == 0 {
		cfg.Batch.RangeStart, cfg.Batch.RangeEnd = DefaultRangeStart, DefaultRangeEnd
	}
	d := &Driver{
		cfg:    cfg,
		retry:  resolveRetryPolicy(cfg.Batch.Retry),
		runner: runner,
		source: source,
		sink:   sink,
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	for _, o := range opts {
		o(d)
	}
	if threshold := cfg.Batch.Breaker(); threshold > 0 {
		d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "athena",
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(threshold)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				d.logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return d
}

// Subjects returns the subject identifiers the batch will process.
func (d *Driver) Subjects() []string {
	if len(d.cfg.Batch.Subjects) > 0 {
		return types.Unique(d.cfg.Batch.Subjects)
	}
	prefix := d.cfg.Batch.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	var out []string
	for i := d.cfg.Batch.RangeStart; i < d.cfg.Batch.RangeEnd; i++ {
		out = append(out, prefix+strconv.Itoa(i))
	}
	return out
}

// Run processes every subject. The report lists subjects in batch order and
// is returned even when the batch halts or ctx ends.
func (d *Driver) Run(ctx context.Context) (types.BatchReport, error) {
	subjects := d.Subjects()
	report := types.BatchReport{
		RunID:     ulid.Make().String(),
		StartedAt: time.Now(),
		Subjects:  make([]types.SubjectReport, len(subjects)),
	}
	logger := d.logger.With("runID", report.RunID)
	logger.Info("batch started", "subjects", len(subjects), "parallelism", d.cfg.Batch.Parallelism, "onFailure", d.cfg.Batch.OnFailure)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Batch.Parallelism)
	var mu sync.Mutex
	for i, subject := range subjects {
		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				report.Subjects[i] = types.SubjectReport{Subject: subject, Status: types.SubjectSkipped, Error: "not started"}
				mu.Unlock()
				return nil
			}
			rep, err := d.processSubject(gctx, logger, subject)
			mu.Lock()
			report.Subjects[i] = rep
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	report.FinishedAt = time.Now()
	report.Halted = errors.Is(err, ErrBatchHalted)

	if d.cfg.Manifest {
		if _, merr := d.sink.WriteManifest(context.WithoutCancel(ctx), report); merr != nil {
			logger.Error("failed to write manifest", "error", merr)
		}
	}
	logger.Info("batch finished",
		"written", report.Count(types.SubjectWritten),
		"skipped", report.Count(types.SubjectSkipped),
		"failed", report.Count(types.SubjectFailed),
		"halted", report.Halted,
	)
	return report, err
}

// processSubject handles one subject and returns a non-nil error only when
// the batch must stop.
func (d *Driver) processSubject(ctx context.Context, logger *slog.Logger, subject string) (types.SubjectReport, error) {
	ctx, span := tracer.Start(ctx, "driver.Subject",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("subject", subject)),
	)
	defer span.End()

	start := time.Now()
	logger = logger.With("subject", subject)
	logger.Info("processing subject")

	rep, cause := d.extract(ctx, logger, subject)
	rep.Duration = time.Since(start)
	span.SetAttributes(
		attribute.String("status", string(rep.Status)),
		attribute.Int("leftRows", rep.LeftRows),
		attribute.Int("rightRows", rep.RightRows),
	)

	switch rep.Status {
	case types.SubjectWritten:
		metrics.SubjectsWritten.Inc(ctx)
		logger.Info("subject written", "leftRows", rep.LeftRows, "rightRows", rep.RightRows, "duration", rep.Duration)
		return rep, nil
	case types.SubjectSkipped:
		metrics.SubjectsSkipped.Inc(ctx)
		return rep, nil
	}

	metrics.SubjectsFailed.Inc(ctx)
	logger.Error("subject failed", "outcome", rep.Outcome, "attempts", rep.Attempts, "error", rep.Error)

	switch {
	case rep.Outcome == types.OutcomeCanceled:
		return rep, ctx.Err()
	case errors.Is(cause, gobreaker.ErrOpenState), errors.Is(cause, gobreaker.ErrTooManyRequests):
		return rep, fmt.Errorf("%w: subject %s: too many consecutive transient failures", ErrBatchHalted, subject)
	case d.cfg.Batch.OnFailure == types.FailureHalt:
		return rep, fmt.Errorf("%w: subject %s: %s", ErrBatchHalted, subject, rep.Error)
	default:
		return rep, nil
	}
}

// extract returns the subject report and, for failed subjects, the cause.
func (d *Driver) extract(ctx context.Context, logger *slog.Logger, subject string) (types.SubjectReport, error) {
	rep := types.SubjectReport{Subject: subject}
	failed := func(err error) (types.SubjectReport, error) {
		rep.Status = types.SubjectFailed
		rep.Error = err.Error()
		return rep, err
	}

	if d.cfg.Batch.SkipExisting && d.sink.Exists(subject) {
		logger.Info("subject files exist, skipping")
		rep.Status = types.SubjectSkipped
		return rep, nil
	}

	rec, err := d.source.Lookup(subject)
	if err != nil {
		return failed(fmt.Errorf("lookup: %w", err))
	}

	sql, err := query.Build(query.ForSubject(d.cfg.Athena, rec))
	if err != nil {
		return failed(fmt.Errorf("building query: %w", err))
	}
	logger.Debug("query built", "devices", rec.Devices(), "dates", rec.Dates())

	res, attempts, err := d.runWithRetry(ctx, logger, sql)
	rep.Attempts = attempts
	rep.Outcome = res.Outcome
	rep.ExecutionID = res.Execution.ID
	if err != nil {
		return failed(err)
	}

	left, right, err := Partition(res.Table, rec)
	if err != nil {
		return failed(fmt.Errorf("partitioning: %w", err))
	}

	for _, part := range []struct {
		side types.Side
		tbl  *table.Table
	}{
		{types.SideLeft, left},
		{types.SideRight, right},
	} {
		locs, err := d.sink.Write(ctx, subject, part.side, part.tbl)
		rep.Files = append(rep.Files, locs...)
		if err != nil {
			return failed(fmt.Errorf("writing %s: %w", part.side, err))
		}
		metrics.RowsWritten.Add(ctx, int64(part.tbl.Len()))
	}
	rep.LeftRows = left.Len()
	rep.RightRows = right.Len()
	rep.Status = types.SubjectWritten
	return rep, nil
}

// runWithRetry runs sql through the breaker. Transient failures are retried
// only under the retry policy; remote failures never are.
func (d *Driver) runWithRetry(ctx context.Context, logger *slog.Logger, sql string) (athena.Result, int, error) {
	maxAttempts := 1
	if d.cfg.Batch.OnFailure == types.FailureRetry {
		maxAttempts = d.retry.MaxAttempts
	}

	var res athena.Result
	for attempt := 1; ; attempt++ {
		var err error
		res, err = d.runOnce(ctx, sql)
		if err != nil {
			return res, attempt, err
		}
		if res.OK() {
			return res, attempt, nil
		}
		if !res.Retryable() || attempt >= maxAttempts {
			return res, attempt, res.Err
		}

		backoff := CalculateBackoff(d.retry, attempt)
		metrics.RetriesScheduled.Inc(ctx)
		logger.Warn("retrying subject query", "attempt", attempt, "backoff", backoff, "error", res.Err)
		if err := d.sleep(ctx, backoff); err != nil {
			res.Outcome = types.OutcomeCanceled
			return res, attempt, err
		}
	}
}

// runOnce returns a non-nil error only when the breaker refused the call.
func (d *Driver) runOnce(ctx context.Context, sql string) (athena.Result, error) {
	if d.breaker == nil {
		return d.runner.Run(ctx, sql), nil
	}
	var res athena.Result
	_, err := d.breaker.Execute(func() (interface{}, error) {
		res = d.runner.Run(ctx, sql)
		if res.Retryable() {
			return nil, res.Err
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return athena.Result{Outcome: types.OutcomeTransientError, Err: err}, err
	}
	return res, nil
}

// Partition splits tbl into the rows of the subject's left and right devices,
// matching device_id exactly and keeping source order.
func Partition(tbl *table.Table, rec types.SubjectRecord) (left, right *table.Table, err error) {
	if tbl == nil {
		return nil, nil, fmt.Errorf("no result table")
	}
	left, err = tbl.Filter(DeviceColumn, rec.LeftDevices)
	if err != nil {
		return nil, nil, err
	}
	right, err = tbl.Filter(DeviceColumn, rec.RightDevices)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
