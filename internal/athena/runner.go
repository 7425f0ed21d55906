// Package athena runs queries on Amazon Athena and loads their CSV results from S3.
package athena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsathena "github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dwsmith1983/evextract/internal/awsclient"
	"github.com/dwsmith1983/evextract/internal/metrics"
	"github.com/dwsmith1983/evextract/internal/objstore"
	"github.com/dwsmith1983/evextract/internal/table"
	"github.com/dwsmith1983/evextract/pkg/types"
)

const stopTimeout = 10 * time.Second

var tracer = otel.Tracer("github.com/dwsmith1983/evextract/internal/athena")

// AthenaAPI is the subset of the Athena client used by Runner.
type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, params *awsathena.StartQueryExecutionInput, optFns ...func(*awsathena.Options)) (*awsathena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *awsathena.GetQueryExecutionInput, optFns ...func(*awsathena.Options)) (*awsathena.GetQueryExecutionOutput, error)
	StopQueryExecution(ctx context.Context, params *awsathena.StopQueryExecutionInput, optFns ...func(*awsathena.Options)) (*awsathena.StopQueryExecutionOutput, error)
}

// Config identifies the database and the S3 location results are written to.
type Config struct {
	Database     string
	Workgroup    string
	OutputBucket string
	OutputFolder string
	DeleteResult bool
	Poll         PollPolicy
}

// ConfigFromProject builds a runner Config from the athena section.
func ConfigFromProject(cfg types.AthenaConfig) (Config, error) {
	poll, err := PollPolicyFromConfig(cfg.Poll)
	if err != nil {
		return Config{}, err
	}
	if cfg.OutputBucket == "" {
		return Config{}, fmt.Errorf("athena.outputBucket is required")
	}
	return Config{
		Database:     cfg.Database,
		Workgroup:    cfg.Workgroup,
		OutputBucket: cfg.OutputBucket,
		OutputFolder: cfg.OutputFolder,
		DeleteResult: cfg.DeleteResult,
		Poll:         poll,
	}, nil
}

// OutputLocation is the s3:// folder handed to Athena.
func (c Config) OutputLocation() string {
	return objstore.URI(c.OutputBucket, objstore.Join(c.OutputFolder, ""))
}

// ResultKey is the object key Athena writes for an execution.
func (c Config) ResultKey(executionID string) string {
	return objstore.Join(c.OutputFolder, executionID+".csv")
}

// Runner submits queries, waits for them, and fetches their results.
// It is safe for concurrent use; each Run owns its execution.
type Runner struct {
	cfg    Config
	aws    types.AWSConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	athena AthenaAPI
	s3     objstore.S3API
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithAthenaClient sets a custom Athena client (useful for testing).
func WithAthenaClient(c AthenaAPI) RunnerOption {
	return func(r *Runner) { r.athena = c }
}

// WithS3Client sets a custom S3 client.
func WithS3Client(c objstore.S3API) RunnerOption {
	return func(r *Runner) { r.s3 = c }
}

// WithAWSConfig sets the credentials and region used when clients are created lazily.
func WithAWSConfig(c types.AWSConfig) RunnerOption {
	return func(r *Runner) { r.aws = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithSleep replaces the poll wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) { r.sleep = fn }
}

// NewRunner creates a Runner with the given options.
func NewRunner(cfg Config, opts ...RunnerOption) *Runner {
	if cfg.Poll.Interval <= 0 {
		cfg.Poll = DefaultPollPolicy()
	}
	r := &Runner{
		cfg:    cfg,
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Config returns the runner configuration.
func (r *Runner) Config() Config { return r.cfg }

// Run submits sql and blocks until the query is terminal, the poll deadline
// passes, or ctx ends. Failures never escape as errors: they are logged here
// and reported through Result.
func (r *Runner) Run(ctx context.Context, sql string) Result {
	ctx, span := tracer.Start(ctx, "athena.Run")
	defer span.End()

	res := r.run(ctx, sql)

	span.SetAttributes(
		attribute.String("athena.execution_id", res.Execution.ID),
		attribute.String("athena.outcome", string(res.Outcome)),
	)
	if res.OK() {
		metrics.QueriesSucceeded.Inc(ctx)
		span.SetStatus(codes.Ok, "")
		return res
	}

	metrics.QueriesFailed.Inc(ctx)
	span.RecordError(res.Err)
	span.SetStatus(codes.Error, string(res.Outcome))
	r.logger.Error("athena query failed",
		"executionID", res.Execution.ID,
		"state", res.Execution.State,
		"outcome", res.Outcome,
		"error", res.Err,
	)
	return res
}

func (r *Runner) run(ctx context.Context, sql string) Result {
	exec := types.QueryExecution{Query: sql, SubmittedAt: time.Now()}
	fail := func(o types.Outcome, err error) Result {
		exec.CompletedAt = time.Now()
		return Result{Outcome: o, Execution: exec, Err: err}
	}

	client, err := r.getAthenaClient(ctx)
	if err != nil {
		return fail(types.OutcomeTransientError, err)
	}

	id, err := r.submit(ctx, client, sql)
	if err != nil {
		return fail(classify(ctx, err), err)
	}
	exec.ID = id
	r.logger.Info("athena query submitted", "executionID", id, "database", r.cfg.Database)

	state, reason, err := r.wait(ctx, client, id)
	exec.State = state
	exec.Reason = reason
	if err != nil {
		// Give up on the remote run too.
		r.stop(ctx, client, id)
		return fail(classify(ctx, err), err)
	}
	if state != types.QuerySucceeded {
		return fail(types.OutcomeRemoteFailure, &QueryExecutionError{
			ExecutionID: id,
			State:       state,
			Reason:      reason,
			Query:       sql,
		})
	}

	exec.ResultKey = r.cfg.ResultKey(id)
	r.logger.Info("athena query finished",
		"executionID", id,
		"output", objstore.URI(r.cfg.OutputBucket, exec.ResultKey),
	)

	tbl, err := r.fetch(ctx, exec.ResultKey)
	if err != nil {
		return fail(classify(ctx, err), err)
	}
	exec.CompletedAt = time.Now()
	return Result{Outcome: types.OutcomeSucceeded, Execution: exec, Table: tbl}
}

func (r *Runner) submit(ctx context.Context, client AthenaAPI, sql string) (string, error) {
	input := &awsathena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(r.cfg.OutputLocation()),
		},
	}
	if r.cfg.Database != "" {
		input.QueryExecutionContext = &athenatypes.QueryExecutionContext{Database: aws.String(r.cfg.Database)}
	}
	if r.cfg.Workgroup != "" {
		input.WorkGroup = aws.String(r.cfg.Workgroup)
	}

	out, err := client.StartQueryExecution(ctx, input)
	if err != nil {
		return "", fmt.Errorf("athena: StartQueryExecution failed: %w", err)
	}
	metrics.QueriesSubmitted.Inc(ctx)
	if out.QueryExecutionId == nil || *out.QueryExecutionId == "" {
		return "", fmt.Errorf("athena: StartQueryExecution returned no execution id")
	}
	return *out.QueryExecutionId, nil
}

// wait polls until the execution is terminal. It does not treat FAILED or
// CANCELLED as errors; the caller inspects the returned state.
func (r *Runner) wait(ctx context.Context, client AthenaAPI, id string) (types.QueryState, string, error) {
	var (
		waited time.Duration
		state  types.QueryState
	)
	for attempt := 1; ; attempt++ {
		out, err := client.GetQueryExecution(ctx, &awsathena.GetQueryExecutionInput{QueryExecutionId: aws.String(id)})
		metrics.QueryPolls.Inc(ctx)
		if err != nil {
			return state, "", fmt.Errorf("athena: GetQueryExecution failed: %w", err)
		}
		if out.QueryExecution == nil || out.QueryExecution.Status == nil {
			return state, "", fmt.Errorf("athena: GetQueryExecution returned no status")
		}
		status := out.QueryExecution.Status
		state = types.QueryState(status.State)
		r.logger.Debug("athena query status", "executionID", id, "state", state, "attempt", attempt)
		if state.IsTerminal() {
			return state, aws.ToString(status.StateChangeReason), nil
		}

		delay := r.cfg.Poll.Delay(attempt)
		if r.cfg.Poll.MaxWait > 0 && delay > r.cfg.Poll.MaxWait-waited {
			return state, "", fmt.Errorf("athena: execution %s still %s after %s: %w", id, state, waited, ErrPollTimeout)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return state, "", err
		}
		waited += delay
	}
}

// stop cancels a running execution. Best-effort: errors are logged.
func (r *Runner) stop(ctx context.Context, client AthenaAPI, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if _, err := client.StopQueryExecution(ctx, &awsathena.StopQueryExecutionInput{QueryExecutionId: aws.String(id)}); err != nil {
		r.logger.Warn("failed to stop athena query", "executionID", id, "error", err)
		return
	}
	r.logger.Info("athena query stopped", "executionID", id)
}

func (r *Runner) fetch(ctx context.Context, key string) (*table.Table, error) {
	s3c, err := r.getS3Client(ctx)
	if err != nil {
		return nil, err
	}
	store := objstore.New(s3c)

	body, err := store.Get(ctx, r.cfg.OutputBucket, key)
	if err != nil {
		return nil, fmt.Errorf("athena: fetching result: %w", err)
	}
	defer body.Close()

	tbl, err := table.ParseCSV(body)
	if err != nil {
		return nil, fmt.Errorf("athena: parsing result %s: %w", key, err)
	}

	if r.cfg.DeleteResult {
		for _, k := range []string{key, key + ".metadata"} {
			if err := store.Delete(ctx, r.cfg.OutputBucket, k); err != nil {
				r.logger.Warn("failed to delete athena result", "key", k, "error", err)
			}
		}
	}
	return tbl, nil
}

// classify maps an error to an outcome. Requests Athena rejects outright are
// remote failures; everything else may succeed on a later attempt.
func classify(ctx context.Context, err error) types.Outcome {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return types.OutcomeCanceled
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRequestException" {
		return types.OutcomeRemoteFailure
	}
	return types.OutcomeTransientError
}

func (r *Runner) getAthenaClient(ctx context.Context) (AthenaAPI, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.athena != nil {
		return r.athena, nil
	}
	cfg, err := awsclient.Load(ctx, r.aws)
	if err != nil {
		return nil, err
	}
	r.athena = awsathena.NewFromConfig(cfg)
	return r.athena, nil
}

func (r *Runner) getS3Client(ctx context.Context) (objstore.S3API, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s3 != nil {
		return r.s3, nil
	}
	cfg, err := awsclient.Load(ctx, r.aws)
	if err != nil {
		return nil, err
	}
	r.s3 = s3.NewFromConfig(cfg)
	return r.s3, nil
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
