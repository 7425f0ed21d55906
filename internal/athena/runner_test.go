package athena

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsathena "github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/evextract/pkg/types"
)

type mockAthena struct {
	mu       sync.Mutex
	id       string
	startErr error
	states   []athenatypes.QueryExecutionState
	reason   string
	getErr   error
	polls    int
	stopped  []string
	lastIn   *awsathena.StartQueryExecutionInput
}

func (m *mockAthena) StartQueryExecution(_ context.Context, in *awsathena.StartQueryExecutionInput, _ ...func(*awsathena.Options)) (*awsathena.StartQueryExecutionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastIn = in
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &awsathena.StartQueryExecutionOutput{QueryExecutionId: aws.String(m.id)}, nil
}

func (m *mockAthena) GetQueryExecution(_ context.Context, _ *awsathena.GetQueryExecutionInput, _ ...func(*awsathena.Options)) (*awsathena.GetQueryExecutionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	i := m.polls
	if i >= len(m.states) {
		i = len(m.states) - 1
	}
	m.polls++
	status := &athenatypes.QueryExecutionStatus{State: m.states[i]}
	if m.reason != "" {
		status.StateChangeReason = aws.String(m.reason)
	}
	return &awsathena.GetQueryExecutionOutput{
		QueryExecution: &athenatypes.QueryExecution{Status: status},
	}, nil
}

func (m *mockAthena) StopQueryExecution(_ context.Context, in *awsathena.StopQueryExecutionInput, _ ...func(*awsathena.Options)) (*awsathena.StopQueryExecutionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, aws.ToString(in.QueryExecutionId))
	return &awsathena.StopQueryExecutionOutput{}, nil
}

type mockS3 struct {
	mu      sync.Mutex
	objects map[string]string
	deleted []string
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, _ *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

const resultCSV = "device_id,patient_id,record_date,TimeStamp\nD1,U211,2023-08-01,1\nD2,U211,2023-08-01,2\n"

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestRunner(t *testing.T, ath *mockAthena, s3c *mockS3, rec *sleepRecorder, logs *bytes.Buffer, mutate ...func(*Config)) *Runner {
	t.Helper()
	cfg := Config{
		Database:     "ev",
		OutputBucket: "results",
		OutputFolder: "athena/tmp",
		Poll:         DefaultPollPolicy(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	if logs == nil {
		logs = &bytes.Buffer{}
	}
	return NewRunner(cfg,
		WithAthenaClient(ath),
		WithS3Client(s3c),
		WithSleep(rec.sleep),
		WithLogger(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	)
}

func TestRun_QueuedRunningSucceeded(t *testing.T) {
	ath := &mockAthena{
		id: "exec-1",
		states: []athenatypes.QueryExecutionState{
			athenatypes.QueryExecutionStateQueued,
			athenatypes.QueryExecutionStateRunning,
			athenatypes.QueryExecutionStateSucceeded,
		},
	}
	s3c := &mockS3{objects: map[string]string{"results/athena/tmp/exec-1.csv": resultCSV}}
	rec := &sleepRecorder{}
	r := newTestRunner(t, ath, s3c, rec, nil)

	res := r.Run(context.Background(), "SELECT 1")
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, types.OutcomeSucceeded, res.Outcome)
	assert.Equal(t, "exec-1", res.Execution.ID)
	assert.Equal(t, types.QuerySucceeded, res.Execution.State)
	assert.Equal(t, "athena/tmp/exec-1.csv", res.Execution.ResultKey)
	assert.Equal(t, 3, ath.polls)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, rec.delays)

	require.NotNil(t, res.Table)
	assert.Equal(t, []string{"device_id", "patient_id", "record_date", "TimeStamp"}, res.Table.Header)
	assert.Equal(t, [][]string{{"D1", "U211", "2023-08-01", "1"}, {"D2", "U211", "2023-08-01", "2"}}, res.Table.Rows)

	require.NotNil(t, ath.lastIn)
	assert.Equal(t, "SELECT 1", aws.ToString(ath.lastIn.QueryString))
	assert.Equal(t, "ev", aws.ToString(ath.lastIn.QueryExecutionContext.Database))
	assert.Equal(t, "s3://results/athena/tmp/", aws.ToString(ath.lastIn.ResultConfiguration.OutputLocation))
	assert.Empty(t, s3c.deleted)
}

func TestRun_Failed(t *testing.T) {
	for _, state := range []athenatypes.QueryExecutionState{
		athenatypes.QueryExecutionStateFailed,
		athenatypes.QueryExecutionStateCancelled,
	} {
		t.Run(string(state), func(t *testing.T) {
			ath := &mockAthena{
				id:     "exec-2",
				states: []athenatypes.QueryExecutionState{athenatypes.QueryExecutionStateRunning, state},
				reason: "SYNTAX_ERROR: line 1:8",
			}
			var logs bytes.Buffer
			r := newTestRunner(t, ath, &mockS3{}, &sleepRecorder{}, &logs)

			var res Result
			require.NotPanics(t, func() { res = r.Run(context.Background(), "SELECT nope") })
			assert.False(t, res.OK())
			assert.Nil(t, res.Table)
			assert.Equal(t, types.OutcomeRemoteFailure, res.Outcome)
			assert.False(t, res.Retryable())

			var qe *QueryExecutionError
			require.True(t, errors.As(res.Err, &qe))
			assert.Equal(t, "SELECT nope", qe.Query)
			assert.Equal(t, types.QueryState(state), qe.State)
			assert.Contains(t, qe.Error(), "SYNTAX_ERROR")
			assert.Contains(t, qe.Error(), `"SELECT nope"`)

			assert.Contains(t, logs.String(), "athena query failed")
			assert.Contains(t, logs.String(), "exec-2")
			assert.Empty(t, ath.stopped)
		})
	}
}

func TestRun_StartError(t *testing.T) {
	ath := &mockAthena{startErr: assert.AnError}
	var logs bytes.Buffer
	r := newTestRunner(t, ath, &mockS3{}, &sleepRecorder{}, &logs)

	res := r.Run(context.Background(), "SELECT 1")
	assert.Equal(t, types.OutcomeTransientError, res.Outcome)
	assert.True(t, res.Retryable())
	assert.Contains(t, res.Err.Error(), "StartQueryExecution failed")
	assert.Contains(t, logs.String(), "athena query failed")
}

func TestRun_InvalidRequestIsRemoteFailure(t *testing.T) {
	ath := &mockAthena{startErr: &smithy.GenericAPIError{Code: "InvalidRequestException", Message: "bad sql"}}
	r := newTestRunner(t, ath, &mockS3{}, &sleepRecorder{}, nil)

	res := r.Run(context.Background(), "SELECT")
	assert.Equal(t, types.OutcomeRemoteFailure, res.Outcome)
}

func TestRun_PollErrorStopsQuery(t *testing.T) {
	ath := &mockAthena{id: "exec-3", getErr: assert.AnError}
	r := newTestRunner(t, ath, &mockS3{}, &sleepRecorder{}, nil)

	res := r.Run(context.Background(), "SELECT 1")
	assert.Equal(t, types.OutcomeTransientError, res.Outcome)
	assert.Contains(t, res.Err.Error(), "GetQueryExecution failed")
	assert.Equal(t, []string{"exec-3"}, ath.stopped)
}

func TestRun_MissingResultObject(t *testing.T) {
	ath := &mockAthena{id: "exec-4", states: []athenatypes.QueryExecutionState{athenatypes.QueryExecutionStateSucceeded}}
	r := newTestRunner(t, ath, &mockS3{}, &sleepRecorder{}, nil)

	res := r.Run(context.Background(), "SELECT 1")
	assert.Equal(t, types.OutcomeTransientError, res.Outcome)
	assert.Nil(t, res.Table)
	assert.Contains(t, res.Err.Error(), "fetching result")
}

func TestRun_Deadline(t *testing.T) {
	ath := &mockAthena{id: "exec-5", states: []athenatypes.QueryExecutionState{athenatypes.QueryExecutionStateRunning}}
	rec := &sleepRecorder{}
	r := newTestRunner(t, ath, &mockS3{}, rec, nil, func(c *Config) {
		c.Poll = PollPolicy{Interval: time.Second, Multiplier: 2, MaxInterval: 4 * time.Second, MaxWait: 10 * time.Second}
	})

	res := r.Run(context.Background(), "SELECT 1")
	assert.Equal(t, types.OutcomeTransientError, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrPollTimeout))
	// 1 + 2 + 4 = 7s waited; another 4s would pass the 10s deadline.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.delays)
	assert.Equal(t, []string{"exec-5"}, ath.stopped)
}

func TestRun_ContextCanceled(t *testing.T) {
	ath := &mockAthena{id: "exec-6", states: []athenatypes.QueryExecutionState{athenatypes.QueryExecutionStateRunning}}
	ctx, cancel := context.WithCancel(context.Background())
	r := newTestRunner(t, ath, &mockS3{}, &sleepRecorder{}, nil)
	r.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res := r.Run(ctx, "SELECT 1")
	assert.Equal(t, types.OutcomeCanceled, res.Outcome)
	assert.True(t, errors.Is(res.Err, context.Canceled))
	assert.Equal(t, []string{"exec-6"}, ath.stopped)
}

func TestRun_DeleteResult(t *testing.T) {
	ath := &mockAthena{id: "exec-7", states: []athenatypes.QueryExecutionState{athenatypes.QueryExecutionStateSucceeded}}
	s3c := &mockS3{objects: map[string]string{"results/exec-7.csv": resultCSV}}
	r := newTestRunner(t, ath, s3c, &sleepRecorder{}, nil, func(c *Config) {
		c.OutputFolder = ""
		c.DeleteResult = true
	})

	res := r.Run(context.Background(), "SELECT 1")
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, []string{"exec-7.csv", "exec-7.csv.metadata"}, s3c.deleted)
	assert.Equal(t, "s3://results/", aws.ToString(ath.lastIn.ResultConfiguration.OutputLocation))
}

func TestConfigFromProject(t *testing.T) {
	cfg, err := ConfigFromProject(types.AthenaConfig{
		Database:     "ev",
		OutputBucket: "b",
		OutputFolder: "/tmp/",
		Poll:         types.PollConfig{Interval: "5s"},
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
	assert.Equal(t, "tmp/x.csv", cfg.ResultKey("x"))
	assert.Equal(t, "s3://b/tmp/", cfg.OutputLocation())

	_, err = ConfigFromProject(types.AthenaConfig{})
	assert.Error(t, err)
}
