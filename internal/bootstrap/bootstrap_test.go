package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsathena "github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/evextract/internal/objstore"
	"github.com/dwsmith1983/evextract/pkg/types"
)

const referenceCSV = `ID,Begin_date_time,End_date_time,Everion+_Left,Everion+_Right
U211,2023-08-01 10:00,2023-08-03 14:00,D1,D2
`

type stubAthena struct {
	mu  sync.Mutex
	ids int
}

func (m *stubAthena) StartQueryExecution(_ context.Context, _ *awsathena.StartQueryExecutionInput, _ ...func(*awsathena.Options)) (*awsathena.StartQueryExecutionOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids++
	return &awsathena.StartQueryExecutionOutput{QueryExecutionId: aws.String("exec-1")}, nil
}

func (m *stubAthena) GetQueryExecution(_ context.Context, _ *awsathena.GetQueryExecutionInput, _ ...func(*awsathena.Options)) (*awsathena.GetQueryExecutionOutput, error) {
	return &awsathena.GetQueryExecutionOutput{QueryExecution: &athenatypes.QueryExecution{
		Status: &athenatypes.QueryExecutionStatus{State: athenatypes.QueryExecutionStateSucceeded},
	}}, nil
}

func (m *stubAthena) StopQueryExecution(_ context.Context, _ *awsathena.StopQueryExecutionInput, _ ...func(*awsathena.Options)) (*awsathena.StopQueryExecutionOutput, error) {
	return &awsathena.StopQueryExecutionOutput{}, nil
}

type stubS3 struct {
	mu      sync.Mutex
	objects map[string]string
	puts    []string
}

func (m *stubS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString(data))}, nil
}

func (m *stubS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func (m *stubS3) DeleteObject(_ context.Context, _ *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return &s3.DeleteObjectOutput{}, nil
}

type stubGlue struct{ err error }

func (g *stubGlue) GetTable(_ context.Context, _ *glue.GetTableInput, _ ...func(*glue.Options)) (*glue.GetTableOutput, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &glue.GetTableOutput{Table: &gluetypes.Table{
		Name: aws.String("everion"),
		StorageDescriptor: &gluetypes.StorageDescriptor{Columns: []gluetypes.Column{
			{Name: aws.String("device_id")}, {Name: aws.String("data")},
		}},
		PartitionKeys: []gluetypes.Column{{Name: aws.String("record_date")}},
	}}, nil
}

func testConfig(t *testing.T) *types.ProjectConfig {
	t.Helper()
	dir := t.TempDir()
	ref := filepath.Join(dir, "reference.csv")
	require.NoError(t, os.WriteFile(ref, []byte(referenceCSV), 0o644))
	return &types.ProjectConfig{
		Athena: types.AthenaConfig{
			Database:     "sensors",
			Table:        "everion",
			OutputBucket: "results",
			OutputFolder: "tmp",
		},
		Reference: types.ReferenceConfig{Path: ref},
		Batch:     types.BatchConfig{Prefix: "U", RangeStart: 211, RangeEnd: 212, OnFailure: types.FailureSkip, Parallelism: 1},
		Output:    types.OutputConfig{Dir: filepath.Join(dir, "out"), Manifest: true},
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "subject", "U211")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"subject":"U211"`)
}

func TestInit_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.S3Bucket = "mirror"
	cfg.Output.S3Prefix = "extracts"
	s3c := &stubS3{objects: map[string]string{
		"results/tmp/exec-1.csv": "device_id,record_date\nD1,2023-08-01\nD2,2023-08-01\nD1,2023-08-03\n",
	}}

	deps, err := Init(context.Background(), cfg, discard(), Clients{Athena: &stubAthena{}, S3: s3c})
	require.NoError(t, err)
	defer func() { _ = deps.Close(context.Background()) }()

	report, err := deps.Driver.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Subjects, 1)
	assert.Equal(t, types.SubjectWritten, report.Subjects[0].Status)
	assert.Equal(t, 2, report.Subjects[0].LeftRows)
	assert.Equal(t, 1, report.Subjects[0].RightRows)

	left, err := os.ReadFile(filepath.Join(cfg.Output.Dir, "U211_left.csv"))
	require.NoError(t, err)
	assert.Equal(t, "device_id,record_date\nD1,2023-08-01\nD1,2023-08-03\n", string(left))
	assert.FileExists(t, filepath.Join(cfg.Output.Dir, "_manifest.json"))
	assert.Contains(t, s3c.puts, "extracts/U211_right.csv")
}

func TestInit_Preflight(t *testing.T) {
	cfg := testConfig(t)
	cfg.Athena.Preflight = true

	deps, err := Init(context.Background(), cfg, discard(), Clients{Athena: &stubAthena{}, S3: &stubS3{}, Glue: &stubGlue{}})
	require.NoError(t, err)
	assert.NotNil(t, deps.Driver)

	_, err = Init(context.Background(), cfg, discard(), Clients{Athena: &stubAthena{}, S3: &stubS3{}, Glue: &stubGlue{err: assert.AnError}})
	assert.ErrorContains(t, err, "preflight")
}

func TestInit_MissingReference(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reference.Path = filepath.Join(t.TempDir(), "missing.csv")

	_, err := Init(context.Background(), cfg, discard(), Clients{Athena: &stubAthena{}, S3: &stubS3{}})
	assert.ErrorContains(t, err, "loading reference")
}

func TestLoadReference_S3(t *testing.T) {
	s3c := &stubS3{objects: map[string]string{"refs/study/reference.csv": referenceCSV}}

	ref, err := LoadReference(context.Background(), types.ReferenceConfig{Path: "s3://refs/study/reference.csv"}, objstore.New(s3c))
	require.NoError(t, err)
	rec, err := ref.Lookup("U211")
	require.NoError(t, err)
	assert.Equal(t, []string{"D1"}, rec.LeftDevices)

	_, err = LoadReference(context.Background(), types.ReferenceConfig{Path: "s3://refs/study/reference.txt"}, objstore.New(s3c))
	assert.Error(t, err)
}
