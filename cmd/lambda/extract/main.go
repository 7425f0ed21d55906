// extract Lambda runs one subject batch per invocation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	"github.com/dwsmith1983/evextract/internal/bootstrap"
	"github.com/dwsmith1983/evextract/internal/config"
	"github.com/dwsmith1983/evextract/internal/driver"
	"github.com/dwsmith1983/evextract/pkg/types"
)

// ExtractRequest narrows or overrides the configured batch for one invocation.
type ExtractRequest struct {
	Subjects   []string            `json:"subjects,omitempty"`
	RangeStart int                 `json:"rangeStart,omitempty"`
	RangeEnd   int                 `json:"rangeEnd,omitempty"`
	OnFailure  types.FailurePolicy `json:"onFailure,omitempty"`
}

// ExtractResponse summarizes the batch.
type ExtractResponse struct {
	RunID    string                `json:"runId"`
	Written  int                   `json:"written"`
	Skipped  int                   `json:"skipped"`
	Failed   int                   `json:"failed"`
	Halted   bool                  `json:"halted"`
	Subjects []types.SubjectReport `json:"subjects"`
}

var (
	deps     *bootstrap.Deps
	depsOnce sync.Once
	depsErr  error
)

func getDeps() (*bootstrap.Deps, error) {
	depsOnce.Do(func() {
		var cfg *types.ProjectConfig
		cfg, depsErr = config.LoadFile(envOrDefault("EVEXTRACT_CONFIG", config.FileName))
		if depsErr != nil {
			return
		}
		var logger *slog.Logger
		logger, depsErr = bootstrap.NewLogger(os.Stderr, cfg.LogLevel)
		if depsErr != nil {
			return
		}
		deps, depsErr = bootstrap.Init(context.Background(), cfg, logger, bootstrap.Clients{})
	})
	return deps, depsErr
}

// extractor holds what one invocation needs. The driver is rebuilt per
// request so overrides never leak between invocations.
type extractor struct {
	cfg    driver.Config
	runner driver.QueryRunner
	source driver.SubjectSource
	sink   driver.Sink
	logger *slog.Logger
}

func handleExtract(ctx context.Context, x extractor, req ExtractRequest) (ExtractResponse, error) {
	cfg := x.cfg
	if len(req.Subjects) > 0 {
		cfg.Batch.Subjects = req.Subjects
	}
	if req.RangeStart > 0 || req.RangeEnd > 0 {
		if len(req.Subjects) > 0 {
			return ExtractResponse{}, fmt.Errorf("subjects and rangeStart/rangeEnd are mutually exclusive")
		}
		if req.RangeEnd <= req.RangeStart {
			return ExtractResponse{}, fmt.Errorf("rangeEnd (%d) must be greater than rangeStart (%d)", req.RangeEnd, req.RangeStart)
		}
		cfg.Batch.Subjects = nil
		cfg.Batch.RangeStart = req.RangeStart
		cfg.Batch.RangeEnd = req.RangeEnd
	}
	if req.OnFailure != "" {
		if !req.OnFailure.Valid() {
			return ExtractResponse{}, fmt.Errorf("invalid onFailure %q", req.OnFailure)
		}
		cfg.Batch.OnFailure = req.OnFailure
	}

	report, err := driver.New(cfg, x.runner, x.source, x.sink, driver.WithLogger(x.logger)).Run(ctx)
	resp := ExtractResponse{
		RunID:    report.RunID,
		Written:  report.Count(types.SubjectWritten),
		Skipped:  report.Count(types.SubjectSkipped),
		Failed:   report.Count(types.SubjectFailed),
		Halted:   report.Halted,
		Subjects: report.Subjects,
	}
	if err != nil {
		x.logger.Error("batch stopped", "runID", report.RunID, "error", err)
		return resp, err
	}
	return resp, nil
}

func handler(ctx context.Context, req ExtractRequest) (ExtractResponse, error) {
	d, err := getDeps()
	if err != nil {
		return ExtractResponse{}, err
	}
	x := extractor{
		cfg: driver.Config{
			Athena:   d.Config.Athena,
			Batch:    d.Config.Batch,
			Manifest: d.Config.Output.Manifest,
		},
		runner: d.Runner,
		source: d.Reference,
		sink:   d.Writer,
		logger: d.Logger,
	}
	return handleExtract(ctx, x, req)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
