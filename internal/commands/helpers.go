// Package commands implements the CLI subcommands for the evextract binary.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/dwsmith1983/evextract/internal/bootstrap"
	"github.com/dwsmith1983/evextract/internal/config"
	"github.com/dwsmith1983/evextract/pkg/types"
)

// overrides are flag values layered on top of evextract.yaml.
type overrides struct {
	logLevel     string
	subjects     []string
	rangeStart   int
	rangeEnd     int
	onFailure    string
	parallelism  int
	skipExisting bool
}

// loadConfig reads the config at path, or evextract.yaml in the working
// directory when path is empty.
func loadConfig(path string) (*types.ProjectConfig, error) {
	var (
		cfg *types.ProjectConfig
		err error
	)
	if path == "" {
		cfg, err = config.Load(".")
	} else {
		cfg, err = config.LoadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// apply copies set flags into cfg and re-validates it. Zero values mean
// the flag was not given.
func (o overrides) apply(cfg *types.ProjectConfig) error {
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if len(o.subjects) > 0 {
		cfg.Batch.Subjects = o.subjects
	}
	if o.rangeStart > 0 {
		cfg.Batch.RangeStart = o.rangeStart
	}
	if o.rangeEnd > 0 {
		cfg.Batch.RangeEnd = o.rangeEnd
	}
	if o.onFailure != "" {
		cfg.Batch.OnFailure = types.FailurePolicy(o.onFailure)
	}
	if o.parallelism > 0 {
		cfg.Batch.Parallelism = o.parallelism
	}
	if o.skipExisting {
		cfg.Batch.SkipExisting = true
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if _, err := bootstrap.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printReport(w io.Writer, report types.BatchReport) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	_, _ = bold.Fprintf(w, "Run %s\n", report.RunID)
	for _, s := range report.Subjects {
		switch s.Status {
		case types.SubjectWritten:
			_, _ = green.Fprintf(w, "  ✓ %-6s left=%d right=%d (%s)\n", s.Subject, s.LeftRows, s.RightRows, s.Duration.Round(time.Millisecond))
		case types.SubjectSkipped:
			_, _ = yellow.Fprintf(w, "  → %-6s skipped: %s\n", s.Subject, s.Error)
		default:
			_, _ = red.Fprintf(w, "  ✗ %-6s %s: %s\n", s.Subject, s.Outcome, s.Error)
		}
	}
	_, _ = fmt.Fprintf(w, "\nwritten %d, skipped %d, failed %d\n",
		report.Count(types.SubjectWritten),
		report.Count(types.SubjectSkipped),
		report.Count(types.SubjectFailed))
	if report.Halted {
		_, _ = red.Fprintln(w, "batch halted")
	}
}
