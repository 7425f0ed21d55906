package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/evextract/internal/awsclient"
	"github.com/dwsmith1983/evextract/internal/bootstrap"
	"github.com/dwsmith1983/evextract/internal/driver"
	"github.com/dwsmith1983/evextract/internal/objstore"
	"github.com/dwsmith1983/evextract/internal/query"
	"github.com/dwsmith1983/evextract/pkg/types"
)

// NewExtractCmd creates the extract command.
func NewExtractCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
		o          overrides
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract left/right sensor files for each subject",
		Long: `Runs one Athena query per subject, splits the result by device id and
writes <subject>_left.csv and <subject>_right.csv to the output directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if err := o.apply(cfg); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			if dryRun {
				return runDryRun(ctx, cmd.OutOrStdout(), cfg)
			}
			return runExtract(ctx, cmd.OutOrStdout(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "Path to evextract.yaml (default ./evextract.yaml)")
	f.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringSliceVar(&o.subjects, "subjects", nil, "Explicit subject ids, overriding the range")
	f.IntVar(&o.rangeStart, "range-start", 0, "First subject number")
	f.IntVar(&o.rangeEnd, "range-end", 0, "Subject number to stop before")
	f.StringVar(&o.onFailure, "on-failure", "", "Failure policy: skip, halt, retry")
	f.IntVar(&o.parallelism, "parallelism", 0, "Subjects processed concurrently")
	f.BoolVar(&o.skipExisting, "skip-existing", false, "Skip subjects whose output files exist")
	f.BoolVar(&dryRun, "dry-run", false, "Print each subject's query without running it")
	return cmd
}

func runExtract(ctx context.Context, out io.Writer, cfg *types.ProjectConfig) error {
	logger, err := bootstrap.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	deps, err := bootstrap.Init(ctx, cfg, logger, bootstrap.Clients{})
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close(context.WithoutCancel(ctx)) }()

	report, err := deps.Driver.Run(ctx)
	printReport(out, report)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("interrupted")
		}
		return err
	}
	if n := report.Count(types.SubjectFailed); n > 0 {
		return fmt.Errorf("%d subject(s) failed", n)
	}
	return nil
}

func runDryRun(ctx context.Context, out io.Writer, cfg *types.ProjectConfig) error {
	store, err := referenceStore(ctx, cfg)
	if err != nil {
		return err
	}
	ref, err := bootstrap.LoadReference(ctx, cfg.Reference, store)
	if err != nil {
		return err
	}

	d := driver.New(driver.Config{Athena: cfg.Athena, Batch: cfg.Batch}, nil, ref, nil)
	bold := color.New(color.Bold)
	for _, subject := range d.Subjects() {
		_, _ = bold.Fprintf(out, "-- %s\n", subject)
		rec, err := ref.Lookup(subject)
		if err != nil {
			_, _ = color.New(color.FgYellow).Fprintf(out, "-- %v\n\n", err)
			continue
		}
		sql, err := query.Build(query.ForSubject(cfg.Athena, rec))
		if err != nil {
			_, _ = color.New(color.FgYellow).Fprintf(out, "-- %v\n\n", err)
			continue
		}
		_, _ = fmt.Fprintf(out, "%s;\n\n", sql)
	}
	return nil
}

// referenceStore returns a store able to read the reference path. Local
// paths never touch AWS.
func referenceStore(ctx context.Context, cfg *types.ProjectConfig) (*objstore.Store, error) {
	if !strings.HasPrefix(cfg.Reference.Path, "s3://") {
		return objstore.New(nil), nil
	}
	awsCfg, err := awsclient.Load(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	return objstore.New(s3.NewFromConfig(awsCfg)), nil
}
