package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/evextract/internal/athena"
	"github.com/dwsmith1983/evextract/internal/bootstrap"
	"github.com/dwsmith1983/evextract/pkg/types"
)

// NewQueryCmd creates the query command.
func NewQueryCmd() *cobra.Command {
	var (
		configPath string
		sqlFile    string
		outPath    string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "Run an ad-hoc Athena query and print the CSV result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readSQL(args, sqlFile)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			ctx, stop := signalContext()
			defer stop()

			out := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("creating %s: %w", outPath, err)
				}
				defer f.Close()
				out = f
			}
			return runQuery(ctx, out, cfg, sql)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "Path to evextract.yaml (default ./evextract.yaml)")
	f.StringVarP(&sqlFile, "file", "f", "", "Read the query from a file")
	f.StringVarP(&outPath, "out", "o", "", "Write the CSV result to a file instead of stdout")
	f.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	return cmd
}

func readSQL(args []string, file string) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", fmt.Errorf("pass the query as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", file, err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("a query is required")
	}
}

func runQuery(ctx context.Context, out io.Writer, cfg *types.ProjectConfig, sql string) error {
	logger, err := bootstrap.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	runnerCfg, err := athena.ConfigFromProject(cfg.Athena)
	if err != nil {
		return err
	}
	runner := athena.NewRunner(runnerCfg, athena.WithAWSConfig(cfg.AWS), athena.WithLogger(logger))

	res := runner.Run(ctx, sql)
	if !res.OK() {
		_, _ = color.New(color.FgRed).Fprintf(os.Stderr, "query %s: %v\n", res.Outcome, res.Err)
		return res.Err
	}
	return res.Table.WriteCSV(out, false)
}
