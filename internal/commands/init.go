package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/evextract/internal/config"
)

const sampleConfig = `aws:
  region: eu-west-1
  # accessKeyId and secretAccessKey may be set here or through AWS_* variables.
athena:
  database: default
  table: everion_raw
  workgroup: primary
  outputBucket: my-athena-results
  outputFolder: evextract
  deleteResult: false
  preflight: false
  poll:
    interval: 10s
    maxInterval: 1m
    multiplier: 1
    maxWait: 30m
reference:
  path: ./reference.xlsx
  prefixLength: 4
batch:
  prefix: U
  rangeStart: 211
  rangeEnd: 233
  onFailure: skip
  retry:
    maxAttempts: 3
    backoffSeconds: 30
    backoffMultiplier: 2
  parallelism: 1
  breakerThreshold: 5
output:
  dir: ./output
  indexColumn: true
  manifest: true
logLevel: info
`

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter evextract.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, dir string, force bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = color.New(color.FgGreen).Fprintf(out, "  ✓ Wrote %s\n", path)
	_, _ = fmt.Fprintln(out)
	_, _ = color.New(color.Bold).Fprintln(out, "Next steps:")
	_, _ = fmt.Fprintln(out, "  edit athena.table, athena.outputBucket and reference.path")
	_, _ = fmt.Fprintln(out, "  evextract extract --dry-run")
	return nil
}
