package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/evextract/internal/bootstrap"
)

// NewSubjectsCmd creates the subjects command.
func NewSubjectsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "subjects [subject...]",
		Short: "Show reference dates and devices per subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			store, err := referenceStore(ctx, cfg)
			if err != nil {
				return err
			}
			ref, err := bootstrap.LoadReference(ctx, cfg.Reference, store)
			if err != nil {
				return err
			}

			ids := args
			if len(ids) == 0 {
				ids = ref.IDs()
			}
			out := cmd.OutOrStdout()
			for _, id := range ids {
				rec, err := ref.Lookup(id)
				if err != nil {
					_, _ = color.New(color.FgYellow).Fprintf(out, "%-6s %v\n", id, err)
					continue
				}
				_, _ = fmt.Fprintf(out, "%-6s dates=%s left=%s right=%s\n", rec.ID,
					strings.Join(rec.Dates(), ","),
					strings.Join(rec.LeftDevices, ","),
					strings.Join(rec.RightDevices, ","))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to evextract.yaml (default ./evextract.yaml)")
	return cmd
}
