package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/evextract/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "evextract",
		Short: "Extract per-subject Everion+ sensor data from Athena",
		Long: `evextract queries Athena once per study subject, splits each result by
the subject's left and right device ids and writes one CSV file per side.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewExtractCmd(),
		commands.NewQueryCmd(),
		commands.NewSubjectsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
