package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	rootCmd = newRootCmd()
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decom [instance-list-file]",
		Short: "Stop and delete cloud hosting instances",
		Long: `decom - bulk instance decommissioner

Reads instance IDs from the given file (one per line), or targets every
instance on the account when no file is given. Each running instance is
stopped, polled until it has left the running and pending states, then
deleted. Settings are read from config.toml or the file named by
DECOM_CONFIG.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDecom,
	}
	cmd.SetVersionTemplate(`decom {{.Version}} - bulk instance decommissioner
`)
	return cmd
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
