package main

import (
	"fmt"
	"os"

	"github.com/privacysandbox/pbs-go/cmd/pbs/commands"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   "pbs",
		Short: "Privacy Budget Service",
		Long:  "The request-path engine of the Privacy Budget Service: enforces per-key, per-hour privacy budgets across a fleet of reporting origins.",
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "directory containing config.yaml (default: working directory, ./config, /etc/pbs)")

	rootCmd.AddCommand(commands.NewServeCommand(&cfgPath))
	rootCmd.AddCommand(commands.NewCheckConfigCommand(&cfgPath))

	return rootCmd
}
