// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "A resilient document acquisition engine for government sites.",
		Long: `harvester walks paginated listing pages, follows detail pages, and
downloads the documents they reference. Fetching escalates through a series
of strategies (native browser download, in-page scripted fetch, network
interception, plain HTTP) until one yields a valid artifact. Every outcome
is recorded in a durable ledger so interrupted runs resume without
re-downloading.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is harvester.yaml in the working directory)")

	cmd.AddCommand(newHarvestCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
