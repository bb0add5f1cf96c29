package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	jobFlag    string
	autoRun    bool
	rootCmd    = &cobra.Command{
		Use:   "vat-batch",
		Short: "VAT Batch - chunked VAT calculation and export pipelines",
		Long: `VAT Batch reads prices from a CSV file, computes VAT and totals, stores the
results and exports them as timestamped JSON documents. Every run is recorded
in an execution ledger that can be inspected from the command line or over HTTP.

Without a subcommand the selected job runs once and the process exits with 0
for a completed run and 1 for a failed one.`,
		RunE:          runRoot,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (TOML or YAML)")
	rootCmd.PersistentFlags().StringVar(&jobFlag, "job", "", "job to run: vat-calculation or export-json")
	rootCmd.PersistentFlags().BoolVar(&autoRun, "auto-run", false, "run the default job when --job is not given")
}

// exitCodeError carries a process exit code out of a command
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ec exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
