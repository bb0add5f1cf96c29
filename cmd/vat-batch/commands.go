package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/vat-batch/internal/launcher"
	"github.com/hochfrequenz/vat-batch/tui"
)

var (
	serveHost  string
	servePort  int
	jsonOutput bool

	watchInterval time.Duration
)

func init() {
	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, optionally running --job first",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// jobs command
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show the latest status of every job",
		Args:  cobra.NoArgs,
		RunE:  runJobs,
	}
	jobsCmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(jobsCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history JOB",
		Short: "List recent executions of a job",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(historyCmd)

	// execution command
	executionCmd := &cobra.Command{
		Use:   "execution ID",
		Short: "Show one execution with its steps",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecution,
	}
	executionCmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(executionCmd)

	// watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Launch the live job dashboard",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	watchCmd.Flags().DurationVar(&watchInterval, "interval", tui.DefaultInterval, "refresh interval")
	rootCmd.AddCommand(watchCmd)
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg)
}

func runRoot(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	code := a.launcher.RunCLI(cmd.Context(), a.cliOptions(), cmd.OutOrStdout())
	if code != launcher.ExitOK {
		return exitCodeError{code: code}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if serveHost != "" {
		a.cfg.Web.Host = serveHost
	}
	if servePort != 0 {
		a.cfg.Web.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server().Run(gctx, a.cfg.Web.Addr(), a.cfg.Web.ShutdownTimeout.Duration)
	})

	exitCode := launcher.ExitOK
	opts := a.cliOptions()
	if _, ok := launcher.Select(opts); ok {
		g.Go(func() error {
			exitCode = a.launcher.RunCLI(gctx, opts, cmd.OutOrStdout())
			if opts.ExitOnCompletion {
				cancel()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if exitCode != launcher.ExitOK {
		return exitCodeError{code: exitCode}
	}
	return nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	overview, err := a.monitor.JobsStatus(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, overview)
	}
	renderOverview(cmd.OutOrStdout(), overview)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	history, err := a.monitor.JobHistory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, history)
	}
	renderHistory(cmd.OutOrStdout(), history)
	return nil
}

func runExecution(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid execution id %q", args[0])
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	detail, err := a.monitor.ExecutionDetail(cmd.Context(), id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, detail)
	}
	renderDetail(cmd.OutOrStdout(), detail)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	p := tea.NewProgram(tui.NewModel(a.monitor, watchInterval), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
