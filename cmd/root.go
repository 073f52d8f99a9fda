package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "secpipe",
	Short: "AI-driven security scan orchestration and triage pipeline",
	Long: `secpipe orchestrates security scans across static analysis, secret
detection, dependency scanning and DAST, then triages every finding
with an AI workflow that verifies exploits, generates fixes and opens
pull requests automatically.

Get started:
  secpipe worker     Run the queue worker daemon
  secpipe enqueue    Queue a scan job for a repository
  secpipe scan       Run a scan in-process, without the broker
  secpipe status     Check scan progress and results
  secpipe project    Inspect or purge project history`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.secpipe/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(
		workerCmd,
		enqueueCmd,
		scanCmd,
		statusCmd,
		projectCmd,
		feedbackCmd,
	)
}

func initLogging() {
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("Verbose logging enabled")
	}
}
