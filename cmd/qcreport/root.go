package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/motcorr/qcreport/internal/cli"
	"github.com/motcorr/qcreport/internal/cli/config"
	"github.com/motcorr/qcreport/pkg/report"
)

var (
	// These are set during build time using -ldflags
	version = "dev"
	commit  = "none"
	date    = "unknown"

	cfgFile     string
	profileName string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qcreport -o <outputDir>",
		Short: "Builds per-subject visual QC reports from a preprocessing output directory.",
		Long: `qcreport scans the reports/ directory of a preprocessing pipeline's output,
groups each subject's reportlets according to a report configuration, attaches
crash records found under log/, and writes one HTML report per subject.

It features:
  - Parallel report generation across subjects.
  - Fingerprint caching so unchanged subjects are skipped.
  - Configurable report layout (YAML, TOML or JSON).
  - Optional PDF export through a headless Chrome.
  - Watch mode that regenerates reports as reportlets change.
  - An interactive Terminal UI (TUI) for monitoring progress.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			opts, logger, err := config.LoadAndValidate(cfgFile, profileName, version, cmd.Flags())
			if err != nil {
				return err
			}
			return cli.Run(ctx, opts, logger)
		},
	}
	cmd.SetVersionTemplate(`{{.Name}} version {{.Version}}` + "\n")
	registerFlags(cmd)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// registerFlags defines the command line surface. Flag names map to config
// keys in internal/cli/config.
func registerFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Configuration file path (default is search ., $HOME/.config/qcreport/)")
	pf.StringVar(&profileName, "profile", "", "Name of configuration profile to use")
	pf.BoolP("verbose", "v", false, "Enable verbose (debug) logging output (disables TUI)")
	pf.StringP("output", "o", "", "Required. Pipeline output directory containing reports/ and log/")

	f := cmd.Flags()
	// Selection & layout
	f.StringSlice("participant-label", nil, "Subject labels to report on, with or without the \"sub-\" prefix (default all)")
	f.String("report-config", "", "Report configuration file (default is the embedded configuration)")
	f.String("template", "", "Path to a custom Go html/template for the report page")

	// Core behavior
	f.Bool("no-tui", false, "Disable interactive Terminal UI even if in a TTY")
	f.Int("concurrency", report.DefaultConcurrency, "Number of subjects rendered in parallel (0 for auto-detect CPU cores)")

	// Caching
	f.Bool("no-cache", false, "Force regeneration by ignoring cache reads (still writes cache)")
	f.Bool("clear-cache", false, "Delete the cache file before starting")
	f.String("cache-format", report.DefaultCacheFormat, `Cache file encoding ("msgpack", "json")`)

	// Crash records
	f.String("crash-decoder", string(report.DefaultCrashDecoder), `Crash file decoder ("auto", "json", "msgpack", "exec")`)
	f.String("crash-decoder-cmd", "", "External command for the exec decoder; crash file on stdin, JSON record on stdout")
	f.String("crash-timeout", report.DefaultCrashTimeoutString, "Timeout per crash file for the exec decoder")

	// Output & formatting
	f.String("output-format", string(report.DefaultOutputFormat), `Final summary format ("text", "json")`)
	f.Bool("pdf", report.DefaultPDFEnabled, "Also export each report to PDF using headless Chrome")
	f.String("chrome-path", "", "Chrome or Chromium binary used for PDF export (default is auto-detect)")
	f.String("pdf-timeout", report.DefaultPDFTimeoutString, "Timeout per PDF conversion")

	// Workflow
	f.Bool("watch", false, "Regenerate reports when reportlets or crash files change")
	f.String("watch-debounce", report.DefaultWatchDebounceString, "Watch debounce duration (e.g., '300ms', '1s')")
}
