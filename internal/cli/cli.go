package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/motcorr/qcreport/internal/cli/hooks"
	"github.com/motcorr/qcreport/internal/cli/ui"
	"github.com/motcorr/qcreport/internal/cli/watch"
	"github.com/motcorr/qcreport/pkg/bids"
	"github.com/motcorr/qcreport/pkg/report"
)

// ErrSubjectsFailed is returned when at least one subject report could not be generated.
var ErrSubjectsFailed = errors.New("one or more subject reports failed")

// Run generates the reports described by opts and, in watch mode, keeps
// regenerating them until ctx is cancelled. Progress goes to the TUI when
// it is enabled and stderr is a terminal, otherwise to the logger followed
// by a summary on stdout.
func Run(ctx context.Context, opts report.Options, logger *slog.Logger) error {
	if opts.TuiEnabled && term.IsTerminal(int(os.Stderr.Fd())) {
		return runTUI(ctx, opts, logger, os.Stdout)
	}
	return runPlain(ctx, opts, logger, os.Stdout)
}

// runPlain reports progress through log records and prints a summary per run.
func runPlain(ctx context.Context, opts report.Options, logger *slog.Logger, out io.Writer) error {
	opts.EventHooks = hooks.NewCLIHooks(logger, false, opts.Verbose, nil)

	summary, err := report.RunReports(ctx, opts.OutputPath, opts)
	if printErr := printSummary(out, summary, opts.OutputFormat); printErr != nil {
		logger.Warn("Failed to print summary", slog.String("error", printErr.Error()))
	}
	if !opts.WatchMode || err != nil {
		return runResult(summary, err, logger)
	}

	werr := watchAndRebuild(ctx, opts, func(rctx context.Context, rebuildOpts report.Options) error {
		s, rerr := report.RunReports(rctx, rebuildOpts.OutputPath, rebuildOpts)
		if printErr := printSummary(out, s, opts.OutputFormat); printErr != nil {
			logger.Warn("Failed to print summary", slog.String("error", printErr.Error()))
		}
		return rerr
	})
	return runResult(report.RunSummary{}, werr, logger)
}

// programSender adapts a bubbletea program to hooks.TUIProgram.
type programSender struct{ p *tea.Program }

func (s programSender) Send(msg any) { s.p.Send(msg) }

// runTUI runs the batch in the background while the TUI renders its progress.
// Quitting the TUI cancels the batch and the watcher.
func runTUI(ctx context.Context, opts report.Options, logger *slog.Logger, out io.Writer) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(ui.NewModel(opts.AppVersion), tea.WithContext(runCtx), tea.WithOutput(os.Stderr))
	opts.EventHooks = hooks.NewCLIHooks(logger, true, opts.Verbose, programSender{p: program})
	// Log records would tear the TUI.
	opts.Logger = slog.NewTextHandler(io.Discard, nil)

	type outcome struct {
		summary report.RunSummary
		err     error
	}
	outcomeCh := make(chan outcome, 1)
	go func() {
		summary, err := report.RunReports(runCtx, opts.OutputPath, opts)
		if err == nil && opts.WatchMode {
			err = watchAndRebuild(runCtx, opts, func(rctx context.Context, rebuildOpts report.Options) error {
				_, rerr := report.RunReports(rctx, rebuildOpts.OutputPath, rebuildOpts)
				return rerr
			})
		} else {
			program.Quit()
		}
		outcomeCh <- outcome{summary: summary, err: err}
	}()

	_, uiErr := program.Run()
	cancel()
	result := <-outcomeCh
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal UI failed: %w", uiErr)
	}
	if opts.OutputFormat == report.OutputFormatJSON && !opts.WatchMode {
		if printErr := printSummary(out, result.summary, opts.OutputFormat); printErr != nil {
			logger.Warn("Failed to print summary", slog.String("error", printErr.Error()))
		}
	}
	if errors.Is(result.err, context.Canceled) && ctx.Err() == nil {
		// The user quit the TUI.
		return nil
	}
	return runResult(result.summary, result.err, logger)
}

// watchAndRebuild reruns rebuild with the selection narrowed to the changed subjects.
func watchAndRebuild(ctx context.Context, opts report.Options, rebuild func(context.Context, report.Options) error) error {
	w, err := watch.New(opts.OutputPath, opts.WatchDebounce, opts.Logger)
	if err != nil {
		return err
	}
	logger := slog.New(opts.Logger).With(slog.String("component", "cli"))
	return w.Run(ctx, func(rctx context.Context, changed []string) error {
		subjects, ok := rebuildSelection(opts.Subjects, changed)
		if !ok {
			logger.Debug("Changed subjects are not selected, skipping", slog.Any("subjects", changed))
			return nil
		}
		rebuildOpts := opts
		rebuildOpts.Subjects = subjects
		rebuildOpts.RunID = ""
		return rebuild(rctx, rebuildOpts)
	})
}

// rebuildSelection narrows the configured selection to the changed subjects.
// ok is false when none of the changed subjects is selected. An empty
// changed list keeps the configured selection.
func rebuildSelection(selected, changed []string) (subjects []string, ok bool) {
	if len(changed) == 0 {
		return selected, true
	}
	if len(selected) == 0 {
		return changed, true
	}
	want := make(map[string]struct{}, len(selected))
	for _, s := range selected {
		want[bids.SubjectLabel(s)] = struct{}{}
	}
	for _, s := range changed {
		if _, hit := want[bids.SubjectLabel(s)]; hit {
			subjects = append(subjects, s)
		}
	}
	return subjects, len(subjects) > 0
}

// runResult maps the outcome of a run to the command's error.
func runResult(summary report.RunSummary, err error, logger *slog.Logger) error {
	if errors.Is(err, context.Canceled) {
		logger.Info("Interrupted")
		return nil
	}
	if err != nil {
		logger.Error("Report generation failed", slog.String("error", err.Error()))
		return err
	}
	if summary.Info.ErrorCount > 0 {
		return fmt.Errorf("%w: %d of %d", ErrSubjectsFailed, summary.Info.ErrorCount, summary.Info.SubjectsFound)
	}
	return nil
}

// printSummary writes summary to w as indented JSON or colored text.
func printSummary(w io.Writer, summary report.RunSummary, format report.OutputFormat) error {
	if format == report.OutputFormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	info := summary.Info
	if _, err := bold.Fprintf(w, "Reports for %s (run %s, %.2fs)\n", info.OutputPath, info.RunID, info.DurationSeconds); err != nil {
		return err
	}
	fmt.Fprintf(w, "  Subjects:  %d\n", info.SubjectsFound)
	green.Fprintf(w, "  Generated: %d (cached: %d)\n", info.GeneratedCount, info.CachedCount)
	if info.CrashCount > 0 {
		yellow.Fprintf(w, "  Crashes:   %d\n", info.CrashCount)
	}
	if info.SkippedCount > 0 {
		fmt.Fprintf(w, "  Skipped:   %d\n", info.SkippedCount)
		for _, s := range summary.Skipped {
			fmt.Fprintf(w, "    %s (%s)\n", s.Path, s.Reason)
		}
	}
	if info.WarningCount > 0 {
		yellow.Fprintf(w, "  Warnings:  %d\n", info.WarningCount)
		for _, e := range summary.Warnings {
			yellow.Fprintf(w, "    %s\n", describeError(e))
		}
	}
	if info.ErrorCount > 0 {
		red.Fprintf(w, "  Failed:    %d\n", info.ErrorCount)
		for _, e := range summary.Errors {
			red.Fprintf(w, "    %s\n", describeError(e))
		}
	}
	for _, g := range summary.Generated {
		line := fmt.Sprintf("    %s -> %s", g.Subject, g.OutputPath)
		if g.PDFPath != "" {
			line += ", " + g.PDFPath
		}
		fmt.Fprintf(w, "%s [%s]\n", line, g.CacheStatus)
	}
	return nil
}

func describeError(e report.ErrorInfo) string {
	if e.Subject == "" {
		return fmt.Sprintf("[%s] %s", e.Stage, e.Error)
	}
	return fmt.Sprintf("%s [%s] %s", e.Subject, e.Stage, e.Error)
}
