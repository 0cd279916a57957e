package hooks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/motcorr/qcreport/pkg/report"
)

// --- TUI Message Structs ---

// SubjectDiscoveredMsg signals that a subject directory was found.
type SubjectDiscoveredMsg struct{ Subject string }

// SubjectStatusUpdateMsg signals a change in a subject's processing status.
type SubjectStatusUpdateMsg struct {
	Subject  string
	Status   report.Status
	Message  string
	Duration time.Duration
}

// RunCompleteMsg signals the completion of a batch run.
type RunCompleteMsg struct{ Summary report.RunSummary }

// --- Hook Implementation ---

// CLIHooks implements report.Hooks, bridging batch events to the TUI or the logger.
type CLIHooks struct {
	logger         *slog.Logger
	tuiEnabled     bool
	verboseEnabled bool
	tuiProgram     TUIProgram

	mu        sync.Mutex
	completed int
	failed    int
}

// TUIProgram defines the interface needed to interact with the Bubble Tea program.
type TUIProgram interface {
	Send(msg any)
}

// NoOpTUIProgram provides a default null implementation.
type NoOpTUIProgram struct{}

// Send implements TUIProgram.
func (n *NoOpTUIProgram) Send(msg any) {}

// NewCLIHooks creates a new CLIHooks instance. A nil tuiProg is replaced by a NoOp.
func NewCLIHooks(logger *slog.Logger, tuiEnabled, verboseEnabled bool, tuiProg TUIProgram) *CLIHooks {
	if tuiProg == nil {
		tuiProg = &NoOpTUIProgram{}
	}
	return &CLIHooks{
		logger:         logger.With(slog.String("component", "hooks")),
		tuiEnabled:     tuiEnabled,
		verboseEnabled: verboseEnabled,
		tuiProgram:     tuiProg,
	}
}

// OnSubjectDiscovered implements report.Hooks.
func (h *CLIHooks) OnSubjectDiscovered(subject string) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(SubjectDiscoveredMsg{Subject: subject})
	} else if h.verboseEnabled {
		h.logger.Debug("Subject discovered", slog.String("subject", subject))
	}
	return nil
}

// OnSubjectStatusUpdate implements report.Hooks. It is safe for concurrent use.
func (h *CLIHooks) OnSubjectStatusUpdate(subject string, status report.Status, message string, duration time.Duration) error {
	if isFinal(status) {
		h.mu.Lock()
		h.completed++
		if status == report.StatusFailed {
			h.failed++
		}
		h.mu.Unlock()
	}

	if h.tuiEnabled {
		h.tuiProgram.Send(SubjectStatusUpdateMsg{
			Subject:  subject,
			Status:   status,
			Message:  message,
			Duration: duration,
		})
		return nil
	}

	attrs := []any{
		slog.String("subject", subject),
		slog.String("status", string(status)),
	}
	if duration > 0 {
		attrs = append(attrs, slog.Duration("duration", duration))
	}
	if message != "" {
		key := "message"
		if status == report.StatusFailed {
			key = "error"
		}
		attrs = append(attrs, slog.String(key, message))
	}

	switch status {
	case report.StatusFailed:
		h.logger.Error("Subject report failed", attrs...)
	case report.StatusSuccess, report.StatusCached, report.StatusSkipped:
		if h.verboseEnabled {
			h.logger.Info("Subject report finished", attrs...)
		}
	default:
		if h.verboseEnabled {
			h.logger.Log(context.Background(), slog.LevelDebug, "Subject status updated", attrs...)
		}
	}
	return nil
}

// OnRunComplete implements report.Hooks. The text or JSON summary itself is
// printed by the CLI once the run returns.
func (h *CLIHooks) OnRunComplete(summary report.RunSummary) error {
	if h.tuiEnabled {
		h.tuiProgram.Send(RunCompleteMsg{Summary: summary})
		return nil
	}
	h.logger.Debug("Run complete",
		slog.String("run_id", summary.Info.RunID),
		slog.Int("subjects", summary.Info.SubjectsFound),
	)
	return nil
}

// Progress returns the number of subjects that reached a final status and how many of those failed.
func (h *CLIHooks) Progress() (completed, failed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed, h.failed
}

func isFinal(status report.Status) bool {
	switch status {
	case report.StatusSuccess, report.StatusFailed, report.StatusSkipped, report.StatusCached:
		return true
	}
	return false
}
