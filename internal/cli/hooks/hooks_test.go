package hooks_test

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/motcorr/qcreport/internal/cli/hooks"
	"github.com/motcorr/qcreport/pkg/report"
)

type MockTUIProgram struct {
	mock.Mock
}

func (m *MockTUIProgram) Send(msg any) {
	m.Called(msg)
}

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestCLIHooks_ImplementsReportHooks(t *testing.T) {
	var _ report.Hooks = hooks.NewCLIHooks(slog.Default(), false, false, nil)
}

func TestCLIHooks_OnSubjectDiscovered(t *testing.T) {
	t.Run("TUI enabled", func(t *testing.T) {
		tui := new(MockTUIProgram)
		tui.On("Send", hooks.SubjectDiscoveredMsg{Subject: "sub-01"}).Once()
		var logs bytes.Buffer

		h := hooks.NewCLIHooks(jsonLogger(&logs), true, false, tui)
		require.NoError(t, h.OnSubjectDiscovered("sub-01"))

		tui.AssertExpectations(t)
		assert.Empty(t, logs.String())
	})

	t.Run("verbose", func(t *testing.T) {
		tui := new(MockTUIProgram)
		var logs bytes.Buffer

		h := hooks.NewCLIHooks(jsonLogger(&logs), false, true, tui)
		require.NoError(t, h.OnSubjectDiscovered("sub-01"))

		tui.AssertNotCalled(t, "Send", mock.Anything)
		assert.Contains(t, logs.String(), `"msg":"Subject discovered"`)
		assert.Contains(t, logs.String(), `"subject":"sub-01"`)
	})

	t.Run("quiet", func(t *testing.T) {
		var logs bytes.Buffer
		h := hooks.NewCLIHooks(jsonLogger(&logs), false, false, nil)
		require.NoError(t, h.OnSubjectDiscovered("sub-01"))
		assert.Empty(t, logs.String())
	})
}

func TestCLIHooks_OnSubjectStatusUpdate(t *testing.T) {
	t.Run("TUI receives message", func(t *testing.T) {
		tui := new(MockTUIProgram)
		want := hooks.SubjectStatusUpdateMsg{
			Subject:  "sub-02",
			Status:   report.StatusSuccess,
			Duration: 150 * time.Millisecond,
		}
		tui.On("Send", want).Once()

		h := hooks.NewCLIHooks(slog.Default(), true, false, tui)
		require.NoError(t, h.OnSubjectStatusUpdate("sub-02", report.StatusSuccess, "", 150*time.Millisecond))
		tui.AssertExpectations(t)
	})

	t.Run("failures always logged", func(t *testing.T) {
		var logs bytes.Buffer
		h := hooks.NewCLIHooks(jsonLogger(&logs), false, false, nil)
		require.NoError(t, h.OnSubjectStatusUpdate("sub-03", report.StatusFailed, "render exploded", time.Second))

		out := logs.String()
		assert.Contains(t, out, `"level":"ERROR"`)
		assert.Contains(t, out, `"error":"render exploded"`)
		assert.Contains(t, out, `"subject":"sub-03"`)
	})

	t.Run("success logged only when verbose", func(t *testing.T) {
		var quiet, verbose bytes.Buffer
		require.NoError(t, hooks.NewCLIHooks(jsonLogger(&quiet), false, false, nil).
			OnSubjectStatusUpdate("sub-01", report.StatusCached, "unchanged", 0))
		require.NoError(t, hooks.NewCLIHooks(jsonLogger(&verbose), false, true, nil).
			OnSubjectStatusUpdate("sub-01", report.StatusCached, "unchanged", 0))

		assert.Empty(t, quiet.String())
		assert.Contains(t, verbose.String(), `"msg":"Subject report finished"`)
		assert.Contains(t, verbose.String(), `"message":"unchanged"`)
	})
}

func TestCLIHooks_ProgressIsConcurrencySafe(t *testing.T) {
	h := hooks.NewCLIHooks(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), false, false, nil)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = h.OnSubjectStatusUpdate("sub", report.StatusProcessing, "", 0)
			status := report.StatusSuccess
			if i%4 == 0 {
				status = report.StatusFailed
			}
			_ = h.OnSubjectStatusUpdate("sub", status, "", 0)
		}(i)
	}
	wg.Wait()

	completed, failed := h.Progress()
	assert.Equal(t, 40, completed)
	assert.Equal(t, 10, failed)
}

func TestCLIHooks_OnRunComplete(t *testing.T) {
	summary := report.RunSummary{Info: report.SummaryInfo{RunID: "run-1", SubjectsFound: 2}}

	tui := new(MockTUIProgram)
	tui.On("Send", hooks.RunCompleteMsg{Summary: summary}).Once()
	require.NoError(t, hooks.NewCLIHooks(slog.Default(), true, false, tui).OnRunComplete(summary))
	tui.AssertExpectations(t)

	var logs bytes.Buffer
	require.NoError(t, hooks.NewCLIHooks(jsonLogger(&logs), false, true, nil).OnRunComplete(summary))
	assert.Contains(t, logs.String(), `"run_id":"run-1"`)
}
