package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	w := &Watcher{outDir: "/data/out"}
	tests := []struct {
		path     string
		subject  string
		relevant bool
	}{
		{"/data/out/reports/sub-01/func/sub-01_task-rest_bold.svg", "sub-01", true},
		{"/data/out/reports/sub-01", "sub-01", true},
		{"/data/out/reports/group/summary.svg", "", true},
		{"/data/out/log/01/20230615-120000/crash-x.pklz", "sub-01", true},
		{"/data/out/log", "", true},
		{"/data/out/sub-01.html", "", false},
		{"/data/out/.qcreport.cache", "", false},
		{"/data/out/reports/sub-01/.DS_Store", "", false},
		{"/elsewhere/reports/sub-01/x.svg", "", false},
		{"/data/out", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			subject, relevant := w.classify(filepath.FromSlash(tc.path))
			assert.Equal(t, tc.relevant, relevant)
			assert.Equal(t, tc.subject, subject)
		})
	}
}

func TestChangeDebouncer_CoalescesAndSorts(t *testing.T) {
	flushed := make(chan struct{}, 4)
	d := newChangeDebouncer(20*time.Millisecond, func() { flushed <- struct{}{} })

	d.add("sub-02")
	d.add("sub-01")
	d.add("sub-02")

	select {
	case <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never flushed")
	}
	assert.Equal(t, []string{"sub-01", "sub-02"}, d.take())
	assert.Empty(t, d.take(), "take drains the pending set")
	assert.Len(t, flushed, 0, "rapid adds flush once")
}

func TestChangeDebouncer_UnattributedMeansAll(t *testing.T) {
	d := newChangeDebouncer(time.Hour, func() {})
	d.add("sub-01")
	d.add("")
	assert.Nil(t, d.take())
	d.stop()
}

func TestChangeDebouncer_StopIgnoresLaterAdds(t *testing.T) {
	var fired atomic.Bool
	d := newChangeDebouncer(time.Millisecond, func() { fired.Store(true) })
	d.stop()
	d.add("sub-01")
	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestWatcher_RebuildsOnReportletChange(t *testing.T) {
	outDir := t.TempDir()
	subjectDir := filepath.Join(outDir, "reports", "sub-01", "func")
	require.NoError(t, os.MkdirAll(subjectDir, 0o755))

	w, err := New(outDir, 50*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		mu     sync.Mutex
		calls  [][]string
		called = make(chan struct{}, 1)
	)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, subjects []string) error {
			mu.Lock()
			calls = append(calls, subjects)
			mu.Unlock()
			select {
			case called <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	select {
	case <-w.Ready():
	case <-ctx.Done():
		t.Fatal("watcher never became ready")
	}
	require.NoError(t, os.WriteFile(filepath.Join(subjectDir, "sub-01_task-rest_bold.svg"), []byte("h\n<svg/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "sub-01.html"), []byte("ignored"), 0o644))

	select {
	case <-called:
	case <-ctx.Done():
		t.Fatal("rebuild was not triggered")
	}
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, calls)
	assert.Equal(t, []string{"sub-01"}, calls[0])
}

func TestWatcher_MissingOutputDir(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), 0, nil)
	require.NoError(t, err)
	err = w.Run(context.Background(), func(context.Context, []string) error { return nil })
	assert.ErrorIs(t, err, ErrWatchSetup)
}
