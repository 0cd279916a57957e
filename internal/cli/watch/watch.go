// Package watch regenerates reports when reportlets or crash files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/motcorr/qcreport/pkg/bids"
	"github.com/motcorr/qcreport/pkg/report"
)

// ErrWatchSetup indicates the filesystem watcher could not be created or attached.
var ErrWatchSetup = errors.New("failed to set up watcher")

// RebuildFunc regenerates reports. subjects lists the subjects whose inputs
// changed; it is empty when a change could not be attributed to a subject.
type RebuildFunc func(ctx context.Context, subjects []string) error

// Watcher observes the reports/ and log/ trees of a pipeline output directory.
type Watcher struct {
	outDir    string
	fsw       *fsnotify.Watcher
	debouncer *changeDebouncer
	logger    *slog.Logger
	trigger   chan struct{}
	ready     chan struct{}
}

// New creates a watcher for outDir. Events are coalesced for debounce.
func New(outDir string, debounce time.Duration, loggerHandler slog.Handler) (*Watcher, error) {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	if debounce <= 0 {
		debounce = report.DefaultWatchDebounceDuration
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWatchSetup, err)
	}
	w := &Watcher{
		outDir:  filepath.Clean(outDir),
		fsw:     fsw,
		logger:  slog.New(loggerHandler).With(slog.String("component", "watch")),
		trigger: make(chan struct{}, 1),
		ready:   make(chan struct{}),
	}
	w.debouncer = newChangeDebouncer(debounce, w.signal)
	return w, nil
}

// Run watches until ctx is cancelled, calling rebuild once per debounced
// batch of changes. Rebuilds never overlap. Rebuild errors are logged and
// watching continues.
func (w *Watcher) Run(ctx context.Context, rebuild RebuildFunc) error {
	defer w.close()

	// The output root is watched so reports/ and log/ are picked up when created later.
	if err := w.fsw.Add(w.outDir); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWatchSetup, w.outDir, err)
	}
	for _, name := range []string{report.ReportletsDirName, report.LogDirName} {
		if err := w.addWatchRecursive(filepath.Join(w.outDir, name)); err != nil {
			return err
		}
	}
	w.logger.Info("Watching for changes", slog.String("path", w.outDir))
	close(w.ready)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.eventLoop(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.trigger:
			subjects := w.debouncer.take()
			w.logger.Info("Changes detected, regenerating", slog.Any("subjects", subjects))
			if err := rebuild(ctx, subjects); err != nil && ctx.Err() == nil {
				w.logger.Error("Regeneration failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Ready is closed once every watch is in place.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

func (w *Watcher) close() {
	w.debouncer.stop()
	_ = w.fsw.Close()
}

// signal requests a rebuild without blocking; one pending request is enough.
func (w *Watcher) signal() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watch error", slog.String("error", err.Error()))
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	subject, relevant := w.classify(event.Name)
	if !relevant {
		return
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addWatchRecursive(event.Name); err != nil {
				w.logger.Warn("Cannot watch new directory", slog.String("path", event.Name), slog.String("error", err.Error()))
			}
		}
	}
	w.logger.Debug("Change observed", slog.String("path", event.Name), slog.String("op", event.Op.String()))
	w.debouncer.add(subject)
}

// classify reports whether path lies in the watched trees and which subject it belongs to.
func (w *Watcher) classify(path string) (subject string, relevant bool) {
	rel, err := filepath.Rel(w.outDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if strings.HasPrefix(parts[len(parts)-1], ".") {
		return "", false
	}
	switch parts[0] {
	case report.ReportletsDirName:
		if len(parts) > 1 && bids.IsSubjectDir(parts[1]) {
			return parts[1], true
		}
		return "", true
	case report.LogDirName:
		if len(parts) > 1 && len(parts[1]) > 0 {
			if bids.IsSubjectDir(bids.SubjectPrefix + parts[1]) {
				return bids.SubjectPrefix + parts[1], true
			}
		}
		return "", true
	}
	return "", false
}

// addWatchRecursive adds dir and its subdirectories. A missing dir is not an error.
func (w *Watcher) addWatchRecursive(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWatchSetup, dir, err)
	}
	return nil
}

// changeDebouncer collects affected subjects and fires onFlush once changes settle.
type changeDebouncer struct {
	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	delay   time.Duration
	onFlush func()
	stopped bool
}

func newChangeDebouncer(delay time.Duration, onFlush func()) *changeDebouncer {
	return &changeDebouncer{
		pending: make(map[string]struct{}),
		delay:   delay,
		onFlush: onFlush,
	}
}

func (d *changeDebouncer) add(subject string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending[subject] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.onFlush)
}

// take drains the pending set. An unattributed change yields no subjects.
func (d *changeDebouncer) take() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, unattributed := d.pending[""]
	subjects := make([]string, 0, len(d.pending))
	for s := range d.pending {
		if s != "" {
			subjects = append(subjects, s)
		}
	}
	clear(d.pending)
	if unattributed {
		return nil
	}
	slices.Sort(subjects)
	return subjects
}

func (d *changeDebouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
