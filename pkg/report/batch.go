package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/motcorr/qcreport/pkg/bids"
	"github.com/motcorr/qcreport/pkg/report/cache"
)

// Stages recorded in ErrorInfo.
const (
	StageDiscover = "discover"
	StageIndex    = "index"
	StageRender   = "render"
	StageExport   = "export"
	StageCache    = "cache"
)

// subjectJob is one subject directory found under the reportlets directory.
type subjectJob struct {
	subject string
	root    string
}

// RunReports generates <outDir>/<subject>.html for every subject directory
// below <outDir>/reports. Subjects are rendered concurrently; a failure in one
// subject is recorded in the summary and does not stop the others. The
// returned error is non-nil only when the run itself could not proceed or
// ctx was cancelled.
func RunReports(ctx context.Context, outDir string, opts Options) (RunSummary, error) {
	start := time.Now()
	opts = opts.withDefaults()
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if opts.OutputPath == "" {
		opts.OutputPath = outDir
	}
	logger := slog.New(opts.Logger).With(
		slog.String("component", "batch"),
		slog.String("run_id", opts.RunID),
	)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	agg := newSummaryAggregator()
	info := SummaryInfo{
		RunID:          opts.RunID,
		OutputPath:     outDir,
		ReportConfig:   opts.ReportConfigPath,
		ProfileUsed:    opts.ProfileName,
		ConfigFilePath: opts.ConfigFilePath,
		CacheEnabled:   opts.CacheEnabled,
		Concurrency:    concurrency,
		Timestamp:      start.UTC(),
	}
	if info.ReportConfig == "" {
		info.ReportConfig = "embedded"
	}
	finish := func() RunSummary {
		info.DurationSeconds = time.Since(start).Seconds()
		summary := agg.build(info)
		if err := opts.EventHooks.OnRunComplete(summary); err != nil {
			logger.Warn("OnRunComplete hook failed", slog.String("error", err.Error()))
		}
		return summary
	}

	reportletsDir := filepath.Join(outDir, ReportletsDirName)
	if ok, _ := afero.DirExists(opts.Fs, reportletsDir); !ok {
		logger.Warn("Reportlets directory not found, nothing to do", slog.String("path", reportletsDir))
		return finish(), nil
	}

	jobs, err := discoverSubjects(opts.Fs, reportletsDir, agg)
	if err != nil {
		return finish(), err
	}
	jobs = selectSubjects(jobs, opts.Subjects)
	info.SubjectsFound = len(jobs)
	logger.Info("Subjects discovered", slog.Int("count", len(jobs)), slog.Int("concurrency", concurrency))
	for _, j := range jobs {
		if hookErr := opts.EventHooks.OnSubjectDiscovered(j.subject); hookErr != nil {
			logger.Warn("OnSubjectDiscovered hook failed", slog.String("subject", j.subject), slog.String("error", hookErr.Error()))
		}
	}

	cachePath := opts.CacheFilePath
	if cachePath == "" {
		cachePath = filepath.Join(outDir, cache.CacheFileName)
	}
	useCache := opts.CacheEnabled && !opts.IgnoreCacheRead
	if opts.ClearCache {
		if rmErr := opts.Fs.Remove(cachePath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("Failed to clear cache file", slog.String("path", cachePath), slog.String("error", rmErr.Error()))
		}
	}
	if opts.CacheEnabled {
		if loadErr := opts.CacheManager.Load(cachePath); loadErr != nil {
			logger.Warn("Cache unavailable for this run", slog.String("error", loadErr.Error()))
			useCache = false
		}
	}

	configDigest, digestErr := ConfigDigest(opts.Fs, opts.ReportConfigPath)
	if digestErr != nil {
		// The per-subject Report logs the same problem and renders without groups.
		logger.Warn("Report configuration unreadable", slog.String("error", digestErr.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			processSubject(gctx, job, outDir, configDigest, useCache, opts, agg, logger)
			return nil
		})
	}
	_ = g.Wait()

	if opts.CacheEnabled {
		if persistErr := opts.CacheManager.Persist(cachePath); persistErr != nil {
			logger.Error("Failed to persist cache", slog.String("error", persistErr.Error()))
			agg.addWarning(ErrorInfo{Stage: StageCache, Error: persistErr.Error()})
		}
	}

	summary := finish()
	logger.Info("Batch run finished",
		slog.Int("generated", summary.Info.GeneratedCount),
		slog.Int("cached", summary.Info.CachedCount),
		slog.Int("errors", summary.Info.ErrorCount),
		slog.Float64("duration_s", summary.Info.DurationSeconds),
	)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// discoverSubjects walks the reportlets directory for subject directories.
// Subject directories are not descended into. Other direct children of the
// reportlets directory are recorded as skipped.
func discoverSubjects(fs afero.Fs, reportletsDir string, agg *summaryAggregator) ([]subjectJob, error) {
	var jobs []subjectJob
	err := afero.Walk(fs, reportletsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() || path == reportletsDir {
			return nil
		}
		name := info.Name()
		if bids.IsSubjectDir(name) {
			jobs = append(jobs, subjectJob{subject: name, root: path})
			return filepath.SkipDir
		}
		if filepath.Dir(path) == filepath.Clean(reportletsDir) {
			agg.addSkipped(SkippedInfo{Path: path, Reason: SkipReasonNotSubject})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrWalkFailed, reportletsDir, err)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].subject < jobs[j].subject })
	return jobs, nil
}

// selectSubjects keeps the jobs named in labels. Labels may omit the "sub-"
// prefix. An empty selection keeps every job.
func selectSubjects(jobs []subjectJob, labels []string) []subjectJob {
	if len(labels) == 0 {
		return jobs
	}
	wanted := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		wanted[bids.SubjectPrefix+bids.SubjectLabel(strings.TrimSpace(l))] = struct{}{}
	}
	kept := jobs[:0]
	for _, j := range jobs {
		if _, ok := wanted[j.subject]; ok {
			kept = append(kept, j)
		}
	}
	return kept
}

func processSubject(ctx context.Context, job subjectJob, outDir, configDigest string, useCache bool, opts Options, agg *summaryAggregator, logger *slog.Logger) {
	start := time.Now()
	hooks := opts.EventHooks
	status := func(s Status, msg string) {
		if err := hooks.OnSubjectStatusUpdate(job.subject, s, msg, time.Since(start)); err != nil {
			logger.Warn("OnSubjectStatusUpdate hook failed", slog.String("subject", job.subject), slog.String("error", err.Error()))
		}
	}
	fail := func(stage string, err error) {
		logger.Error("Subject report failed", slog.String("subject", job.subject), slog.String("stage", stage), slog.String("error", err.Error()))
		agg.addError(ErrorInfo{Subject: job.subject, Stage: stage, Error: err.Error()})
		status(StatusFailed, err.Error())
	}

	if err := ctx.Err(); err != nil {
		status(StatusSkipped, "cancelled")
		return
	}
	status(StatusProcessing, "")

	outFilename := job.subject + ReportFileExt
	outPath := filepath.Join(outDir, outFilename)

	errorDir := filepath.Join(job.root, "..", "..", LogDirName, bids.SubjectLabel(job.subject))
	fingerprint := ""
	if opts.CacheEnabled && configDigest != "" {
		fp, err := subjectFingerprint(opts.Fs, job.root, errorDir, configDigest, opts)
		if err != nil {
			logger.Warn("Fingerprint failed, cache bypassed", slog.String("subject", job.subject), slog.String("error", err.Error()))
		} else {
			fingerprint = fp
		}
	}

	if useCache && fingerprint != "" {
		if hit, outputHash := opts.CacheManager.Check(job.subject, fingerprint); hit && outputMatches(opts.Fs, outPath, outputHash) {
			si := SubjectInfo{
				Subject:     job.subject,
				OutputPath:  outPath,
				CacheStatus: CacheStatusHit,
			}
			pdfPath := pdfPathFor(outPath)
			if !opts.PDF.Enabled || fileExists(opts.Fs, pdfPath) {
				if opts.PDF.Enabled {
					si.PDFPath = pdfPath
				}
				si.DurationMs = time.Since(start).Milliseconds()
				agg.addGenerated(si)
				status(StatusCached, "")
				return
			}
			logger.Debug("Cached report has no PDF, regenerating", slog.String("subject", job.subject))
		}
	}

	r := New(job.root, opts.ReportConfigPath, outDir, outFilename, opts)
	if err := r.Index(ctx); err != nil {
		fail(StageIndex, err)
		return
	}
	rendered, err := r.GenerateReport(ctx)
	if err != nil {
		fail(StageRender, err)
		return
	}

	cacheStatus := CacheStatusDisabled
	if opts.CacheEnabled {
		cacheStatus = CacheStatusMiss
		switch {
		case fingerprint == "":
		case hasUndecodedCrash(r.Errors):
			// The decoder may succeed next time.
			logger.Debug("Undecodable crash file, cache entry not updated", slog.String("subject", job.subject))
		default:
			if err := opts.CacheManager.Update(job.subject, fingerprint, digestOf([]byte(rendered))); err != nil {
				agg.addWarning(ErrorInfo{Subject: job.subject, Stage: StageCache, Error: err.Error()})
			}
		}
	}

	si := SubjectInfo{
		Subject:     job.subject,
		OutputPath:  r.OutputPath(),
		Elements:    r.matchedFileCount(),
		Runs:        r.runCount(),
		Crashes:     len(r.Errors),
		CacheStatus: cacheStatus,
	}
	if opts.PDF.Enabled {
		pdfPath, err := r.ExportPDF(ctx)
		if err != nil {
			logger.Warn("PDF export failed", slog.String("subject", job.subject), slog.String("error", err.Error()))
			agg.addWarning(ErrorInfo{Subject: job.subject, Stage: StageExport, Error: err.Error()})
		} else {
			si.PDFPath = pdfPath
		}
	}
	si.DurationMs = time.Since(start).Milliseconds()
	agg.addGenerated(si)
	status(StatusSuccess, "")
}

func fileExists(fs afero.Fs, path string) bool {
	ok, err := afero.Exists(fs, path)
	return err == nil && ok
}

func hasUndecodedCrash(records []ErrorRecord) bool {
	for _, rec := range records {
		if rec.DecodeFailed {
			return true
		}
	}
	return false
}
