package report

import (
	"sort"
	"sync"
	"time"
)

// RunSummary summarizes one batch run over a pipeline output directory.
type RunSummary struct {
	Info      SummaryInfo   `json:"summary"`
	Generated []SubjectInfo `json:"generated"`
	Skipped   []SkippedInfo `json:"skipped"`
	Errors    []ErrorInfo   `json:"errors"`
	Warnings  []ErrorInfo   `json:"warnings"`
}

// SummaryInfo contains aggregated statistics for a batch run.
type SummaryInfo struct {
	RunID           string    `json:"runId"`
	OutputPath      string    `json:"outputPath"`
	ReportConfig    string    `json:"reportConfig"`
	ProfileUsed     string    `json:"profileUsed,omitempty"`
	ConfigFilePath  string    `json:"configFilePath,omitempty"`
	SubjectsFound   int       `json:"subjectsFound"`
	GeneratedCount  int       `json:"generatedCount"`
	CachedCount     int       `json:"cachedCount"`
	SkippedCount    int       `json:"skippedCount"`
	WarningCount    int       `json:"warningCount"`
	ErrorCount      int       `json:"errorCount"`
	CrashCount      int       `json:"crashCount"`
	DurationSeconds float64   `json:"durationSeconds"`
	CacheEnabled    bool      `json:"cacheEnabled"`
	Concurrency     int       `json:"concurrency"`
	Timestamp       time.Time `json:"timestamp"`
	SchemaVersion   string    `json:"schemaVersion"`
}

// SubjectInfo details a subject whose report was written or found up to date.
type SubjectInfo struct {
	Subject     string `json:"subject"`
	OutputPath  string `json:"outputPath"`
	PDFPath     string `json:"pdfPath,omitempty"`
	Elements    int    `json:"elements"`
	Runs        int    `json:"runs"`
	Crashes     int    `json:"crashes"`
	CacheStatus string `json:"cacheStatus"`
	DurationMs  int64  `json:"durationMs"`
}

// SkippedInfo details an entry of the reportlets directory that is not a subject.
type SkippedInfo struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ErrorInfo details a failure of one subject. Stage names the step that
// failed (index, render, export, cache).
type ErrorInfo struct {
	Subject string `json:"subject"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
	IsFatal bool   `json:"isFatal"`
}

// summaryAggregator collects per-subject results from concurrent workers.
type summaryAggregator struct {
	mu        sync.Mutex
	generated []SubjectInfo
	skipped   []SkippedInfo
	errors    []ErrorInfo
	warnings  []ErrorInfo
}

func newSummaryAggregator() *summaryAggregator {
	return &summaryAggregator{}
}

func (a *summaryAggregator) addGenerated(info SubjectInfo) {
	a.mu.Lock()
	a.generated = append(a.generated, info)
	a.mu.Unlock()
}

func (a *summaryAggregator) addSkipped(info SkippedInfo) {
	a.mu.Lock()
	a.skipped = append(a.skipped, info)
	a.mu.Unlock()
}

func (a *summaryAggregator) addError(info ErrorInfo) {
	a.mu.Lock()
	a.errors = append(a.errors, info)
	a.mu.Unlock()
}

func (a *summaryAggregator) addWarning(info ErrorInfo) {
	a.mu.Lock()
	a.warnings = append(a.warnings, info)
	a.mu.Unlock()
}

// build sorts every list by subject so the summary does not depend on
// worker scheduling.
func (a *summaryAggregator) build(info SummaryInfo) RunSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := RunSummary{
		Info:      info,
		Generated: append([]SubjectInfo{}, a.generated...),
		Skipped:   append([]SkippedInfo{}, a.skipped...),
		Errors:    append([]ErrorInfo{}, a.errors...),
		Warnings:  append([]ErrorInfo{}, a.warnings...),
	}
	sort.Slice(s.Generated, func(i, j int) bool { return s.Generated[i].Subject < s.Generated[j].Subject })
	sort.Slice(s.Skipped, func(i, j int) bool { return s.Skipped[i].Path < s.Skipped[j].Path })
	sortErrors(s.Errors)
	sortErrors(s.Warnings)

	for _, g := range s.Generated {
		if g.CacheStatus == CacheStatusHit {
			s.Info.CachedCount++
		} else {
			s.Info.GeneratedCount++
		}
		s.Info.CrashCount += g.Crashes
	}
	s.Info.SkippedCount = len(s.Skipped)
	s.Info.ErrorCount = len(s.Errors)
	s.Info.WarningCount = len(s.Warnings)
	s.Info.SchemaVersion = ReportSchemaVersion
	return s
}

func sortErrors(errs []ErrorInfo) {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Subject < errs[j].Subject })
}
