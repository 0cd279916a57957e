package report

import "time"

// Defaults for configuration options. The CLI feeds these to viper.
const (
	// DefaultConcurrency is the number of subjects rendered in parallel. 0 means runtime.NumCPU().
	DefaultConcurrency           = 0
	DefaultCacheEnabled          = true
	DefaultCacheFormat           = "msgpack"
	DefaultTuiEnabled            = true
	DefaultVerbose               = false
	DefaultOutputFormat          = OutputFormatText
	DefaultWatchDebounceString   = "500ms"
	DefaultWatchDebounceDuration = 500 * time.Millisecond
	DefaultCrashDecoder          = CrashDecoderAuto
	DefaultCrashTimeoutString    = "30s"
	DefaultCrashPrefix           = "crash"
	DefaultCrashSuffix           = "pklz"
	DefaultPDFEnabled            = false
	DefaultPDFTimeoutString      = "60s"
	DefaultOutFilename           = "report.html"
)

// Layout of a pipeline output directory.
const (
	// ReportletsDirName holds one reportlet directory per subject.
	ReportletsDirName = "reports"
	// LogDirName holds one crash directory per subject label, two levels above
	// the subject's reportlet directory.
	LogDirName = "log"
	// ReportFileExt is appended to the subject name to form the report file name.
	ReportFileExt = ".html"
	// PDFFileExt is used for exported reports.
	PDFFileExt = ".pdf"
)

// NodeNotExecuted replaces the node directory of crash records whose node never ran.
const NodeNotExecuted = "Node crashed before execution"

// ReportSchemaVersion indicates the version of the JSON run summary.
const ReportSchemaVersion = "1.0"

// Cache status strings used in the run summary.
const (
	CacheStatusHit      = "hit"
	CacheStatusMiss     = "miss"
	CacheStatusDisabled = "disabled"
)

// Skip reasons used in the run summary.
const (
	SkipReasonNotSubject = "not_a_subject"
)

// DefaultExtensions lists the reportlet extensions indexed when none are configured.
func DefaultExtensions() []string {
	return []string{"svg", "html"}
}
