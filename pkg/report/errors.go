package report

import "errors"

// --- Exported Error Variables ---
// Library users can check against these using errors.Is.

var (
	// ErrConfigLoad indicates that the report configuration could not be read
	// or parsed. Report construction logs it and continues with zero groups.
	ErrConfigLoad = errors.New("failed to load report configuration")

	// ErrConfigValidation indicates that the report configuration or the
	// provided Options failed validation, including malformed file patterns.
	ErrConfigValidation = errors.New("invalid configuration")

	// ErrReadFailed indicates a failure to read a reportlet or crash file.
	ErrReadFailed = errors.New("failed to read file")

	// ErrWalkFailed indicates a failure while walking a subject or log directory.
	ErrWalkFailed = errors.New("failed to walk directory")

	// ErrCrashIndex indicates that the subject's crash directory could not be indexed.
	// Individual undecodable crash files do not produce this error.
	ErrCrashIndex = errors.New("failed to index crash records")

	// ErrTemplateExecution indicates an error while rendering the report template.
	ErrTemplateExecution = errors.New("template execution failed")

	// ErrMkdirFailed indicates a failure to create the output directory.
	ErrMkdirFailed = errors.New("failed to create output directory")

	// ErrWriteFailed indicates a failure to write the rendered report.
	ErrWriteFailed = errors.New("failed to write output file")

	// ErrExportFailed indicates that a rendered report could not be exported to PDF.
	// The HTML report is still in place when this is returned.
	ErrExportFailed = errors.New("failed to export report")
)
