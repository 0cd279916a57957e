package report

// Status defines the processing states of a subject during a batch run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusCached     Status = "cached"
)

// OutputFormat defines the format of the run summary printed when the TUI is disabled.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// CrashDecoderKind selects how crash files are decoded.
type CrashDecoderKind string

const (
	CrashDecoderAuto    CrashDecoderKind = "auto"
	CrashDecoderJSON    CrashDecoderKind = "json"
	CrashDecoderMsgpack CrashDecoderKind = "msgpack"
	CrashDecoderExec    CrashDecoderKind = "exec"
)
