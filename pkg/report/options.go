package report

import (
	"context"
	"html/template"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/motcorr/qcreport/pkg/report/cache"
	"github.com/motcorr/qcreport/pkg/report/crash"
	"github.com/motcorr/qcreport/pkg/report/encoding"
	"github.com/motcorr/qcreport/pkg/report/language"
	tpl "github.com/motcorr/qcreport/pkg/report/template"
)

// CrashConfig selects how crash files are found and decoded.
type CrashConfig struct {
	Decoder CrashDecoderKind `mapstructure:"decoder"`
	Command []string         `mapstructure:"command"`
	Timeout string           `mapstructure:"timeout"`
	Prefix  string           `mapstructure:"prefix"`
	Suffix  string           `mapstructure:"suffix"`
}

// PDFConfig holds settings for PDF export of rendered reports.
type PDFConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ChromePath string `mapstructure:"chromePath"`
	Timeout    string `mapstructure:"timeout"`
}

// WatchConfig holds settings related to watch mode.
type WatchConfig struct {
	Debounce string `mapstructure:"debounce"`
}

// Hooks defines callbacks for status updates during a batch run.
// Implementations MUST be thread-safe as methods may be called concurrently.
type Hooks interface {
	OnSubjectDiscovered(subject string) error
	OnSubjectStatusUpdate(subject string, status Status, message string, duration time.Duration) error
	OnRunComplete(summary RunSummary) error
}

// NoOpHooks provides a default, do-nothing implementation of the Hooks interface.
type NoOpHooks struct{}

// OnSubjectDiscovered implements the Hooks interface. It performs no action.
func (h *NoOpHooks) OnSubjectDiscovered(subject string) error { return nil }

// OnSubjectStatusUpdate implements the Hooks interface. It performs no action.
func (h *NoOpHooks) OnSubjectStatusUpdate(subject string, status Status, message string, duration time.Duration) error {
	return nil
}

// OnRunComplete implements the Hooks interface. It performs no action.
func (h *NoOpHooks) OnRunComplete(summary RunSummary) error { return nil }

// CacheManager remembers the input fingerprint of every generated subject
// report so unchanged subjects can be skipped.
type CacheManager interface {
	Load(cachePath string) error
	Check(subject, fingerprint string) (isHit bool, outputHash string)
	Update(subject, fingerprint, outputHash string) error
	Persist(cachePath string) error
}

// NoOpCacheManager is used when caching is disabled.
type NoOpCacheManager struct{}

// Load implements CacheManager, performs no action.
func (c *NoOpCacheManager) Load(cachePath string) error { return nil }

// Check implements CacheManager, always returns a cache miss.
func (c *NoOpCacheManager) Check(subject, fingerprint string) (bool, string) { return false, "" }

// Update implements CacheManager, performs no action.
func (c *NoOpCacheManager) Update(subject, fingerprint, outputHash string) error { return nil }

// Persist implements CacheManager, performs no action.
func (c *NoOpCacheManager) Persist(cachePath string) error { return nil }

// Exporter converts a rendered HTML report into another document format.
type Exporter interface {
	Export(ctx context.Context, htmlPath, outPath string) error
}

// Options holds all configuration for report generation.
type Options struct {
	// --- Core Paths ---
	OutputPath       string `mapstructure:"output"`       // Pipeline output directory holding reports/ and log/
	ReportConfigPath string `mapstructure:"reportConfig"` // Report configuration; empty selects the embedded default

	// --- Application Info ---
	AppVersion     string `mapstructure:"-"`
	ConfigFilePath string `mapstructure:"-"` // CLI config file in use (for reporting)
	ProfileName    string `mapstructure:"-"`
	RunID          string `mapstructure:"-"` // Generated per batch run when empty

	// --- Behavior & Control ---
	Verbose    bool `mapstructure:"verbose"`
	TuiEnabled bool `mapstructure:"tuiEnabled"`

	// --- Selection ---
	Subjects []string `mapstructure:"subjects"` // Subject labels to process, with or without "sub-"; empty means all

	// --- Indexing ---
	Extensions      []string          `mapstructure:"extensions"`
	DefaultEncoding string            `mapstructure:"defaultEncoding"`
	KindOverrides   map[string]string `mapstructure:"kindOverrides"` // Extension to reportlet kind, e.g. {".svgz": "svg"}
	Crash           CrashConfig       `mapstructure:"crash"`

	// --- Performance & Caching ---
	Concurrency     int    `mapstructure:"concurrency"`
	CacheEnabled    bool   `mapstructure:"cache"`
	CacheFormat     string `mapstructure:"cacheFormat"`
	IgnoreCacheRead bool   `mapstructure:"-"` // set by --no-cache
	ClearCache      bool   `mapstructure:"-"` // set by --clear-cache
	CacheFilePath   string `mapstructure:"-"`

	// --- Output & Formatting ---
	Template     *template.Template `mapstructure:"-"`
	TemplatePath string             `mapstructure:"templateFile"`
	OutputFormat OutputFormat       `mapstructure:"outputFormat"`
	PDF          PDFConfig          `mapstructure:"pdf"`

	// --- Workflow Features ---
	WatchMode     bool          `mapstructure:"-"`
	WatchDebounce time.Duration `mapstructure:"-"`
	WatchConfig   WatchConfig   `mapstructure:"watch"`

	// --- Injected Dependencies ---
	Fs               afero.Fs                 `mapstructure:"-"`
	EventHooks       Hooks                    `mapstructure:"-"`
	Logger           slog.Handler             `mapstructure:"-"`
	CrashDecoder     crash.Decoder            `mapstructure:"-"`
	EncodingHandler  encoding.EncodingHandler `mapstructure:"-"`
	KindDetector     language.KindDetector    `mapstructure:"-"`
	TemplateExecutor tpl.TemplateExecutor     `mapstructure:"-"`
	CacheManager     CacheManager             `mapstructure:"-"`
	Exporter         Exporter                 `mapstructure:"-"`
}

// withDefaults fills every nil dependency and empty indexing setting.
func (o Options) withDefaults() Options {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = slog.NewTextHandler(io.Discard, nil)
	}
	if o.EventHooks == nil {
		o.EventHooks = &NoOpHooks{}
	}
	if o.CrashDecoder == nil {
		dec, err := crash.NewDecoder(string(o.Crash.Decoder))
		if err != nil {
			dec, _ = crash.NewDecoder(crash.FormatAuto)
		}
		o.CrashDecoder = dec
	}
	if o.EncodingHandler == nil {
		o.EncodingHandler = encoding.NewGoCharsetEncodingHandler(o.DefaultEncoding)
	}
	if o.KindDetector == nil {
		o.KindDetector = language.NewGoEnryDetector(o.KindOverrides)
	}
	if o.TemplateExecutor == nil {
		o.TemplateExecutor = tpl.NewHTMLTemplateExecutor()
	}
	if o.CacheManager == nil {
		if o.CacheEnabled {
			o.CacheManager = cache.NewFileCacheManager(o.Fs, o.Logger, o.AppVersion, o.CacheFormat)
		} else {
			o.CacheManager = &NoOpCacheManager{}
		}
	}
	if len(o.Extensions) == 0 {
		o.Extensions = DefaultExtensions()
	}
	if o.Crash.Prefix == "" {
		o.Crash.Prefix = DefaultCrashPrefix
	}
	if o.Crash.Suffix == "" {
		o.Crash.Suffix = DefaultCrashSuffix
	}
	return o
}
