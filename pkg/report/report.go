package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/motcorr/qcreport/pkg/bids"
)

// TemplateData is the value handed to the report template.
type TemplateData struct {
	Subject     string
	SubReports  []*SubReport
	Errors      []ErrorRecord
	GeneratedAt time.Time
	RunID       string
	Version     string
}

// Report builds the quality-control report of one subject. Construct it with
// New, fill it with Index and render it with GenerateReport.
type Report struct {
	Root        string
	OutDir      string
	OutFilename string
	SubReports  []*SubReport
	Errors      []ErrorRecord

	config *Config
	opts   Options
	logger *slog.Logger
}

// New prepares the report of the subject directory root. The configuration
// at configPath (embedded default when empty) is loaded immediately; a
// configuration that cannot be loaded is logged and leaves the report with
// no groups.
func New(root, configPath, outDir, outFilename string, opts Options) *Report {
	opts = opts.withDefaults()
	if outFilename == "" {
		outFilename = DefaultOutFilename
	}
	r := &Report{
		Root:        filepath.Clean(root),
		OutDir:      outDir,
		OutFilename: outFilename,
		opts:        opts,
		logger: slog.New(opts.Logger).With(
			slog.String("component", "report"),
			slog.String("root", root),
		),
	}

	cfg, err := LoadConfig(opts.Fs, configPath)
	if err != nil {
		r.logger.Error("Report configuration unusable, continuing without groups", slog.String("error", err.Error()))
		return r
	}
	groups, err := cfg.Build()
	if err != nil {
		r.logger.Error("Report configuration unusable, continuing without groups", slog.String("error", err.Error()))
		return r
	}
	r.config = cfg
	r.SubReports = groups
	return r
}

// Config returns the loaded configuration, or nil when loading failed.
func (r *Report) Config() *Config { return r.config }

// OutputPath is the file GenerateReport writes.
func (r *Report) OutputPath() string {
	return filepath.Join(r.OutDir, r.OutFilename)
}

// Subject returns the subject directory name of Root, or "" when Root does
// not follow the subject naming convention.
func (r *Report) Subject() string {
	base := filepath.Base(r.Root)
	if bids.IsSubjectDir(base) {
		return base
	}
	return ""
}

// ErrorDir returns <root>/../../log/<label>, the subject's crash directory.
func (r *Report) ErrorDir() (string, bool) {
	subject := r.Subject()
	if subject == "" {
		return "", false
	}
	return filepath.Join(r.Root, "..", "..", LogDirName, bids.SubjectLabel(subject)), true
}

func (r *Report) matchedFileCount() int {
	n := 0
	for _, sr := range r.SubReports {
		n += sr.FileCount()
	}
	return n
}

func (r *Report) runCount() int {
	n := 0
	for _, sr := range r.SubReports {
		n += len(sr.RunReports)
	}
	return n
}

func (r *Report) allowedExtension(path string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return ext != "" && slices.Contains(r.opts.Extensions, ext)
}

// Index walks Root, attaches every matching reportlet to its elements,
// repartitions each group by run and collects the subject's crash records.
// Calling Index again starts from empty groups.
func (r *Report) Index(ctx context.Context) error {
	for _, sr := range r.SubReports {
		sr.reset()
	}
	r.Errors = nil

	var matched int
	walkErr := afero.Walk(r.opts.Fs, r.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == r.Root && errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("Report root does not exist, nothing to index")
				return nil
			}
			return fmt.Errorf("%w: %s: %w", ErrWalkFailed, path, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || !r.allowedExtension(path) {
			return nil
		}

		var content *FileContent
		for _, sr := range r.SubReports {
			for _, el := range sr.Elements {
				if !el.Matches(path) {
					continue
				}
				if content == nil {
					fc, ok, readErr := r.readReportlet(path)
					if readErr != nil {
						return readErr
					}
					if !ok {
						return nil
					}
					content = &fc
				}
				el.Add(*content)
				matched++
			}
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	for _, sr := range r.SubReports {
		sr.OrderByRun()
	}
	r.logger.Debug("Reportlets indexed", slog.Int("matches", matched))

	errorDir, ok := r.ErrorDir()
	if !ok {
		return nil
	}
	isDir, err := afero.DirExists(r.opts.Fs, errorDir)
	if err != nil || !isDir {
		return nil
	}
	indexer := NewCrashIndexer(r.opts.Fs, r.opts.CrashDecoder, r.opts.Logger, r.opts.Crash.Prefix, r.opts.Crash.Suffix)
	records, err := indexer.Index(ctx, errorDir)
	r.Errors = records
	return err
}

// readReportlet loads a reportlet, converts it to UTF-8 and drops its first
// line. ok is false when the file is binary and must be skipped.
func (r *Report) readReportlet(path string) (FileContent, bool, error) {
	raw, err := afero.ReadFile(r.opts.Fs, path)
	if err != nil {
		return FileContent{}, false, fmt.Errorf("%w: %s: %w", ErrReadFailed, path, err)
	}
	if r.opts.EncodingHandler.IsBinary(raw) {
		r.logger.Warn("Skipping binary reportlet", slog.String("path", path))
		return FileContent{}, false, nil
	}
	utf8Content, enc, _, decErr := r.opts.EncodingHandler.DetectAndDecode(raw)
	if decErr != nil {
		r.logger.Warn("Reportlet encoding conversion failed, using raw bytes",
			slog.String("path", path), slog.String("encoding", enc), slog.String("error", decErr.Error()))
		utf8Content = raw
	}
	return FileContent{
		Path:    path,
		Content: stripFirstLine(string(utf8Content)),
		Kind:    r.opts.KindDetector.Detect(utf8Content, path),
	}, true, nil
}

// stripFirstLine drops everything up to and including the first newline.
// Content without a newline becomes empty.
func stripFirstLine(s string) string {
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return ""
	}
	return s[i+1:]
}

// GenerateReport renders the report, writes it to OutputPath atomically and
// returns the rendered text.
func (r *Report) GenerateReport(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data := TemplateData{
		Subject:     r.Subject(),
		SubReports:  r.SubReports,
		Errors:      r.Errors,
		GeneratedAt: time.Now().UTC(),
		RunID:       r.opts.RunID,
		Version:     r.opts.AppVersion,
	}

	var buf bytes.Buffer
	if err := r.opts.TemplateExecutor.Execute(&buf, r.opts.Template, &data); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTemplateExecution, err)
	}

	if err := r.opts.Fs.MkdirAll(r.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrMkdirFailed, r.OutDir, err)
	}
	if err := writeFileAtomic(r.opts.Fs, r.OutputPath(), buf.Bytes()); err != nil {
		return "", err
	}
	r.logger.Debug("Report written", slog.String("path", r.OutputPath()), slog.Int("bytes", buf.Len()))
	return buf.String(), nil
}

// ExportPDF converts the written HTML report with the configured Exporter and
// returns the PDF path.
func (r *Report) ExportPDF(ctx context.Context) (string, error) {
	if r.opts.Exporter == nil {
		return "", fmt.Errorf("%w: no exporter configured", ErrExportFailed)
	}
	htmlPath := r.OutputPath()
	pdfPath := pdfPathFor(htmlPath)
	if err := r.opts.Exporter.Export(ctx, htmlPath, pdfPath); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrExportFailed, pdfPath, err)
	}
	return pdfPath, nil
}

func pdfPathFor(htmlPath string) string {
	return strings.TrimSuffix(htmlPath, filepath.Ext(htmlPath)) + PDFFileExt
}

// writeFileAtomic writes to a temporary file in the target directory and
// renames it into place.
func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(fs, dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: temp file in %s: %w", ErrWriteFailed, dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, tmpName, err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("%w: rename to %s: %w", ErrWriteFailed, path, err)
	}
	return nil
}
