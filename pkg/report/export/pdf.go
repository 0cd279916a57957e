// Package export converts rendered HTML reports into other document formats.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/spf13/afero"
)

// DefaultTimeout bounds one HTML to PDF conversion.
const DefaultTimeout = 60 * time.Second

// ErrSourceMissing is returned when the HTML report to convert does not exist.
var ErrSourceMissing = errors.New("html report not found")

// PDFExporter prints reports to PDF with a headless Chrome driven by chromedp.
type PDFExporter struct {
	fs         afero.Fs
	chromePath string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewPDFExporter creates an exporter. chromePath may be empty to let
// chromedp locate a browser; a zero timeout selects DefaultTimeout. The HTML
// source must live on the OS filesystem since the browser loads it by URL;
// fs is used for existence checks and for writing the PDF.
func NewPDFExporter(fs afero.Fs, chromePath string, timeout time.Duration, loggerHandler slog.Handler) *PDFExporter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	return &PDFExporter{
		fs:         fs,
		chromePath: chromePath,
		timeout:    timeout,
		logger:     slog.New(loggerHandler).With(slog.String("component", "pdfExporter")),
	}
}

// Timeout returns the per-document conversion limit.
func (e *PDFExporter) Timeout() time.Duration { return e.timeout }

// fileURL turns an absolute or relative path into a file:// URL.
func fileURL(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

// Export loads htmlPath in a fresh headless browser and writes the printed
// document to outPath.
func (e *PDFExporter) Export(ctx context.Context, htmlPath, outPath string) error {
	if ok, _ := afero.Exists(e.fs, htmlPath); !ok {
		return fmt.Errorf("%w: %s", ErrSourceMissing, htmlPath)
	}
	target, err := fileURL(htmlPath)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", htmlPath, err)
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.Headless,
	}
	if e.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(e.chromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()
	runCtx, cancel := context.WithTimeout(browserCtx, e.timeout)
	defer cancel()

	var pdf []byte
	err = chromedp.Run(runCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, printErr := page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if printErr != nil {
				return printErr
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to print %s: %w", htmlPath, err)
	}

	if err := afero.WriteFile(e.fs, outPath, pdf, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	e.logger.Debug("PDF written", slog.String("path", outPath), slog.Int("bytes", len(pdf)))
	return nil
}
