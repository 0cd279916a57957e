package report

import (
	"context"
	"fmt"
	"html"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/motcorr/qcreport/pkg/report/crash"
)

// tracebackLineBreak joins the lines of one traceback chunk in the report.
const tracebackLineBreak = "<br>"

// InputParam is one input of a failing node.
type InputParam struct {
	Name  string
	Value string
}

// ErrorRecord is the report view of one crash file.
type ErrorRecord struct {
	File         string
	Traceback    [][]string
	Node         string
	NodeDir      string
	Inputs       []InputParam
	DecodeFailed bool
}

// HasNode reports whether the crash file identified the failing node.
func (e ErrorRecord) HasNode() bool { return e.Node != "" }

// TracebackHTML escapes every traceback line and joins each chunk with a line break.
func (e ErrorRecord) TracebackHTML() []template.HTML {
	out := make([]template.HTML, 0, len(e.Traceback))
	for _, group := range e.Traceback {
		escaped := make([]string, len(group))
		for i, line := range group {
			escaped[i] = html.EscapeString(line)
		}
		out = append(out, template.HTML(strings.Join(escaped, tracebackLineBreak)))
	}
	return out
}

// CrashIndexer collects crash records from a subject's log directory.
type CrashIndexer struct {
	fs      afero.Fs
	decoder crash.Decoder
	logger  *slog.Logger
	prefix  string
	suffix  string
}

// NewCrashIndexer creates an indexer accepting files named <prefix>*<suffix>.
func NewCrashIndexer(fs afero.Fs, decoder crash.Decoder, loggerHandler slog.Handler, prefix, suffix string) *CrashIndexer {
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	if prefix == "" {
		prefix = DefaultCrashPrefix
	}
	if suffix == "" {
		suffix = DefaultCrashSuffix
	}
	return &CrashIndexer{
		fs:      fs,
		decoder: decoder,
		logger:  slog.New(loggerHandler).With(slog.String("component", "crashIndexer")),
		prefix:  prefix,
		suffix:  suffix,
	}
}

// LatestRunDir returns the lexicographically last subdirectory of errorDir.
// Run directories are named by timestamp, so this is the newest run. With no
// subdirectories, errorDir itself is returned.
func (c *CrashIndexer) LatestRunDir(errorDir string) (string, error) {
	entries, err := afero.ReadDir(c.fs, errorDir)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrCrashIndex, errorDir, err)
	}
	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return errorDir, nil
	}
	sort.Strings(dirs)
	return filepath.Join(errorDir, dirs[len(dirs)-1]), nil
}

// IsCrashFile reports whether name follows the crash file naming convention.
func (c *CrashIndexer) IsCrashFile(name string) bool {
	return strings.HasPrefix(name, c.prefix) && strings.HasSuffix(name, c.suffix)
}

// Index walks the newest run directory of errorDir and converts every crash
// file into an ErrorRecord, in walk order. A file that cannot be decoded
// yields a record flagged DecodeFailed; I/O failures abort the index.
func (c *CrashIndexer) Index(ctx context.Context, errorDir string) ([]ErrorRecord, error) {
	runDir, err := c.LatestRunDir(errorDir)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Indexing crash directory", slog.String("path", runDir))

	var records []ErrorRecord
	walkErr := afero.Walk(c.fs, runDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrWalkFailed, path, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || !c.IsCrashFile(info.Name()) {
			return nil
		}
		data, readErr := afero.ReadFile(c.fs, path)
		if readErr != nil {
			return fmt.Errorf("%w: %s: %w", ErrReadFailed, path, readErr)
		}
		rec, decErr := c.decoder.Decode(ctx, data)
		if decErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			c.logger.Warn("Crash file could not be decoded", slog.String("path", path), slog.String("error", decErr.Error()))
			records = append(records, ErrorRecord{
				File:         info.Name(),
				Traceback:    [][]string{{"crash file could not be decoded: " + decErr.Error()}},
				DecodeFailed: true,
			})
			return nil
		}
		records = append(records, toErrorRecord(info.Name(), rec))
		return nil
	})
	if walkErr != nil {
		return records, fmt.Errorf("%w: %w", ErrCrashIndex, walkErr)
	}
	c.logger.Debug("Crash directory indexed", slog.String("path", runDir), slog.Int("records", len(records)))
	return records, nil
}

func toErrorRecord(file string, rec crash.Record) ErrorRecord {
	er := ErrorRecord{
		File:      file,
		Traceback: rec.Lines(),
	}
	if rec.Node == nil {
		return er
	}
	er.Node = rec.Node.DisplayName()
	switch {
	case rec.Node.BaseDir == "":
		er.NodeDir = NodeNotExecuted
	case rec.Node.OutputDir != "":
		er.NodeDir = rec.Node.OutputDir
	default:
		er.NodeDir = rec.Node.BaseDir
	}
	er.Inputs = make([]InputParam, 0, len(rec.Node.Inputs))
	for k, v := range rec.Node.Inputs {
		er.Inputs = append(er.Inputs, InputParam{Name: k, Value: fmt.Sprint(v)})
	}
	sort.Slice(er.Inputs, func(i, j int) bool { return er.Inputs[i].Name < er.Inputs[j].Name })
	return er
}
