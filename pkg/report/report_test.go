package report_test

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motcorr/qcreport/pkg/report"
	"github.com/motcorr/qcreport/pkg/report/crash"
)

const boldConfig = `{"sub_reports": [
  {"name": "summary", "title": "Summary", "elements": [
    {"name": "bold", "file_pattern": "_bold\\.svg$", "title": "BOLD", "description": "reference"}
  ]},
  {"name": "about", "elements": [
    {"name": "about", "file_pattern": "_about\\.html$", "title": "About"}
  ]}
]}`

func newFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for p, c := range files {
		require.NoError(t, afero.WriteFile(fs, p, []byte(c), 0o644))
	}
	require.NoError(t, afero.WriteFile(fs, "/cfg/report.json", []byte(boldConfig), 0o644))
	return fs
}

func TestReport_EmptyRootRenders(t *testing.T) {
	fs := newFs(t, nil)
	require.NoError(t, fs.MkdirAll("/out/reports/sub-01", 0o755))

	r := report.New("/out/reports/sub-01", "/cfg/report.json", "/out", "sub-01.html", report.Options{Fs: fs})
	require.NoError(t, r.Index(context.Background()))
	html, err := r.GenerateReport(context.Background())
	require.NoError(t, err)

	assert.Contains(t, html, "No errors to report!")
	assert.Contains(t, html, `id="summary"`)
	assert.NotContains(t, html, "Reports for:")

	written, err := afero.ReadFile(fs, "/out/sub-01.html")
	require.NoError(t, err)
	assert.Equal(t, html, string(written))
}

func TestReport_MissingRootRenders(t *testing.T) {
	fs := newFs(t, nil)
	r := report.New("/out/reports/sub-09", "/cfg/report.json", "/out", "", report.Options{Fs: fs})
	require.NoError(t, r.Index(context.Background()))
	_, err := r.GenerateReport(context.Background())
	require.NoError(t, err)
	exists, _ := afero.Exists(fs, "/out/report.html")
	assert.True(t, exists, "default output filename")
}

func TestReport_EndToEnd(t *testing.T) {
	fs := newFs(t, map[string]string{
		"/out/reports/sub-01/func/sub-01_task-rest_run-1_bold.svg": "<?xml version=\"1.0\"?>\n<svg id=\"run1\"></svg>",
		"/out/reports/sub-01/func/sub-01_task-rest_run-2_bold.svg": "header\n<svg id=\"run2\"></svg>",
		"/out/reports/sub-01/func/sub-01_task-rest_run-1_bold.png": "png is not an allowed extension",
		"/out/reports/sub-01/anat/sub-01_about.html":               "<!-- header -->\n<div>About</div>",
		"/out/reports/sub-01/anat/sub-01_oneline_about.html":       "<div>only a header line</div>",
		"/out/reports/sub-01/func/sub-01_task-rest_run-3_bold.svg": "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR",
	})
	writeCrash(t, fs, "/out/log/01/20230615-120000/crash-20230615-node.pklz", crash.Record{
		Traceback: []string{"ValueError: boom\n"},
		Node:      &crash.Node{Name: "bold_mask", BaseDir: "/work", OutputDir: "/work/bold_mask"},
	})

	r := report.New("/out/reports/sub-01", "/cfg/report.json", "/out", "sub-01.html", report.Options{Fs: fs})
	require.NotNil(t, r.Config())
	require.Len(t, r.SubReports, 2)
	assert.Equal(t, "sub-01", r.Subject())
	errorDir, ok := r.ErrorDir()
	require.True(t, ok)
	assert.Equal(t, "/out/log/01", filepath.ToSlash(errorDir))

	require.NoError(t, r.Index(context.Background()))

	summary := r.SubReports[0]
	require.Len(t, summary.Elements[0].FilesContents, 2, "binary reportlet is skipped")
	require.Len(t, summary.RunReports, 2)
	run1 := summary.RunReports[0]
	assert.Equal(t, "_task-rest_run-1", run1.Name)
	assert.Equal(t, " Task: rest Run: 1", run1.Title)
	require.Len(t, run1.Elements, 1)
	fc := run1.Elements[0].FilesContents[0]
	assert.Equal(t, "<svg id=\"run1\"></svg>", fc.Content, "first line stripped")
	assert.Equal(t, "svg", fc.Kind)
	assert.Equal(t, "_task-rest_run-2", summary.RunReports[1].Name)

	about := r.SubReports[1]
	require.Len(t, about.Elements[0].FilesContents, 2)
	assert.Equal(t, "<div>About</div>", about.Elements[0].FilesContents[0].Content)
	assert.Equal(t, "", about.Elements[0].FilesContents[1].Content, "content without newline becomes empty")
	assert.False(t, about.HasRunReports(), "subject-only file names carry no run")

	require.Len(t, r.Errors, 1)
	assert.Equal(t, "crash-20230615-node.pklz", r.Errors[0].File)
	assert.Equal(t, "/work/bold_mask", r.Errors[0].NodeDir)

	html, err := r.GenerateReport(context.Background())
	require.NoError(t, err)
	assert.Contains(t, html, "Reports for:  Task: rest Run: 1")
	assert.Contains(t, html, `<svg id="run1"></svg>`)
	assert.Contains(t, html, "crash-20230615-node.pklz")
	assert.Contains(t, html, "ValueError: boom")
	assert.NotContains(t, html, "No errors to report!")
}

func TestReport_IndexIsRepeatable(t *testing.T) {
	fs := newFs(t, map[string]string{
		"/out/reports/sub-01/func/sub-01_task-rest_run-1_bold.svg": "h\n<svg/>",
	})
	r := report.New("/out/reports/sub-01", "/cfg/report.json", "/out", "sub-01.html", report.Options{Fs: fs})
	require.NoError(t, r.Index(context.Background()))
	require.NoError(t, r.Index(context.Background()))
	assert.Len(t, r.SubReports[0].Elements[0].FilesContents, 1)
	assert.Len(t, r.SubReports[0].RunReports, 1)
}

func TestReport_NonSubjectRootSkipsCrashes(t *testing.T) {
	fs := newFs(t, map[string]string{
		"/out/reports/group/sub-01_task-rest_bold.svg": "h\n<svg/>",
	})
	writeCrash(t, fs, "/out/log/group/crash-x.pklz", crash.Record{Traceback: []string{"x"}})

	r := report.New("/out/reports/group", "/cfg/report.json", "/out", "group.html", report.Options{Fs: fs})
	require.NoError(t, r.Index(context.Background()))
	assert.Empty(t, r.Subject())
	assert.Empty(t, r.Errors)
	assert.Len(t, r.SubReports[0].Elements[0].FilesContents, 1)
}

func TestReport_ConfigErrorLeavesNoGroups(t *testing.T) {
	fs := newFs(t, map[string]string{
		"/out/reports/sub-01/func/sub-01_task-rest_bold.svg": "h\n<svg/>",
		"/cfg/bad.json":                                       `{"sub_reports": [{"name": "g", "elements": [{"name": "e", "file_pattern": "(["}]}]}`,
	})
	var logs bytes.Buffer
	opts := report.Options{Fs: fs, Logger: slog.NewTextHandler(&logs, nil)}

	for _, cfgPath := range []string{"/cfg/missing.json", "/cfg/bad.json"} {
		r := report.New("/out/reports/sub-01", cfgPath, "/out", "sub-01.html", opts)
		assert.Empty(t, r.SubReports, cfgPath)
		require.NoError(t, r.Index(context.Background()))
		html, err := r.GenerateReport(context.Background())
		require.NoError(t, err)
		assert.Contains(t, html, "No errors to report!")
	}
	assert.Contains(t, logs.String(), "Report configuration unusable")
}

func TestReport_EmbeddedDefaultConfig(t *testing.T) {
	fs := newFs(t, map[string]string{
		"/out/reports/sub-01/func/sub-01_task-rest_run-1_bold_ants_mask.svg": "h\n<svg id=\"ants\"/>",
		"/out/reports/sub-01/func/sub-01_task-rest_run-1_bold_fsl_fd.svg":    "h\n<svg id=\"fd\"/>",
	})
	r := report.New("/out/reports/sub-01", "", "/out", "sub-01.html", report.Options{Fs: fs})
	require.NoError(t, r.Index(context.Background()))

	require.Len(t, r.SubReports, 3)
	assert.Len(t, r.SubReports[0].RunReports, 1)
	assert.Len(t, r.SubReports[1].RunReports, 1)
	assert.Empty(t, r.SubReports[2].RunReports)
}

func TestReport_CancelledContext(t *testing.T) {
	fs := newFs(t, map[string]string{
		"/out/reports/sub-01/func/sub-01_task-rest_bold.svg": "h\n<svg/>",
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := report.New("/out/reports/sub-01", "/cfg/report.json", "/out", "sub-01.html", report.Options{Fs: fs})
	assert.ErrorIs(t, r.Index(ctx), context.Canceled)
	_, err := r.GenerateReport(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
