package report_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motcorr/qcreport/pkg/report"
)

func newGroup(t *testing.T) *report.SubReport {
	t.Helper()
	sr, err := report.NewSubReport(report.SubReportSpec{
		Name:  "motion",
		Title: "Head motion",
		Elements: []report.ElementSpec{
			{Name: "fd", FilePattern: `_fd\.svg$`, Title: "FD"},
			{Name: "par", FilePattern: `_par\.svg$`, Title: "Params"},
		},
	})
	require.NoError(t, err)
	return sr
}

func runSummary(sr *report.SubReport) map[string][]string {
	out := make(map[string][]string)
	for _, child := range sr.RunReports {
		for _, el := range child.Elements {
			for _, fc := range el.FilesContents {
				out[child.Name] = append(out[child.Name], el.Name+":"+fc.Path)
			}
		}
	}
	return out
}

func TestElementMatchesAnywhereInPath(t *testing.T) {
	el, err := report.NewElement(report.ElementSpec{Name: "fd", FilePattern: `func/.*_fd\.svg`})
	require.NoError(t, err)
	assert.True(t, el.Matches("/out/reports/sub-01/func/sub-01_task-rest_fd.svg"))
	assert.True(t, el.Matches("/x/func/a_fd.svg.bak"), "search is not anchored")
	assert.False(t, el.Matches("/out/reports/sub-01/anat/sub-01_fd.svg"))
}

func TestNewElement_BadPattern(t *testing.T) {
	_, err := report.NewElement(report.ElementSpec{Name: "bad", FilePattern: "(["})
	assert.ErrorIs(t, err, report.ErrConfigValidation)
}

func TestOrderByRun(t *testing.T) {
	sr := newGroup(t)
	fd, par := sr.Elements[0], sr.Elements[1]
	fd.Add(report.FileContent{Path: "/r/sub-01_task-rest_run-2_fd.svg", Content: "fd2"})
	fd.Add(report.FileContent{Path: "/r/sub-01_task-rest_run-1_fd.svg", Content: "fd1"})
	fd.Add(report.FileContent{Path: "/r/group_fd.svg", Content: "not a subject file"})
	fd.Add(report.FileContent{Path: "/r/sub-01_fd.svg", Content: "no run entities"})
	par.Add(report.FileContent{Path: "/r/sub-01_task-rest_run-1_par.svg", Content: "par1"})
	par.Add(report.FileContent{Path: "/r/sub-01_ses-pre_task-rest_par.svg", Content: "par-ses"})

	sr.OrderByRun()

	require.True(t, sr.HasRunReports())
	keys := make([]string, 0, len(sr.RunReports))
	for _, c := range sr.RunReports {
		keys = append(keys, c.Name)
	}
	assert.Equal(t, []string{"_ses-pre_task-rest", "_task-rest_run-1", "_task-rest_run-2"}, keys)
	assert.Equal(t, " Session: pre Task: rest", sr.RunReports[0].Title)
	assert.Equal(t, " Task: rest Run: 1", sr.RunReports[1].Title)

	assert.Equal(t, map[string][]string{
		"_ses-pre_task-rest": {"par:/r/sub-01_ses-pre_task-rest_par.svg"},
		"_task-rest_run-1":   {"fd:/r/sub-01_task-rest_run-1_fd.svg", "par:/r/sub-01_task-rest_run-1_par.svg"},
		"_task-rest_run-2":   {"fd:/r/sub-01_task-rest_run-2_fd.svg"},
	}, runSummary(sr))

	for _, c := range sr.RunReports {
		for _, el := range c.Elements {
			assert.Len(t, el.FilesContents, 1, "run children carry single-file elements")
		}
	}
	assert.Len(t, fd.FilesContents, 4, "top-level elements keep every match")
	assert.Equal(t, 6, sr.FileCount())
}

func TestOrderByRun_Idempotent(t *testing.T) {
	sr := newGroup(t)
	sr.Elements[0].Add(report.FileContent{Path: "/r/sub-01_task-rest_run-1_fd.svg"})
	sr.Elements[1].Add(report.FileContent{Path: "/r/sub-01_task-rest_run-1_par.svg"})

	sr.OrderByRun()
	first := runSummary(sr)
	sr.OrderByRun()
	assert.Equal(t, first, runSummary(sr))
	assert.Len(t, sr.RunReports, 1)
}

func TestOrderByRun_NoRuns(t *testing.T) {
	sr := newGroup(t)
	sr.Elements[0].Add(report.FileContent{Path: "/r/sub-01_fd.svg"})
	sr.OrderByRun()
	assert.False(t, sr.HasRunReports())
	assert.NotNil(t, sr.RunReports)
}
