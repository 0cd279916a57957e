package bids_test

import (
	"testing"

	"github.com/motcorr/qcreport/pkg/bids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSubjectDir(t *testing.T) {
	testCases := []struct {
		name string
		want bool
	}{
		{"sub-01", true},
		{"sub-ABC123", true},
		{"sub-", false},
		{"sub-01_ses-1", false},
		{"notes", false},
		{"xsub-01", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, bids.IsSubjectDir(tc.name))
		})
	}
}

func TestSubjectLabel(t *testing.T) {
	assert.Equal(t, "01", bids.SubjectLabel("sub-01"))
	assert.Equal(t, "01", bids.SubjectLabel("01"))
}

func TestParseRunIdentity_KeyAndTitle(t *testing.T) {
	testCases := []struct {
		name      string
		path      string
		wantKey   string
		wantTitle string
	}{
		{
			name:      "session task run",
			path:      "sub-01_ses-A_task-rest_run-2_bold.svg",
			wantKey:   "_ses-A_task-rest_run-2",
			wantTitle: " Session: A Task: rest Run: 2",
		},
		{
			name:      "task run only",
			path:      "/data/out/reports/sub-01/func/sub-01_task-rest_run-1_bold.svg",
			wantKey:   "_task-rest_run-1",
			wantTitle: " Task: rest Run: 1",
		},
		{
			name:      "all entities",
			path:      "sub-7_ses-pre_task-nback_acq-fast_rec-mag_run-03_bold.html",
			wantKey:   "_ses-pre_task-nback_acq-fast_rec-mag_run-03",
			wantTitle: " Session: pre Task: nback Acquisition: fast Reconstruction: mag Run: 03",
		},
		{
			name:      "subject only",
			path:      "sub-01_T1w.svg",
			wantKey:   "",
			wantTitle: "",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := bids.ParseRunIdentity(tc.path)
			require.True(t, ok)
			assert.Equal(t, tc.wantKey, id.Key())
			assert.Equal(t, tc.wantTitle, id.Title())
		})
	}
}

func TestParseRunIdentity_NotSubjectAnchored(t *testing.T) {
	_, ok := bids.ParseRunIdentity("/reports/sub-01/group_summary.svg")
	assert.False(t, ok)

	key, title, ok := bids.RunKeyAndTitle("mean_bold.svg")
	assert.False(t, ok)
	assert.Empty(t, key)
	assert.Empty(t, title)
}

func TestParseRunIdentity_OutOfOrderEntitiesStop(t *testing.T) {
	// Entities must appear in canonical order; anything after a break is ignored.
	id, ok := bids.ParseRunIdentity("sub-01_run-1_task-rest_bold.svg")
	require.True(t, ok)
	assert.Equal(t, "1", id.Run)
	assert.Empty(t, id.Task)
	assert.Equal(t, "_run-1", id.Key())
}
