package language_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/motcorr/qcreport/pkg/report/language"
)

func TestNewGoEnryDetector_Overrides(t *testing.T) {
	detector := language.NewGoEnryDetector(map[string]string{
		".svg":   "Figure",
		"HTML":   "Report Fragment",
		"":       "ignored",
		".empty": "",
	})

	assert.Equal(t, "figure", detector.Detect([]byte("<svg/>"), "sub-01_desc-brain_mask.svg"))
	assert.Equal(t, "report-fragment", detector.Detect([]byte("<div/>"), "sub-01_desc-summary_T1w.HTML"))
	assert.NotEqual(t, "ignored", detector.Detect([]byte("x"), "noext"))
	assert.Equal(t, language.KindUnknown, detector.Detect(nil, "file.empty"))
}

func TestGoEnryDetector_Detect(t *testing.T) {
	detector := language.NewGoEnryDetector(nil)

	tests := []struct {
		name     string
		path     string
		content  []byte
		expected []string
	}{
		{
			name:     "svg by extension",
			path:     "/out/sub-01/figures/sub-01_task-rest_bold_ants_mask.svg",
			content:  []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"></svg>`),
			expected: []string{"svg"},
		},
		{
			name:     "svg with empty content still uses extension",
			path:     "mask.svg",
			content:  nil,
			expected: []string{"svg"},
		},
		{
			name:     "html fragment",
			path:     "/out/sub-01/figures/sub-01_desc-about_T1w.html",
			content:  []byte("<div>\n<ul><li>fMRIPrep version: 23.0</li></ul>\n</div>"),
			expected: []string{"html", "ecmarkup"},
		},
		{
			name:     "no extension and no content",
			path:     "README",
			content:  nil,
			expected: []string{language.KindUnknown},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Contains(t, tc.expected, detector.Detect(tc.content, tc.path))
		})
	}
}
