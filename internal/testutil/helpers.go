package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// CreateDummyFile writes content to path on disk, creating parent directories.
func CreateDummyFile(t *testing.T, path string, content string) {
	t.Helper()
	fullPath := filepath.Clean(path)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755), "create parent of %s", fullPath)
	require.NoError(t, os.WriteFile(fullPath, []byte(content), 0o644), "write %s", fullPath)
}

// CreateDummyDir ensures a directory exists at path.
func CreateDummyDir(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Clean(path), 0o755), "create %s", path)
}

// NewMemFs returns an in-memory filesystem holding files (path to content).
func NewMemFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for p, c := range files {
		require.NoError(t, afero.WriteFile(fs, p, []byte(c), 0o644), "write %s", p)
	}
	return fs
}

// ReportletTree lays out a pipeline output directory under outDir on fs:
// one bold reportlet per subject in reports/<subject>/func.
func ReportletTree(t *testing.T, fs afero.Fs, outDir string, subjects ...string) {
	t.Helper()
	for _, s := range subjects {
		p := filepath.Join(outDir, "reports", s, "func", s+"_task-rest_run-1_bold.svg")
		require.NoError(t, afero.WriteFile(fs, p, []byte("h\n<svg id=\""+s+"\"/>"), 0o644), "write %s", p)
	}
}
