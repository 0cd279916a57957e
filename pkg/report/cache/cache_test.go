package cache_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/motcorr/qcreport/pkg/report/cache"
)

const cachePath = "/out/" + cache.CacheFileName

func setup(t *testing.T, toolVersion, format string) (*cache.FileCacheManager, afero.Fs, *bytes.Buffer) {
	t.Helper()
	logBuf := &bytes.Buffer{}
	fs := afero.NewMemMapFs()
	m := cache.NewFileCacheManager(fs, slog.NewTextHandler(logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}), toolVersion, format)
	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("--- cache logs ---\n%s", logBuf.String())
		}
	})
	return m, fs, logBuf
}

func TestCheckUpdate(t *testing.T) {
	m, _, _ := setup(t, "v1.0.0", "")

	hit, _ := m.Check("sub-01", "fp1")
	assert.False(t, hit)

	require.NoError(t, m.Update("sub-01", "fp1", "out1"))
	hit, out := m.Check("sub-01", "fp1")
	assert.True(t, hit)
	assert.Equal(t, "out1", out)

	hit, _ = m.Check("sub-01", "fp2")
	assert.False(t, hit, "changed fingerprint must miss")
}

func TestPersistLoadRoundTrip(t *testing.T) {
	for _, format := range []string{cache.CacheFormatMsgpack, cache.CacheFormatJSON} {
		t.Run(format, func(t *testing.T) {
			m, fs, _ := setup(t, "v1.0.0", format)
			require.NoError(t, m.Update("sub-01", "fp1", "out1"))
			require.NoError(t, m.Update("sub-02", "fp2", "out2"))
			require.NoError(t, m.Persist(cachePath))

			exists, err := afero.Exists(fs, cachePath)
			require.NoError(t, err)
			require.True(t, exists)

			loaded := cache.NewFileCacheManager(fs, nil, "v1.0.0", format)
			require.NoError(t, loaded.Load(cachePath))
			assert.Equal(t, 2, loaded.Len())
			hit, out := loaded.Check("sub-02", "fp2")
			assert.True(t, hit)
			assert.Equal(t, "out2", out)

			leftovers, err := afero.Glob(fs, filepath.Join("/out", cache.CacheFileName+".tmp-*"))
			require.NoError(t, err)
			assert.Empty(t, leftovers)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	m, _, logs := setup(t, "v1", "")
	require.NoError(t, m.Update("sub-01", "fp", "out"))
	require.NoError(t, m.Load(cachePath))
	assert.Equal(t, 0, m.Len(), "load resets the index")
	assert.Contains(t, logs.String(), "Cache file not found")
}

func TestLoad_CorruptOrEmptyIsMiss(t *testing.T) {
	tests := map[string][]byte{
		"empty":   {},
		"garbage": []byte("\xc1\xc1 definitely not a cache"),
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			m, fs, _ := setup(t, "v1", cache.CacheFormatMsgpack)
			require.NoError(t, afero.WriteFile(fs, cachePath, content, 0o644))
			require.NoError(t, m.Load(cachePath))
			assert.Equal(t, 0, m.Len())
		})
	}
}

func TestLoad_VersionMismatch(t *testing.T) {
	writeFile := func(t *testing.T, fs afero.Fs, schema, tool string) {
		t.Helper()
		data := map[string]any{
			"header": map[string]string{"schemaVersion": schema, "toolVersion": tool},
			"index": map[string]cache.Entry{
				"sub-01": {Fingerprint: "fp", OutputHash: "o", SchemaVersion: schema, ToolVersion: tool},
			},
		}
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fs, cachePath, raw, 0o644))
	}

	tests := []struct {
		name       string
		schema     string
		fileTool   string
		runTool    string
		wantLoaded int
	}{
		{"same versions", cache.CacheSchemaVersion, "v1", "v1", 1},
		{"schema mismatch", "0.1", "v1", "v1", 0},
		{"tool mismatch", cache.CacheSchemaVersion, "v1", "v2", 0},
		{"dev cache accepted", cache.CacheSchemaVersion, "dev", "v2", 1},
		{"dev tool accepts any", cache.CacheSchemaVersion, "v1", "", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, fs, _ := setup(t, tc.runTool, cache.CacheFormatJSON)
			writeFile(t, fs, tc.schema, tc.fileTool)
			require.NoError(t, m.Load(cachePath))
			assert.Equal(t, tc.wantLoaded, m.Len())
		})
	}
}

func TestPersist_EmptyIndexRemovesFile(t *testing.T) {
	m, fs, _ := setup(t, "v1", "")
	require.NoError(t, afero.WriteFile(fs, cachePath, []byte("old"), 0o644))
	require.NoError(t, m.Persist(cachePath))
	exists, err := afero.Exists(fs, cachePath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPersist_MsgpackLayout(t *testing.T) {
	m, fs, _ := setup(t, "v3", cache.CacheFormatMsgpack)
	require.NoError(t, m.Update("sub-07", "fp", "out"))
	require.NoError(t, m.Persist(cachePath))

	raw, err := afero.ReadFile(fs, cachePath)
	require.NoError(t, err)
	var decoded struct {
		Header cache.FileHeader       `msgpack:"header"`
		Index  map[string]cache.Entry `msgpack:"index"`
	}
	require.NoError(t, msgpack.Unmarshal(raw, &decoded))
	assert.Equal(t, cache.CacheSchemaVersion, decoded.Header.SchemaVersion)
	assert.Equal(t, "v3", decoded.Header.ToolVersion)
	assert.Equal(t, "fp", decoded.Index["sub-07"].Fingerprint)
}

func TestConcurrentUpdates(t *testing.T) {
	m, _, _ := setup(t, "v1", "")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subject := fmt.Sprintf("sub-%02d", i)
			_ = m.Update(subject, "fp", "out")
			m.Check(subject, "fp")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, m.Len())
}
