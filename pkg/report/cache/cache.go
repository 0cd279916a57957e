// Package cache persists the input fingerprint of every generated subject
// report so a later batch run can skip subjects whose inputs did not change.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack/v5"
)

// CacheFileName is the cache index file written next to the reportlets directory.
const CacheFileName = ".qcreport.cache"

// CacheSchemaVersion is bumped whenever Entry or the file layout changes.
const CacheSchemaVersion = "1.0"

const (
	CacheFormatMsgpack = "msgpack"
	CacheFormatJSON    = "json"
	DefaultCacheFormat = CacheFormatMsgpack
)

// devVersion matches any tool version, so local builds share a cache.
const devVersion = "dev"

var (
	// ErrCacheLoad is returned only for I/O failures opening the cache file.
	// Corrupt or outdated files are treated as an empty cache.
	ErrCacheLoad = errors.New("failed to load cache index")
	// ErrCachePersist is returned when the index cannot be written.
	ErrCachePersist = errors.New("failed to persist cache index")
)

// Entry is the cached state of one subject report.
type Entry struct {
	Fingerprint   string `json:"fingerprint" msgpack:"fingerprint"`
	OutputHash    string `json:"outputHash" msgpack:"outputHash"`
	SchemaVersion string `json:"schemaVersion" msgpack:"schemaVersion"`
	ToolVersion   string `json:"toolVersion" msgpack:"toolVersion"`
}

// FileHeader identifies the writer of a cache file.
type FileHeader struct {
	SchemaVersion string `json:"schemaVersion" msgpack:"schemaVersion"`
	ToolVersion   string `json:"toolVersion" msgpack:"toolVersion"`
}

type cacheFile struct {
	Header FileHeader       `json:"header" msgpack:"header"`
	Index  map[string]Entry `json:"index" msgpack:"index"`
}

// FileCacheManager keeps the subject index in memory and persists it as a
// single msgpack or JSON document. It is safe for concurrent use.
type FileCacheManager struct {
	fs            afero.Fs
	index         map[string]Entry
	mu            sync.RWMutex
	logger        *slog.Logger
	schemaVersion string
	toolVersion   string
	format        string
}

// NewFileCacheManager creates a cache manager. An unknown format falls back
// to msgpack and an empty toolVersion to "dev".
func NewFileCacheManager(fs afero.Fs, loggerHandler slog.Handler, toolVersion, cacheFormat string) *FileCacheManager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	format := strings.ToLower(cacheFormat)
	if format != CacheFormatJSON && format != CacheFormatMsgpack {
		format = DefaultCacheFormat
	}
	if toolVersion == "" {
		toolVersion = devVersion
	}
	return &FileCacheManager{
		fs:            fs,
		index:         make(map[string]Entry),
		schemaVersion: CacheSchemaVersion,
		toolVersion:   toolVersion,
		format:        format,
		logger: slog.New(loggerHandler).With(
			slog.String("component", "cacheManager"),
			slog.String("format", format),
		),
	}
}

func (c *FileCacheManager) versionsCompatible(schema, tool string) bool {
	if schema != c.schemaVersion {
		return false
	}
	return tool == c.toolVersion || tool == devVersion || c.toolVersion == devVersion
}

// Load replaces the in-memory index with the contents of cachePath. A
// missing, empty, corrupt or incompatible file leaves the index empty.
func (c *FileCacheManager) Load(cachePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]Entry)

	file, err := c.fs.Open(cachePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.logger.Info("Cache file not found, starting with an empty index", "path", cachePath)
			return nil
		}
		c.logger.Error("Critical cache load error", "path", cachePath, "error", err.Error())
		return fmt.Errorf("%w: failed to open cache file '%s': %w", ErrCacheLoad, cachePath, err)
	}
	defer file.Close()

	var data cacheFile
	if c.format == CacheFormatJSON {
		err = json.NewDecoder(file).Decode(&data)
	} else {
		err = msgpack.NewDecoder(file).Decode(&data)
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			c.logger.Warn("Cache file is empty or truncated, treating as miss", "path", cachePath)
			return nil
		}
		c.logger.Warn("Cache file could not be decoded, treating as miss", "path", cachePath, "error", err.Error())
		return nil
	}

	if !c.versionsCompatible(data.Header.SchemaVersion, data.Header.ToolVersion) {
		c.logger.Warn("Cache file version mismatch, invalidating cache",
			"path", cachePath,
			"file_schema", data.Header.SchemaVersion, "file_tool", data.Header.ToolVersion,
			"expected_schema", c.schemaVersion, "expected_tool", c.toolVersion)
		return nil
	}
	if data.Index != nil {
		c.index = data.Index
	}
	c.logger.Info("Cache loaded", "path", cachePath, "entries", len(c.index))
	return nil
}

// Check reports a hit when subject has an entry with the same fingerprint
// written by a compatible version, and returns the stored output hash.
func (c *FileCacheManager) Check(subject, fingerprint string) (bool, string) {
	c.mu.RLock()
	entry, found := c.index[subject]
	c.mu.RUnlock()

	switch {
	case !found:
		c.logger.Debug("Cache miss (no entry)", "subject", subject)
		return false, ""
	case !c.versionsCompatible(entry.SchemaVersion, entry.ToolVersion):
		c.logger.Debug("Cache miss (version mismatch)", "subject", subject)
		return false, ""
	case entry.Fingerprint != fingerprint:
		c.logger.Debug("Cache miss (inputs changed)", "subject", subject)
		return false, ""
	}
	c.logger.Debug("Cache hit", "subject", subject)
	return true, entry.OutputHash
}

// Update records the fingerprint and output hash of a freshly generated report.
func (c *FileCacheManager) Update(subject, fingerprint, outputHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index[subject] = Entry{
		Fingerprint:   fingerprint,
		OutputHash:    outputHash,
		SchemaVersion: c.schemaVersion,
		ToolVersion:   c.toolVersion,
	}
	return nil
}

// Len returns the number of cached subjects.
func (c *FileCacheManager) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Persist writes the index to cachePath through a temporary file and a
// rename. An empty index removes the cache file instead.
func (c *FileCacheManager) Persist(cachePath string) error {
	c.mu.RLock()
	indexCopy := make(map[string]Entry, len(c.index))
	for k, v := range c.index {
		indexCopy[k] = v
	}
	c.mu.RUnlock()

	if len(indexCopy) == 0 {
		if err := c.fs.Remove(cachePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("Failed to remove empty cache file", "path", cachePath, "error", err.Error())
		}
		return nil
	}

	cacheDir := filepath.Dir(cachePath)
	if err := c.fs.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create cache directory '%s': %w", ErrCachePersist, cacheDir, err)
	}
	tempFile, err := afero.TempFile(c.fs, cacheDir, filepath.Base(cachePath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temporary cache file in '%s': %w", ErrCachePersist, cacheDir, err)
	}
	tempPath := tempFile.Name()

	data := cacheFile{
		Header: FileHeader{SchemaVersion: c.schemaVersion, ToolVersion: c.toolVersion},
		Index:  indexCopy,
	}
	if c.format == CacheFormatJSON {
		enc := json.NewEncoder(tempFile)
		enc.SetIndent("", "  ")
		err = enc.Encode(data)
	} else {
		err = msgpack.NewEncoder(tempFile).Encode(data)
	}
	if closeErr := tempFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = c.fs.Remove(tempPath)
		return fmt.Errorf("%w: failed to write cache (%s) to '%s': %w", ErrCachePersist, c.format, tempPath, err)
	}
	if err := c.fs.Rename(tempPath, cachePath); err != nil {
		_ = c.fs.Remove(tempPath)
		return fmt.Errorf("%w: failed to rename '%s' to '%s': %w", ErrCachePersist, tempPath, cachePath, err)
	}
	c.logger.Info("Cache persisted", "path", cachePath, "entries", len(indexCopy))
	return nil
}
