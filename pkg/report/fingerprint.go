package report

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// subjectFingerprint hashes everything a subject report depends on: the
// listing (relative path, size, mtime) of the subject's reportlet tree and
// crash directory, the configuration digest, the template file and the
// settings that change what gets rendered. A missing crash directory
// contributes nothing.
func subjectFingerprint(fs afero.Fs, root, errorDir, configDigest string, opts Options) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "version=%s\nconfig=%s\n", opts.AppVersion, configDigest)
	writeSettings(h, opts)

	if opts.TemplatePath != "" {
		if err := hashListing(fs, h, "template", opts.TemplatePath); err != nil {
			return "", err
		}
	}
	if err := hashListing(fs, h, "reports", root); err != nil {
		return "", err
	}
	if errorDir != "" {
		if err := hashListing(fs, h, "log", errorDir); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeSettings writes the options that affect indexing, decoding and export.
func writeSettings(w io.Writer, opts Options) {
	fmt.Fprintf(w, "extensions=%s\nencoding=%s\n", strings.Join(opts.Extensions, ","), opts.DefaultEncoding)

	kinds := make([]string, 0, len(opts.KindOverrides))
	for ext, kind := range opts.KindOverrides {
		kinds = append(kinds, ext+"="+kind)
	}
	sort.Strings(kinds)
	fmt.Fprintf(w, "kinds=%s\n", strings.Join(kinds, ","))

	c := opts.Crash
	fmt.Fprintf(w, "crash=%s*%s\ndecoder=%s:%T\ndecoderCmd=%q\ndecoderTimeout=%s\n",
		c.Prefix, c.Suffix, c.Decoder, opts.CrashDecoder, c.Command, c.Timeout)
	fmt.Fprintf(w, "pdf=%t\n", opts.PDF.Enabled)
}

// hashListing writes one line per regular file under path, in lexical order.
func hashListing(fs afero.Fs, w io.Writer, label, path string) error {
	var lines []string
	err := afero.Walk(fs, path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == path && errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(path, p)
		if relErr != nil {
			rel = p
		}
		lines = append(lines, fmt.Sprintf("%s:%s:%d:%d", label, filepath.ToSlash(rel), info.Size(), info.ModTime().UnixNano()))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: fingerprint %s: %w", ErrWalkFailed, path, err)
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	return nil
}

// outputMatches reports whether the file at path exists and hashes to want.
func outputMatches(fs afero.Fs, path, want string) bool {
	if want == "" {
		return false
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return false
	}
	return digestOf(data) == want
}
