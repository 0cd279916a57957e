// Package language classifies reportlet files (svg, html, ...) so the report
// template can style each embedded payload by kind.
package language

import (
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"
)

const (
	// KindUnknown is returned for empty content with no override.
	KindUnknown = "unknown"
	// KindPlainText is returned when nothing more specific matched.
	KindPlainText = "plaintext"
)

// KindDetector names the format of a reportlet.
//
// Detect never fails: it falls back to KindPlainText or KindUnknown. The
// returned identifier is lowercase and contains no spaces.
type KindDetector interface {
	Detect(content []byte, filePath string) string
}

type goEnryDetector struct {
	overrides map[string]string // extension with leading dot -> kind
}

// NewGoEnryDetector creates a detector backed by go-enry. overrides maps file
// extensions to kinds and wins over detection; keys and values are
// normalized to lowercase and keys get a leading dot.
func NewGoEnryDetector(overrides map[string]string) KindDetector {
	normalized := make(map[string]string, len(overrides))
	for ext, kind := range overrides {
		ext = strings.ToLower(strings.TrimSpace(ext))
		kind = normalizeKind(kind)
		if ext == "" || ext == "." || kind == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[ext] = kind
	}
	return &goEnryDetector{overrides: normalized}
}

func normalizeKind(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}

// Detect checks overrides, then an unambiguous extension, then enry's
// content classifier, then special filenames.
func (d *goEnryDetector) Detect(content []byte, filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if kind, ok := d.overrides[ext]; ok {
		return kind
	}
	if lang, safe := enry.GetLanguageByExtension(filePath); safe && lang != "" && lang != "Text" {
		return normalizeKind(lang)
	}
	if len(content) == 0 {
		return KindUnknown
	}
	if lang := enry.GetLanguage(filepath.Base(filePath), content); lang != "" && lang != "Text" {
		return normalizeKind(lang)
	}
	if lang, safe := enry.GetLanguageByFilename(filePath); safe && lang != "" && lang != "Text" {
		return normalizeKind(lang)
	}
	return KindPlainText
}
