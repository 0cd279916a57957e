// Package encoding normalizes reportlet bytes to UTF-8 and recognizes binary
// payloads that cannot be embedded in an HTML report.
package encoding

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	sniffLen      = 512
	checkLen      = 1024
	nullThreshold = 0.15
)

var knownTextMIMETypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/javascript": true,
	"application/ecmascript": true,
	"application/yaml":       true,
	"image/svg+xml":          true,
	// Lets the null-byte check decide.
	"application/octet-stream": true,
}

var knownTextMIMESuffixes = []string{"+xml", "+json"}

// EncodingHandler converts reportlet content to UTF-8 and detects binary data.
type EncodingHandler interface {
	// DetectAndDecode converts content to UTF-8. It returns the IANA name of
	// the source encoding and whether the detection was certain. On a
	// conversion error the original content is returned with the error.
	DetectAndDecode(content []byte) (utf8Content []byte, detectedEncoding string, certainty bool, err error)

	// IsBinary reports whether content looks like binary data, based on
	// MIME sniffing and the share of null bytes.
	IsBinary(content []byte) bool
}

type goCharsetEncodingHandler struct {
	defaultEncoding string
}

// NewGoCharsetEncodingHandler creates a handler backed by
// golang.org/x/net/html/charset. defaultEncoding is used when detection is
// uncertain; leave it empty to trust the detector.
func NewGoCharsetEncodingHandler(defaultEncoding string) EncodingHandler {
	return &goCharsetEncodingHandler{defaultEncoding: defaultEncoding}
}

func (h *goCharsetEncodingHandler) DetectAndDecode(content []byte) ([]byte, string, bool, error) {
	enc, name, certain := charset.DetermineEncoding(content, "")

	if !certain && h.defaultEncoding != "" {
		if fallback, fallbackName := charset.Lookup(h.defaultEncoding); fallback != nil {
			enc, name, certain = fallback, fallbackName, true
		}
	}

	if enc == nil {
		if name == "" {
			name = "utf-8"
		}
		return content, name, certain, nil
	}
	if name == "" {
		name = "unknown"
	}

	// A leading BOM wins over the detected encoding and is stripped.
	decoder := unicode.BOMOverride(enc.NewDecoder())
	utf8Content, err := io.ReadAll(transform.NewReader(bytes.NewReader(content), decoder))
	if err != nil {
		return content, name, certain, fmt.Errorf("failed to convert from '%s': %w", name, err)
	}
	return utf8Content, name, certain, nil
}

func isMIMETextBased(contentType string) bool {
	mimeType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if strings.HasPrefix(mimeType, "text/") || knownTextMIMETypes[mimeType] {
		return true
	}
	for _, suffix := range knownTextMIMESuffixes {
		if strings.HasSuffix(mimeType, suffix) {
			return true
		}
	}
	return false
}

func (h *goCharsetEncodingHandler) IsBinary(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	if !isMIMETextBased(http.DetectContentType(content[:min(len(content), sniffLen)])) {
		return true
	}
	window := content[:min(len(content), checkLen)]
	nulls := bytes.Count(window, []byte{0x00})
	return float64(nulls)/float64(len(window)) > nullThreshold
}
