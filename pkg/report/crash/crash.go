// Package crash decodes crash records written by failed pipeline nodes.
//
// A crash record carries the traceback of the failure and, when the node got
// as far as being scheduled, the identity, working directory and inputs of the
// failing node. The on-disk encoding is pluggable through Decoder.
package crash

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrDecode indicates that a crash record could not be decoded.
	ErrDecode = errors.New("failed to decode crash record")

	// ErrUnsupportedFormat indicates that no configured decoder accepts the payload.
	ErrUnsupportedFormat = errors.New("unsupported crash record format")
)

// Format names accepted by NewDecoder.
const (
	FormatAuto    = "auto"
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
	FormatExec    = "exec"
)

// maxDecompressedBytes caps gunzipped payloads.
const maxDecompressedBytes = 64 * 1024 * 1024

// Node identifies the pipeline node that failed.
type Node struct {
	Name      string         `json:"name" msgpack:"name"`
	FullName  string         `json:"fullname,omitempty" msgpack:"fullname,omitempty"`
	BaseDir   string         `json:"base_dir,omitempty" msgpack:"base_dir,omitempty"`
	OutputDir string         `json:"output_dir,omitempty" msgpack:"output_dir,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty" msgpack:"inputs,omitempty"`
}

// DisplayName prefers the fully qualified node name.
func (n *Node) DisplayName() string {
	if n == nil {
		return ""
	}
	if n.FullName != "" {
		return n.FullName
	}
	return n.Name
}

// Record is a decoded crash file. Traceback holds one entry per formatted
// traceback chunk; each chunk may span several lines.
type Record struct {
	Traceback []string `json:"traceback" msgpack:"traceback"`
	Node      *Node    `json:"node,omitempty" msgpack:"node,omitempty"`
}

// Decoder turns the raw bytes of a crash file into a Record.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (Record, error)
}

// Lines splits every traceback chunk into its lines, dropping one trailing
// empty line per chunk.
func (r Record) Lines() [][]string {
	groups := make([][]string, 0, len(r.Traceback))
	for _, chunk := range r.Traceback {
		lines := strings.Split(chunk, "\n")
		if n := len(lines); n > 1 && lines[n-1] == "" {
			lines = lines[:n-1]
		}
		groups = append(groups, lines)
	}
	return groups
}

// isGzip reports whether data starts with the gzip magic number.
func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// maybeGunzip transparently decompresses gzip payloads.
func maybeGunzip(data []byte) ([]byte, error) {
	if !isGzip(data) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip header: %w", ErrDecode, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxDecompressedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip body: %w", ErrDecode, err)
	}
	return out, nil
}

// JSONDecoder decodes JSON crash records, optionally gzip-compressed.
type JSONDecoder struct{}

// Decode implements Decoder.
func (JSONDecoder) Decode(_ context.Context, data []byte) (Record, error) {
	raw, err := maybeGunzip(data)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: json: %w", ErrDecode, err)
	}
	return rec, nil
}

// MsgpackDecoder decodes msgpack crash records, optionally gzip-compressed.
type MsgpackDecoder struct{}

// Decode implements Decoder.
func (MsgpackDecoder) Decode(_ context.Context, data []byte) (Record, error) {
	raw, err := maybeGunzip(data)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: msgpack: %w", ErrDecode, err)
	}
	return rec, nil
}

// ChainDecoder tries each decoder in order and returns the first success.
type ChainDecoder struct {
	Decoders []Decoder
}

// Decode implements Decoder.
func (c ChainDecoder) Decode(ctx context.Context, data []byte) (Record, error) {
	if len(c.Decoders) == 0 {
		return Record{}, ErrUnsupportedFormat
	}
	var errs []error
	for _, d := range c.Decoders {
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
		rec, err := d.Decode(ctx, data)
		if err == nil {
			return rec, nil
		}
		errs = append(errs, err)
	}
	return Record{}, fmt.Errorf("%w: %w", ErrUnsupportedFormat, errors.Join(errs...))
}

// NewDecoder returns the built-in decoder for format. The "exec" format is
// provided by the CLI and is rejected here.
func NewDecoder(format string) (Decoder, error) {
	switch strings.ToLower(format) {
	case "", FormatAuto:
		return ChainDecoder{Decoders: []Decoder{JSONDecoder{}, MsgpackDecoder{}}}, nil
	case FormatJSON:
		return JSONDecoder{}, nil
	case FormatMsgpack:
		return MsgpackDecoder{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}
