// Package runner decodes crash files by piping them through an external
// command. The command reads the raw crash file on stdin and must print the
// record as JSON on stdout.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/motcorr/qcreport/pkg/report/crash"
)

const (
	// maxLogOutputBytes limits the size of stdout captured in logs on JSON errors.
	maxLogOutputBytes = 1024
	// maxDecoderReadBytes caps the stdout/stderr captured from the decoder process.
	maxDecoderReadBytes = 10 * 1024 * 1024
	// waitDelay bounds how long Wait waits for output pipes after the process is killed.
	waitDelay = 2 * time.Second
)

var (
	// ErrDecoderConfig indicates an unusable decoder command.
	ErrDecoderConfig = errors.New("crash decoder misconfigured")
	// ErrDecoderTimeout indicates the decoder was cancelled or exceeded its timeout.
	ErrDecoderTimeout = errors.New("crash decoder timed out")
	// ErrDecoderNonZeroExit indicates the decoder process exited with an error.
	ErrDecoderNonZeroExit = errors.New("crash decoder exited with error")
	// ErrDecoderBadOutput indicates the decoder output was empty, oversized or not a record.
	ErrDecoderBadOutput = errors.New("crash decoder produced invalid output")
)

// ExecDecoder implements crash.Decoder by running an external command.
type ExecDecoder struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecDecoder creates a decoder running command for every crash file.
// A zero timeout disables the per-file deadline.
func NewExecDecoder(command []string, timeout time.Duration, loggerHandler slog.Handler) (*ExecDecoder, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, fmt.Errorf("%w: command cannot be empty", ErrDecoderConfig)
	}
	if timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout %s", ErrDecoderConfig, timeout)
	}
	if loggerHandler == nil {
		loggerHandler = slog.NewTextHandler(io.Discard, nil)
	}
	return &ExecDecoder{
		command: append([]string(nil), command...),
		timeout: timeout,
		logger: slog.New(loggerHandler).With(
			slog.String("component", "crashDecoder"),
			slog.String("command", command[0]),
		),
	}, nil
}

// Decode implements crash.Decoder.
func (d *ExecDecoder) Decode(ctx context.Context, data []byte) (crash.Record, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	stdout := &cappedBuffer{limit: maxDecoderReadBytes}
	stderr := &cappedBuffer{limit: maxDecoderReadBytes}
	cmd := exec.CommandContext(ctx, d.command[0], d.command[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Children that inherit the pipes must not keep Wait blocked after a kill.
	cmd.WaitDelay = waitDelay

	if startErr := cmd.Start(); startErr != nil {
		d.logger.Error("Failed to start crash decoder", slog.String("error", startErr.Error()))
		return crash.Record{}, fmt.Errorf("%w: start %q: %w", ErrDecoderConfig, d.command[0], startErr)
	}
	waitErr := cmd.Wait()
	stdoutData := stdout.buf.Bytes()
	stderrString := strings.TrimSpace(stderr.buf.String())
	logArgs := []any{}
	if stderrString != "" {
		logArgs = append(logArgs, slog.String("decoder_stderr", stderrString))
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		d.logger.Warn("Crash decoder cancelled or timed out", append(logArgs, slog.String("error", ctxErr.Error()))...)
		return crash.Record{}, fmt.Errorf("%w: %w", ErrDecoderTimeout, ctxErr)
	}
	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		d.logger.Warn("Crash decoder failed", append(logArgs, slog.Int("exitCode", exitCode))...)
		return crash.Record{}, fmt.Errorf("%w: exit code %d: %w", ErrDecoderNonZeroExit, exitCode, waitErr)
	}
	if stdout.overflow {
		return crash.Record{}, fmt.Errorf("%w: stdout exceeded %d bytes", ErrDecoderBadOutput, maxDecoderReadBytes)
	}
	if len(bytes.TrimSpace(stdoutData)) == 0 {
		return crash.Record{}, fmt.Errorf("%w: empty stdout", ErrDecoderBadOutput)
	}

	var rec crash.Record
	if err := json.Unmarshal(stdoutData, &rec); err != nil {
		prefix := string(stdoutData)
		if len(prefix) > maxLogOutputBytes {
			prefix = prefix[:maxLogOutputBytes] + "... (truncated)"
		}
		d.logger.Warn("Crash decoder output is not a record", append(logArgs, slog.String("stdout_prefix", prefix))...)
		return crash.Record{}, fmt.Errorf("%w: %w", ErrDecoderBadOutput, err)
	}
	if stderrString != "" {
		d.logger.Debug("Crash decoder stderr on success", logArgs...)
	}
	return rec, nil
}

// cappedBuffer keeps the first limit bytes written to it and discards the rest.
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room < len(p) {
		c.overflow = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return c.buf.Write(p)
}
