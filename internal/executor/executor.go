// Package executor defines the sandbox that runs generated programs.
//
// Generated code is untrusted. Implementations run it in a separate
// process (a container, or a bare interpreter in a scratch directory), with
// a wall-clock limit, and report how it exited. A program that fails is a
// normal result; the error return is for failures of the sandbox itself.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
)

// ExitTimedOut is the exit code reported when the time limit was hit,
// matching the coreutils timeout command.
const ExitTimedOut = 124

// MaxOutput caps how much of each output stream is kept.
const MaxOutput = 64 * 1024

const truncatedMarker = "[output truncated]"

// ExecutionRequest represents a request to execute Python code.
type ExecutionRequest struct {
	Code string `json:"code"`
}

// ExecutionResult represents the output and status of the code execution.
type ExecutionResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	TimedOut bool          `json:"timedOut"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the program did not run to a clean exit.
func (r *ExecutionResult) Failed() bool {
	return r.TimedOut || r.ExitCode != 0
}

// FailureMessage is a one-line description of why the program failed. For
// a Python traceback that is its last line, e.g.
// "AssertionError: add(2, 3) returned 6, expected 5".
func (r *ExecutionResult) FailureMessage(limit time.Duration) string {
	if r.TimedOut {
		return fmt.Sprintf("execution timed out after %s", limit)
	}
	if line := lastLine(r.Stderr); line != "" {
		return line
	}
	return fmt.Sprintf("process exited with status %d", r.ExitCode)
}

// Result labels for metrics.
func (r *ExecutionResult) Label() string {
	switch {
	case r.TimedOut:
		return "timeout"
	case r.ExitCode != 0:
		return "failed"
	default:
		return "passed"
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n\r\t "), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" && l != truncatedMarker {
			return l
		}
	}
	return ""
}

// Executor represents the core interface for running code in an isolated environment.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
	// Kind names the sandbox for logs and metrics ("docker", "process").
	Kind() string
	Close() error
}

// CappedBuffer keeps the first MaxOutput bytes written to it and discards
// the rest while still reporting success, so a chatty program cannot
// exhaust memory or block on a full pipe.
type CappedBuffer struct {
	buf       bytes.Buffer
	truncated bool
}

func (b *CappedBuffer) Write(p []byte) (int, error) {
	room := MaxOutput - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *CappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n" + truncatedMarker + "\n"
	}
	return b.buf.String()
}
