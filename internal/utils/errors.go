package utils

import (
	"errors"
	"fmt"
)

var (
	// ErrUntrustedImage marks an image reference that is not pinned in the trust store.
	ErrUntrustedImage = errors.New("untrusted image")
	// ErrToolNotAvailable marks a tool whose binary or runtime cannot be found.
	ErrToolNotAvailable = errors.New("tool not available")
	// ErrExecutionTimeout marks an invocation that exceeded its deadline.
	ErrExecutionTimeout = errors.New("execution timeout")
	// ErrPluginRejected marks a plugin that failed static analysis.
	ErrPluginRejected = errors.New("plugin rejected")
	// ErrParse marks tool output that could only be partially parsed.
	ErrParse = errors.New("parse error")
	// ErrDaemonUnavailable marks an unreachable container daemon.
	ErrDaemonUnavailable = errors.New("container daemon unavailable")
	// ErrImagePull marks a failed image pull.
	ErrImagePull = errors.New("image pull failed")
	// ErrNoAdapters is returned when no adapter applies to a run.
	ErrNoAdapters = errors.New("no applicable adapters")
	// ErrEmptyTrustStore is returned when container execution has nothing to trust.
	ErrEmptyTrustStore = errors.New("image trust store is empty")
	// ErrInvalidTarget is returned when a target fails validation.
	ErrInvalidTarget = errors.New("invalid target")
)

// AppError wraps an operation, the tool involved (if any), a human-facing message, and the underlying error.
type AppError struct {
	Op   string
	Tool string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	prefix := e.Op
	if e.Tool != "" {
		prefix = fmt.Sprintf("%s[%s]", e.Op, e.Tool)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", prefix, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// NewToolError constructs an AppError scoped to a single tool.
func NewToolError(op, tool, msg string, err error) error {
	return &AppError{Op: op, Tool: tool, Msg: msg, Err: err}
}

// ParseError annotates a partial parse. Findings recovered before the fault remain valid.
type ParseError struct {
	Tool   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: parse %s output at line %d: %s", ErrParse, e.Tool, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: parse %s output: %s", ErrParse, e.Tool, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}
