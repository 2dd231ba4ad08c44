package models

import "time"

// InputPlaceholder in an argument vector is replaced by the runner with the
// location of ExecutionRequest.InputFile (host path natively, copied path in a container).
const InputPlaceholder = "@input"

// InputFile is a host file handed to a tool. Containers receive a copy, never a mount.
type InputFile struct {
	HostPath string
	Name     string
}

// ExecutionRequest describes one tool invocation.
type ExecutionRequest struct {
	ToolID    string
	Target    string
	Options   map[string]string
	Mode      ExecutionMode
	Args      []string
	InputFile *InputFile
	Ephemeral bool
}

// ExecutionResult is the immutable outcome of one invocation.
type ExecutionResult struct {
	ToolID     string
	Mode       ExecutionMode
	ExitStatus int
	Output     []byte
	Stderr     []byte
	Truncated  bool
	Duration   time.Duration
	Err        error
	Cached     bool
}

// Succeeded reports whether the invocation ran to completion with a zero exit status.
func (r ExecutionResult) Succeeded() bool {
	return r.Err == nil && r.ExitStatus == 0
}

// Outcome is the per-tool status surfaced to callers.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
	// OutcomeEmpty marks a chained step that had no input values to act on.
	OutcomeEmpty Outcome = "empty"
)

// Availability is the pre-flight verdict for one tool.
type Availability struct {
	ToolID      string        `json:"tool"`
	Available   bool          `json:"available"`
	PlannedMode ExecutionMode `json:"plannedMode,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Hint        string        `json:"hint,omitempty"`
}
