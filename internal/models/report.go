package models

import "time"

// InvocationReport records one adapter invocation inside a run.
type InvocationReport struct {
	Target     string        `json:"target"`
	Step       int           `json:"step"`
	Mode       ExecutionMode `json:"mode,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	ExitStatus int           `json:"exit_status"`
	Duration   time.Duration `json:"duration"`
	Truncated  bool          `json:"truncated,omitempty"`
	Cached     bool          `json:"cached,omitempty"`
	Findings   int           `json:"findings"`
	ParseError string        `json:"parse_error,omitempty"`

	Result ExecutionResult `json:"-"`
	Err    error           `json:"-"`
}

// ToolReport aggregates every invocation of one tool in a run.
type ToolReport struct {
	ToolID      string             `json:"tool"`
	Outcome     Outcome            `json:"outcome"`
	Reason      string             `json:"reason,omitempty"`
	Findings    int                `json:"findings"`
	Invocations []InvocationReport `json:"invocations,omitempty"`
}

// StepReport summarises one step of a (possibly chained) workflow.
type StepReport struct {
	Index       int      `json:"index"`
	Tools       []string `json:"tools"`
	Inputs      []string `json:"inputs"`
	Invocations int      `json:"invocations"`
	Outcome     Outcome  `json:"outcome"`
}

// Report is the normalized output of a workflow run handed to reporting collaborators.
type Report struct {
	RunID      string             `json:"run_id"`
	Target     string             `json:"target"`
	TargetType TargetType         `json:"target_type"`
	Workflow   string             `json:"workflow,omitempty"`
	Mode       ExecutionMode      `json:"mode"`
	StartedAt  time.Time          `json:"started_at"`
	Duration   time.Duration      `json:"duration"`
	Tools      []ToolReport       `json:"tools"`
	Steps      []StepReport       `json:"steps"`
	Groups     []CorrelationGroup `json:"groups"`
	Links      []GroupLink        `json:"links,omitempty"`
	Rejected   []PluginManifest   `json:"rejected_plugins,omitempty"`
	Errors     []string           `json:"errors,omitempty"`
}
