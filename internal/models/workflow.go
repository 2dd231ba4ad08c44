package models

// Workflow is a named, ordered list of steps for one target type.
type Workflow struct {
	Name   string         `yaml:"name" json:"name"`
	Target TargetType     `yaml:"target" json:"target"`
	Steps  []WorkflowStep `yaml:"steps" json:"steps"`
	// Source names where the workflow came from (embedded, file, or plugin ID).
	Source string `yaml:"-" json:"source,omitempty"`
}

// WorkflowStep runs its tools in parallel. Steps after the first take their
// targets from the previous step's findings of kind Feed.
type WorkflowStep struct {
	Tools []string    `yaml:"tools" json:"tools"`
	Feed  FindingKind `yaml:"feed,omitempty" json:"feed,omitempty"`
}
