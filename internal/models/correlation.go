package models

// CorrelationGroup is the set of findings judged to describe the same real-world fact.
type CorrelationGroup struct {
	ID                  string      `json:"id"`
	Kind                FindingKind `json:"kind"`
	PrimaryValue        string      `json:"primary_value"`
	NormalizedValue     string      `json:"normalized_value"`
	Members             []Finding   `json:"members"`
	AggregateConfidence float64     `json:"aggregate_confidence"`
	ContributingTools   []string    `json:"contributing_tools"`
}

// LinkReason explains why two groups are connected.
type LinkReason string

const (
	// LinkSharedTarget connects groups of different kinds produced for the same input value.
	LinkSharedTarget LinkReason = "shared_target"
	// LinkCrossPlatform connects account hits for one username on different platforms.
	LinkCrossPlatform LinkReason = "cross_platform"
)

// GroupLink is a connection between two correlation groups.
type GroupLink struct {
	From   string     `json:"from"`
	To     string     `json:"to"`
	Reason LinkReason `json:"reason"`
	Key    string     `json:"key"`
}
