package models

// TrustTier bounds what an admitted plugin may implement.
type TrustTier string

const (
	// TierTool plugins may only implement the adapter contract.
	TierTool TrustTier = "tool"
	// TierCore plugins may also extend scheduling and correlation.
	TierCore TrustTier = "core"
)

// Violation is a single deny-list hit reported by the security scanner.
type Violation struct {
	Rule     string `json:"rule"`
	Detail   string `json:"detail"`
	Position string `json:"position,omitempty"`
}

// Verdict is the scanner's admission decision for a plugin.
type Verdict struct {
	Admitted   bool        `json:"admitted"`
	Violations []Violation `json:"violations,omitempty"`
}

// PluginManifest describes a discovered plugin candidate.
type PluginManifest struct {
	ID           string       `json:"id"`
	Tier         TrustTier    `json:"tier"`
	Capabilities []TargetType `json:"capabilities"`
	Fingerprint  string       `json:"fingerprint"`
	Dir          string       `json:"dir"`
	ReviewedBy   string       `json:"reviewed_by,omitempty"`
	Verdict      Verdict      `json:"verdict"`
}
