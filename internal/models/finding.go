package models

import "time"

// FindingKind enumerates normalized intelligence categories.
type FindingKind string

const (
	KindUsernameHit   FindingKind = "username_hit"
	KindEmail         FindingKind = "email"
	KindSubdomain     FindingKind = "subdomain"
	KindBreachRecord  FindingKind = "breach_record"
	KindMetadataField FindingKind = "metadata_field"
	KindPhoneInfo     FindingKind = "phone_info"
)

// Valid reports whether k is a known finding kind.
func (k FindingKind) Valid() bool {
	switch k {
	case KindUsernameHit, KindEmail, KindSubdomain, KindBreachRecord, KindMetadataField, KindPhoneInfo:
		return true
	}
	return false
}

// TargetType maps a finding kind to the target type it can feed into a chained step.
func (k FindingKind) TargetType() (TargetType, bool) {
	switch k {
	case KindEmail:
		return TargetEmail, true
	case KindSubdomain:
		return TargetDomain, true
	case KindPhoneInfo:
		return TargetPhone, true
	}
	return "", false
}

// Finding is a single normalized fact extracted from one tool's output.
type Finding struct {
	Kind         FindingKind       `json:"kind"`
	Value        string            `json:"value"`
	SourceTool   string            `json:"source_tool"`
	SourceURL    string            `json:"source_url,omitempty"`
	Confidence   float64           `json:"confidence"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	Target       string            `json:"target,omitempty"`
	Seq          int               `json:"-"`
	RawMetadata  map[string]string `json:"raw_metadata,omitempty"`
}
