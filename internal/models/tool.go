package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TargetType enumerates the input kinds adapters accept.
type TargetType string

const (
	TargetUsername TargetType = "username"
	TargetEmail    TargetType = "email"
	TargetPhone    TargetType = "phone"
	TargetDomain   TargetType = "domain"
	TargetFile     TargetType = "file"
)

// ParseTargetType validates a user-supplied target type.
func ParseTargetType(value string) (TargetType, error) {
	switch t := TargetType(strings.ToLower(strings.TrimSpace(value))); t {
	case TargetUsername, TargetEmail, TargetPhone, TargetDomain, TargetFile:
		return t, nil
	default:
		return "", fmt.Errorf("unknown target type %q", value)
	}
}

// ExecutionMode selects how tools are executed.
type ExecutionMode string

const (
	ModeContainer ExecutionMode = "container"
	ModeNative    ExecutionMode = "native"
	ModeHybrid    ExecutionMode = "hybrid"
)

// ParseExecutionMode validates a user-supplied execution mode.
func ParseExecutionMode(value string) (ExecutionMode, error) {
	switch m := ExecutionMode(strings.ToLower(strings.TrimSpace(value))); m {
	case ModeContainer, ModeNative, ModeHybrid:
		return m, nil
	case "":
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", value)
	}
}

// ResourceProfile bounds a single tool invocation.
type ResourceProfile struct {
	CPUShares   int64
	MemoryBytes int64
	PidsLimit   int64
	Timeout     time.Duration
}

// ToolDescriptor is the immutable description of an integrated tool.
type ToolDescriptor struct {
	ID            string
	ImageRef      string
	NativeBinary  string
	Capabilities  []TargetType
	Resources     ResourceProfile
	NetworkAccess bool
	EnvAllowList  []string
	InstallHint   string
}

// Accepts reports whether the tool handles the given target type.
func (d ToolDescriptor) Accepts(t TargetType) bool {
	for _, c := range d.Capabilities {
		if c == t {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with d.
func (d ToolDescriptor) Clone() ToolDescriptor {
	out := d
	out.Capabilities = append([]TargetType(nil), d.Capabilities...)
	out.EnvAllowList = append([]string(nil), d.EnvAllowList...)
	return out
}

// CapabilityNames renders capabilities as sorted strings.
func (d ToolDescriptor) CapabilityNames() []string {
	names := make([]string, 0, len(d.Capabilities))
	for _, c := range d.Capabilities {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return names
}
