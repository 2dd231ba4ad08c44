package adapters

import (
	"time"

	"github.com/miradorstack/mirador-osint/internal/executor"
	"github.com/miradorstack/mirador-osint/internal/models"
)

// ImageLookup resolves the pinned image of a tool. The trust store satisfies it.
type ImageLookup interface {
	Lookup(toolID string) (string, bool)
}

type builtinSpec struct {
	id      string
	binary  string
	kind    models.TargetType
	network bool
	timeout time.Duration
	memory  int64
	hint    string
}

var builtinSpecs = []builtinSpec{
	{id: "sherlock", binary: "sherlock", kind: models.TargetUsername, network: true, timeout: 10 * time.Minute,
		hint: "pip install sherlock-project"},
	{id: "holehe", binary: "holehe", kind: models.TargetEmail, network: true,
		hint: "pip install holehe"},
	{id: "h8mail", binary: "h8mail", kind: models.TargetEmail, network: true,
		hint: "pip install h8mail"},
	{id: "theharvester", binary: "theHarvester", kind: models.TargetDomain, network: true, timeout: 10 * time.Minute,
		hint: "pip install theHarvester"},
	{id: "subfinder", binary: "subfinder", kind: models.TargetDomain, network: true,
		hint: "go install github.com/projectdiscovery/subfinder/v2/cmd/subfinder@latest"},
	{id: "phoneinfoga", binary: "phoneinfoga", kind: models.TargetPhone, network: true, timeout: 2 * time.Minute,
		hint: "See https://github.com/sundowndev/phoneinfoga#installation"},
	{id: "exiftool", binary: "exiftool", kind: models.TargetFile, timeout: time.Minute, memory: 256 << 20,
		hint: "See https://exiftool.org/install.html"},
}

func (s builtinSpec) descriptor(images ImageLookup) models.ToolDescriptor {
	res := executor.DefaultResources()
	if s.timeout > 0 {
		res.Timeout = s.timeout
	}
	if s.memory > 0 {
		res.MemoryBytes = s.memory
	}
	desc := models.ToolDescriptor{
		ID:            s.id,
		NativeBinary:  s.binary,
		Capabilities:  []models.TargetType{s.kind},
		Resources:     res,
		NetworkAccess: s.network,
		InstallHint:   s.hint,
	}
	if s.network {
		desc.EnvAllowList = append([]string(nil), executor.ProxyVariables...)
	}
	if images != nil {
		desc.ImageRef, _ = images.Lookup(s.id)
	}
	return desc
}

// Builtins returns the compiled-in adapters in registry order. Images come
// from the trust store; a tool without a pinned image can still run natively.
func Builtins(images ImageLookup) []ToolAdapter {
	out := make([]ToolAdapter, 0, len(builtinSpecs))
	for _, spec := range builtinSpecs {
		desc := spec.descriptor(images)
		var a ToolAdapter
		switch spec.id {
		case "sherlock":
			a = &Sherlock{base{desc}}
		case "holehe":
			a = &Holehe{base{desc}}
		case "h8mail":
			a = &H8mail{base{desc}}
		case "theharvester":
			a = &TheHarvester{base: base{desc}, emails: defaultEmailExtractor()}
		case "subfinder":
			a = &Subfinder{base{desc}}
		case "phoneinfoga":
			a = &PhoneInfoga{base{desc}}
		case "exiftool":
			a = &Exiftool{base{desc}}
		}
		out = append(out, a)
	}
	return out
}

// BuiltinIDs lists the compiled-in tool IDs. Plugins may not reuse them.
func BuiltinIDs() []string {
	ids := make([]string, 0, len(builtinSpecs))
	for _, spec := range builtinSpecs {
		ids = append(ids, spec.id)
	}
	return ids
}
