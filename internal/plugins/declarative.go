package plugins

import (
	"context"
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/miradorstack/mirador-osint/internal/adapters"
	"github.com/miradorstack/mirador-osint/internal/extractors"
	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

// Declarative is the adapter built from an admitted plugin definition.
type Declarative struct {
	def  *Definition
	desc models.ToolDescriptor
	root string
}

func newDeclarative(def *Definition, images adapters.ImageLookup, allowedRoot string) *Declarative {
	desc := models.ToolDescriptor{
		ID:            def.Manifest.ID,
		NativeBinary:  def.Tool.Binary,
		Capabilities:  append([]models.TargetType(nil), def.Manifest.Capabilities...),
		Resources:     def.Tool.Resources,
		NetworkAccess: def.Tool.Network,
		EnvAllowList:  append([]string(nil), def.Tool.Env...),
		InstallHint:   fmt.Sprintf("install %s (plugin %s)", def.Tool.Binary, def.Manifest.Dir),
	}
	if images != nil {
		desc.ImageRef, _ = images.Lookup(desc.ID)
	}
	root := allowedRoot
	if root == "" {
		root = def.Manifest.Dir
	}
	return &Declarative{def: def, desc: desc, root: root}
}

func (d *Declarative) Descriptor() models.ToolDescriptor {
	return d.desc.Clone()
}

// Manifest returns the admission record of the plugin.
func (d *Declarative) Manifest() models.PluginManifest {
	return d.def.Manifest
}

// Execute evaluates the plugin's args for target. The target type comes from
// the target_type option, or the first capability that validates target.
func (d *Declarative) Execute(ctx context.Context, runner adapters.Runner, target string, opts map[string]string) models.ExecutionResult {
	kind, err := d.targetType(target, opts)
	if err != nil {
		return models.ExecutionResult{
			ToolID:     d.desc.ID,
			ExitStatus: -1,
			Err:        utils.NewToolError("execute", d.desc.ID, "invalid target", err),
		}
	}
	return adapters.Invoke(ctx, runner, d.desc, kind, target, opts, func(clean string) ([]string, error) {
		return d.argv(clean, opts)
	})
}

func (d *Declarative) targetType(target string, opts map[string]string) (models.TargetType, error) {
	if want := models.TargetType(opts[adapters.OptionTargetType]); want != "" {
		if !d.desc.Accepts(want) {
			return "", fmt.Errorf("%w: %s does not accept %s targets", utils.ErrInvalidTarget, d.desc.ID, want)
		}
		return want, nil
	}
	var lastErr error
	for _, kind := range d.desc.Capabilities {
		if _, err := adapters.ValidateTarget(kind, target); err != nil {
			lastErr = err
			continue
		}
		return kind, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s declares no capabilities", utils.ErrInvalidTarget, d.desc.ID)
	}
	return "", lastErr
}

func (d *Declarative) argv(target string, opts map[string]string) ([]string, error) {
	if d.def.Tool.Args == nil {
		return []string{target}, nil
	}
	val, diags := d.def.Tool.Args.Value(evalContext(d.root, d.def.Manifest.Dir, target, opts))
	if diags.HasErrors() {
		return nil, diags
	}
	list, err := convert.Convert(val, cty.List(cty.String))
	if err != nil {
		return nil, fmt.Errorf("args must be a list of strings: %w", err)
	}
	if list.IsNull() || !list.IsWhollyKnown() {
		return nil, fmt.Errorf("args evaluated to null")
	}
	out := make([]string, 0, list.LengthInt())
	for _, v := range list.AsValueSlice() {
		if v.IsNull() {
			return nil, fmt.Errorf("args contains null")
		}
		out = append(out, v.AsString())
	}
	return out, nil
}

// ParseResults applies the declared line pattern or JSON field mapping.
func (d *Declarative) ParseResults(raw []byte) ([]models.Finding, error) {
	spec := d.def.Parse
	now := time.Now().UTC()
	newFinding := func(value string) models.Finding {
		return models.Finding{
			Kind:         spec.Kind,
			Value:        value,
			SourceTool:   d.desc.ID,
			Confidence:   spec.Confidence,
			DiscoveredAt: now,
		}
	}

	var out []models.Finding
	switch spec.Format {
	case formatJSONL:
		records, bad := extractors.JSONLines(raw)
		for _, rec := range records {
			value, ok := rec.String(spec.ValueField)
			if !ok || value == "" {
				continue
			}
			f := newFinding(value)
			if spec.URLField != "" {
				f.SourceURL, _ = rec.String(spec.URLField)
			}
			f.RawMetadata = extractors.Flatten(rec.Fields)
			out = append(out, f)
		}
		if len(bad) > 0 {
			return out, &utils.ParseError{Tool: d.desc.ID, Line: bad[0], Reason: fmt.Sprintf("%d malformed JSON line(s)", len(bad))}
		}
	default:
		lines, overflow := extractors.Lines(raw)
		for _, c := range extractors.Match(lines, spec.Pattern) {
			value := c.Groups["value"]
			if value == "" {
				continue
			}
			f := newFinding(value)
			f.SourceURL = c.Groups["url"]
			for k, v := range c.Groups {
				if k == "value" || k == "url" {
					continue
				}
				if f.RawMetadata == nil {
					f.RawMetadata = make(map[string]string)
				}
				f.RawMetadata[k] = v
			}
			out = append(out, f)
		}
		if overflow > 0 {
			return out, &utils.ParseError{Tool: d.desc.ID, Line: overflow, Reason: "line exceeds scan limit"}
		}
	}
	return out, nil
}
