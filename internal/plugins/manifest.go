package plugins

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/miradorstack/mirador-osint/internal/executor"
	"github.com/miradorstack/mirador-osint/internal/models"
)

// Definition is an admitted plugin, decoded and ready to build.
type Definition struct {
	Manifest  models.PluginManifest
	Tool      *ToolSpec
	Parse     *ParseSpec
	Workflows []models.Workflow
	Weights   map[string]float64
}

// ToolSpec is the decoded tool block.
type ToolSpec struct {
	Binary string
	// Args is evaluated per invocation; nil means the target alone.
	Args      hclsyntax.Expression
	Network   bool
	Env       []string
	Resources models.ResourceProfile
}

// ParseSpec is the decoded parse block.
type ParseSpec struct {
	Format     string
	Kind       models.FindingKind
	Pattern    *regexp.Regexp
	ValueField string
	URLField   string
	Confidence float64
}

const (
	formatLines = "lines"
	formatJSONL = "jsonl"
)

var (
	pluginIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

	knownAttributes = map[string]map[string]struct{}{
		"plugin":   setOf("tier", "capabilities", "reviewed_by", "description", "version"),
		"tool":     setOf("binary", "args", "network", "env", "timeout", "memory", "cpu_shares", "pids"),
		"parse":    setOf("format", "kind", "pattern", "value_field", "url_field", "confidence"),
		"workflow": setOf("target"),
		"step":     setOf("tools", "feed"),
	}
)

func setOf(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

type parsedFile struct {
	name string
	body *hclsyntax.Body
}

// parseSource parses every file of src. Any syntax error rejects the plugin.
func parseSource(src Source) ([]parsedFile, []models.Violation) {
	var (
		files      []parsedFile
		violations []models.Violation
	)
	for _, name := range src.FileNames() {
		file, diags := hclsyntax.ParseConfig(src.Files[name], filepath.Join(src.Dir, name), hcl.InitialPos)
		for _, diag := range diags {
			if diag.Severity != hcl.DiagError {
				continue
			}
			v := models.Violation{Rule: RuleSyntax, Detail: diag.Summary}
			if diag.Detail != "" {
				v.Detail += ": " + diag.Detail
			}
			if diag.Subject != nil {
				v.Position = diag.Subject.String()
			}
			violations = append(violations, v)
		}
		if diags.HasErrors() || file == nil {
			continue
		}
		body, ok := file.Body.(*hclsyntax.Body)
		if !ok {
			violations = append(violations, models.Violation{Rule: RuleSyntax, Detail: name + ": not native HCL syntax"})
			continue
		}
		files = append(files, parsedFile{name: name, body: body})
	}
	return files, violations
}

type header struct {
	id           string
	tier         models.TrustTier
	capabilities []models.TargetType
	reviewedBy   string
}

type decoder struct {
	violations []models.Violation
}

func (d *decoder) fail(rule, detail string, rng hcl.Range) {
	d.violations = append(d.violations, models.Violation{Rule: rule, Detail: detail, Position: rng.String()})
}

// topBlocks returns the top-level blocks of one type across all files, in file order.
func topBlocks(files []parsedFile, typ string) []*hclsyntax.Block {
	var out []*hclsyntax.Block
	for _, f := range files {
		for _, blk := range f.body.Blocks {
			if blk.Type == typ {
				out = append(out, blk)
			}
		}
	}
	return out
}

func sortedAttributes(body *hclsyntax.Body) []*hclsyntax.Attribute {
	out := make([]*hclsyntax.Attribute, 0, len(body.Attributes))
	for _, attr := range body.Attributes {
		out = append(out, attr)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SrcRange, out[j].SrcRange
		if a.Filename != b.Filename {
			return a.Filename < b.Filename
		}
		return a.Start.Byte < b.Start.Byte
	})
	return out
}

// literal evaluates expr without any variables or functions and converts it to ty.
func literal(expr hclsyntax.Expression, ty cty.Type) (cty.Value, error) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("must be a literal value")
	}
	val, err := convert.Convert(val, ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("must be %s", ty.FriendlyName())
	}
	if val.IsNull() || !val.IsWhollyKnown() {
		return cty.NilVal, fmt.Errorf("must not be null")
	}
	return val, nil
}

func literalString(expr hclsyntax.Expression) (string, error) {
	val, err := literal(expr, cty.String)
	if err != nil {
		return "", err
	}
	return val.AsString(), nil
}

func literalStrings(expr hclsyntax.Expression) ([]string, error) {
	val, err := literal(expr, cty.List(cty.String))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, val.LengthInt())
	for _, v := range val.AsValueSlice() {
		if v.IsNull() {
			return nil, fmt.Errorf("must not contain null")
		}
		out = append(out, v.AsString())
	}
	return out, nil
}

func literalNumber(expr hclsyntax.Expression) (float64, error) {
	val, err := literal(expr, cty.Number)
	if err != nil {
		return 0, err
	}
	f, _ := val.AsBigFloat().Float64()
	return f, nil
}

func literalBool(expr hclsyntax.Expression) (bool, error) {
	val, err := literal(expr, cty.Bool)
	if err != nil {
		return false, err
	}
	return val.True(), nil
}

func (d *decoder) checkAttributes(blk *hclsyntax.Block) {
	known := knownAttributes[blk.Type]
	for _, attr := range sortedAttributes(blk.Body) {
		if _, ok := known[attr.Name]; !ok {
			d.fail(RuleManifest, fmt.Sprintf("unsupported attribute %q in %s block", attr.Name, blk.Type), attr.NameRange)
		}
	}
}

func (d *decoder) header(files []parsedFile) header {
	h := header{tier: models.TierTool}
	blocks := topBlocks(files, "plugin")
	if len(blocks) != 1 {
		rng := hcl.Range{Filename: ManifestFile}
		if len(blocks) > 1 {
			rng = blocks[1].DefRange()
		}
		d.fail(RuleManifest, fmt.Sprintf("exactly one plugin block required, found %d", len(blocks)), rng)
		return h
	}
	blk := blocks[0]
	if len(blk.Labels) != 1 || !pluginIDPattern.MatchString(blk.Labels[0]) {
		d.fail(RuleManifest, "plugin block needs one label matching "+pluginIDPattern.String(), blk.DefRange())
	} else {
		h.id = blk.Labels[0]
	}
	d.checkAttributes(blk)

	attrs := blk.Body.Attributes
	if attr, ok := attrs["tier"]; ok {
		tier, err := literalString(attr.Expr)
		switch {
		case err != nil:
			d.fail(RuleManifest, "tier "+err.Error(), attr.Expr.Range())
			// Scan an unreadable tier with the stricter rule set.
			h.tier = models.TierCore
		case tier == string(models.TierTool) || tier == string(models.TierCore):
			h.tier = models.TrustTier(tier)
		default:
			d.fail(RuleManifest, fmt.Sprintf("unknown tier %q", tier), attr.Expr.Range())
			h.tier = models.TierCore
		}
	}
	if attr, ok := attrs["capabilities"]; ok {
		names, err := literalStrings(attr.Expr)
		if err != nil {
			d.fail(RuleManifest, "capabilities "+err.Error(), attr.Expr.Range())
		}
		for _, name := range names {
			t, err := models.ParseTargetType(name)
			if err != nil {
				d.fail(RuleManifest, err.Error(), attr.Expr.Range())
				continue
			}
			h.capabilities = append(h.capabilities, t)
		}
	}
	if attr, ok := attrs["reviewed_by"]; ok {
		who, err := literalString(attr.Expr)
		if err != nil {
			d.fail(RuleManifest, "reviewed_by "+err.Error(), attr.Expr.Range())
		}
		h.reviewedBy = who
	}
	return h
}

// definition decodes the tool, parse, workflow and weights blocks.
func (d *decoder) definition(files []parsedFile, h header) *Definition {
	def := &Definition{}

	tools := topBlocks(files, "tool")
	parses := topBlocks(files, "parse")
	if len(tools) > 1 {
		d.fail(RuleManifest, "at most one tool block allowed", tools[1].DefRange())
	}
	if len(parses) > 1 {
		d.fail(RuleManifest, "at most one parse block allowed", parses[1].DefRange())
	}
	switch {
	case len(tools) == 0 && h.tier == models.TierTool:
		d.fail(RuleManifest, "tool-tier plugins need a tool block", hcl.Range{Filename: ManifestFile})
	case len(tools) > 0 && len(parses) == 0:
		d.fail(RuleManifest, "a tool block needs a parse block", tools[0].DefRange())
	case len(tools) == 0 && len(parses) > 0:
		d.fail(RuleManifest, "a parse block needs a tool block", parses[0].DefRange())
	}
	if len(tools) > 0 {
		if len(h.capabilities) == 0 {
			d.fail(RuleManifest, "a tool plugin must declare capabilities", tools[0].DefRange())
		}
		def.Tool = d.tool(tools[0])
	}
	if len(parses) > 0 {
		def.Parse = d.parse(parses[0])
	}
	for _, blk := range topBlocks(files, "workflow") {
		if wf, ok := d.workflow(blk, h.id); ok {
			def.Workflows = append(def.Workflows, wf)
		}
	}
	for _, blk := range topBlocks(files, "weights") {
		if def.Weights == nil {
			def.Weights = make(map[string]float64)
		}
		for _, attr := range sortedAttributes(blk.Body) {
			w, err := literalNumber(attr.Expr)
			if err != nil || w < 0 || w > 1 {
				d.fail(RuleManifest, fmt.Sprintf("weight %q must be a number in [0,1]", attr.Name), attr.SrcRange)
				continue
			}
			def.Weights[attr.Name] = w
		}
	}
	return def
}

func (d *decoder) tool(blk *hclsyntax.Block) *ToolSpec {
	d.checkAttributes(blk)
	spec := &ToolSpec{Resources: executor.DefaultResources()}
	attrs := blk.Body.Attributes

	if attr, ok := attrs["binary"]; ok {
		if bin, err := literalString(attr.Expr); err == nil && bin != "" {
			spec.Binary = bin
		}
	} else {
		d.fail(RuleManifest, "tool block needs a binary", blk.DefRange())
	}
	if attr, ok := attrs["args"]; ok {
		spec.Args = attr.Expr
	}
	if attr, ok := attrs["network"]; ok {
		on, err := literalBool(attr.Expr)
		if err != nil {
			d.fail(RuleManifest, "network "+err.Error(), attr.Expr.Range())
		}
		spec.Network = on
	}
	if attr, ok := attrs["env"]; ok {
		spec.Env, _ = literalStrings(attr.Expr)
	}
	if attr, ok := attrs["timeout"]; ok {
		raw, err := literalString(attr.Expr)
		timeout, perr := time.ParseDuration(raw)
		if err != nil || perr != nil || timeout <= 0 || timeout > time.Hour {
			d.fail(RuleManifest, "timeout must be a duration string up to 1h", attr.Expr.Range())
		} else {
			spec.Resources.Timeout = timeout
		}
	}
	limits := []struct {
		name  string
		max   float64
		scale int64
		dst   *int64
	}{
		{"memory", 8192, 1 << 20, &spec.Resources.MemoryBytes},
		{"cpu_shares", 1024, 1, &spec.Resources.CPUShares},
		{"pids", 4096, 1, &spec.Resources.PidsLimit},
	}
	for _, l := range limits {
		attr, ok := attrs[l.name]
		if !ok {
			continue
		}
		n, err := literalNumber(attr.Expr)
		if err != nil || n < 1 || n > l.max || n != float64(int64(n)) {
			d.fail(RuleManifest, fmt.Sprintf("%s must be an integer in [1,%d]", l.name, int64(l.max)), attr.Expr.Range())
			continue
		}
		*l.dst = int64(n) * l.scale
	}
	return spec
}

func (d *decoder) parse(blk *hclsyntax.Block) *ParseSpec {
	d.checkAttributes(blk)
	spec := &ParseSpec{Format: formatLines, Confidence: 0.5}
	attrs := blk.Body.Attributes
	str := func(name string) string {
		attr, ok := attrs[name]
		if !ok {
			return ""
		}
		s, err := literalString(attr.Expr)
		if err != nil {
			d.fail(RuleManifest, name+" "+err.Error(), attr.Expr.Range())
		}
		return s
	}

	if f := str("format"); f != "" {
		spec.Format = f
	}
	spec.Kind = models.FindingKind(str("kind"))
	if !spec.Kind.Valid() {
		d.fail(RuleManifest, fmt.Sprintf("unknown finding kind %q", spec.Kind), blk.DefRange())
	}
	if attr, ok := attrs["confidence"]; ok {
		c, err := literalNumber(attr.Expr)
		if err != nil || c <= 0 || c > 1 {
			d.fail(RuleManifest, "confidence must be a number in (0,1]", attr.Expr.Range())
		} else {
			spec.Confidence = c
		}
	}

	switch spec.Format {
	case formatLines:
		raw := str("pattern")
		re, err := regexp.Compile(raw)
		switch {
		case raw == "":
			d.fail(RuleManifest, "lines format needs a pattern", blk.DefRange())
		case err != nil:
			d.fail(RuleManifest, "pattern: "+err.Error(), attrs["pattern"].Expr.Range())
		case re.NumSubexp() == 0 || (re.SubexpNames()[1] != "" && re.SubexpIndex("value") < 0):
			d.fail(RuleManifest, "pattern needs a value group or an unnamed first group", attrs["pattern"].Expr.Range())
		default:
			spec.Pattern = re
		}
	case formatJSONL:
		spec.ValueField = str("value_field")
		spec.URLField = str("url_field")
		if spec.ValueField == "" {
			d.fail(RuleManifest, "jsonl format needs value_field", blk.DefRange())
		}
	default:
		d.fail(RuleManifest, fmt.Sprintf("unknown parse format %q", spec.Format), blk.DefRange())
	}
	return spec
}

func (d *decoder) workflow(blk *hclsyntax.Block, pluginID string) (models.Workflow, bool) {
	d.checkAttributes(blk)
	ok := true
	wf := models.Workflow{Source: "plugin:" + pluginID}
	if len(blk.Labels) != 1 || blk.Labels[0] == "" {
		d.fail(RuleManifest, "workflow block needs a name label", blk.DefRange())
		ok = false
	} else {
		wf.Name = blk.Labels[0]
	}
	if attr, found := blk.Body.Attributes["target"]; found {
		raw, err := literalString(attr.Expr)
		t, perr := models.ParseTargetType(raw)
		if err != nil || perr != nil {
			d.fail(RuleManifest, "workflow target must be a target type", attr.Expr.Range())
			ok = false
		}
		wf.Target = t
	} else {
		d.fail(RuleManifest, "workflow needs a target", blk.DefRange())
		ok = false
	}
	for _, step := range blk.Body.Blocks {
		if step.Type != "step" {
			d.fail(RuleManifest, fmt.Sprintf("unsupported block %q in workflow", step.Type), step.DefRange())
			ok = false
			continue
		}
		d.checkAttributes(step)
		var s models.WorkflowStep
		if attr, found := step.Body.Attributes["tools"]; found {
			tools, err := literalStrings(attr.Expr)
			if err != nil || len(tools) == 0 {
				d.fail(RuleManifest, "step tools must be a non-empty list", attr.Expr.Range())
				ok = false
			}
			s.Tools = tools
		} else {
			d.fail(RuleManifest, "step needs tools", step.DefRange())
			ok = false
		}
		if attr, found := step.Body.Attributes["feed"]; found {
			raw, err := literalString(attr.Expr)
			if err != nil || !models.FindingKind(raw).Valid() {
				d.fail(RuleManifest, "step feed must be a finding kind", attr.Expr.Range())
				ok = false
			}
			s.Feed = models.FindingKind(raw)
		}
		if len(wf.Steps) > 0 && s.Feed == "" {
			d.fail(RuleManifest, "chained steps need a feed kind", step.DefRange())
			ok = false
		}
		wf.Steps = append(wf.Steps, s)
	}
	if len(wf.Steps) == 0 {
		d.fail(RuleManifest, "workflow needs at least one step", blk.DefRange())
		ok = false
	}
	return wf, ok
}
