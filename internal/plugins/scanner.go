package plugins

import (
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/miradorstack/mirador-osint/internal/executor"
	"github.com/miradorstack/mirador-osint/internal/models"
)

// Rules reported by the scanner and the registry.
const (
	RuleSyntax             = "syntax"
	RuleManifest           = "manifest"
	RuleDynamicEval        = "dynamic-eval"
	RuleCommandExec        = "command-exec"
	RuleShellInterpolation = "shell-interpolation"
	RuleFilesystemEscape   = "filesystem-escape"
	RuleEnvForwarding      = "env-forwarding"
	RuleTierViolation      = "tier-violation"
	RuleShadowing          = "shadowing"
	RuleCoreCapabilities   = "core-capabilities"
	RuleCoreReview         = "core-review"
	RuleCoreNetwork        = "core-network"
	RuleCoreEnv            = "core-env"
	RuleCoreFunction       = "core-function"
)

var (
	evalFunctions = setOf("eval", "evaluate", "templatestring", "templatefile", "load", "import", "include", "require", "compile")
	execFunctions = setOf("exec", "system", "shell", "spawn", "popen", "run", "command")
	fileFunctions = setOf("file", "fileexists", "filebase64", "readfile", "fileset", "abspath", "pathexpand")

	evalBlocks = setOf("script", "inline")
	execBlocks = setOf("exec", "command", "hook", "provisioner", "local-exec")
	coreBlocks = setOf("workflow", "weights")
	topLevel   = setOf("plugin", "tool", "parse", "workflow", "weights")

	shells    = setOf("sh", "bash", "zsh", "dash", "ash", "ksh", "fish", "cmd", "cmd.exe", "powershell", "pwsh")
	launchers = setOf("env", "busybox")
)

// Scanner statically analyses plugin sources before anything is built from them.
// It walks the HCL syntax tree; it never matches on source text.
type Scanner struct {
	allowedRoot string
	reviewed    map[string]struct{}
}

// NewScanner builds a scanner. An empty allowedRoot confines file access to
// each plugin's own directory. reviewed lists fingerprints of Core-tier
// sources that a maintainer has signed off.
func NewScanner(allowedRoot string, reviewed []string) *Scanner {
	set := make(map[string]struct{}, len(reviewed))
	for _, fp := range reviewed {
		set[strings.ToLower(strings.TrimSpace(fp))] = struct{}{}
	}
	return &Scanner{allowedRoot: allowedRoot, reviewed: set}
}

// Scan parses and checks src. The returned manifest always carries the
// verdict; the definition is nil unless the plugin was admitted.
func (s *Scanner) Scan(src Source) (*Definition, models.PluginManifest) {
	manifest := models.PluginManifest{Dir: src.Dir, Fingerprint: src.Fingerprint, Tier: models.TierTool}
	if src.Err != nil {
		manifest.Verdict = models.Verdict{Violations: []models.Violation{{Rule: RuleManifest, Detail: src.Err.Error()}}}
		return nil, manifest
	}

	files, violations := parseSource(src)
	if len(violations) > 0 {
		manifest.Verdict = models.Verdict{Violations: violations}
		return nil, manifest
	}

	dec := &decoder{}
	h := dec.header(files)
	manifest.ID = h.id
	manifest.Tier = h.tier
	manifest.Capabilities = h.capabilities
	manifest.ReviewedBy = h.reviewedBy

	w := &walker{tier: h.tier, dir: src.Dir, root: s.allowedRoot}
	if w.root == "" {
		w.root = src.Dir
	}
	for _, f := range files {
		w.body(f.body, nil)
	}
	if h.tier == models.TierCore {
		s.coreChecks(w, h, src)
	}

	def := dec.definition(files, h)
	violations = append(w.violations, dec.violations...)
	manifest.Verdict = models.Verdict{Admitted: len(violations) == 0, Violations: violations}
	if !manifest.Verdict.Admitted {
		return nil, manifest
	}
	def.Manifest = manifest
	return def, manifest
}

func (s *Scanner) coreChecks(w *walker, h header, src Source) {
	if len(h.capabilities) == 0 {
		w.fail(RuleCoreCapabilities, "core plugins must declare capabilities", hcl.Range{Filename: ManifestFile})
	}
	if h.reviewedBy == "" {
		w.fail(RuleCoreReview, "core plugins must name a reviewer in reviewed_by", hcl.Range{Filename: ManifestFile})
	}
	if _, ok := s.reviewed[src.Fingerprint]; !ok {
		w.fail(RuleCoreReview, "fingerprint "+src.Fingerprint+" is not in the reviewed list", hcl.Range{Filename: ManifestFile})
	}
}

type walker struct {
	tier       models.TrustTier
	dir        string
	root       string
	violations []models.Violation
}

func (w *walker) fail(rule, detail string, rng hcl.Range) {
	w.violations = append(w.violations, models.Violation{Rule: rule, Detail: detail, Position: rng.String()})
}

func (w *walker) body(body *hclsyntax.Body, path []string) {
	for _, attr := range sortedAttributes(body) {
		w.attribute(attr, path)
	}
	for _, blk := range body.Blocks {
		w.block(blk, path)
	}
}

func (w *walker) block(blk *hclsyntax.Block, path []string) {
	typ := strings.ToLower(blk.Type)
	flagged := true
	switch {
	case has(evalBlocks, typ):
		w.fail(RuleDynamicEval, fmt.Sprintf("%s blocks are not allowed", blk.Type), blk.DefRange())
	case has(execBlocks, typ):
		w.fail(RuleCommandExec, fmt.Sprintf("%s blocks are not allowed", blk.Type), blk.DefRange())
	case has(coreBlocks, typ) && w.tier != models.TierCore:
		w.fail(RuleTierViolation, fmt.Sprintf("%s blocks require the core tier", blk.Type), blk.DefRange())
	default:
		flagged = false
	}
	if !flagged && len(path) == 0 && !has(topLevel, typ) {
		w.fail(RuleManifest, fmt.Sprintf("unsupported block %q", blk.Type), blk.DefRange())
	}
	if len(path) == 0 && typ == "tool" {
		w.tool(blk)
	}
	w.body(blk.Body, append(path, typ))
}

func (w *walker) attribute(attr *hclsyntax.Attribute, path []string) {
	inTool := len(path) == 1 && path[0] == "tool"
	if attr.Name == "binary" && !inTool {
		w.fail(RuleCommandExec, "binary may only be set in the tool block", attr.NameRange)
	}
	hclsyntax.VisitAll(attr.Expr, func(node hclsyntax.Node) hcl.Diagnostics {
		if call, ok := node.(*hclsyntax.FunctionCallExpr); ok {
			w.call(call)
		}
		return nil
	})
}

func (w *walker) call(call *hclsyntax.FunctionCallExpr) {
	name := strings.ToLower(call.Name)
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	switch {
	case has(evalFunctions, name):
		w.fail(RuleDynamicEval, fmt.Sprintf("call to %s() is not allowed", call.Name), call.NameRange)
	case has(execFunctions, name):
		w.fail(RuleCommandExec, fmt.Sprintf("call to %s() is not allowed", call.Name), call.NameRange)
	case has(fileFunctions, name):
		w.filesystem(call, name)
	}
	if w.tier == models.TierCore && !has(pureFunctionNames, name) {
		w.fail(RuleCoreFunction, fmt.Sprintf("core plugins may only call pure functions, found %s()", call.Name), call.NameRange)
	}
}

func (w *walker) filesystem(call *hclsyntax.FunctionCallExpr, name string) {
	if len(call.Args) == 0 {
		w.fail(RuleFilesystemEscape, name+"() without a path", call.NameRange)
		return
	}
	target, err := literalString(call.Args[0])
	if err != nil {
		w.fail(RuleFilesystemEscape, fmt.Sprintf("%s() path must be a string literal", name), call.Args[0].Range())
		return
	}
	if _, ok := confine(w.root, w.dir, target); !ok {
		w.fail(RuleFilesystemEscape, fmt.Sprintf("%s(%q) resolves outside %s", name, target, w.root), call.Args[0].Range())
	}
}

// tool checks the launch surface: the binary, its launcher arguments and the forwarded environment.
func (w *walker) tool(blk *hclsyntax.Block) {
	attrs := blk.Body.Attributes

	if attr, ok := attrs["binary"]; ok {
		bin, err := literalString(attr.Expr)
		switch {
		case err != nil:
			w.fail(RuleCommandExec, "binary must be a string literal", attr.Expr.Range())
		case isShell(bin):
			w.fail(RuleShellInterpolation, fmt.Sprintf("binary %q is a shell", bin), attr.Expr.Range())
		case has(launchers, baseName(bin)):
			w.launcherArgs(bin, attrs["args"])
		}
	}

	if attr, ok := attrs["env"]; ok {
		names, err := literalStrings(attr.Expr)
		if err != nil {
			w.fail(RuleEnvForwarding, "env must be a literal list of names", attr.Expr.Range())
		}
		for _, name := range names {
			if !has(proxyVariables, name) {
				w.fail(RuleEnvForwarding, fmt.Sprintf("env %q is not a proxy variable", name), attr.Expr.Range())
			}
		}
		if w.tier == models.TierCore && len(names) > 0 {
			w.fail(RuleCoreEnv, "core plugins may not forward environment variables", attr.Expr.Range())
		}
	}

	if attr, ok := attrs["network"]; ok && w.tier == models.TierCore {
		if on, err := literalBool(attr.Expr); err == nil && on {
			w.fail(RuleCoreNetwork, "core plugins may not request network access", attr.Expr.Range())
		}
	}
}

// launcherArgs rejects env/busybox launchers whose command is a shell.
func (w *walker) launcherArgs(bin string, args *hclsyntax.Attribute) {
	if args == nil {
		return
	}
	tuple, ok := args.Expr.(*hclsyntax.TupleConsExpr)
	if !ok {
		w.fail(RuleShellInterpolation, fmt.Sprintf("%s launcher needs a literal argument list", baseName(bin)), args.Expr.Range())
		return
	}
	for _, item := range tuple.Exprs {
		arg, err := literalString(item)
		if err != nil {
			w.fail(RuleShellInterpolation, fmt.Sprintf("%s launcher command must be a string literal", baseName(bin)), item.Range())
			return
		}
		if baseName(bin) == "env" && (strings.HasPrefix(arg, "-") || strings.Contains(arg, "=")) {
			continue
		}
		if isShell(arg) {
			w.fail(RuleShellInterpolation, fmt.Sprintf("%s launches shell %q", baseName(bin), arg), item.Range())
		}
		return
	}
}

var proxyVariables = setOf(executor.ProxyVariables...)

func baseName(bin string) string {
	return strings.ToLower(path.Base(strings.ReplaceAll(bin, "\\", "/")))
}

func isShell(bin string) bool {
	name := baseName(bin)
	return has(shells, name) || has(shells, strings.TrimSuffix(name, ".exe"))
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
