package plugins

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-osint/internal/adapters"
	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

const toolPlugin = `
plugin "ghunt-lite" {
  tier         = "tool"
  capabilities = ["email"]
}

tool {
  binary  = "ghunt"
  args    = ["email", lower(target)]
  network = true
  env     = ["HTTPS_PROXY"]
  timeout = "90s"
  memory  = 256
}

parse {
  format     = "lines"
  kind       = "username_hit"
  pattern    = "^\\[\\+\\] (?P<service>\\w+): (?P<value>\\S+)$"
  confidence = 0.65
}
`

func writePlugin(t *testing.T, root, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for file, content := range files {
		if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
	}
	return dir
}

func scanOne(t *testing.T, scanner *Scanner, files map[string]string) (*Definition, models.PluginManifest) {
	t.Helper()
	dir := writePlugin(t, t.TempDir(), "p", files)
	src, err := LoadSource(dir)
	if err != nil {
		t.Fatalf("load source: %v", err)
	}
	return scanner.Scan(src)
}

func ruleSet(m models.PluginManifest) map[string]bool {
	out := make(map[string]bool)
	for _, v := range m.Verdict.Violations {
		out[v.Rule] = true
	}
	return out
}

type recordingRunner struct {
	req  models.ExecutionRequest
	desc models.ToolDescriptor
}

func (r *recordingRunner) Run(ctx context.Context, desc models.ToolDescriptor, req models.ExecutionRequest) models.ExecutionResult {
	r.req, r.desc = req, desc
	return models.ExecutionResult{ToolID: desc.ID}
}

func TestScanAdmitsToolPlugin(t *testing.T) {
	def, manifest := scanOne(t, NewScanner("", nil), map[string]string{ManifestFile: toolPlugin})
	if !manifest.Verdict.Admitted || def == nil {
		t.Fatalf("expected admission, got %+v", manifest.Verdict.Violations)
	}
	if manifest.ID != "ghunt-lite" || manifest.Tier != models.TierTool || len(manifest.Fingerprint) != 64 {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
	if def.Tool.Binary != "ghunt" || !def.Tool.Network || def.Tool.Resources.MemoryBytes != 256<<20 {
		t.Fatalf("unexpected tool spec %+v", def.Tool)
	}
	if def.Parse.Kind != models.KindUsernameHit || def.Parse.Confidence != 0.65 {
		t.Fatalf("unexpected parse spec %+v", def.Parse)
	}
}

func TestScanRejectsDynamicEvalPlugin(t *testing.T) {
	root := t.TempDir()
	evil := strings.Replace(toolPlugin, `lower(target)`, `eval("__import__('os')")`, 1)
	writePlugin(t, root, "evil", map[string]string{ManifestFile: strings.Replace(evil, `"ghunt-lite"`, `"evil-lite"`, 1)})
	writePlugin(t, root, "good", map[string]string{ManifestFile: toolPlugin})

	registry, err := NewRegistry(nil, nil, Options{Dirs: []string{root}})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if _, ok := registry.Lookup("evil-lite"); ok {
		t.Fatalf("rejected plugin must not be admitted")
	}
	if all := registry.Adapters(); len(all) != 1 || all[0].Descriptor().ID != "ghunt-lite" {
		t.Fatalf("expected only the clean plugin, got %d adapters", len(all))
	}
	rejected := registry.Rejected()
	if len(rejected) != 1 || rejected[0].ID != "evil-lite" {
		t.Fatalf("expected evil-lite in the audit list, got %+v", rejected)
	}
	if !ruleSet(rejected[0])[RuleDynamicEval] {
		t.Fatalf("expected dynamic-eval violation, got %+v", rejected[0].Verdict.Violations)
	}
	if len(registry.Manifests()) != 2 {
		t.Fatalf("expected both manifests recorded, got %d", len(registry.Manifests()))
	}
}

func TestRegistryAdmitsPluginAfterBuiltins(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "ghunt", map[string]string{ManifestFile: toolPlugin})
	builtins := adapters.Builtins(nil)

	registry, err := NewRegistry(nil, builtins, Options{Dirs: []string{root, filepath.Join(root, "missing")}})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	all := registry.Adapters()
	if len(all) != len(builtins)+1 {
		t.Fatalf("expected %d adapters, got %d", len(builtins)+1, len(all))
	}
	if all[len(all)-1].Descriptor().ID != "ghunt-lite" {
		t.Fatalf("expected plugin after builtins, got %s", all[len(all)-1].Descriptor().ID)
	}
	if _, ok := registry.Lookup("ghunt-lite"); !ok {
		t.Fatalf("expected plugin lookup")
	}
}

func TestRegistryRejectsShadowingPlugin(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "fake-sherlock", map[string]string{ManifestFile: strings.Replace(toolPlugin, `"ghunt-lite"`, `"sherlock"`, 1)})

	registry, err := NewRegistry(nil, adapters.Builtins(nil), Options{Dirs: []string{root}})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	rejected := registry.Rejected()
	if len(rejected) != 1 || !ruleSet(rejected[0])[RuleShadowing] {
		t.Fatalf("expected shadowing rejection, got %+v", rejected)
	}
	a, _ := registry.Lookup("sherlock")
	if _, isPlugin := a.(*Declarative); isPlugin {
		t.Fatalf("builtin sherlock was replaced")
	}
}

func TestRegistryRejectsUnloadablePluginOnly(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "a-good", map[string]string{ManifestFile: toolPlugin})
	bad := writePlugin(t, root, "b-bad", map[string]string{ManifestFile: strings.Replace(toolPlugin, `"ghunt-lite"`, `"other"`, 1)})
	if err := os.Symlink(filepath.Join(bad, ManifestFile), filepath.Join(bad, "extra.hcl")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	registry, err := NewRegistry(nil, nil, Options{Dirs: []string{root}})
	if err != nil {
		t.Fatalf("expected one bad plugin not to fail the registry, got %v", err)
	}
	if _, ok := registry.Lookup("ghunt-lite"); !ok {
		t.Fatalf("expected ghunt-lite to be admitted")
	}
	rejected := registry.Rejected()
	if len(rejected) != 1 || rejected[0].Dir != bad || !ruleSet(rejected[0])[RuleManifest] {
		t.Fatalf("expected manifest rejection for %s, got %+v", bad, rejected)
	}
	if !errors.Is(rejection(rejected[0]), utils.ErrPluginRejected) {
		t.Fatalf("expected ErrPluginRejected")
	}
}

func TestScannerDenyList(t *testing.T) {
	header := "plugin \"p\" {\n  capabilities = [\"username\"]\n}\n"
	parse := "parse {\n  kind = \"username_hit\"\n  pattern = \"(.+)\"\n}\n"
	cases := []struct {
		name string
		tool string
		rest string
		rule string
	}{
		{"command exec call", `binary = "x"` + "\n" + `args = [system("id")]`, "", RuleCommandExec},
		{"exec block", `binary = "x"`, "provisioner \"local-exec\" {\n}\n", RuleCommandExec},
		{"script block", "binary = \"x\"\nscript {\n}", "", RuleDynamicEval},
		{"templatefile", `binary = "x"` + "\n" + `args = [templatefile("a.tpl", {})]`, "", RuleDynamicEval},
		{"shell binary", `binary = "/bin/bash"`, "", RuleShellInterpolation},
		{"windows shell", `binary = "C:\\Windows\\System32\\cmd.exe"`, "", RuleShellInterpolation},
		{"env launcher", `binary = "/usr/bin/env"` + "\n" + `args = ["FOO=1", "sh", "-c", "id"]`, "", RuleShellInterpolation},
		{"busybox launcher", `binary = "busybox"` + "\n" + `args = ["ash"]`, "", RuleShellInterpolation},
		{"absolute file", `binary = "x"` + "\n" + `args = [file("/etc/passwd")]`, "", RuleFilesystemEscape},
		{"relative escape", `binary = "x"` + "\n" + `args = [file("../../secret")]`, "", RuleFilesystemEscape},
		{"dynamic file path", `binary = "x"` + "\n" + `args = [file(target)]`, "", RuleFilesystemEscape},
		{"secret env", `binary = "x"` + "\n" + `env = ["AWS_SECRET_ACCESS_KEY"]`, "", RuleEnvForwarding},
		{"tool workflow", `binary = "x"`, "workflow \"w\" {\n  target = \"username\"\n  step {\n    tools = [\"x\"]\n  }\n}\n", RuleTierViolation},
		{"tool weights", `binary = "x"`, "weights {\n  x = 1\n}\n", RuleTierViolation},
		{"non-literal binary", `binary = lower("X")`, "", RuleCommandExec},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := header + "tool {\n" + tc.tool + "\n}\n" + parse + tc.rest
			def, manifest := scanOne(t, NewScanner("", nil), map[string]string{ManifestFile: src})
			if def != nil || manifest.Verdict.Admitted {
				t.Fatalf("expected rejection for %q", src)
			}
			if !ruleSet(manifest)[tc.rule] {
				t.Fatalf("expected rule %s, got %+v", tc.rule, manifest.Verdict.Violations)
			}
		})
	}
}

func TestScannerBinaryOutsideToolBlock(t *testing.T) {
	src := "plugin \"p\" {\n  capabilities = [\"username\"]\n  binary = \"sh\"\n}\n"
	_, manifest := scanOne(t, NewScanner("", nil), map[string]string{ManifestFile: src})
	if !ruleSet(manifest)[RuleCommandExec] {
		t.Fatalf("expected command-exec, got %+v", manifest.Verdict.Violations)
	}
}

func TestScannerSyntaxError(t *testing.T) {
	_, manifest := scanOne(t, NewScanner("", nil), map[string]string{ManifestFile: "plugin \"broken\" {\n"})
	if manifest.Verdict.Admitted || !ruleSet(manifest)[RuleSyntax] {
		t.Fatalf("expected syntax rejection, got %+v", manifest.Verdict)
	}
}

func TestScannerChecksEverySourceFile(t *testing.T) {
	_, manifest := scanOne(t, NewScanner("", nil), map[string]string{
		ManifestFile: toolPlugin,
		"extra.hcl":  "hook \"after\" {\n}\n",
	})
	if !ruleSet(manifest)[RuleCommandExec] {
		t.Fatalf("expected violation from secondary file, got %+v", manifest.Verdict.Violations)
	}
}

func TestScannerAllowsConfinedFile(t *testing.T) {
	src := strings.Replace(toolPlugin, `["email", lower(target)]`, `["--token", trimspace(file("token.txt")), target]`, 1)
	root := t.TempDir()
	writePlugin(t, root, "p", map[string]string{ManifestFile: src, "token.txt": "s3cr3t\n"})

	registry, err := NewRegistry(nil, nil, Options{Dirs: []string{root}})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	a, ok := registry.Lookup("ghunt-lite")
	if !ok {
		t.Fatalf("expected admission, got %+v", registry.Rejected())
	}
	runner := &recordingRunner{}
	if res := a.Execute(context.Background(), runner, "bob@example.com", nil); res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if got := strings.Join(runner.req.Args, " "); got != "--token s3cr3t bob@example.com" {
		t.Fatalf("unexpected args %q", got)
	}
	if a.(*Declarative).Manifest().Tier != models.TierTool {
		t.Fatalf("unexpected tier")
	}
}

const corePlugin = `
plugin "deep-domain" {
  tier         = "core"
  capabilities = ["domain"]
  reviewed_by  = "maintainers@example.com"
}

workflow "deep_domain" {
  target = "domain"
  step {
    tools = ["subfinder", "theharvester"]
  }
  step {
    tools = ["h8mail"]
    feed  = "email"
  }
}

weights {
  subfinder    = 0.9
  theharvester = 0.6
}
`

func TestCoreTierRequiresReviewedFingerprint(t *testing.T) {
	root := t.TempDir()
	dir := writePlugin(t, root, "deep", map[string]string{ManifestFile: corePlugin})

	registry, err := NewRegistry(nil, nil, Options{Dirs: []string{root}})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	rejected := registry.Rejected()
	if len(rejected) != 1 || !ruleSet(rejected[0])[RuleCoreReview] {
		t.Fatalf("expected core-review rejection, got %+v", rejected)
	}
	if len(registry.Workflows()) != 0 {
		t.Fatalf("rejected core plugin contributed workflows")
	}

	src, err := LoadSource(dir)
	if err != nil {
		t.Fatalf("load source: %v", err)
	}
	registry, err = NewRegistry(nil, nil, Options{Dirs: []string{root}, ReviewedFingerprints: []string{strings.ToUpper(src.Fingerprint)}})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if len(registry.Rejected()) != 0 {
		t.Fatalf("expected admission, got %+v", registry.Rejected())
	}
	workflows := registry.Workflows()
	if len(workflows) != 1 || workflows[0].Name != "deep_domain" || len(workflows[0].Steps) != 2 {
		t.Fatalf("unexpected workflows %+v", workflows)
	}
	if workflows[0].Steps[1].Feed != models.KindEmail || workflows[0].Source != "plugin:deep-domain" {
		t.Fatalf("unexpected step %+v", workflows[0])
	}
	if w := registry.Weights(); w["subfinder"] != 0.9 || w["theharvester"] != 0.6 {
		t.Fatalf("unexpected weights %v", w)
	}
	if len(registry.Adapters()) != 0 {
		t.Fatalf("core plugin without a tool block must not add an adapter")
	}
}

func TestCoreTierStricterRules(t *testing.T) {
	src := `
plugin "core-tool" {
  tier         = "core"
  reviewed_by  = "maintainers@example.com"
}

tool {
  binary  = "x"
  args    = [file("a.txt"), lower(target)]
  network = true
  env     = ["HTTPS_PROXY"]
}

parse {
  kind    = "email"
  pattern = "(.+)"
}
`
	dir := writePlugin(t, t.TempDir(), "core", map[string]string{ManifestFile: src, "a.txt": "x"})
	source, err := LoadSource(dir)
	if err != nil {
		t.Fatalf("load source: %v", err)
	}
	_, manifest := NewScanner("", []string{source.Fingerprint}).Scan(source)
	rules := ruleSet(manifest)
	for _, want := range []string{RuleCoreCapabilities, RuleCoreNetwork, RuleCoreEnv, RuleCoreFunction} {
		if !rules[want] {
			t.Fatalf("expected %s, got %+v", want, manifest.Verdict.Violations)
		}
	}
	if rules[RuleCoreReview] {
		t.Fatalf("reviewed fingerprint should satisfy core-review")
	}
}

func TestFingerprintCoversEveryFile(t *testing.T) {
	dir := writePlugin(t, t.TempDir(), "p", map[string]string{ManifestFile: toolPlugin, "extra.hcl": "# a"})
	first, err := LoadSource(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "extra.hcl"), []byte("# b"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	second, err := LoadSource(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if first.Fingerprint == second.Fingerprint {
		t.Fatalf("expected fingerprint to change with any source file")
	}
	if names := second.FileNames(); names[0] != ManifestFile || names[1] != "extra.hcl" {
		t.Fatalf("unexpected file order %v", names)
	}
}

func TestDeclarativeExecuteAndParse(t *testing.T) {
	def, manifest := scanOne(t, NewScanner("", nil), map[string]string{ManifestFile: toolPlugin})
	if def == nil {
		t.Fatalf("expected admission, got %+v", manifest.Verdict.Violations)
	}
	a := newDeclarative(def, nil, "")

	runner := &recordingRunner{}
	if res := a.Execute(context.Background(), runner, "Bob@Example.com", nil); res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if got := strings.Join(runner.req.Args, " "); got != "email bob@example.com" {
		t.Fatalf("unexpected args %q", got)
	}
	if runner.desc.EnvAllowList[0] != "HTTPS_PROXY" || runner.desc.Resources.Timeout.Seconds() != 90 {
		t.Fatalf("unexpected descriptor %+v", runner.desc)
	}

	res := a.Execute(context.Background(), runner, "-oProxyCommand=x", nil)
	if !errors.Is(res.Err, utils.ErrInvalidTarget) {
		t.Fatalf("expected invalid target, got %v", res.Err)
	}
	res = a.Execute(context.Background(), runner, "bob@example.com", map[string]string{adapters.OptionTargetType: "domain"})
	if !errors.Is(res.Err, utils.ErrInvalidTarget) {
		t.Fatalf("expected capability mismatch, got %v", res.Err)
	}

	findings, err := a.ParseResults([]byte("[+] Maps: https://maps.example.com/u/1\nnoise\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 || findings[0].Value != "https://maps.example.com/u/1" || findings[0].RawMetadata["service"] != "Maps" {
		t.Fatalf("unexpected findings %+v", findings)
	}
	if findings[0].SourceTool != "ghunt-lite" || findings[0].Confidence != 0.65 {
		t.Fatalf("unexpected attribution %+v", findings[0])
	}
}

func TestDeclarativeJSONLines(t *testing.T) {
	src := `
plugin "crt" {
  capabilities = ["domain"]
}
tool {
  binary  = "crtsh"
  args    = ["--json", target]
  network = true
}
parse {
  format      = "jsonl"
  kind        = "subdomain"
  value_field = "name"
  url_field   = "link"
}
`
	def, manifest := scanOne(t, NewScanner("", nil), map[string]string{ManifestFile: src})
	if def == nil {
		t.Fatalf("expected admission, got %+v", manifest.Verdict.Violations)
	}
	a := newDeclarative(def, nil, "")
	findings, err := a.ParseResults([]byte("{\"name\":\"a.example.com\",\"link\":\"https://crt.sh/?id=1\"}\n{bad}\n"))
	if len(findings) != 1 || findings[0].SourceURL != "https://crt.sh/?id=1" {
		t.Fatalf("unexpected findings %+v", findings)
	}
	if !errors.Is(err, utils.ErrParse) {
		t.Fatalf("expected partial parse error, got %v", err)
	}
}
