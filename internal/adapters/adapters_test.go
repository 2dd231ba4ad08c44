package adapters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-osint/internal/models"
	"github.com/miradorstack/mirador-osint/internal/trust"
	"github.com/miradorstack/mirador-osint/internal/utils"
)

type recordingRunner struct {
	calls []models.ExecutionRequest
	descs []models.ToolDescriptor
}

func (r *recordingRunner) Run(ctx context.Context, desc models.ToolDescriptor, req models.ExecutionRequest) models.ExecutionResult {
	r.calls = append(r.calls, req)
	r.descs = append(r.descs, desc)
	return models.ExecutionResult{ToolID: desc.ID}
}

func builtin(t *testing.T, id string) ToolAdapter {
	t.Helper()
	store, err := trust.Load("")
	if err != nil {
		t.Fatalf("load trust store: %v", err)
	}
	for _, a := range Builtins(store) {
		if a.Descriptor().ID == id {
			return a
		}
	}
	t.Fatalf("no builtin %s", id)
	return nil
}

func TestBuiltinsArePinned(t *testing.T) {
	store, err := trust.Load("")
	if err != nil {
		t.Fatalf("load trust store: %v", err)
	}
	adapters := Builtins(store)
	if len(adapters) != len(BuiltinIDs()) {
		t.Fatalf("expected %d builtins, got %d", len(BuiltinIDs()), len(adapters))
	}
	for _, a := range adapters {
		desc := a.Descriptor()
		if err := store.Verify(desc.ID, desc.ImageRef); err != nil {
			t.Fatalf("expected %s image trusted, got %v", desc.ID, err)
		}
		if desc.InstallHint == "" {
			t.Fatalf("expected install hint for %s", desc.ID)
		}
	}
	if builtin(t, "exiftool").Descriptor().NetworkAccess {
		t.Fatalf("exiftool must run without network")
	}
}

func TestExecuteBuildsArgv(t *testing.T) {
	cases := []struct {
		id     string
		target string
		opts   map[string]string
		want   string
	}{
		{"sherlock", "alice", nil, "alice --print-found"},
		{"holehe", "Alice@Example.com", nil, "alice@example.com --only-used --no-color"},
		{"h8mail", "bob@example.com", nil, "-t bob@example.com --json"},
		{"theharvester", "Example.COM", map[string]string{"sources": "bing,crtsh"}, "-d example.com -b bing,crtsh"},
		{"theharvester", "example.com", map[string]string{"sources": "bing;id"}, "-d example.com -b all"},
		{"subfinder", "example.com", nil, "-d example.com -silent -json"},
		{"phoneinfoga", "+1 (415) 555-2671", nil, "scan -n +14155552671"},
	}
	for _, tc := range cases {
		runner := &recordingRunner{}
		result := builtin(t, tc.id).Execute(context.Background(), runner, tc.target, tc.opts)
		if result.Err != nil {
			t.Fatalf("%s: unexpected error %v", tc.id, result.Err)
		}
		if got := strings.Join(runner.calls[0].Args, " "); got != tc.want {
			t.Fatalf("%s: expected argv %q, got %q", tc.id, tc.want, got)
		}
	}
}

func TestExecuteRejectsInvalidTargets(t *testing.T) {
	cases := map[string]string{
		"sherlock":    "--proxy=evil",
		"holehe":      "not-an-email",
		"subfinder":   "-d evil.com",
		"phoneinfoga": "call-me",
		"exiftool":    "/definitely/not/here.jpg",
	}
	for id, target := range cases {
		runner := &recordingRunner{}
		result := builtin(t, id).Execute(context.Background(), runner, target, nil)
		if !errors.Is(result.Err, utils.ErrInvalidTarget) {
			t.Fatalf("%s: expected ErrInvalidTarget for %q, got %v", id, target, result.Err)
		}
		if len(runner.calls) != 0 {
			t.Fatalf("%s: runner must not be called for an invalid target", id)
		}
	}
}

func TestValidateTarget(t *testing.T) {
	valid := []struct {
		kind  models.TargetType
		in    string
		canon string
	}{
		{models.TargetUsername, " alice_99 ", "alice_99"},
		{models.TargetEmail, "Bob@Example.ORG", "bob@example.org"},
		{models.TargetDomain, "Sub.Example.com.", "sub.example.com"},
		{models.TargetPhone, "+44 20 7946 0958", "+442079460958"},
	}
	for _, tc := range valid {
		got, err := ValidateTarget(tc.kind, tc.in)
		if err != nil || got != tc.canon {
			t.Fatalf("%s %q: expected %q, got %q (%v)", tc.kind, tc.in, tc.canon, got, err)
		}
	}

	invalid := []struct {
		kind models.TargetType
		in   string
	}{
		{models.TargetUsername, ""},
		{models.TargetUsername, "../etc/passwd"},
		{models.TargetUsername, "alice bob"},
		{models.TargetUsername, "-x"},
		{models.TargetEmail, "bob@"},
		{models.TargetDomain, "exa mple.com"},
		{models.TargetDomain, "localhost"},
		{models.TargetPhone, "12"},
		{models.TargetType("ip"), "1.2.3.4"},
	}
	for _, tc := range invalid {
		if _, err := ValidateTarget(tc.kind, tc.in); !errors.Is(err, utils.ErrInvalidTarget) {
			t.Fatalf("%s %q: expected ErrInvalidTarget, got %v", tc.kind, tc.in, err)
		}
	}

	dir := t.TempDir()
	if _, err := ValidateTarget(models.TargetFile, dir); err == nil {
		t.Fatalf("expected directory rejected")
	}
}

func TestExiftoolCopiesInputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Photo.JPG")
	if err := os.WriteFile(path, []byte("jpeg"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	runner := &recordingRunner{}
	result := builtin(t, "exiftool").Execute(context.Background(), runner, path, nil)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	req := runner.calls[0]
	if req.InputFile == nil || req.InputFile.HostPath != path || req.InputFile.Name != "input.jpg" {
		t.Fatalf("unexpected input file %+v", req.InputFile)
	}
	if req.Args[1] != models.InputPlaceholder {
		t.Fatalf("expected input placeholder, got %v", req.Args)
	}
}

func TestSherlockParse(t *testing.T) {
	raw := []byte(`[*] Checking username alice on:

[+] GitHub: https://github.com/alice
[+] Reddit: https://www.reddit.com/user/alice
[+] Broken: not-a-url

[*] Search completed with 2 results
`)
	findings, err := builtin(t, "sherlock").ParseResults(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}
	f := findings[0]
	if f.Kind != models.KindUsernameHit || f.Value != "https://github.com/alice" || f.RawMetadata["service"] != "GitHub" {
		t.Fatalf("unexpected finding %+v", f)
	}
	if f.SourceTool != "sherlock" || f.SourceURL != f.Value {
		t.Fatalf("expected source attribution, got %+v", f)
	}
}

func TestHoleheParse(t *testing.T) {
	raw := []byte(`**************************************************
   alice@example.com
**************************************************
[+] twitter.com
[+] spotify.com
[+] Email used, [-] Email not used, [x] Rate limit
121 websites checked in 10.52 seconds
`)
	findings, err := builtin(t, "holehe").ParseResults(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected legend skipped, got %d findings", len(findings))
	}
	if findings[0].Value != "twitter.com:alice@example.com" || findings[0].RawMetadata["email"] != "alice@example.com" {
		t.Fatalf("unexpected finding %+v", findings[0])
	}
}

func TestH8mailParse(t *testing.T) {
	raw := []byte(`[~] Targets: bob@example.com
{"target": "bob@example.com", "breach": "Collection1"}
{"target": "bob@example.com", "breach": {"name": "LinkedIn", "year": 2012}}
{"target": "bob@example.com", "status": "ok"}
{"target": oops}
`)
	findings, err := builtin(t, "h8mail").ParseResults(raw)
	if len(findings) != 2 {
		t.Fatalf("expected 2 breach findings, got %d", len(findings))
	}
	if findings[1].Value != "bob@example.com:LinkedIn" || findings[1].RawMetadata["breach.year"] != "2012" {
		t.Fatalf("unexpected finding %+v", findings[1])
	}
	var perr *utils.ParseError
	if !errors.As(err, &perr) || perr.Line != 5 || !errors.Is(err, utils.ErrParse) {
		t.Fatalf("expected parse error at line 5, got %v", err)
	}
}

func TestTheHarvesterParse(t *testing.T) {
	raw := []byte(`*******************************************************************
* theHarvester 4.4.0                                               *
*******************************************************************
[*] Emails found: 2
----------------------
Info@Example.com
admin@example.com

[*] Hosts found: 2
---------------------
mail.example.com:93.184.216.34
www.example.com
`)
	findings, err := builtin(t, "theharvester").ParseResults(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var emails, hosts []string
	for _, f := range findings {
		switch f.Kind {
		case models.KindEmail:
			emails = append(emails, f.Value)
		case models.KindSubdomain:
			hosts = append(hosts, f.Value)
		}
	}
	if strings.Join(emails, ",") != "Info@Example.com,admin@example.com" {
		t.Fatalf("unexpected emails %v", emails)
	}
	if strings.Join(hosts, ",") != "mail.example.com,www.example.com" {
		t.Fatalf("unexpected hosts %v", hosts)
	}
}

func TestTheHarvesterParseIsBounded(t *testing.T) {
	var b strings.Builder
	for b.Len() < (1<<20)+100 {
		b.WriteString("filler line without addresses\n")
	}
	b.WriteString("late@example.com\n")
	findings, err := builtin(t, "theharvester").ParseResults([]byte(b.String()))
	if !errors.Is(err, utils.ErrParse) {
		t.Fatalf("expected truncation reported as parse error, got %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected address past the scan limit ignored, got %d", len(findings))
	}
}

func TestSubfinderParse(t *testing.T) {
	jsonOut := []byte(`{"host":"api.example.com","source":"crtsh"}
{"host":"API.example.com.","source":"dnsdumpster"}
{"host":"dev.example.com"}
`)
	findings, err := builtin(t, "subfinder").ParseResults(jsonOut)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 2 || findings[0].RawMetadata["source"] != "crtsh" || findings[1].RawMetadata["source"] != "unknown" {
		t.Fatalf("unexpected findings %+v", findings)
	}

	textOut := []byte("[INF] Enumerating subdomains\nwww.example.com\nmail.example.com\n")
	findings, err = builtin(t, "subfinder").ParseResults(textOut)
	if err != nil || len(findings) != 2 {
		t.Fatalf("expected text fallback, got %d findings (%v)", len(findings), err)
	}
}

func TestPhoneInfogaParse(t *testing.T) {
	raw := []byte(`Running scan for phone number +14155552671...

Results for local
Raw local: 4155552671
Local: (415) 555-2671
E164: +14155552671
International: 14155552671
Country: US
Carrier: Verizon
Line type: mobile
`)
	findings, err := builtin(t, "phoneinfoga").ParseResults(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected one phone finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Value != "+14155552671" || f.RawMetadata["country"] != "US" || f.RawMetadata["carrier"] != "Verizon" || f.RawMetadata["line_type"] != "mobile" {
		t.Fatalf("unexpected finding %+v", f)
	}

	empty, err := builtin(t, "phoneinfoga").ParseResults([]byte("nothing useful\n"))
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no findings and no error, got %d (%v)", len(empty), err)
	}
}

func TestExiftoolParse(t *testing.T) {
	raw := []byte(`[{"SourceFile":"/tmp/input.jpg","FileName":"input.jpg","Make":"Canon","Model":"EOS 5D","GPSPosition":"51.5 N, 0.12 W","Rating":5}]`)
	findings, err := builtin(t, "exiftool").ParseResults(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var values []string
	for _, f := range findings {
		values = append(values, f.Value)
	}
	if strings.Join(values, "|") != "GPSPosition: 51.5 N, 0.12 W|Make: Canon|Model: EOS 5D|Rating: 5" {
		t.Fatalf("unexpected metadata %v", values)
	}

	if _, err := builtin(t, "exiftool").ParseResults([]byte("Error: file not found")); !errors.Is(err, utils.ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

type panickyAdapter struct{ base }

func (p *panickyAdapter) Execute(ctx context.Context, runner Runner, target string, opts map[string]string) models.ExecutionResult {
	return models.ExecutionResult{}
}

func (p *panickyAdapter) ParseResults(raw []byte) ([]models.Finding, error) {
	var m map[string]int
	m["boom"]++
	return nil, nil
}

func TestParseRecoversPanics(t *testing.T) {
	a := &panickyAdapter{base{models.ToolDescriptor{ID: "panicky"}}}
	findings, err := Parse(a, []byte("x"))
	if findings != nil {
		t.Fatalf("expected no findings")
	}
	var perr *utils.ParseError
	if !errors.As(err, &perr) || perr.Tool != "panicky" {
		t.Fatalf("expected ParseError for panicky, got %v", err)
	}
}

func TestParsersAreTotal(t *testing.T) {
	inputs := [][]byte{nil, {}, []byte("\x00\xff\xfe"), []byte("{"), []byte("[+]"), []byte("[{}]"), []byte(`[{"a":{"b":[1,{"c":2}]}}]`)}
	store, _ := trust.Load("")
	for _, a := range Builtins(store) {
		for _, in := range inputs {
			if _, err := Parse(a, in); err != nil && !errors.Is(err, utils.ErrParse) {
				t.Fatalf("%s: expected nil or ErrParse, got %v", a.Descriptor().ID, err)
			}
		}
	}
}
