package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-osint/internal/extractors"
	"github.com/miradorstack/mirador-osint/internal/models"
)

// Subfinder enumerates subdomains passively.
type Subfinder struct {
	base
}

func (a *Subfinder) Execute(ctx context.Context, runner Runner, target string, opts map[string]string) models.ExecutionResult {
	return a.invoke(ctx, runner, models.TargetDomain, target, opts, func(domain string) []string {
		args := []string{"-d", domain, "-silent", "-json"}
		if opts["recursive"] == "true" {
			args = append(args, "-recursive")
		}
		if opts["all_sources"] == "true" {
			args = append(args, "-all")
		}
		return args
	})
}

// ParseResults reads JSON lines with a "host" field and falls back to one host
// per line when the output carries no JSON at all.
func (a *Subfinder) ParseResults(raw []byte) ([]models.Finding, error) {
	records, bad := extractors.JSONLines(raw)
	seen := make(map[string]struct{})
	var out []models.Finding
	add := func(host, source string) {
		host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
		if host == "" {
			return
		}
		if _, dup := seen[host]; dup {
			return
		}
		seen[host] = struct{}{}
		if source == "" {
			source = "unknown"
		}
		f := a.finding(models.KindSubdomain, host, 0.8)
		f.RawMetadata = map[string]string{"source": source}
		out = append(out, f)
	}

	for _, rec := range records {
		host, ok := rec.String("host")
		if !ok {
			continue
		}
		source, _ := rec.String("source")
		add(host, source)
	}

	if len(records) == 0 && len(bad) == 0 {
		lines, overflow := extractors.Lines(raw)
		for _, line := range lines {
			if strings.HasPrefix(line.Text, "[") || !strings.Contains(line.Text, ".") || strings.ContainsAny(line.Text, " \t{") {
				continue
			}
			add(line.Text, "")
		}
		if overflow > 0 {
			return out, a.parseError(overflow, "line exceeds scan limit")
		}
	}

	if len(bad) > 0 {
		return out, a.parseError(bad[0], fmt.Sprintf("%d malformed JSON line(s)", len(bad)))
	}
	return out, nil
}
