package adapters

import (
	"context"
	"regexp"
	"strings"

	"github.com/miradorstack/mirador-osint/internal/extractors"
	"github.com/miradorstack/mirador-osint/internal/models"
)

var harvesterSources = regexp.MustCompile(`^[a-z,]+$`)

// TheHarvester collects emails and hosts for a domain from public sources.
type TheHarvester struct {
	base
	emails *extractors.EmailExtractor
}

func defaultEmailExtractor() *extractors.EmailExtractor {
	return extractors.NewEmailExtractor()
}

// Execute honours the "sources" option when it is a plain comma-separated list.
func (a *TheHarvester) Execute(ctx context.Context, runner Runner, target string, opts map[string]string) models.ExecutionResult {
	sources := opts["sources"]
	if !harvesterSources.MatchString(sources) {
		sources = "all"
	}
	return a.invoke(ctx, runner, models.TargetDomain, target, opts, func(domain string) []string {
		return []string{"-d", domain, "-b", sources}
	})
}

// ParseResults extracts emails from at most the first MiB of output and the
// hosts listed under the "Hosts found" heading.
func (a *TheHarvester) ParseResults(raw []byte) ([]models.Finding, error) {
	emails, truncated := a.emails.Extract(raw)
	out := make([]models.Finding, 0, len(emails))
	for _, email := range emails {
		out = append(out, a.finding(models.KindEmail, email, 0.6))
	}

	scan := raw
	if limit := a.emails.ScanLimit; limit > 0 && len(scan) > limit {
		scan = scan[:limit]
	}
	lines, _ := extractors.Lines(scan)
	inHosts := false
	seen := make(map[string]struct{})
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line.Text, "[*]"):
			inHosts = strings.Contains(strings.ToLower(line.Text), "hosts found")
			continue
		case !inHosts, strings.HasPrefix(line.Text, "-"):
			continue
		}
		host, _, _ := strings.Cut(line.Text, ":")
		host = strings.ToLower(strings.TrimSpace(host))
		if !domainPattern.MatchString(host) {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		f := a.finding(models.KindSubdomain, host, 0.6)
		if _, ip, ok := strings.Cut(line.Text, ":"); ok {
			f.RawMetadata = map[string]string{"ip": strings.TrimSpace(ip)}
		}
		out = append(out, f)
	}

	if truncated {
		return out, a.parseError(0, "output exceeds 1 MiB scan limit")
	}
	return out, nil
}
