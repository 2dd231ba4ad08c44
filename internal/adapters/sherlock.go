package adapters

import (
	"context"
	"regexp"
	"strings"

	"github.com/miradorstack/mirador-osint/internal/extractors"
	"github.com/miradorstack/mirador-osint/internal/models"
)

var sherlockHit = regexp.MustCompile(`^\[\+\]\s*(?P<service>[^:]+?):\s*(?P<url>\S+)$`)

// Sherlock finds accounts for a username across social platforms.
type Sherlock struct {
	base
}

func (a *Sherlock) Execute(ctx context.Context, runner Runner, target string, opts map[string]string) models.ExecutionResult {
	return a.invoke(ctx, runner, models.TargetUsername, target, opts, func(user string) []string {
		return []string{user, "--print-found"}
	})
}

// ParseResults reads "[+] Service: URL" lines.
func (a *Sherlock) ParseResults(raw []byte) ([]models.Finding, error) {
	lines, overflow := extractors.Lines(raw)
	var out []models.Finding
	for _, c := range extractors.Match(lines, sherlockHit) {
		url := c.Groups["url"]
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			continue
		}
		f := a.finding(models.KindUsernameHit, url, 0.7)
		f.SourceURL = url
		f.RawMetadata = map[string]string{"service": c.Groups["service"]}
		out = append(out, f)
	}
	if overflow > 0 {
		return out, a.parseError(overflow, "line exceeds scan limit")
	}
	return out, nil
}
