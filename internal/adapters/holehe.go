package adapters

import (
	"context"
	"strings"

	"github.com/miradorstack/mirador-osint/internal/extractors"
	"github.com/miradorstack/mirador-osint/internal/models"
)

// Holehe checks which services an email address is registered with.
type Holehe struct {
	base
}

func (a *Holehe) Execute(ctx context.Context, runner Runner, target string, opts map[string]string) models.ExecutionResult {
	return a.invoke(ctx, runner, models.TargetEmail, target, opts, func(email string) []string {
		return []string{email, "--only-used", "--no-color"}
	})
}

// ParseResults reads "[+] service" lines. The checked address is taken from the
// banner holehe prints before its results so hits for different addresses stay apart.
func (a *Holehe) ParseResults(raw []byte) ([]models.Finding, error) {
	lines, overflow := extractors.Lines(raw)
	email := ""
	var out []models.Finding
	for _, line := range lines {
		if email == "" && emailPattern.MatchString(strings.ToLower(line.Text)) {
			email = strings.ToLower(line.Text)
			continue
		}
		service, ok := strings.CutPrefix(line.Text, "[+]")
		if !ok {
			continue
		}
		service = strings.TrimSpace(service)
		// The legend line ("[+] Email used, [-] Email not used, ...") is not a hit.
		if service == "" || strings.ContainsAny(service, ", ") {
			continue
		}
		value := service
		meta := map[string]string{"service": service}
		if email != "" {
			value = service + ":" + email
			meta["email"] = email
		}
		f := a.finding(models.KindUsernameHit, value, 0.8)
		f.RawMetadata = meta
		out = append(out, f)
	}
	if overflow > 0 {
		return out, a.parseError(overflow, "line exceeds scan limit")
	}
	return out, nil
}
