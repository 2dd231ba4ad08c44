package adapters

import (
	"context"
	"fmt"

	"github.com/miradorstack/mirador-osint/internal/extractors"
	"github.com/miradorstack/mirador-osint/internal/models"
)

// H8mail looks an email address up in breach sources.
type H8mail struct {
	base
}

func (a *H8mail) Execute(ctx context.Context, runner Runner, target string, opts map[string]string) models.ExecutionResult {
	return a.invoke(ctx, runner, models.TargetEmail, target, opts, func(email string) []string {
		return []string{"-t", email, "--json"}
	})
}

// ParseResults keeps JSON lines that carry both a target and a breach.
func (a *H8mail) ParseResults(raw []byte) ([]models.Finding, error) {
	records, bad := extractors.JSONLines(raw)
	var out []models.Finding
	for _, rec := range records {
		target, ok := rec.String("target")
		if !ok || target == "" {
			continue
		}
		breach, ok := breachName(rec)
		if !ok {
			continue
		}
		f := a.finding(models.KindBreachRecord, target+":"+breach, 0.9)
		f.RawMetadata = extractors.Flatten(rec.Fields)
		f.RawMetadata["target"] = target
		out = append(out, f)
	}
	if len(bad) > 0 {
		return out, a.parseError(bad[0], fmt.Sprintf("%d malformed JSON line(s)", len(bad)))
	}
	return out, nil
}

func breachName(rec extractors.Record) (string, bool) {
	for _, path := range []string{"breach", "breach.name", "breach.source", "breach.title"} {
		if v, ok := rec.String(path); ok && v != "" {
			return v, true
		}
	}
	if _, ok := rec.Fields["breach"]; ok {
		return "unknown", true
	}
	return "", false
}
