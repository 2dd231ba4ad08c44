package adapters

import (
	"context"
	"strings"

	"github.com/miradorstack/mirador-osint/internal/extractors"
	"github.com/miradorstack/mirador-osint/internal/models"
)

var phoneLabels = []struct {
	label string
	key   string
}{
	{"E164:", "e164"},
	{"International:", "international"},
	{"Local:", "local"},
	{"Country:", "country"},
	{"Carrier:", "carrier"},
	{"Line type:", "line_type"},
}

// PhoneInfoga gathers carrier and country information for a phone number.
type PhoneInfoga struct {
	base
}

func (a *PhoneInfoga) Execute(ctx context.Context, runner Runner, target string, opts map[string]string) models.ExecutionResult {
	return a.invoke(ctx, runner, models.TargetPhone, target, opts, func(phone string) []string {
		return []string{"scan", "-n", phone}
	})
}

// ParseResults folds the labelled scan lines into a single phone_info finding.
func (a *PhoneInfoga) ParseResults(raw []byte) ([]models.Finding, error) {
	lines, overflow := extractors.Lines(raw)
	meta := make(map[string]string)
	scanned := ""
	for _, line := range lines {
		if v, ok := extractors.FieldAfter(line.Text, "scan for phone number"); ok && scanned == "" {
			scanned = v
			continue
		}
		for _, l := range phoneLabels {
			if v, ok := extractors.FieldAfter(line.Text, l.label); ok && v != "" {
				if _, set := meta[l.key]; !set {
					meta[l.key] = v
				}
				break
			}
		}
	}

	number := firstNonEmpty(meta["e164"], meta["international"], scanned)
	if number == "" {
		if len(meta) > 0 {
			return nil, a.parseError(0, "no phone number in output")
		}
		if overflow > 0 {
			return nil, a.parseError(overflow, "line exceeds scan limit")
		}
		return nil, nil
	}
	f := a.finding(models.KindPhoneInfo, number, 0.7)
	f.RawMetadata = meta
	return []models.Finding{f}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
