package engine

import (
	"github.com/miradorstack/mirador-osint/internal/models"
)

// Link connects groups that describe the same identity: a breach record to
// the email it was found for, and account hits found for one username.
func Link(groups []models.CorrelationGroup) []models.GroupLink {
	var links []models.GroupLink
	seen := make(map[string]struct{})
	add := func(from, to string, reason models.LinkReason, key string) {
		if from == to {
			return
		}
		id := from + "|" + to + "|" + string(reason)
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		links = append(links, models.GroupLink{From: from, To: to, Reason: reason, Key: key})
	}

	emails := make(map[string]string)
	for _, g := range groups {
		if g.Kind == models.KindEmail {
			emails[g.NormalizedValue] = g.ID
		}
	}

	firstHit := make(map[string]string)
	for _, g := range groups {
		switch g.Kind {
		case models.KindBreachRecord:
			for _, target := range breachTargets(g.Members) {
				if id, ok := emails[target]; ok {
					add(id, g.ID, models.LinkSharedTarget, target)
				}
			}
		case models.KindUsernameHit:
			for _, target := range memberTargets(g.Members) {
				if first, ok := firstHit[target]; ok {
					add(first, g.ID, models.LinkCrossPlatform, target)
					continue
				}
				firstHit[target] = g.ID
			}
		}
	}
	return links
}

func breachTargets(members []models.Finding) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, f := range members {
		for _, v := range []string{f.Target, f.RawMetadata["target"]} {
			key := Normalize(models.KindEmail, v)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}

func memberTargets(members []models.Finding) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, f := range members {
		key := Normalize(models.KindUsernameHit, f.Target)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
