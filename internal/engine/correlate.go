package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/miradorstack/mirador-osint/internal/metrics"
	"github.com/miradorstack/mirador-osint/internal/models"
)

// DefaultFuzzyThreshold is the similarity at which near-duplicate groups merge.
const DefaultFuzzyThreshold = 0.85

// fuzzyKinds are the kinds whose values vary in formatting between tools.
var fuzzyKinds = map[models.FindingKind]struct{}{
	models.KindUsernameHit:   {},
	models.KindMetadataField: {},
}

// Correlator deduplicates and scores findings. It holds no per-run state and
// is safe for concurrent use.
type Correlator struct {
	logger    *slog.Logger
	threshold float64
	weights   map[string]float64
}

// NewCorrelator constructs a Correlator. A threshold outside (0,1] falls back
// to DefaultFuzzyThreshold; weights are per-tool and default to 1.
func NewCorrelator(logger *slog.Logger, threshold float64, weights map[string]float64) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultFuzzyThreshold
	}
	w := make(map[string]float64, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	return &Correlator{logger: logger, threshold: threshold, weights: w}
}

type group struct {
	kind    models.FindingKind
	key     string
	members []models.Finding
	best    float64
}

func (g *group) add(f models.Finding) {
	if len(g.members) == 0 || f.Confidence > g.best {
		g.best = f.Confidence
	}
	g.members = append(g.members, f)
}

// Correlate groups findings describing the same fact. Groups are emitted in
// first-discovery order; the same input always yields the same output.
func (c *Correlator) Correlate(findings []models.Finding) []models.CorrelationGroup {
	ordered := make([]models.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Value == "" {
			continue
		}
		ordered = append(ordered, f)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	var groups []*group
	index := make(map[string]*group)
	for _, f := range ordered {
		key := Normalize(f.Kind, f.Value)
		if key == "" {
			continue
		}
		id := string(f.Kind) + "\x00" + key
		g, ok := index[id]
		if !ok {
			g = &group{kind: f.Kind, key: key}
			index[id] = g
			groups = append(groups, g)
		}
		g.add(f)
	}

	groups = c.merge(groups)

	out := make([]models.CorrelationGroup, 0, len(groups))
	for i, g := range groups {
		agg, tools := AggregateConfidence(g.members, c.weights)
		out = append(out, models.CorrelationGroup{
			ID:                  fmt.Sprintf("g%d", i+1),
			Kind:                g.kind,
			PrimaryValue:        primaryValue(g.members),
			NormalizedValue:     g.key,
			Members:             g.members,
			AggregateConfidence: agg,
			ContributingTools:   tools,
		})
	}
	metrics.ObserveGroups(len(out))
	c.logger.Debug("correlation complete", slog.Int("findings", len(ordered)), slog.Int("groups", len(out)))
	return out
}

// merge folds each fuzzy-kind group into the best earlier group of the same
// kind. Candidates rank by similarity, then representative confidence, then
// discovery order.
func (c *Correlator) merge(groups []*group) []*group {
	kept := make([]*group, 0, len(groups))
	for _, g := range groups {
		if _, fuzzy := fuzzyKinds[g.kind]; !fuzzy {
			kept = append(kept, g)
			continue
		}
		var target *group
		var targetSim float64
		for _, cand := range kept {
			if cand.kind != g.kind {
				continue
			}
			sim := c.fuzzySimilarity(g.kind, cand.key, g.key)
			if sim < c.threshold {
				continue
			}
			if target == nil || sim > targetSim || (sim == targetSim && cand.best > target.best) {
				target, targetSim = cand, sim
			}
		}
		if target == nil {
			kept = append(kept, g)
			continue
		}
		for _, f := range g.members {
			target.add(f)
		}
		sort.SliceStable(target.members, func(i, j int) bool { return target.members[i].Seq < target.members[j].Seq })
	}
	return kept
}

// fuzzySimilarity scores two group keys of kind. Metadata fields only match
// within the same field name and are compared on their values.
func (c *Correlator) fuzzySimilarity(kind models.FindingKind, a, b string) float64 {
	if kind != models.KindMetadataField {
		return similarity(a, b)
	}
	fieldA, valueA := splitField(a)
	fieldB, valueB := splitField(b)
	if fieldA != fieldB {
		return 0
	}
	return similarity(valueA, valueB)
}

// splitField separates a normalized "field: value" key.
func splitField(key string) (string, string) {
	if field, value, ok := strings.Cut(key, ": "); ok {
		return field, value
	}
	return "", key
}

// similarity compares two normalized values. URLs on different hosts never
// match; URLs equal up to their query match fully.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	hostA, bareA, urlA := urlParts(a)
	hostB, bareB, urlB := urlParts(b)
	if urlA || urlB {
		if !urlA || !urlB || hostA != hostB {
			return 0
		}
		if bareA == bareB {
			return 1
		}
	}
	return levenshtein.Similarity(a, b, nil)
}

func primaryValue(members []models.Finding) string {
	best := 0
	for i, f := range members {
		if f.Confidence > members[best].Confidence {
			best = i
		}
	}
	return members[best].Value
}
