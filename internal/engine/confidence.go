package engine

import (
	"math"
	"sort"

	"github.com/miradorstack/mirador-osint/internal/models"
)

const (
	minToolConfidence = 0.05
	maxToolConfidence = 1.0
)

// AggregateConfidence scores a group from its members. Each distinct tool
// contributes its best confidence; the weighted mean m of those is placed in
// the band for n tools as 1 - 2^-n * (1 - m/2). Bands for n and n+1 tools do
// not overlap, so more corroborating tools always rank higher.
func AggregateConfidence(members []models.Finding, weights map[string]float64) (float64, []string) {
	best := make(map[string]float64)
	for _, f := range members {
		c := clamp(f.Confidence, minToolConfidence, maxToolConfidence)
		if cur, ok := best[f.SourceTool]; !ok || c > cur {
			best[f.SourceTool] = c
		}
	}
	if len(best) == 0 {
		return 0, nil
	}

	tools := make([]string, 0, len(best))
	for tool := range best {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	var sum, total float64
	for _, tool := range tools {
		w := 1.0
		if v, ok := weights[tool]; ok {
			w = v
		}
		sum += w * best[tool]
		total += w
	}
	var mean float64
	if total > 0 {
		mean = sum / total
	} else {
		for _, tool := range tools {
			mean += best[tool]
		}
		mean /= float64(len(tools))
	}

	n := float64(len(tools))
	return clamp(1-math.Pow(2, -n)*(1-mean/2), 0, 1), tools
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
