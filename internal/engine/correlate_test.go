package engine

import (
	"reflect"
	"testing"

	"github.com/miradorstack/mirador-osint/internal/models"
)

func finding(seq int, kind models.FindingKind, value, tool string, conf float64) models.Finding {
	return models.Finding{Seq: seq, Kind: kind, Value: value, SourceTool: tool, Confidence: conf}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		kind models.FindingKind
		in   string
		want string
	}{
		{models.KindEmail, "  User@Example.COM ", "user@example.com"},
		{models.KindUsernameHit, "HTTPS://Example.com/Path/?utm_source=x&b=2&fbclid=y&a=1#frag", "https://example.com/path?a=1&b=2"},
		{models.KindUsernameHit, "www.Example.com/u/", "https://www.example.com/u"},
		{models.KindUsernameHit, "https://example.com/?ref=home", "https://example.com"},
		{models.KindPhoneInfo, "+1 (415) 555-2671", "14155552671"},
		{models.KindSubdomain, "API.Example.com.", "api.example.com"},
		{models.KindMetadataField, "  Author:   John \t Smith ", "author: john smith"},
		{models.KindBreachRecord, "alice@example.com:Collection1", "alice@example.com:collection1"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.kind, tc.in); got != tc.want {
			t.Fatalf("Normalize(%s, %q): expected %q, got %q", tc.kind, tc.in, tc.want, got)
		}
	}
}

func TestCorrelateMergesEmailCase(t *testing.T) {
	groups := NewCorrelator(nil, 0, nil).Correlate([]models.Finding{
		finding(0, models.KindEmail, "User@Example.com", "theharvester", 0.6),
		finding(1, models.KindEmail, "user@example.com", "holehe", 0.8),
	})
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if len(g.ContributingTools) != 2 || g.ContributingTools[0] != "holehe" || g.ContributingTools[1] != "theharvester" {
		t.Fatalf("unexpected contributing tools %v", g.ContributingTools)
	}
	if g.PrimaryValue != "user@example.com" || g.NormalizedValue != "user@example.com" {
		t.Fatalf("unexpected values %q / %q", g.PrimaryValue, g.NormalizedValue)
	}
	if len(g.Members) != 2 || g.Members[0].SourceTool != "theharvester" {
		t.Fatalf("expected members in discovery order, got %+v", g.Members)
	}
}

func TestCorrelateIsIdempotentAndOrderStable(t *testing.T) {
	input := []models.Finding{
		finding(0, models.KindUsernameHit, "https://github.com/alice", "sherlock", 0.7),
		finding(1, models.KindEmail, "alice@example.com", "theharvester", 0.6),
		finding(2, models.KindUsernameHit, "https://github.com/alice?tab=repositories", "maigret", 0.5),
		finding(3, models.KindSubdomain, "dev.example.com", "subfinder", 0.8),
		finding(4, models.KindEmail, "ALICE@example.com", "holehe", 0.8),
	}
	c := NewCorrelator(nil, 0, nil)
	first := c.Correlate(input)
	second := c.Correlate(input)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical groups on repeated runs")
	}

	shuffled := []models.Finding{input[3], input[0], input[4], input[2], input[1]}
	if third := c.Correlate(shuffled); !reflect.DeepEqual(first, third) {
		t.Fatalf("expected output independent of completion order")
	}

	if len(first) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(first))
	}
	if first[0].Kind != models.KindUsernameHit || first[1].Kind != models.KindEmail || first[2].Kind != models.KindSubdomain {
		t.Fatalf("expected first-discovery order, got %s %s %s", first[0].Kind, first[1].Kind, first[2].Kind)
	}
	if first[0].ID != "g1" || first[2].ID != "g3" {
		t.Fatalf("unexpected group ids %s %s", first[0].ID, first[2].ID)
	}
}

func TestCorrelateFuzzyMerge(t *testing.T) {
	groups := NewCorrelator(nil, 0.85, nil).Correlate([]models.Finding{
		finding(0, models.KindUsernameHit, "https://github.com/alice", "sherlock", 0.7),
		finding(1, models.KindUsernameHit, "https://gitlab.com/alice", "sherlock", 0.7),
		finding(2, models.KindUsernameHit, "https://github.com/alice?tab=stars", "maigret", 0.9),
		finding(3, models.KindMetadataField, "Author: John Smith", "exiftool", 0.9),
		finding(4, models.KindMetadataField, "Author: Jon Smith", "mat2", 0.6),
		finding(5, models.KindEmail, "jon@example.com", "holehe", 0.8),
		finding(6, models.KindEmail, "john@example.com", "holehe", 0.8),
	})
	if len(groups) != 5 {
		t.Fatalf("expected 5 groups, got %d", len(groups))
	}
	if len(groups[0].Members) != 2 || groups[0].PrimaryValue != "https://github.com/alice?tab=stars" {
		t.Fatalf("expected query variant merged into github group, got %+v", groups[0])
	}
	if len(groups[1].Members) != 1 {
		t.Fatalf("different hosts must not merge, got %+v", groups[1])
	}
	if len(groups[2].Members) != 2 || groups[2].PrimaryValue != "Author: John Smith" {
		t.Fatalf("expected metadata variants merged, got %+v", groups[2])
	}
	if groups[3].NormalizedValue == groups[4].NormalizedValue {
		t.Fatalf("emails are never fuzzy-merged")
	}
}

func TestCorrelateKeepsDistinctMetadataFields(t *testing.T) {
	groups := NewCorrelator(nil, 0.85, nil).Correlate([]models.Finding{
		finding(0, models.KindMetadataField, "XResolution: 72", "exiftool", 0.9),
		finding(1, models.KindMetadataField, "YResolution: 72", "exiftool", 0.9),
		finding(2, models.KindMetadataField, "Author: John Smith", "exiftool", 0.9),
		finding(3, models.KindMetadataField, "Artist: John Smith", "exiftool", 0.9),
	})
	if len(groups) != 4 {
		t.Fatalf("expected distinct fields in 4 groups, got %d", len(groups))
	}
}

func TestCorrelateFuzzyTieBreak(t *testing.T) {
	groups := NewCorrelator(nil, 0.8, nil).Correlate([]models.Finding{
		finding(0, models.KindMetadataField, "title: report 2020", "a", 0.4),
		finding(1, models.KindMetadataField, "title: report 2022", "b", 0.9),
		finding(2, models.KindMetadataField, "title: report 2021", "c", 0.5),
	})
	if len(groups) != 1 {
		t.Fatalf("expected chained merge into one group, got %d", len(groups))
	}
	if groups[0].PrimaryValue != "title: report 2022" {
		t.Fatalf("expected highest confidence primary, got %q", groups[0].PrimaryValue)
	}
}

func TestAggregateConfidenceMonotone(t *testing.T) {
	tools := []string{"a", "b", "c", "d"}
	prev := 0.0
	for n := 1; n <= len(tools); n++ {
		var members []models.Finding
		for _, tool := range tools[:n] {
			members = append(members, finding(0, models.KindEmail, "x@example.com", tool, 0.5))
		}
		got, contributing := AggregateConfidence(members, nil)
		if len(contributing) != n {
			t.Fatalf("expected %d contributing tools, got %d", n, len(contributing))
		}
		if got <= prev {
			t.Fatalf("expected confidence to grow with %d tools: %f <= %f", n, got, prev)
		}
		prev = got
	}
}

func TestAggregateConfidenceCorroborationBeatsCertainty(t *testing.T) {
	one, _ := AggregateConfidence([]models.Finding{finding(0, models.KindEmail, "x", "h8mail", 1.0)}, nil)
	three, _ := AggregateConfidence([]models.Finding{
		finding(0, models.KindEmail, "x", "a", 0.05),
		finding(1, models.KindEmail, "x", "b", 0.05),
		finding(2, models.KindEmail, "x", "c", 0.05),
	}, nil)
	if three <= one {
		t.Fatalf("expected three weak tools (%f) to outrank one certain tool (%f)", three, one)
	}
	dup, _ := AggregateConfidence([]models.Finding{
		finding(0, models.KindEmail, "x", "h8mail", 1.0),
		finding(1, models.KindEmail, "x", "h8mail", 0.2),
	}, nil)
	if dup != one {
		t.Fatalf("repeated findings from one tool must not add corroboration: %f vs %f", dup, one)
	}
}

func TestAggregateConfidenceWeights(t *testing.T) {
	members := []models.Finding{
		finding(0, models.KindEmail, "x", "strong", 0.9),
		finding(1, models.KindEmail, "x", "weak", 0.1),
	}
	plain, _ := AggregateConfidence(members, nil)
	weighted, _ := AggregateConfidence(members, map[string]float64{"weak": 0})
	if weighted <= plain {
		t.Fatalf("expected zero weight to drop the weak tool: %f <= %f", weighted, plain)
	}
	if weighted > 0.875 {
		t.Fatalf("two-tool band exceeded: %f", weighted)
	}
}

func TestLinkGroups(t *testing.T) {
	email := finding(0, models.KindEmail, "Alice@Example.com", "theharvester", 0.6)
	breach := finding(1, models.KindBreachRecord, "alice@example.com:Collection1", "h8mail", 0.9)
	breach.Target = "alice@example.com"
	gh := finding(2, models.KindUsernameHit, "https://github.com/alice", "sherlock", 0.7)
	gh.Target = "alice"
	rd := finding(3, models.KindUsernameHit, "https://reddit.com/user/alice", "sherlock", 0.7)
	rd.Target = "alice"

	groups := NewCorrelator(nil, 0, nil).Correlate([]models.Finding{email, breach, gh, rd})
	links := Link(groups)
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %+v", links)
	}
	if links[0].Reason != models.LinkSharedTarget || links[0].From != groups[0].ID || links[0].To != groups[1].ID {
		t.Fatalf("unexpected shared-target link %+v", links[0])
	}
	if links[1].Reason != models.LinkCrossPlatform || links[1].Key != "alice" {
		t.Fatalf("unexpected cross-platform link %+v", links[1])
	}
}
