package extractors

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// EmailExtractor scans free-form output for email addresses.
type EmailExtractor struct {
	// ScanLimit bounds how many bytes are scanned.
	ScanLimit int
	// MaxResults bounds how many distinct addresses are returned.
	MaxResults int
}

// NewEmailExtractor constructs an extractor with the harvester limits.
func NewEmailExtractor() *EmailExtractor {
	return &EmailExtractor{ScanLimit: 1 << 20, MaxResults: 1000}
}

// Extract returns distinct addresses in order of first appearance and whether
// the input was cut at ScanLimit.
func (e *EmailExtractor) Extract(raw []byte) ([]string, bool) {
	truncated := false
	if e.ScanLimit > 0 && len(raw) > e.ScanLimit {
		raw = raw[:e.ScanLimit]
		truncated = true
	}

	seen := make(map[string]struct{})
	var out []string
	for _, match := range emailPattern.FindAll(raw, -1) {
		addr := string(match)
		key := strings.ToLower(addr)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
		if e.MaxResults > 0 && len(out) >= e.MaxResults {
			break
		}
	}
	return out, truncated
}
