package extractors

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

// MaxLineBytes bounds a single scanned line. Longer lines are reported and skipped.
const MaxLineBytes = 1 << 20

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// Line is one non-empty line of tool output.
type Line struct {
	Number int
	Text   string
}

// StripANSI removes terminal color sequences that some tools emit even with color disabled.
func StripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	return ansiEscape.ReplaceAllString(s, "")
}

// Lines splits raw output into trimmed, color-free, non-empty lines.
// It returns the number of the first line that exceeded MaxLineBytes, or 0.
func Lines(raw []byte) ([]Line, int) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)

	var out []Line
	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimSpace(StripANSI(scanner.Text()))
		if text == "" {
			continue
		}
		out = append(out, Line{Number: n, Text: text})
	}
	if scanner.Err() != nil {
		return out, n + 1
	}
	return out, 0
}

// Match applies pattern to every line and returns the named groups of each match.
// An unnamed first group is exposed as "value".
func Match(lines []Line, pattern *regexp.Regexp) []Captures {
	names := pattern.SubexpNames()
	var out []Captures
	for _, line := range lines {
		m := pattern.FindStringSubmatch(line.Text)
		if m == nil {
			continue
		}
		groups := make(map[string]string, len(names))
		for i := 1; i < len(m); i++ {
			name := names[i]
			if name == "" {
				if i != 1 {
					continue
				}
				name = "value"
			}
			groups[name] = strings.TrimSpace(m[i])
		}
		out = append(out, Captures{Line: line.Number, Groups: groups})
	}
	return out
}

// Captures are the named groups from one matching line.
type Captures struct {
	Line   int
	Groups map[string]string
}

// FieldAfter returns the trimmed text following label on the line, if present.
func FieldAfter(line, label string) (string, bool) {
	idx := strings.Index(line, label)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(line[idx+len(label):]), true
}
