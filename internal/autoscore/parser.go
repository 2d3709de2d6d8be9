// Package autoscore closes the advisory loop: it parses emitted
// advisories into atomic recommendations, matches them against subsequent
// actions (explicit feedback first, then outcome rows, then behavioral
// proxies), evaluates the effect, and writes reliability updates back to
// the sources that produced the advice.
package autoscore

import (
	"regexp"
	"strings"
)

// Recommendation is one atomic line extracted from an advisory text.
type Recommendation struct {
	Text     string `json:"text"`
	Ordinal  int    `json:"ordinal"`
	Checkbox bool   `json:"checkbox"`
}

var listMarker = regexp.MustCompile(`^\s*(?:(\d+)[.)]|[-*+])\s+(?:\[[ xX]\]\s+)?`)
var checkboxMarker = regexp.MustCompile(`^\s*[-*+]\s+\[[ xX]\]\s+`)

// ParseRecommendations splits advisory markdown into atomic
// recommendations: numbered lines ("1. ", "2) "), bullets ("- ", "* "),
// and checkboxes ("- [ ] "). Order is preserved and text survives modulo
// the leading marker. Non-list lines between items are ignored; a text
// with no list markers at all is one recommendation.
func ParseRecommendations(text string) []Recommendation {
	lines := strings.Split(text, "\n")
	var out []Recommendation
	sawMarker := false
	for _, line := range lines {
		loc := listMarker.FindStringIndex(line)
		if loc == nil {
			continue
		}
		sawMarker = true
		body := strings.TrimSpace(line[loc[1]:])
		if body == "" {
			continue
		}
		out = append(out, Recommendation{
			Text:     body,
			Ordinal:  len(out) + 1,
			Checkbox: checkboxMarker.MatchString(line),
		})
	}
	if !sawMarker {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			out = append(out, Recommendation{Text: trimmed, Ordinal: 1})
		}
	}
	return out
}
