package advisory

import (
	"regexp"
	"strings"
)

// Obvious-suppression taxonomy: hard-coded low-signal patterns that never
// deserve a slot in the artifact. Each entry names the reason recorded in
// the quarantine.

type suppressRule struct {
	reason  string
	pattern *regexp.Regexp
}

var suppressRules = []suppressRule{
	{
		reason:  "telemetry struggle caution",
		pattern: regexp.MustCompile(`(?i)struggle with \w*tool_\d+\w*`),
	},
	{
		reason:  "telemetry struggle caution",
		pattern: regexp.MustCompile(`(?i)struggle with \w+_(error|failed)\w* tasks`),
	},
	{
		reason:  "telemetry counter echo",
		pattern: regexp.MustCompile(`(?i)tool_\d+_error|_failed_\d+/\d+|success_rate`),
	},
	{
		reason:  "self tool meta-commentary",
		pattern: regexp.MustCompile(`(?i)my (own )?tools? (is|are|keep) (slow|broken|failing)`),
	},
	{
		reason:  "raw json dump",
		pattern: regexp.MustCompile(`^\s*\{".+"\s*:`),
	},
	{
		reason:  "empty recommendation",
		pattern: regexp.MustCompile(`^\s*$`),
	},
}

// SuppressReason checks a candidate against the taxonomy. Returns the
// reason and true when the item must be quarantined.
func SuppressReason(text string) (string, bool) {
	for _, rule := range suppressRules {
		if rule.pattern.MatchString(text) {
			return rule.reason, true
		}
	}
	if len(strings.TrimSpace(text)) < 8 {
		return "empty recommendation", true
	}
	return "", false
}
