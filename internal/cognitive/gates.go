package cognitive

import (
	"regexp"
	"strings"

	"spark/internal/types"
)

// Distillation gates: an event only becomes an insight after passing the
// injection/garbage filter, the low-signal filter, and the auto-evidence
// filter. Rejections carry a reason for the pipeline's counters.

// Gate rejection reasons.
const (
	RejectInjection    = "injection_marker"
	RejectCodeBlob     = "code_blob"
	RejectTelemetry    = "telemetry_garbage"
	RejectLowSignal    = "low_signal"
	RejectAutoEvidence = "auto_evidence"
	RejectTooShort     = "too_short"
)

var injectionMarkers = []string{
	"ignore previous instructions",
	"ignore all previous",
	"disregard the above",
	"system prompt",
	"you are now",
	"jailbreak",
	"<|im_start|>",
	"[inst]",
}

var telemetryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)tool_\d+_error`),
	regexp.MustCompile(`(?i)\w+_failed_\d+/\d+`),
	regexp.MustCompile(`(?i)success_rate`),
	regexp.MustCompile(`(?i)error_rate[:=]`),
	regexp.MustCompile(`(?i)^\s*\{".*"\s*:`), // JSON dump stored as an insight
}

var evidenceOpeners = []string{
	"evidence:", "observed:", "saw that", "log line", "stack trace",
	"output was", "result was", "stderr:", "stdout:",
}

// toolNameToken matches CamelCase or snake_case tool identifiers.
var toolNameToken = regexp.MustCompile(`^([A-Z][a-z]+){1,3}$|^[a-z]+(_[a-z0-9]+)+$`)

// GateStatement checks a candidate insight statement against the
// distillation gates. Returns ("", true) on pass, (reason, false) on
// rejection.
func GateStatement(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 12 {
		return RejectTooShort, false
	}

	lower := strings.ToLower(trimmed)
	for _, marker := range injectionMarkers {
		if strings.Contains(lower, marker) {
			return RejectInjection, false
		}
	}

	// Code blobs are evidence, not principles.
	if strings.Contains(trimmed, "```") || strings.Count(trimmed, "\n") > 6 ||
		strings.Contains(trimmed, "func ") && strings.Contains(trimmed, "{") {
		return RejectCodeBlob, false
	}

	for _, pat := range telemetryPatterns {
		if pat.MatchString(trimmed) {
			return RejectTelemetry, false
		}
	}

	for _, opener := range evidenceOpeners {
		if strings.HasPrefix(lower, opener) {
			return RejectAutoEvidence, false
		}
	}

	if isLowSignal(trimmed) {
		return RejectLowSignal, false
	}
	return "", true
}

// isLowSignal rejects short struggle-task descriptions dominated by
// tool-name tokens ("Bash WebFetch Edit failed again").
func isLowSignal(text string) bool {
	fields := strings.Fields(text)
	if len(fields) > 12 {
		return false
	}
	toolTokens := 0
	for _, f := range fields {
		f = strings.Trim(f, ".,:;!?()[]")
		if toolNameToken.MatchString(f) {
			toolTokens++
		}
	}
	return toolTokens*2 >= len(fields) && toolTokens >= 2
}

// noisePatterns quarantine insights matching known anti-patterns both at
// write and at read time; the advisory path consults IsNoiseInsight before
// surfacing anything.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i struggle with tool_\d+`),
	regexp.MustCompile(`(?i)struggle with \w+_error tasks`),
	regexp.MustCompile(`(?i)my (own )?tools? (is|are) (slow|broken|failing)`),
	regexp.MustCompile(`(?i)^\[?caution\]? i struggle`),
	regexp.MustCompile(`(?i)success_rate|_failed_\d+/\d+`),
}

// IsNoiseInsight reports whether an insight statement matches the noise
// anti-patterns.
func IsNoiseInsight(text string) bool {
	for _, pat := range noisePatterns {
		if pat.MatchString(text) {
			return true
		}
	}
	return false
}

// ValidationQuality weighs how trustworthy a validation event is, in
// (0,1]. Low-quality validations (telemetry echoes, bare tool chatter)
// count less toward reliability.
func ValidationQuality(evidence string) float64 {
	if evidence == "" {
		return 0.5
	}
	if reason, ok := GateStatement(evidence); !ok && reason != RejectTooShort {
		return 0.2
	}
	if len(evidence) < 24 {
		return 0.6
	}
	return 1.0
}

// Distill extracts a candidate insight from an event, applying the gates.
// Only events that encode a principle, pattern, or user-stated preference
// yield a result.
func Distill(e *types.Event) (*Insight, string, bool) {
	text := strings.TrimSpace(e.Payload.Text)
	if text == "" {
		return nil, RejectTooShort, false
	}

	category, ok := classifyStatement(e, text)
	if !ok {
		return nil, RejectLowSignal, false
	}
	if reason, pass := GateStatement(text); !pass {
		return nil, reason, false
	}
	if IsNoiseInsight(text) {
		return nil, RejectTelemetry, false
	}

	return &Insight{
		Key:        MakeKey(category, text),
		Category:   category,
		Insight:    text,
		Context:    e.Payload.Category,
		Confidence: 0.5,
		Source:     e.Source,
	}, "", true
}

// principleMarkers suggest a statement is a durable principle rather than
// conversation.
var principleMarkers = []string{
	"always", "never", "prefer", "avoid", "must", "should", "don't",
	"do not", "remember", "rule:", "convention", "best to", "make sure",
}

func classifyStatement(e *types.Event, text string) (string, bool) {
	lower := strings.ToLower(text)

	if e.Kind == types.KindMessage && e.Payload.Role == "user" {
		for _, m := range principleMarkers {
			if strings.Contains(lower, m) {
				return CategoryUserUnderstanding, true
			}
		}
		return "", false
	}

	hasMarker := false
	for _, m := range principleMarkers {
		if strings.Contains(lower, m) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return "", false
	}

	switch {
	case strings.Contains(lower, "because") || strings.Contains(lower, "therefore"):
		return CategoryReasoning, true
	case strings.Contains(lower, "i ") && (strings.Contains(lower, "tend to") || strings.Contains(lower, "my ")):
		return CategorySelfAwareness, true
	case e.Payload.Category != "":
		return CategoryContext, true
	default:
		return CategoryWisdom, true
	}
}
