package autoscore

import (
	"spark/internal/outcome"
)

// Action statuses.
const (
	StatusActed      = "acted"
	StatusSkipped    = "skipped"
	StatusBlocked    = "blocked"
	StatusHarmful    = "harmful"
	StatusIgnored    = "ignored"
	StatusUnresolved = "unresolved"
)

// Match types, in descending evidence strength.
const (
	MatchExplicitFeedback = "explicit_feedback"
	MatchOutcomeTrace     = "outcome_trace"
	MatchBehavioralProxy  = "behavioral_proxy"
	MatchNone             = "none"
)

// Match is the evidence found for one advisory instance.
type Match struct {
	Status     string // acted|skipped|blocked|harmful|ignored|unresolved
	MatchType  string
	Confidence float64 // evidence-strength hint, not effect confidence
	Polarity   string  // pos|neg|neutral hint from the evidence, may be empty
	MatchedAt  int64   // unix ts of the matching evidence
}

// MatchAction finds the strongest evidence of action on an advisory
// emitted at emittedAt, looking only inside the match window. Explicit
// feedback rows carrying the advice id always win; outcome rows sharing
// the trace come next; error-rate proxies on the advised tool are last.
func MatchAction(rows []outcome.Record, adviceID, traceID, tool string, emittedAt, windowS int64) Match {
	deadline := emittedAt + windowS

	// Pass 1: explicit feedback. Rows carrying the advice id are exact;
	// tool-only reports bind to whatever was advised for that tool and
	// carry slightly weaker evidence.
	for _, r := range rows {
		if r.EventType != outcome.EventExplicitFeedback {
			continue
		}
		if r.CreatedAt < emittedAt || r.CreatedAt > deadline {
			continue
		}
		confidence := 0.9
		switch {
		case r.AdviceID == adviceID && adviceID != "":
		case r.AdviceID == "" && tool != "" && r.Tool == tool:
			confidence = 0.8
		default:
			continue
		}
		return Match{
			Status:     statusFromVerdict(r.Verdict),
			MatchType:  MatchExplicitFeedback,
			Confidence: confidence,
			Polarity:   polarityFromVerdict(r.Verdict),
			MatchedAt:  r.CreatedAt,
		}
	}

	// Pass 2: outcome rows bound to the same trace.
	if traceID != "" {
		for _, r := range rows {
			if r.TraceID != traceID || r.EventType != outcome.EventToolResult {
				continue
			}
			if r.CreatedAt < emittedAt || r.CreatedAt > deadline {
				continue
			}
			return Match{
				Status:     StatusActed,
				MatchType:  MatchOutcomeTrace,
				Confidence: 0.6,
				Polarity:   r.Polarity,
				MatchedAt:  r.CreatedAt,
			}
		}
	}

	// Pass 3: behavioral proxy, the advised tool ran inside the window.
	if tool != "" {
		for _, r := range rows {
			if r.EventType != outcome.EventToolResult || r.Tool != tool {
				continue
			}
			if r.CreatedAt < emittedAt || r.CreatedAt > deadline {
				continue
			}
			return Match{
				Status:     StatusActed,
				MatchType:  MatchBehavioralProxy,
				Confidence: 0.3,
				Polarity:   r.Polarity,
				MatchedAt:  r.CreatedAt,
			}
		}
	}

	return Match{Status: StatusUnresolved, MatchType: MatchNone}
}

func statusFromVerdict(verdict string) string {
	switch verdict {
	case outcome.VerdictActed:
		return StatusActed
	case outcome.VerdictSkipped:
		return StatusSkipped
	case outcome.VerdictBlocked:
		return StatusBlocked
	case outcome.VerdictHarmful:
		return StatusHarmful
	case outcome.VerdictIgnored:
		return StatusIgnored
	}
	return StatusUnresolved
}

func polarityFromVerdict(verdict string) string {
	switch verdict {
	case outcome.VerdictActed:
		return outcome.PolarityPos
	case outcome.VerdictHarmful, outcome.VerdictBlocked:
		return outcome.PolarityNeg
	}
	return ""
}
