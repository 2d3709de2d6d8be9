package autoscore

import (
	"context"

	"spark/internal/logging"
	"spark/internal/outcome"
)

// Effects.
const (
	EffectPositive = "positive"
	EffectNegative = "negative"
	EffectNeutral  = "neutral"
)

// Evaluation is the scored effect of one matched advisory item.
type Evaluation struct {
	Effect     string  `json:"effect"`
	Confidence float64 `json:"confidence"`
	Via        string  `json:"via"` // deterministic|llm
}

// EffectLLM is the optional external judge consulted only for acted items
// with no polarity hint. Implementations must carry their own hard
// timeout and return an error rather than block.
type EffectLLM interface {
	JudgeEffect(ctx context.Context, recommendation, evidence string) (string, error)
}

// EvaluateEffect applies the deterministic rules first; only an acted
// item with no polarity hint consults the optional LLM, and any LLM
// failure falls back to neutral.
func EvaluateEffect(ctx context.Context, m Match, recommendation string, llm EffectLLM) Evaluation {
	switch m.Status {
	case StatusSkipped, StatusIgnored:
		return Evaluation{Effect: EffectNeutral, Confidence: 0.9, Via: "deterministic"}
	case StatusUnresolved:
		return Evaluation{Effect: EffectNeutral, Confidence: 0.2, Via: "deterministic"}
	case StatusHarmful, StatusBlocked:
		return Evaluation{Effect: EffectNegative, Confidence: 0.9, Via: "deterministic"}
	}

	// Acted: polarity hint decides when present.
	switch m.Polarity {
	case outcome.PolarityPos:
		return Evaluation{Effect: EffectPositive, Confidence: 0.8, Via: "deterministic"}
	case outcome.PolarityNeg:
		return Evaluation{Effect: EffectNegative, Confidence: 0.8, Via: "deterministic"}
	}

	if llm != nil {
		effect, err := llm.JudgeEffect(ctx, recommendation, "")
		if err == nil {
			switch effect {
			case EffectPositive, EffectNegative, EffectNeutral:
				return Evaluation{Effect: effect, Confidence: 0.6, Via: "llm"}
			}
		} else {
			logging.AutoscoreDebug("effect llm unavailable: %v", err)
		}
	}
	return Evaluation{Effect: EffectNeutral, Confidence: 0.5, Via: "deterministic"}
}
