// Package cognitive implements the reliability-tracked insight store and
// the distillation gates that decide which events become insights. The
// store is a single JSON document guarded by a coarse write lock, with a
// batch mode that coalesces many updates into one disk write.
package cognitive

import (
	"regexp"
	"strings"
	"time"

	"spark/internal/config"
	"spark/internal/emotion"
)

// Recognized insight categories. The set is open-ended; these are the ones
// the distiller emits.
const (
	CategoryReasoning         = "reasoning"
	CategoryContext           = "context"
	CategoryWisdom            = "wisdom"
	CategoryUserUnderstanding = "user_understanding"
	CategorySelfAwareness     = "self_awareness"
)

// Insight is one distilled, reliability-tracked statement.
type Insight struct {
	Key                 string            `json:"key"` // category:normalized-statement
	Category            string            `json:"category"`
	Insight             string            `json:"insight"`
	Evidence            []string          `json:"evidence,omitempty"` // bounded ring
	Context             string            `json:"context,omitempty"`
	Confidence          float64           `json:"confidence"`
	CounterExamples     []string          `json:"counter_examples,omitempty"`
	TimesValidated      int               `json:"times_validated"`
	TimesContradicted   int               `json:"times_contradicted"`
	ValidationWeight    float64           `json:"validation_weight,omitempty"`
	ContradictionWeight float64           `json:"contradiction_weight,omitempty"`
	CreatedAt           int64             `json:"created_at"`
	LastValidatedAt     int64             `json:"last_validated_at,omitempty"`
	Promoted            bool              `json:"promoted,omitempty"`
	Source              string            `json:"source,omitempty"`
	EmotionState        *emotion.Snapshot `json:"emotion_state,omitempty"`
}

// Reliability derives the trust score in [0,1]: monotone in validations,
// penalizing contradictions with diminishing returns, blended with the
// stored confidence. Validation events count at their quality weight, so
// low-quality evidence moves the score less than a confirmed observation.
// Weights come from configuration; only the monotonicity shape is fixed
// here.
func (i *Insight) Reliability(cfg config.CognitiveConfig) float64 {
	v := i.ValidationWeight
	c := i.ContradictionWeight
	// Documents written before quality weighting carry raw counts only.
	if v == 0 && i.TimesValidated > 0 {
		v = float64(i.TimesValidated)
	}
	if c == 0 && i.TimesContradicted > 0 {
		c = float64(i.TimesContradicted)
	}

	base := (v + 1) / (v + c + 2) // Laplace-smoothed support ratio
	penalty := 1.0 / (1.0 + cfg.ContradictionPenalty*c)

	w := cfg.ReliabilityConfWeight
	r := (1-w)*base*penalty + w*clamp01(i.Confidence)
	return clamp01(r)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// keyStopTokens are stripped during normalization so trivial phrasing
// differences collapse onto one key.
var keyStopTokens = map[string]bool{
	"the": true, "an": true, "is": true, "are": true, "of": true,
	"that": true, "this": true, "it": true, "really": true, "very": true,
}

// NormalizeStatement lowercases, strips stop tokens and punctuation, and
// joins the remainder with underscores. Two statements sharing a
// normalized form share a key.
func NormalizeStatement(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	lower = nonAlnum.ReplaceAllString(lower, " ")
	var kept []string
	for _, tok := range strings.Fields(lower) {
		if keyStopTokens[tok] {
			continue
		}
		kept = append(kept, tok)
	}
	slug := strings.Join(kept, "_")
	if len(slug) > 80 {
		slug = slug[:80]
		slug = strings.TrimRight(slug, "_")
	}
	return slug
}

// MakeKey builds the canonical store key for a statement.
func MakeKey(category, statement string) string {
	if category == "" {
		category = CategoryWisdom
	}
	return category + ":" + NormalizeStatement(statement)
}

// Validate records a supporting observation at the given quality weight.
func (i *Insight) Validate(evidence string, quality float64, maxEvidence int) {
	i.TimesValidated++
	i.ValidationWeight += clamp01(quality)
	i.LastValidatedAt = time.Now().Unix()
	if evidence != "" {
		i.Evidence = appendRing(i.Evidence, evidence, maxEvidence)
	}
}

// Contradict records a counter-observation at the given quality weight.
func (i *Insight) Contradict(counterExample string, quality float64, maxEvidence int) {
	i.TimesContradicted++
	i.ContradictionWeight += clamp01(quality)
	if counterExample != "" {
		i.CounterExamples = appendRing(i.CounterExamples, counterExample, maxEvidence)
	}
}

func appendRing(ring []string, item string, max int) []string {
	ring = append(ring, item)
	if max > 0 && len(ring) > max {
		ring = ring[len(ring)-max:]
	}
	return ring
}
