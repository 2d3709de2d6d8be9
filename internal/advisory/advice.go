// Package advisory synthesizes the bounded recommendation packet the agent
// re-reads each turn. Candidates are gathered from registered sources,
// ranked, pushed through the suppression and dedup gates, and the
// survivors are written atomically to the advisory artifact.
package advisory

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Known source names. Durable sources share the cognitive family so the
// same principle keeps the same advice_id across retrieval paths.
const (
	SourceCognitive       = "cognitive"
	SourceChip            = "chip"
	SourceMemory          = "memory"
	SourceSemantic        = "semantic"
	SourceSemanticAgentic = "semantic-agentic"
	SourceEidos           = "eidos"
	SourceReplay          = "replay"
	SourceMind            = "mind"
	SourceSurprise        = "surprise"
)

var durableFamilies = map[string]string{
	SourceCognitive:       "cognitive",
	SourceChip:            "cognitive",
	SourceMemory:          "cognitive",
	SourceSemantic:        "cognitive",
	SourceSemanticAgentic: "cognitive",
	SourceEidos:           "cognitive",
}

// Advice is one candidate recommendation.
type Advice struct {
	AdviceID     string   `json:"advice_id"`
	InstanceID   string   `json:"advisory_instance_id,omitempty"`
	Text         string   `json:"text"`
	Source       string   `json:"source"`
	InsightKey   string   `json:"insight_key,omitempty"`
	Confidence   float64  `json:"confidence"`
	ContextMatch float64  `json:"context_match"`
	RankScore    float64  `json:"rank_score"`
	Recommendation string `json:"recommendation,omitempty"`
	Tool         string   `json:"tool,omitempty"`
	CreatedAt    int64    `json:"created_at"`
	TraceID      string   `json:"trace_id,omitempty"`
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
}

// Request is one advisory request issued at an agent decision point.
type Request struct {
	Tool      string         `json:"tool"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Context   string         `json:"context,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Workspace string         `json:"workspace,omitempty"`

	// Caller overrides; zero values defer to configuration.
	MaxItems       int     `json:"max_items,omitempty"`
	MinRank        float64 `json:"min_rank,omitempty"`
	MaxEmitPerCall int     `json:"max_emit_per_call,omitempty"`
}

var adviceNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeAdviceText collapses a recommendation to its id-bearing form.
func NormalizeAdviceText(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	lower = adviceNonAlnum.ReplaceAllString(lower, " ")
	return strings.Join(strings.Fields(lower), " ")
}

// Family returns the id family for a source: durable sources collapse to
// "cognitive", everything else keeps its own name.
func Family(source string) string {
	if fam, ok := durableFamilies[source]; ok {
		return fam
	}
	return source
}

// AdviceID derives the stable id. With an insight key the id is readable
// (`family:insight_key`); without one it hashes the normalized text so
// equivalent phrasings collapse.
func AdviceID(source, insightKey, text string) string {
	fam := Family(source)
	if insightKey != "" {
		return fam + ":" + insightKey
	}
	sum := sha256.Sum256([]byte(NormalizeAdviceText(text)))
	return fam + ":" + hex.EncodeToString(sum[:])[:16]
}

// Finalize stamps the stable id, a fresh instance id, and a timestamp.
func (a *Advice) Finalize(now time.Time) {
	a.AdviceID = AdviceID(a.Source, a.InsightKey, a.Text)
	a.InstanceID = uuid.NewString()
	if a.CreatedAt == 0 {
		a.CreatedAt = now.Unix()
	}
}
