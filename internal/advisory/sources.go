package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"spark/internal/cognitive"
	"spark/internal/config"
	"spark/internal/eidos"
	"spark/internal/embedding"
	"spark/internal/memory"
	"spark/internal/statedir"
)

// Source produces advisory candidates for a request. Additional sources
// (chip, mind, surprise, skill, convo, engagement, niche) register through
// the same contract.
type Source interface {
	Name() string
	Gather(ctx context.Context, req *Request) ([]Advice, error)
}

// contextMatch scores token overlap between a request context and a
// candidate text, in [0,1].
func contextMatch(reqContext, text string) float64 {
	reqTokens := embedding.Tokenize(reqContext)
	if len(reqTokens) == 0 {
		return 0.5 // no context to match against; stay neutral
	}
	set := make(map[string]bool, len(reqTokens))
	for _, t := range reqTokens {
		set[t] = true
	}
	candTokens := embedding.Tokenize(text)
	if len(candTokens) == 0 {
		return 0
	}
	hit := 0
	for _, t := range candTokens {
		if set[t] {
			hit++
		}
	}
	return float64(hit) / float64(len(candTokens))
}

// ===== COGNITIVE SOURCE =====

// CognitiveSource surfaces reliability-ranked insights.
type CognitiveSource struct {
	Store *cognitive.Store
	Cfg   config.CognitiveConfig
}

func (s *CognitiveSource) Name() string { return SourceCognitive }

func (s *CognitiveSource) Gather(ctx context.Context, req *Request) ([]Advice, error) {
	insights := s.Store.All(false)
	out := make([]Advice, 0, len(insights))
	for _, in := range insights {
		if cognitive.IsNoiseInsight(in.Insight) {
			continue
		}
		out = append(out, Advice{
			Text:         in.Insight,
			Source:       SourceCognitive,
			InsightKey:   in.Key,
			Confidence:   in.Reliability(s.Cfg),
			ContextMatch: contextMatch(req.Context+" "+req.Tool, in.Insight),
			Tool:         req.Tool,
			TraceID:      req.TraceID,
		})
		if len(out) >= 20 {
			break
		}
	}
	return out, nil
}

// ===== MEMORY SOURCE =====

// MemorySource retrieves hybrid-ranked memories as recommendations.
type MemorySource struct {
	Store    *memory.Store
	Embedder embedding.Embedder
	Cfg      config.RetrievalConfig
	Project  string
}

func (s *MemorySource) Name() string { return SourceMemory }

func (s *MemorySource) Gather(ctx context.Context, req *Request) ([]Advice, error) {
	queryText := strings.TrimSpace(req.Context + " " + req.Tool)
	if queryText == "" {
		return nil, nil
	}
	results, err := s.Store.Search(ctx, memory.Query{
		Context:    queryText,
		ProjectKey: s.Project,
		Limit:      s.Cfg.TopK,
		Now:        time.Now(),
	}, s.Embedder, s.Cfg)
	if err != nil {
		return nil, fmt.Errorf("memory gather: %w", err)
	}
	out := make([]Advice, 0, len(results))
	for _, r := range results {
		out = append(out, Advice{
			Text:         r.Entry.Text,
			Source:       SourceMemory,
			Confidence:   r.Fusion,
			ContextMatch: r.Lexical,
			Tool:         req.Tool,
			TraceID:      req.TraceID,
			EvidenceRefs: []string{r.Entry.MemoryID},
		})
	}
	return out, nil
}

// ===== EIDOS SOURCE =====

// EidosSource turns recent failing steps for the same trace into cautions.
type EidosSource struct {
	Store *eidos.Store
}

func (s *EidosSource) Name() string { return SourceEidos }

func (s *EidosSource) Gather(ctx context.Context, req *Request) ([]Advice, error) {
	if req.TraceID == "" {
		return nil, nil
	}
	steps, err := s.Store.StepsByTrace(req.TraceID)
	if err != nil {
		return nil, fmt.Errorf("eidos gather: %w", err)
	}
	var out []Advice
	for _, st := range steps {
		if st.Evaluation != "error" || st.Tool == "" {
			continue
		}
		out = append(out, Advice{
			Text:         fmt.Sprintf("A previous %s step on this trace failed; verify preconditions before retrying.", st.Tool),
			Source:       SourceEidos,
			InsightKey:   "eidos:retry_caution:" + strings.ToLower(st.Tool),
			Confidence:   0.6,
			ContextMatch: 0.8,
			Tool:         req.Tool,
			TraceID:      req.TraceID,
			EvidenceRefs: []string{st.StepID},
		})
	}
	return out, nil
}

// ===== REPLAY SOURCE =====

// ReplaySource re-surfaces high-ranked advisories from the recent-advice
// log. Registered only in replay memory mode; the dedup windows still
// apply, so a replay can only land once its original emission has aged
// out.
type ReplaySource struct {
	Path string // recent_advice.jsonl
}

func (s *ReplaySource) Name() string { return SourceReplay }

func (s *ReplaySource) Gather(ctx context.Context, req *Request) ([]Advice, error) {
	lines, err := statedir.ReadLines(s.Path)
	if err != nil {
		return nil, fmt.Errorf("replay gather: %w", err)
	}
	var recent []recentItem
	for _, line := range lines {
		var row recentRow
		if json.Unmarshal([]byte(line), &row) != nil {
			continue
		}
		recent = append(recent, row.Items...)
	}

	var out []Advice
	for _, it := range recent {
		if it.Rank < 0.7 || it.NormText == "" {
			continue
		}
		out = append(out, Advice{
			Text:         it.NormText,
			Source:       SourceReplay,
			InsightKey:   it.InsightKey,
			Confidence:   it.Rank,
			ContextMatch: contextMatch(req.Context, it.NormText),
			Tool:         req.Tool,
			TraceID:      req.TraceID,
		})
	}
	return out, nil
}
