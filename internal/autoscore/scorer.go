package autoscore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"spark/internal/advisory"
	"spark/internal/cognitive"
	"spark/internal/config"
	"spark/internal/logging"
	"spark/internal/outcome"
	"spark/internal/statedir"
)

// adviceLogEntry mirrors the synthesizer's request-log rows.
type adviceLogEntry struct {
	TS        int64    `json:"ts"`
	Tool      string   `json:"tool"`
	TraceID   string   `json:"trace_id,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Emitted   int      `json:"emitted"`
	AdviceIDs []string `json:"advice_ids,omitempty"`
	Instances []string `json:"advisory_instance_ids,omitempty"`
	Texts     []string `json:"texts,omitempty"`
}

// ScoredItem is one advisory instance's reconciliation result.
type ScoredItem struct {
	AdviceID        string  `json:"advice_id"`
	InstanceID      string  `json:"advisory_instance_id"`
	Tool            string  `json:"tool,omitempty"`
	Recommendations int     `json:"recommendations"`
	Status          string  `json:"status"`
	MatchType       string  `json:"match_type"`
	Effect          string  `json:"effect"`
	Confidence      float64 `json:"confidence"`
	LatencyS        int64   `json:"latency_to_action_s,omitempty"`
}

// Report aggregates one scoring run.
type Report struct {
	Items              []ScoredItem `json:"items"`
	ActionRate         float64      `json:"action_rate"`
	HelpfulRate        float64      `json:"helpful_rate"`
	MedianTimeToAction int64        `json:"median_time_to_action_s"`
	TopIgnoredThemes   []string     `json:"top_ignored_themes,omitempty"`
	ScoredAt           int64        `json:"scored_at"`
}

// Scorer joins emitted advisories to subsequent actions.
type Scorer struct {
	layout    *statedir.Layout
	cfg       config.AutoscoreConfig
	outcomes  *outcome.Log
	book      *advisory.Effectiveness
	cognitive *cognitive.Store
	llm       EffectLLM

	// IncludeProxies lets behavioral-proxy matches feed reliability
	// writeback; explicit feedback and trace-linked outcomes always do.
	IncludeProxies bool

	now func() time.Time
}

// NewScorer wires the scorer. cognitive and llm may be nil; writeback and
// LLM judging are then skipped.
func NewScorer(layout *statedir.Layout, cfg config.AutoscoreConfig, outcomes *outcome.Log, book *advisory.Effectiveness, cog *cognitive.Store, llm EffectLLM) *Scorer {
	return &Scorer{
		layout:    layout,
		cfg:       cfg,
		outcomes:  outcomes,
		book:      book,
		cognitive: cog,
		llm:       llm,
		now:       time.Now,
	}
}

// Run scores every advisory whose match window has opened since the
// cutoff and writes reliability updates back. Per-item failures are
// recorded and the aggregate proceeds.
func (s *Scorer) Run(ctx context.Context, cutoff int64) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryAutoscore, "run")
	defer timer.Stop()

	entries, err := s.readAdviceLog(cutoff)
	if err != nil {
		return nil, err
	}
	rows, err := s.outcomes.ReadSince(cutoff)
	if err != nil {
		return nil, err
	}

	report := &Report{ScoredAt: s.now().Unix()}
	var latencies []int64
	acted, helpful, negative := 0, 0, 0
	ignoredThemes := make(map[string]int)

	for _, entry := range entries {
		for i, adviceID := range entry.AdviceIDs {
			instanceID := ""
			if i < len(entry.Instances) {
				instanceID = entry.Instances[i]
			}
			text := ""
			if i < len(entry.Texts) {
				text = entry.Texts[i]
			}
			recs := ParseRecommendations(text)

			m := MatchAction(rows, adviceID, entry.TraceID, entry.Tool, entry.TS, int64(s.cfg.MaxMatchWindowS))
			eval := EvaluateEffect(ctx, m, text, s.llmFor(m))

			item := ScoredItem{
				AdviceID:        adviceID,
				InstanceID:      instanceID,
				Tool:            entry.Tool,
				Recommendations: len(recs),
				Status:          m.Status,
				MatchType:       m.MatchType,
				Effect:          eval.Effect,
				Confidence:      eval.Confidence,
			}
			if m.MatchedAt > 0 {
				item.LatencyS = m.MatchedAt - entry.TS
			}
			report.Items = append(report.Items, item)

			switch m.Status {
			case StatusActed:
				acted++
				if item.LatencyS >= 0 && m.MatchedAt > 0 {
					latencies = append(latencies, item.LatencyS)
				}
			case StatusIgnored, StatusUnresolved:
				ignoredThemes[themeOf(text)]++
			}
			switch eval.Effect {
			case EffectPositive:
				helpful++
			case EffectNegative:
				negative++
			}

			if m.MatchType != MatchBehavioralProxy || s.IncludeProxies {
				s.writeBack(adviceID, eval)
			}
		}
	}

	if n := len(report.Items); n > 0 {
		report.ActionRate = float64(acted) / float64(n)
	}
	if acted > 0 {
		report.HelpfulRate = float64(helpful) / float64(acted)
	}
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		report.MedianTimeToAction = latencies[len(latencies)/2]
	}
	report.TopIgnoredThemes = topThemes(ignoredThemes, 3)

	if s.book != nil {
		if err := s.book.Save(); err != nil {
			logging.Get(logging.CategoryAutoscore).Warn("effectiveness save failed: %v", err)
		}
	}
	if err := s.writeMetrics(report); err != nil {
		logging.Get(logging.CategoryAutoscore).Warn("metrics write failed: %v", err)
	}
	logging.Autoscore("scored %d items action_rate=%.2f helpful_rate=%.2f", len(report.Items), report.ActionRate, report.HelpfulRate)
	return report, nil
}

// llmFor gates the external judge to acted items without polarity hints.
func (s *Scorer) llmFor(m Match) EffectLLM {
	if m.Status == StatusActed && m.Polarity == "" {
		return s.llm
	}
	return nil
}

// writeBack converts a scored effect into source and insight reliability
// updates. Neutral effects carry no signal and are skipped.
func (s *Scorer) writeBack(adviceID string, eval Evaluation) {
	if eval.Effect == EffectNeutral {
		return
	}
	positive := eval.Effect == EffectPositive

	family := adviceID
	insightKey := ""
	if idx := strings.Index(adviceID, ":"); idx > 0 {
		family = adviceID[:idx]
		insightKey = adviceID[idx+1:]
	}
	if s.book != nil {
		s.book.RecordEffect(family, positive)
	}
	if s.cognitive != nil && family == "cognitive" && strings.Contains(insightKey, ":") {
		if err := s.cognitive.RecordValidation(insightKey, !positive, "advisory effect "+eval.Effect); err != nil {
			logging.Get(logging.CategoryAutoscore).Warn("insight writeback failed: %v", err)
		}
	}
}

func (s *Scorer) readAdviceLog(cutoff int64) ([]adviceLogEntry, error) {
	lines, err := statedir.ReadLines(s.layout.AdviceLog())
	if err != nil {
		return nil, err
	}
	out := make([]adviceLogEntry, 0, len(lines))
	for _, line := range lines {
		var entry adviceLogEntry
		if json.Unmarshal([]byte(line), &entry) != nil {
			continue
		}
		if entry.Emitted == 0 || (cutoff > 0 && entry.TS < cutoff) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Scorer) writeMetrics(report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return statedir.AtomicWrite(s.layout.AdvisoryMetrics(), data, 0o644)
}

// themeOf reduces a recommendation to a coarse theme token for the
// ignored-themes KPI.
func themeOf(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	keep := make([]string, 0, 3)
	for _, f := range fields {
		f = strings.Trim(f, ".,:;!?()[]")
		if len(f) < 4 {
			continue
		}
		keep = append(keep, f)
		if len(keep) == 3 {
			break
		}
	}
	if len(keep) == 0 {
		return "misc"
	}
	return strings.Join(keep, " ")
}

func topThemes(counts map[string]int, n int) []string {
	type kv struct {
		theme string
		count int
	}
	all := make([]kv, 0, len(counts))
	for k, v := range counts {
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].theme < all[j].theme
	})
	out := make([]string, 0, n)
	for _, e := range all {
		out = append(out, e.theme)
		if len(out) == n {
			break
		}
	}
	return out
}
