package autoscore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spark/internal/advisory"
	"spark/internal/config"
	"spark/internal/outcome"
	"spark/internal/statedir"
)

func TestParseRecommendationsAtomicSplit(t *testing.T) {
	text := "1. Add retry jitter to outbound calls\n" +
		"2) Enforce one state transition per handler\n" +
		"- [ ] Log failures with trace_id."

	recs := ParseRecommendations(text)
	require.Len(t, recs, 3)
	assert.Equal(t, "Add retry jitter to outbound calls", recs[0].Text)
	assert.Equal(t, "Enforce one state transition per handler", recs[1].Text)
	assert.Equal(t, "Log failures with trace_id.", recs[2].Text)
	assert.Equal(t, []int{1, 2, 3}, []int{recs[0].Ordinal, recs[1].Ordinal, recs[2].Ordinal})
	assert.True(t, recs[2].Checkbox)
	assert.False(t, recs[0].Checkbox)
}

func TestParseRecommendationsPlainText(t *testing.T) {
	recs := ParseRecommendations("Always read a file before editing it")
	require.Len(t, recs, 1)
	assert.Equal(t, "Always read a file before editing it", recs[0].Text)
}

func TestParseRecommendationsSkipsProse(t *testing.T) {
	text := "# Advisory\n\nSome intro prose.\n- First item\n\n- Second item\n"
	recs := ParseRecommendations(text)
	require.Len(t, recs, 2)
	assert.Equal(t, "First item", recs[0].Text)
	assert.Equal(t, "Second item", recs[1].Text)
}

func TestExplicitFeedbackWinsOverProxies(t *testing.T) {
	emitted := int64(1000)
	rows := []outcome.Record{
		// A behavioral proxy and a trace-linked outcome both exist...
		{EventType: outcome.EventToolResult, Tool: "Edit", TraceID: "tr-1", Polarity: outcome.PolarityNeg, CreatedAt: emitted + 60},
		// ...but explicit feedback on the advice id wins.
		{EventType: outcome.EventExplicitFeedback, AdviceID: "adv-1", Verdict: outcome.VerdictActed, Polarity: outcome.PolarityPos, CreatedAt: emitted + 120},
	}

	m := MatchAction(rows, "adv-1", "tr-1", "Edit", emitted, 3600)
	assert.Equal(t, StatusActed, m.Status)
	assert.Equal(t, MatchExplicitFeedback, m.MatchType)
	assert.GreaterOrEqual(t, m.Confidence, 0.8)

	eval := EvaluateEffect(context.Background(), m, "adv text", nil)
	assert.Equal(t, EffectPositive, eval.Effect)
	assert.GreaterOrEqual(t, eval.Confidence, 0.8)
}

func TestToolScopedFeedbackBeatsImplicitSignals(t *testing.T) {
	emitted := int64(1000)
	rows := []outcome.Record{
		// Implicit signals on the same trace and tool...
		{EventType: outcome.EventToolResult, Tool: "Edit", TraceID: "tr-2", Polarity: outcome.PolarityNeg, CreatedAt: emitted + 30},
		// ...lose to a tool-only explicit report carrying no advice id.
		{EventType: outcome.EventExplicitFeedback, Tool: "Edit", Verdict: outcome.VerdictHarmful, Polarity: outcome.PolarityNeg, CreatedAt: emitted + 90},
	}

	m := MatchAction(rows, "adv-2", "tr-2", "Edit", emitted, 3600)
	assert.Equal(t, StatusHarmful, m.Status)
	assert.Equal(t, MatchExplicitFeedback, m.MatchType)
	assert.Equal(t, 0.8, m.Confidence)

	// Tool-only feedback for a different tool does not bind.
	m = MatchAction(rows[1:], "adv-2", "", "Bash", emitted, 3600)
	assert.Equal(t, StatusUnresolved, m.Status)
}

func TestMatchFallbackOrder(t *testing.T) {
	emitted := int64(1000)

	traceRow := []outcome.Record{
		{EventType: outcome.EventToolResult, Tool: "Bash", TraceID: "tr-9", Polarity: outcome.PolarityPos, CreatedAt: emitted + 30},
	}
	m := MatchAction(traceRow, "adv-9", "tr-9", "Bash", emitted, 3600)
	assert.Equal(t, MatchOutcomeTrace, m.MatchType)
	assert.Equal(t, StatusActed, m.Status)

	proxyRow := []outcome.Record{
		{EventType: outcome.EventToolResult, Tool: "Bash", TraceID: "other", Polarity: outcome.PolarityNeutral, CreatedAt: emitted + 30},
	}
	m = MatchAction(proxyRow, "adv-9", "tr-9", "Bash", emitted, 3600)
	assert.Equal(t, MatchBehavioralProxy, m.MatchType)

	m = MatchAction(nil, "adv-9", "tr-9", "Bash", emitted, 3600)
	assert.Equal(t, StatusUnresolved, m.Status)
	assert.Equal(t, MatchNone, m.MatchType)
}

func TestMatchWindowBounds(t *testing.T) {
	emitted := int64(1000)
	rows := []outcome.Record{
		{EventType: outcome.EventExplicitFeedback, AdviceID: "adv-2", Verdict: outcome.VerdictActed, CreatedAt: emitted + 7200},
		{EventType: outcome.EventExplicitFeedback, AdviceID: "adv-2", Verdict: outcome.VerdictActed, CreatedAt: emitted - 10},
	}
	m := MatchAction(rows, "adv-2", "", "", emitted, 3600)
	assert.Equal(t, StatusUnresolved, m.Status, "evidence outside the window is ignored")
}

func TestEvaluateEffectDeterministicRules(t *testing.T) {
	ctx := context.Background()

	eval := EvaluateEffect(ctx, Match{Status: StatusSkipped}, "", nil)
	assert.Equal(t, EffectNeutral, eval.Effect)
	assert.GreaterOrEqual(t, eval.Confidence, 0.9)

	eval = EvaluateEffect(ctx, Match{Status: StatusUnresolved}, "", nil)
	assert.Equal(t, EffectNeutral, eval.Effect)
	assert.LessOrEqual(t, eval.Confidence, 0.3)

	eval = EvaluateEffect(ctx, Match{Status: StatusHarmful}, "", nil)
	assert.Equal(t, EffectNegative, eval.Effect)

	// Acted without polarity and without an LLM stays neutral.
	eval = EvaluateEffect(ctx, Match{Status: StatusActed}, "", nil)
	assert.Equal(t, EffectNeutral, eval.Effect)
	assert.Equal(t, "deterministic", eval.Via)
}

type fixedLLM struct{ answer string }

func (f *fixedLLM) JudgeEffect(ctx context.Context, rec, ev string) (string, error) {
	return f.answer, nil
}

func TestEvaluateEffectConsultsLLMOnlyWhenActedUnhinted(t *testing.T) {
	ctx := context.Background()
	llm := &fixedLLM{answer: EffectPositive}

	eval := EvaluateEffect(ctx, Match{Status: StatusActed}, "rec", llm)
	assert.Equal(t, EffectPositive, eval.Effect)
	assert.Equal(t, "llm", eval.Via)

	// A polarity hint short-circuits the LLM.
	eval = EvaluateEffect(ctx, Match{Status: StatusActed, Polarity: outcome.PolarityNeg}, "rec", llm)
	assert.Equal(t, EffectNegative, eval.Effect)
	assert.Equal(t, "deterministic", eval.Via)
}

func TestScorerEndToEnd(t *testing.T) {
	layout, err := statedir.At(t.TempDir())
	require.NoError(t, err)
	log := outcome.OpenLog(layout)
	book := advisory.LoadEffectiveness(layout)

	emitted := time.Now().Unix() - 600

	// One advisory emission with two items in the request log.
	entry := adviceLogEntry{
		TS:        emitted,
		Tool:      "Edit",
		TraceID:   "tr-42",
		Emitted:   2,
		AdviceIDs: []string{"cognitive:reasoning:read_before_edit", "cognitive:wisdom:small_commits"},
		Instances: []string{"inst-1", "inst-2"},
		Texts:     []string{"1. Read the file first\n2. Verify assumptions", "Prefer small commits"},
	}
	line, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, statedir.AppendLine(layout.AdviceLog(), line))

	// Explicit positive feedback on the first advice only.
	require.NoError(t, log.Append(&outcome.Record{
		EventType: outcome.EventExplicitFeedback,
		AdviceID:  "cognitive:reasoning:read_before_edit",
		Verdict:   outcome.VerdictActed,
		Polarity:  outcome.PolarityPos,
		CreatedAt: emitted + 60,
	}))

	cfg := config.Default().Autoscore
	scorer := NewScorer(layout, cfg, log, book, nil, nil)
	report, err := scorer.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, report.Items, 2)

	byID := map[string]ScoredItem{}
	for _, it := range report.Items {
		byID[it.AdviceID] = it
	}
	actedItem := byID["cognitive:reasoning:read_before_edit"]
	assert.Equal(t, StatusActed, actedItem.Status)
	assert.Equal(t, MatchExplicitFeedback, actedItem.MatchType)
	assert.Equal(t, EffectPositive, actedItem.Effect)
	assert.Equal(t, int64(60), actedItem.LatencyS)
	assert.Equal(t, 2, actedItem.Recommendations)

	unresolved := byID["cognitive:wisdom:small_commits"]
	assert.Equal(t, StatusUnresolved, unresolved.Status)
	assert.Equal(t, EffectNeutral, unresolved.Effect)

	assert.InDelta(t, 0.5, report.ActionRate, 0.001)
	assert.InDelta(t, 1.0, report.HelpfulRate, 0.001)
	assert.Equal(t, int64(60), report.MedianTimeToAction)
	assert.NotEmpty(t, report.TopIgnoredThemes)

	// Positive effect raised the cognitive family above the prior.
	assert.Greater(t, book.Reliability("cognitive"), 0.5)

	// Metrics were written.
	lines, err := statedir.ReadLines(layout.AdvisoryMetrics())
	require.NoError(t, err)
	assert.NotEmpty(t, lines)
}

func TestScorerMonotone(t *testing.T) {
	// More matching evidence never converts acted to skipped.
	emitted := int64(1000)
	rows := []outcome.Record{
		{EventType: outcome.EventExplicitFeedback, AdviceID: "adv-m", Verdict: outcome.VerdictActed, CreatedAt: emitted + 30},
	}
	m1 := MatchAction(rows, "adv-m", "", "", emitted, 3600)
	require.Equal(t, StatusActed, m1.Status)

	more := append(rows, outcome.Record{
		EventType: outcome.EventToolResult, Tool: "Bash", TraceID: "tr", Polarity: outcome.PolarityNeg, CreatedAt: emitted + 40,
	})
	m2 := MatchAction(more, "adv-m", "tr", "Bash", emitted, 3600)
	assert.Equal(t, StatusActed, m2.Status)
	assert.Equal(t, MatchExplicitFeedback, m2.MatchType)
}
