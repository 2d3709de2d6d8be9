package advisory

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spark/internal/config"
	"spark/internal/statedir"
)

// staticSource returns a fixed candidate list.
type staticSource struct {
	name  string
	items []Advice
	err   error
}

func (s *staticSource) Name() string { return s.name }
func (s *staticSource) Gather(ctx context.Context, req *Request) ([]Advice, error) {
	return s.items, s.err
}

func testLayout(t *testing.T) *statedir.Layout {
	t.Helper()
	layout, err := statedir.At(t.TempDir())
	require.NoError(t, err)
	return layout
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	lines, err := statedir.ReadLines(path)
	require.NoError(t, err)
	return len(lines)
}

func TestAdviceIDStability(t *testing.T) {
	// The same principle keeps the same id across durable retrieval paths.
	key := "reasoning:always_read_a_file_before_edit_to_verify"
	text := "Always Read a file before Edit to verify current content"

	idCognitive := AdviceID(SourceCognitive, key, text)
	idSemantic := AdviceID(SourceSemanticAgentic, key, text)
	assert.Equal(t, "cognitive:reasoning:always_read_a_file_before_edit_to_verify", idCognitive)
	assert.Equal(t, idCognitive, idSemantic)

	// Keyless ids hash normalized text, so phrasing noise collapses.
	a := AdviceID(SourceMemory, "", "Prefer small, focused commits!")
	b := AdviceID(SourceMemory, "", "prefer small focused commits")
	assert.Equal(t, a, b)

	// Non-durable sources keep their own family.
	c := AdviceID(SourceSurprise, "", "prefer small focused commits")
	assert.NotEqual(t, a, c)
}

func TestTelemetryStruggleSuppressed(t *testing.T) {
	layout := testLayout(t)
	cfg := config.Default().Advisory
	syn := NewSynthesizer(layout, cfg, &staticSource{
		name: SourceCognitive,
		items: []Advice{{
			Text:         "[Caution] I struggle with tool_49_error tasks",
			Source:       SourceCognitive,
			Confidence:   0.9,
			ContextMatch: 0.9,
		}},
	})

	em, err := syn.Advise(context.Background(), &Request{Tool: "Edit", Workspace: t.TempDir()})
	require.NoError(t, err)
	assert.Empty(t, em.Items)
	assert.Equal(t, 1, em.Suppressed)
	assert.False(t, em.Written)

	// The drop landed in quarantine with its reason.
	lines, err := statedir.ReadLines(layout.QuarantineFile())
	require.NoError(t, err)
	require.Len(t, lines, 1)
	var row QuarantineRow
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
	assert.Equal(t, "telemetry struggle caution", row.Reason)
	assert.Equal(t, "obvious_suppression", row.Stage)
}

func TestNonTelemetryCautionKept(t *testing.T) {
	layout := testLayout(t)
	workspace := t.TempDir()
	syn := NewSynthesizer(layout, config.Default().Advisory, &staticSource{
		name: SourceCognitive,
		items: []Advice{{
			Text:         "[Caution] I fail when WebFetch retries are too aggressive.",
			Source:       SourceCognitive,
			Confidence:   0.9,
			ContextMatch: 0.9,
		}},
	})

	em, err := syn.Advise(context.Background(), &Request{Tool: "WebFetch", Workspace: workspace})
	require.NoError(t, err)
	require.Len(t, em.Items, 1)
	assert.True(t, em.Written)

	artifact, err := os.ReadFile(em.ArtifactPath)
	require.NoError(t, err)
	assert.Contains(t, string(artifact), "WebFetch retries")
}

func TestDedupeIdempotent(t *testing.T) {
	layout := testLayout(t)
	workspace := t.TempDir()
	src := &staticSource{
		name: SourceCognitive,
		items: []Advice{{
			Text:         "Always run the test suite before pushing changes",
			Source:       SourceCognitive,
			InsightKey:   "wisdom:always_run_test_suite_before_pushing",
			Confidence:   0.9,
			ContextMatch: 0.9,
		}},
	}
	syn := NewSynthesizer(layout, config.Default().Advisory, src)

	req := &Request{Tool: "Bash", TraceID: "aaaa111122223333", Workspace: workspace}
	em, err := syn.Advise(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, em.Items, 1)
	require.True(t, em.Written)
	assert.Equal(t, 1, countLines(t, layout.RecentAdvice()))

	// Second emission of the same set within the window: nothing new,
	// no artifact rewrite, no added recent-advice rows.
	before, err := os.Stat(em.ArtifactPath)
	require.NoError(t, err)
	em2, err := syn.Advise(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, em2.Items)
	assert.False(t, em2.Written)
	assert.Equal(t, 1, countLines(t, layout.RecentAdvice()))
	after, err := os.Stat(em.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestDedupeSurvivesRestart(t *testing.T) {
	layout := testLayout(t)
	workspace := t.TempDir()
	item := Advice{
		Text:         "Quote shell variables when expanding paths",
		Source:       SourceCognitive,
		InsightKey:   "wisdom:quote_shell_variables",
		Confidence:   0.9,
		ContextMatch: 0.9,
	}
	syn := NewSynthesizer(layout, config.Default().Advisory, &staticSource{name: SourceCognitive, items: []Advice{item}})
	_, err := syn.Advise(context.Background(), &Request{Tool: "Bash", Workspace: workspace})
	require.NoError(t, err)

	// A fresh synthesizer reloads the windows from the recent-advice log.
	syn2 := NewSynthesizer(layout, config.Default().Advisory, &staticSource{name: SourceCognitive, items: []Advice{item}})
	em, err := syn2.Advise(context.Background(), &Request{Tool: "Bash", Workspace: workspace})
	require.NoError(t, err)
	assert.Empty(t, em.Items)
}

func TestToolCooldownWithHighRankOverride(t *testing.T) {
	layout := testLayout(t)
	workspace := t.TempDir()
	cfg := config.Default().Advisory

	first := &staticSource{name: SourceCognitive, items: []Advice{{
		Text: "Always check file permissions before writing", Source: SourceCognitive,
		InsightKey: "wisdom:check_permissions", Confidence: 0.8, ContextMatch: 0.8,
	}}}
	syn := NewSynthesizer(layout, cfg, first)
	_, err := syn.Advise(context.Background(), &Request{Tool: "Write", Workspace: workspace})
	require.NoError(t, err)

	// A middling item for the same tool is held back by the cooldown.
	first.items = []Advice{{
		Text: "Consider grouping related writes together", Source: SourceCognitive,
		InsightKey: "wisdom:group_related_writes", Confidence: 0.5, ContextMatch: 0.4,
	}}
	em, err := syn.Advise(context.Background(), &Request{Tool: "Write", Workspace: workspace})
	require.NoError(t, err)
	assert.Empty(t, em.Items)
	assert.Equal(t, 1, em.Suppressed)

	// A very high-rank item overrides the cooldown.
	first.items = []Advice{{
		Text: "Never overwrite files the user did not create", Source: SourceCognitive,
		InsightKey: "wisdom:never_overwrite_foreign_files", Confidence: 1.0, ContextMatch: 1.0,
	}}
	em, err = syn.Advise(context.Background(), &Request{Tool: "Write", Workspace: workspace})
	require.NoError(t, err)
	assert.Len(t, em.Items, 1)
}

func TestSourceFailureIsolated(t *testing.T) {
	layout := testLayout(t)
	workspace := t.TempDir()
	broken := &staticSource{name: SourceEidos, err: assert.AnError}
	good := &staticSource{name: SourceCognitive, items: []Advice{{
		Text: "Always confirm the branch before force operations", Source: SourceCognitive,
		InsightKey: "wisdom:confirm_branch", Confidence: 0.9, ContextMatch: 0.9,
	}}}

	syn := NewSynthesizer(layout, config.Default().Advisory, broken, good)
	em, err := syn.Advise(context.Background(), &Request{Tool: "Bash", Workspace: workspace})
	require.NoError(t, err)
	assert.Equal(t, 1, em.SourceErrors)
	assert.Len(t, em.Items, 1)
}

func TestMaxItemsCap(t *testing.T) {
	layout := testLayout(t)
	workspace := t.TempDir()
	var items []Advice
	texts := []string{
		"Always validate inputs at the boundary",
		"Prefer returning errors over panicking",
		"Always close response bodies after requests",
		"Keep functions under one screen when possible",
		"Never ignore context cancellation in loops",
		"Prefer composition over inheritance style embedding",
		"Always set timeouts on outbound calls",
	}
	for i, txt := range texts {
		items = append(items, Advice{
			Text: txt, Source: SourceCognitive,
			InsightKey: NormalizeAdviceText(txt), Confidence: 0.9 - float64(i)*0.01, ContextMatch: 0.9,
		})
	}
	syn := NewSynthesizer(layout, config.Default().Advisory, &staticSource{name: SourceCognitive, items: items})
	em, err := syn.Advise(context.Background(), &Request{Tool: "Edit", Workspace: workspace})
	require.NoError(t, err)
	assert.Len(t, em.Items, config.Default().Advisory.MaxItems)

	// Best-ranked first.
	assert.Equal(t, texts[0], em.Items[0].Text)
}

func TestBridgeShapesArtifactButNotGates(t *testing.T) {
	layout := testLayout(t)
	workspace := t.TempDir()

	// Bridge with excessive influence is clamped, and it cannot resurrect
	// a suppressed telemetry caution.
	bridge := map[string]any{
		"source":        "consciousness_bridge_v1",
		"max_influence": 2.0,
		"strategy":      map[string]any{"ask_clarifying_question": true},
	}
	data, err := json.Marshal(bridge)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(layout.BridgeState(), data, 0o644))

	syn := NewSynthesizer(layout, config.Default().Advisory, &staticSource{
		name: SourceCognitive,
		items: []Advice{
			{Text: "[Caution] I struggle with tool_49_error tasks", Source: SourceCognitive, Confidence: 0.9, ContextMatch: 0.9},
			{Text: "Always read a file before editing it", Source: SourceCognitive, InsightKey: "reasoning:read_before_edit", Confidence: 0.9, ContextMatch: 0.9},
		},
	})
	em, err := syn.Advise(context.Background(), &Request{Tool: "Edit", Workspace: workspace})
	require.NoError(t, err)
	require.Len(t, em.Items, 1)
	assert.Equal(t, 1, em.Suppressed)

	artifact, err := os.ReadFile(em.ArtifactPath)
	require.NoError(t, err)
	assert.Contains(t, string(artifact), "clarifying question")
	assert.NotContains(t, string(artifact), "tool_49_error")
}

func TestQuarantineRingBound(t *testing.T) {
	layout := testLayout(t)
	q := NewQuarantine(layout, 10)
	for i := 0; i < 25; i++ {
		q.Record(QuarantineRow{Source: SourceCognitive, Stage: "rank", Reason: "below min rank score", AdvisoryReadiness: 3.0})
	}
	assert.LessOrEqual(t, countLines(t, layout.QuarantineFile()), 10)

	var row QuarantineRow
	lines, err := statedir.ReadLines(layout.QuarantineFile())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &row))
	assert.Equal(t, 1.0, row.AdvisoryReadiness, "readiness clamped to [0,1]")
}

func TestSettingsRoundTrip(t *testing.T) {
	layout := testLayout(t)

	s, err := LoadSettings(layout)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	require.NoError(t, SaveSettings(layout, Settings{MemoryMode: MemoryModeReplay, GuidanceStyle: StyleCoach}))
	s, err = LoadSettings(layout)
	require.NoError(t, err)
	assert.Equal(t, MemoryModeReplay, s.MemoryMode)
	assert.Equal(t, StyleCoach, s.GuidanceStyle)

	assert.Error(t, SaveSettings(layout, Settings{MemoryMode: "turbo", GuidanceStyle: StyleCoach}))
}

func TestEffectivenessMonotoneAndPersistent(t *testing.T) {
	layout := testLayout(t)
	book := LoadEffectiveness(layout)
	assert.Equal(t, 0.5, book.Reliability(SourceCognitive), "neutral prior")

	prev := book.Reliability(SourceCognitive)
	for i := 0; i < 5; i++ {
		book.RecordEffect(SourceCognitive, true)
		r := book.Reliability(SourceCognitive)
		assert.Greater(t, r, prev)
		prev = r
	}
	book.RecordEffect(SourceCognitive, false)
	assert.Less(t, book.Reliability(SourceCognitive), prev)

	require.NoError(t, book.Save())
	reloaded := LoadEffectiveness(layout)
	assert.Equal(t, book.Reliability(SourceCognitive), reloaded.Reliability(SourceCognitive))

	// Durable sources share one book entry.
	assert.Equal(t, book.Reliability(SourceCognitive), book.Reliability(SourceMemory))
}

func TestRankClippedAndThresholded(t *testing.T) {
	layout := testLayout(t)
	syn := NewSynthesizer(layout, config.Default().Advisory)
	now := time.Now()

	a := &Advice{Source: SourceCognitive, Confidence: 5, ContextMatch: 5, CreatedAt: now.Unix()}
	assert.Equal(t, 1.0, syn.rank(a, now))

	b := &Advice{Source: SourceCognitive, Confidence: 0, ContextMatch: 0, CreatedAt: now.Add(-2 * time.Hour).Unix()}
	r := syn.rank(b, now)
	assert.GreaterOrEqual(t, r, 0.0)
	assert.Less(t, r, config.Default().Advisory.MinRankScore)
}

func TestRecentLogFailureBlocksEmission(t *testing.T) {
	layout := testLayout(t)
	workspace := t.TempDir()
	// A directory in place of the recent-advice log makes every append fail.
	require.NoError(t, os.MkdirAll(layout.RecentAdvice(), 0o755))

	syn := NewSynthesizer(layout, config.Default().Advisory, &staticSource{
		name: SourceCognitive,
		items: []Advice{{
			Text:         "Always run the formatter before committing",
			Source:       SourceCognitive,
			Confidence:   0.9,
			ContextMatch: 0.9,
		}},
	})

	em, err := syn.Advise(context.Background(), &Request{Tool: "Edit", Workspace: workspace})
	require.Error(t, err)
	assert.False(t, em.Written)

	// Nothing the dedup windows cannot see ever reaches the agent.
	_, statErr := os.Stat(layout.ArtifactFile(workspace))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMemoryModeOffMutesMemorySource(t *testing.T) {
	layout := testLayout(t)
	require.NoError(t, SaveSettings(layout, Settings{MemoryMode: MemoryModeOff, GuidanceStyle: StyleBalanced}))

	syn := NewSynthesizer(layout, config.Default().Advisory,
		&staticSource{name: SourceMemory, items: []Advice{{
			Text:         "Prefer rebase over merge for feature branches",
			Source:       SourceMemory,
			Confidence:   0.9,
			ContextMatch: 0.9,
		}}},
		&staticSource{name: SourceCognitive, items: []Advice{{
			Text:         "Always run go vet before pushing changes",
			Source:       SourceCognitive,
			Confidence:   0.9,
			ContextMatch: 0.9,
		}}},
	)

	em, err := syn.Advise(context.Background(), &Request{Tool: "Edit", Workspace: t.TempDir()})
	require.NoError(t, err)
	require.Len(t, em.Items, 1)
	assert.Equal(t, SourceCognitive, em.Items[0].Source)
}

func TestReplayModeResurfacesPastAdvice(t *testing.T) {
	layout := testLayout(t)
	require.NoError(t, SaveSettings(layout, Settings{MemoryMode: MemoryModeReplay, GuidanceStyle: StyleBalanced}))

	// An emission old enough that every dedup window has expired.
	old := time.Now().Add(-2 * time.Hour).Unix()
	row := recentRow{
		TS:        old,
		Tool:      "Edit",
		AdviceIDs: []string{"cognitive:reasoning:read_before_edit"},
		Items: []recentItem{{
			AdviceID:   "cognitive:reasoning:read_before_edit",
			Source:     SourceCognitive,
			InsightKey: "reasoning:read_before_edit",
			NormText:   "always read a file before editing it",
			Rank:       0.8,
		}},
	}
	line, err := json.Marshal(row)
	require.NoError(t, err)
	require.NoError(t, statedir.AppendLine(layout.RecentAdvice(), line))

	syn := NewSynthesizer(layout, config.Default().Advisory)
	em, err := syn.Advise(context.Background(), &Request{
		Tool:      "Edit",
		Context:   "read a file before editing it",
		Workspace: t.TempDir(),
	})
	require.NoError(t, err)
	require.Len(t, em.Items, 1)
	assert.Equal(t, SourceReplay, em.Items[0].Source)
}

func TestGuidanceStyleShapesArtifact(t *testing.T) {
	advice := []Advice{{
		Text:         "Always run migrations inside a transaction",
		Source:       SourceCognitive,
		Confidence:   0.9,
		ContextMatch: 0.9,
	}}

	concise := testLayout(t)
	require.NoError(t, SaveSettings(concise, Settings{MemoryMode: MemoryModeStandard, GuidanceStyle: StyleConcise}))
	syn := NewSynthesizer(concise, config.Default().Advisory, &staticSource{name: SourceCognitive, items: advice})
	em, err := syn.Advise(context.Background(), &Request{Tool: "Edit", Workspace: t.TempDir()})
	require.NoError(t, err)
	artifact, err := os.ReadFile(em.ArtifactPath)
	require.NoError(t, err)
	assert.NotContains(t, string(artifact), "# Advisory")
	assert.Contains(t, string(artifact), "1. Always run migrations")

	coach := testLayout(t)
	require.NoError(t, SaveSettings(coach, Settings{MemoryMode: MemoryModeStandard, GuidanceStyle: StyleCoach}))
	syn = NewSynthesizer(coach, config.Default().Advisory, &staticSource{name: SourceCognitive, items: advice})
	em, err = syn.Advise(context.Background(), &Request{Tool: "Edit", Workspace: t.TempDir()})
	require.NoError(t, err)
	artifact, err = os.ReadFile(em.ArtifactPath)
	require.NoError(t, err)
	assert.Contains(t, string(artifact), "(from cognitive, confidence 0.90)")
}
