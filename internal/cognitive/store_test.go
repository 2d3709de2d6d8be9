package cognitive

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spark/internal/config"
	"spark/internal/statedir"
)

func testStore(t *testing.T) (*Store, *statedir.Layout) {
	t.Helper()
	layout, err := statedir.At(t.TempDir())
	require.NoError(t, err)
	s, err := OpenStore(layout, config.Default().Cognitive)
	require.NoError(t, err)
	return s, layout
}

func TestAddInsightAndGet(t *testing.T) {
	s, _ := testStore(t)

	key, err := s.AddInsight(Insight{
		Category:   CategoryReasoning,
		Insight:    "Always read a file before edit to verify its current content",
		Confidence: 0.6,
		Evidence:   []string{"pre-edit read caught a drifted import block"},
	})
	require.NoError(t, err)
	assert.Equal(t, "reasoning:always_read_a_file_before_edit_to_verify_its_current_content", key)

	got := s.Get(key)
	require.NotNil(t, got)
	assert.Equal(t, CategoryReasoning, got.Category)
	assert.Equal(t, 0.6, got.Confidence)
	assert.Len(t, got.Evidence, 1)
}

func TestAddInsightMergesOnSameKey(t *testing.T) {
	s, _ := testStore(t)

	first, err := s.AddInsight(Insight{
		Category:   CategoryWisdom,
		Insight:    "Prefer small focused commits",
		Confidence: 0.4,
		Evidence:   []string{"a"},
	})
	require.NoError(t, err)

	// Same statement with trivial phrasing noise collapses onto one key.
	second, err := s.AddInsight(Insight{
		Category:   CategoryWisdom,
		Insight:    "Prefer small, focused commits!",
		Confidence: 0.7,
		Evidence:   []string{"b"},
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.Count())

	got := s.Get(first)
	require.NotNil(t, got)
	assert.Equal(t, 0.7, got.Confidence, "confidence takes the max")
	assert.Equal(t, []string{"a", "b"}, got.Evidence)
}

func TestEvidenceRingBounded(t *testing.T) {
	cfg := config.Default().Cognitive
	s, _ := testStore(t)

	key, err := s.AddInsight(Insight{Category: CategoryContext, Insight: "Keep migrations reversible whenever possible"})
	require.NoError(t, err)

	for i := 0; i < cfg.MaxEvidence+5; i++ {
		require.NoError(t, s.RecordValidation(key, false, "evidence item"))
	}
	got := s.Get(key)
	require.NotNil(t, got)
	assert.Len(t, got.Evidence, cfg.MaxEvidence)
	assert.Equal(t, cfg.MaxEvidence+5, got.TimesValidated)
}

func TestBatchCoalescesWrites(t *testing.T) {
	s, layout := testStore(t)

	s.BeginBatch()
	_, err := s.AddInsight(Insight{Category: CategoryWisdom, Insight: "Never force-push a shared branch"})
	require.NoError(t, err)
	_, err = s.AddInsight(Insight{Category: CategoryWisdom, Insight: "Avoid editing generated files by hand"})
	require.NoError(t, err)

	_, statErr := os.Stat(layout.CognitiveFile())
	assert.True(t, os.IsNotExist(statErr), "no disk write while batching")

	require.NoError(t, s.EndBatch())
	_, statErr = os.Stat(layout.CognitiveFile())
	assert.NoError(t, statErr)

	// Reload and verify both insights survived the single write.
	reopened, err := OpenStore(layout, config.Default().Cognitive)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Count())
}

func TestNestedBatch(t *testing.T) {
	s, layout := testStore(t)

	s.BeginBatch()
	s.BeginBatch()
	_, err := s.AddInsight(Insight{Category: CategoryWisdom, Insight: "Always pin dependency versions in CI"})
	require.NoError(t, err)
	require.NoError(t, s.EndBatch())

	_, statErr := os.Stat(layout.CognitiveFile())
	assert.True(t, os.IsNotExist(statErr), "outer batch still open")

	require.NoError(t, s.EndBatch())
	_, statErr = os.Stat(layout.CognitiveFile())
	assert.NoError(t, statErr)
}

func TestReliabilityMonotone(t *testing.T) {
	cfg := config.Default().Cognitive
	in := Insight{Confidence: 0.5}

	prev := in.Reliability(cfg)
	for v := 0; v < 10; v++ {
		in.TimesValidated++
		r := in.Reliability(cfg)
		assert.GreaterOrEqual(t, r, prev, "validations never lower reliability")
		assert.GreaterOrEqual(t, r, 0.0)
		assert.LessOrEqual(t, r, 1.0)
		prev = r
	}

	in.TimesContradicted++
	assert.Less(t, in.Reliability(cfg), prev, "a contradiction lowers reliability")
}

func TestPromotionAndDecay(t *testing.T) {
	cfg := config.Default().Cognitive
	s, _ := testStore(t)

	key, err := s.AddInsight(Insight{Category: CategoryReasoning, Insight: "Always check the exit code before parsing output"})
	require.NoError(t, err)

	for i := 0; i < cfg.PromoteValidations; i++ {
		require.NoError(t, s.RecordValidation(key, false, ""))
	}
	assert.True(t, s.Get(key).Promoted)

	for i := 0; i < cfg.DecayContradictions+cfg.PromoteValidations; i++ {
		require.NoError(t, s.RecordValidation(key, true, "did not hold under load"))
	}
	got := s.Get(key)
	assert.False(t, got.Promoted)
	assert.Len(t, got.CounterExamples, cfg.DecayContradictions+cfg.PromoteValidations)
}

func TestRecordValidationUnknownKey(t *testing.T) {
	s, _ := testStore(t)
	assert.NoError(t, s.RecordValidation("wisdom:never_stored", false, ""))
}

func TestAllExcludesNoise(t *testing.T) {
	s, _ := testStore(t)

	goodKey, err := s.AddInsight(Insight{Category: CategoryWisdom, Insight: "Always verify a backup exists before destructive operations"})
	require.NoError(t, err)
	// A noise insight that slipped in before the gate patterns knew it.
	_, err = s.AddInsight(Insight{Category: CategorySelfAwareness, Insight: "I struggle with tool_49 tasks"})
	require.NoError(t, err)

	visible := s.All(false)
	require.Len(t, visible, 1)
	assert.Equal(t, goodKey, visible[0].Key)

	assert.Len(t, s.All(true), 2)
}

func TestAllSortedByReliability(t *testing.T) {
	s, _ := testStore(t)

	weak, err := s.AddInsight(Insight{Category: CategoryWisdom, Insight: "Prefer table driven tests for parsers", Confidence: 0.2})
	require.NoError(t, err)
	strong, err := s.AddInsight(Insight{Category: CategoryWisdom, Insight: "Always quote shell variables in scripts", Confidence: 0.2})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordValidation(strong, false, ""))
	}

	all := s.All(false)
	require.Len(t, all, 2)
	assert.Equal(t, strong, all[0].Key)
	assert.Equal(t, weak, all[1].Key)
}

func TestValidationQualityWeighsReliability(t *testing.T) {
	s, _ := testStore(t)

	solid, err := s.AddInsight(Insight{Category: CategoryReasoning, Insight: "Always pin dependency versions in lockfiles", Confidence: 0.3})
	require.NoError(t, err)
	noisy, err := s.AddInsight(Insight{Category: CategoryReasoning, Insight: "Always gate deploys on a green pipeline", Confidence: 0.3})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordValidation(solid, false, "user confirmed the pinned build reproduced byte for byte"))
		require.NoError(t, s.RecordValidation(noisy, false, "success_rate went up after the fix"))
	}

	// Same validation count, but the telemetry-shaped evidence carries a
	// fraction of the weight.
	assert.Equal(t, s.Get(solid).TimesValidated, s.Get(noisy).TimesValidated)
	assert.Greater(t, s.Reliability(solid), s.Reliability(noisy))
	assert.Greater(t, s.Get(solid).ValidationWeight, s.Get(noisy).ValidationWeight)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	s, layout := testStore(t)
	key, err := s.AddInsight(Insight{Category: CategoryContext, Insight: "Always run migrations inside a transaction"})
	require.NoError(t, err)
	require.NoError(t, s.RecordValidation(key, false, "migration rollback worked cleanly"))

	reopened, err := OpenStore(layout, config.Default().Cognitive)
	require.NoError(t, err)
	got := reopened.Get(key)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.TimesValidated)
}

func TestCorruptStoreFileFails(t *testing.T) {
	layout, err := statedir.At(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(layout.CognitiveFile(), []byte("{not json"), 0o644))
	_, err = OpenStore(layout, config.Default().Cognitive)
	assert.Error(t, err)
}
