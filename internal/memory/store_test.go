package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spark/internal/config"
	"spark/internal/embedding"
	"spark/internal/emotion"
	"spark/internal/statedir"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGet(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Add(Entry{
		Text:     "User prefers table-driven tests",
		Category: "preference",
		Source:   "pipeline",
		Meta:     map[string]any{"session": "s1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	e, err := s.Get(id)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "global", e.Scope)
	assert.Equal(t, "User prefers table-driven tests", e.Text)
}

func TestContentKeyStable(t *testing.T) {
	a := ContentKey("global", "", "Always  read a FILE before edit")
	b := ContentKey("global", "", "always read a file before edit")
	c := ContentKey("project", "p1", "always read a file before edit")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestReAddMergesMetaOnly(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.Add(Entry{Text: "same fact", Meta: map[string]any{"a": "1"}})
	require.NoError(t, err)
	id2, err := s.Add(Entry{Text: "same fact", Meta: map[string]any{"b": "2"}})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	e, err := s.Get(id1)
	require.NoError(t, err)
	assert.Equal(t, "1", e.Meta["a"])
	assert.Equal(t, "2", e.Meta["b"])

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSearchLexicalOnly(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(Entry{Text: "always read the file before editing it", Category: "wisdom"})
	require.NoError(t, err)
	_, err = s.Add(Entry{Text: "deploy the service with rolling restarts", Category: "ops"})
	require.NoError(t, err)

	cfg := config.Default().Retrieval
	results, err := s.Search(context.Background(), Query{Context: "read file before edit", Limit: 5}, nil, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Entry.Text, "read the file")
}

func TestSearchSemanticUplift(t *testing.T) {
	s := newTestStore(t)
	emb := embedding.NewTFIDFEmbedder(256)
	ctx := context.Background()

	_, err := s.Add(Entry{Text: "verify current content by reading files prior to edits"})
	require.NoError(t, err)
	_, err = s.Add(Entry{Text: "kubernetes helm chart rollout"})
	require.NoError(t, err)

	n, err := s.EnsureEmbeddings(ctx, emb, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cfg := config.Default().Retrieval
	results, err := s.Search(ctx, Query{Context: "reading files prior to editing", Limit: 2}, emb, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Entry.Text, "reading files")
	assert.Greater(t, results[0].Semantic, 0.0)
}

func TestSearchEmotionBias(t *testing.T) {
	s := newTestStore(t)
	calm := emotion.Snapshot{Calm: 0.9, Energy: 0.3, Warmth: 0.6}
	strained := emotion.Snapshot{Strain: 0.95, Energy: 0.8}

	_, err := s.Add(Entry{Text: "debug carefully when tired", Meta: map[string]any{"emotion": calm}})
	require.NoError(t, err)
	_, err = s.Add(Entry{Text: "debug carefully when rushed", Meta: map[string]any{"emotion": strained}})
	require.NoError(t, err)

	cfg := config.Default().Retrieval
	results, err := s.Search(context.Background(), Query{
		Context: "debug carefully",
		Emotion: &calm,
		Limit:   2,
	}, nil, cfg)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Entry.Text, "tired")
	assert.Greater(t, results[0].EmotionMatch, results[1].EmotionMatch)
}

func TestSearchRescuePass(t *testing.T) {
	s := newTestStore(t)
	// Old entry with weak overlap: strict floors miss it, rescue finds it.
	_, err := s.Add(Entry{
		Text:      "jitter backoff strategy notes",
		CreatedAt: time.Now().Add(-90 * 24 * time.Hour).Unix(),
	})
	require.NoError(t, err)

	cfg := config.Default().Retrieval
	cfg.FusionFloor = 0.9 // force the strict pass to blank
	results, err := s.Search(context.Background(), Query{Context: "jitter", Limit: 3}, nil, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.True(t, results[0].Rescued)
}

func TestScopeFilter(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add(Entry{Text: "project convention: use zap logging", Scope: "project", ProjectKey: "alpha"})
	require.NoError(t, err)
	_, err = s.Add(Entry{Text: "global convention: wrap errors", Scope: "global"})
	require.NoError(t, err)

	cfg := config.Default().Retrieval
	cfg.FusionFloor = 0
	results, err := s.Search(context.Background(), Query{Context: "convention", ProjectKey: "beta", Limit: 10}, nil, cfg)
	require.NoError(t, err)
	// Project-scoped rows from other projects are excluded; global stays.
	for _, r := range results {
		assert.NotEqual(t, "alpha", r.Entry.ProjectKey)
	}
}

func TestMigrateJSONL(t *testing.T) {
	s := newTestStore(t)
	legacy := filepath.Join(t.TempDir(), "memories.jsonl")
	require.NoError(t, statedir.AppendLine(legacy, []byte(`{"text":"first fact","category":"wisdom"}`)))
	require.NoError(t, statedir.AppendLine(legacy, []byte(`{"text":"second fact"}`)))
	require.NoError(t, statedir.AppendLine(legacy, []byte(`not json`)))
	require.NoError(t, statedir.AppendLine(legacy, []byte(`{"text":"first fact"}`))) // dup

	imported, skipped, err := s.MigrateJSONL(legacy)
	require.NoError(t, err)
	assert.Equal(t, 3, imported) // dup collapses via content key
	assert.Equal(t, 1, skipped)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
