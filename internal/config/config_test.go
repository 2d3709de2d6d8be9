package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	tun, err := Load(filepath.Join(t.TempDir(), "tuneables.json"))
	require.NoError(t, err)
	assert.Equal(t, Default().Queue.MaxEvents, tun.Queue.MaxEvents)
	assert.Equal(t, Default().Advisory.MaxItems, tun.Advisory.MaxItems)
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuneables.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"queue":{"max_events":42},"advisory":{"min_rank_score":0.5}}`), 0o644))

	tun, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, tun.Queue.MaxEvents)
	assert.Equal(t, 0.5, tun.Advisory.MinRankScore)
	// Untouched sections keep defaults.
	assert.Equal(t, Default().Pipeline.BatchSize, tun.Pipeline.BatchSize)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPARK_EMBEDDINGS", "0")
	t.Setenv("SPARK_ADVISORY_QUARANTINE_MAX_LINES", "300")
	t.Setenv("SPARK_MINIMAX_MODEL", "MiniMax-M1")
	t.Setenv("SPARK_MINIMAX_API_KEY", "sk-test")

	tun, err := Load("")
	require.NoError(t, err)
	assert.False(t, tun.Embedding.Enabled)
	assert.Equal(t, 300, tun.Advisory.QuarantineMaxLines)
	assert.Equal(t, "MiniMax-M1", tun.Autoscore.MinimaxModel)
	assert.Equal(t, "sk-test", tun.Autoscore.MinimaxAPIKey)
}

func TestBackendNoneDisables(t *testing.T) {
	t.Setenv("SPARK_EMBED_BACKEND", "none")
	tun, err := Load("")
	require.NoError(t, err)
	assert.False(t, tun.Embedding.Enabled)
	assert.Equal(t, "none", tun.Embedding.Backend)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuneables.json")
	tun := Default()
	tun.Queue.MaxEvents = 7
	require.NoError(t, tun.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, back.Queue.MaxEvents)
}
