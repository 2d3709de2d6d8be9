package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spark/internal/eidos"
	"spark/internal/faults"
	"spark/internal/outcome"
	"spark/internal/statedir"
	"spark/internal/types"
)

func boolPtr(b bool) *bool { return &b }

func TestBuildMergedTimeline(t *testing.T) {
	layout, err := statedir.At(t.TempDir())
	require.NoError(t, err)
	eid, err := eidos.Open(layout)
	require.NoError(t, err)
	defer eid.Close()
	outLog := outcome.OpenLog(layout)

	traceID := "cafe0000cafe0000"

	call := &types.Event{
		Version: types.SchemaVersion, Source: "claude_code", Kind: types.KindTool,
		TS: 100, SessionID: "s1", TraceID: traceID,
		Payload: types.Payload{ToolName: "Bash", ToolInput: map[string]any{"command": "make test"}},
	}
	require.NoError(t, eid.Ingest(call))
	result := &types.Event{
		Version: types.SchemaVersion, Source: "claude_code", Kind: types.KindTool,
		TS: 110, SessionID: "s1", TraceID: traceID,
		Payload: types.Payload{ToolName: "Bash", ToolResult: "2 tests passed", IsError: boolPtr(false)},
	}
	require.NoError(t, eid.Ingest(result))
	require.NoError(t, outLog.IngestToolResult(result))

	tl, err := Build(layout, eid, outLog, traceID)
	require.NoError(t, err)
	assert.Equal(t, traceID, tl.TraceID)
	require.NotEmpty(t, tl.Entries)

	kinds := map[string]int{}
	for _, e := range tl.Entries {
		kinds[e.Kind]++
	}
	assert.Equal(t, 1, kinds[KindStep])
	assert.Equal(t, 1, kinds[KindEvidence])
	assert.Equal(t, 1, kinds[KindOutcome])

	// Ordered by timestamp.
	for i := 1; i < len(tl.Entries); i++ {
		assert.LessOrEqual(t, tl.Entries[i-1].TS, tl.Entries[i].TS)
	}
}

func TestBuildNoRowsIsNoHit(t *testing.T) {
	layout, err := statedir.At(t.TempDir())
	require.NoError(t, err)
	eid, err := eidos.Open(layout)
	require.NoError(t, err)
	defer eid.Close()
	outLog := outcome.OpenLog(layout)

	_, err = Build(layout, eid, outLog, "dead0000dead0000")
	require.Error(t, err)
	assert.Equal(t, faults.KindNoHit, faults.KindOf(err))
}
