package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spark/internal/cognitive"
	"spark/internal/config"
	"spark/internal/eidos"
	"spark/internal/memory"
	"spark/internal/outcome"
	"spark/internal/queue"
	"spark/internal/statedir"
	"spark/internal/types"
)

func testWorker(t *testing.T, cfg *config.Tuneables) (*Worker, *queue.Queue, *statedir.Layout) {
	t.Helper()
	layout, err := statedir.At(t.TempDir())
	require.NoError(t, err)

	q := queue.New(layout, cfg.Queue)
	mem, err := memory.Open(layout.MemoryDB())
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })
	cog, err := cognitive.OpenStore(layout, cfg.Cognitive)
	require.NoError(t, err)
	out := outcome.OpenLog(layout)
	eid, err := eidos.Open(layout)
	require.NoError(t, err)
	t.Cleanup(func() { eid.Close() })

	return NewWorker(layout, cfg, q, mem, cog, out, eid), q, layout
}

func boolPtr(b bool) *bool { return &b }

func messageEvent(ts int64, text string) *types.Event {
	return &types.Event{
		Version:   types.SchemaVersion,
		Source:    "claude_code",
		Kind:      types.KindMessage,
		TS:        ts,
		SessionID: "s1",
		Payload:   types.Payload{Role: "user", Text: text},
	}
}

func toolResultEvent(ts int64, tool, result string, isErr bool) *types.Event {
	return &types.Event{
		Version:   types.SchemaVersion,
		Source:    "claude_code",
		Kind:      types.KindTool,
		TS:        ts,
		SessionID: "s1",
		Payload:   types.Payload{ToolName: tool, ToolResult: result, IsError: boolPtr(isErr)},
	}
}

func TestTickDrainsAndFansOut(t *testing.T) {
	cfg := config.Default()
	w, q, _ := testWorker(t, cfg)

	require.NoError(t, q.Append(messageEvent(100, "Always run the linter before committing anything to the repo")))
	require.NoError(t, q.Append(toolResultEvent(101, "Bash", "error: permission denied", true)))

	m := w.Tick(context.Background())
	assert.Equal(t, 2, m.EventsRead)
	assert.Equal(t, 2, m.EventsProcessed)
	assert.Equal(t, 0, m.QueueDepthAfter)
	assert.Equal(t, BackpressureHealthy, m.BackpressureLevel)

	// Queue is drained.
	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	// The user principle was distilled.
	assert.Equal(t, 1, w.cognitive.Count())

	// The failing tool result became a negative outcome.
	rows, err := w.outcomes.ReadSince(0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, outcome.PolarityNeg, rows[0].Polarity)

	// And the memory store holds the message.
	count, err := w.memory.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestShortMessagesSkipMemory(t *testing.T) {
	cfg := config.Default()
	w, q, _ := testWorker(t, cfg)

	require.NoError(t, q.Append(messageEvent(100, "ok thanks")))
	w.Tick(context.Background())

	count, err := w.memory.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestIntervalClamp(t *testing.T) {
	cfg := config.Default()
	w, _, _ := testWorker(t, cfg)

	base := time.Duration(cfg.Pipeline.BaseIntervalS) * time.Second
	min := time.Duration(cfg.Pipeline.MinIntervalS) * time.Second
	max := time.Duration(cfg.Pipeline.MaxIntervalS) * time.Second

	assert.Equal(t, base, w.Interval())

	// Sustained healthy idle extends toward the ceiling, capped at 2x base.
	for i := 0; i < 10; i++ {
		w.retune(&ProcessingMetrics{BackpressureLevel: BackpressureHealthy})
		assert.LessOrEqual(t, w.Interval(), max)
		assert.LessOrEqual(t, w.Interval(), 2*base)
	}
	assert.Equal(t, 2*base, w.Interval())

	// Critical pressure drives toward the floor, never below it.
	for i := 0; i < 10; i++ {
		w.retune(&ProcessingMetrics{BackpressureLevel: BackpressureCritical, QueueDepthAfter: cfg.Pipeline.CriticalQueueDepth})
		assert.GreaterOrEqual(t, w.Interval(), min)
	}
	assert.Equal(t, min, w.Interval())

	// Warn returns to base.
	w.retune(&ProcessingMetrics{BackpressureLevel: BackpressureWarn})
	assert.Equal(t, base, w.Interval())
}

func TestBackpressureLevels(t *testing.T) {
	cfg := config.Default()
	w, _, _ := testWorker(t, cfg)

	assert.Equal(t, BackpressureHealthy, w.backpressure(0, 10))
	assert.Equal(t, BackpressureWarn, w.backpressure(cfg.Pipeline.WarnQueueDepth, 10))
	assert.Equal(t, BackpressureWarn, w.backpressure(0, cfg.Pipeline.BatchSize))
	assert.Equal(t, BackpressureCritical, w.backpressure(cfg.Pipeline.CriticalQueueDepth, 10))
}

// recordingBridge captures what each tick delivered.
type recordingBridge struct {
	batches [][]*types.Event
	fellBack int
	queue   *queue.Queue
}

func (r *recordingBridge) Name() string { return "recording" }
func (r *recordingBridge) OnTick(ctx context.Context, m *ProcessingMetrics) error {
	if m == nil {
		r.fellBack++
		recent, err := r.queue.ReadRecent(50)
		if err != nil {
			return err
		}
		r.batches = append(r.batches, recent)
		return nil
	}
	r.batches = append(r.batches, m.ProcessedEvents)
	return nil
}

func TestBridgeNeverStarves(t *testing.T) {
	cfg := config.Default()
	w, q, _ := testWorker(t, cfg)
	rb := &recordingBridge{queue: q}
	w.AddBridge(rb)

	require.NoError(t, q.Append(messageEvent(100, "Always prefer explicit over implicit configuration values")))
	require.NoError(t, q.Append(toolResultEvent(101, "Edit", "updated", false)))

	w.Tick(context.Background())

	// The bridge saw the drained events even though the queue is empty now.
	require.Len(t, rb.batches, 1)
	assert.Len(t, rb.batches[0], 2)
	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	// A tick with no pending metrics falls back to read_recent.
	require.NoError(t, rb.OnTick(context.Background(), nil))
	assert.Equal(t, 1, rb.fellBack)
}

func TestMetricsBoardTakeClears(t *testing.T) {
	var b metricsBoard
	assert.Nil(t, b.take())
	b.publish(&ProcessingMetrics{EventsRead: 3})
	m := b.take()
	require.NotNil(t, m)
	assert.Equal(t, 3, m.EventsRead)
	assert.Nil(t, b.take())
}

func TestTickEmptyQueue(t *testing.T) {
	cfg := config.Default()
	w, _, _ := testWorker(t, cfg)
	m := w.Tick(context.Background())
	assert.Zero(t, m.EventsRead)
	assert.Equal(t, BackpressureHealthy, m.BackpressureLevel)
}
