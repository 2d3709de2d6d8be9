package pipeline

import (
	"sync"

	"spark/internal/types"
)

// Backpressure levels.
const (
	BackpressureHealthy  = "healthy"
	BackpressureWarn     = "warn"
	BackpressureCritical = "critical"
)

// ProcessingMetrics describes one worker cycle. The processed batch rides
// along so bridge tasks observing the tick consume the drained events
// without re-reading the queue.
type ProcessingMetrics struct {
	EventsRead        int                  `json:"events_read"`
	EventsProcessed   int                  `json:"events_processed"`
	QueueDepthAfter   int                  `json:"queue_depth_after"`
	BackpressureLevel string               `json:"backpressure_level"`
	Counters          types.ReasonCounters `json:"counters,omitempty"`
	ProcessedEvents   []*types.Event       `json:"-"`
}

// metricsBoard publishes the latest cycle's metrics to bridge consumers.
// Taking the metrics clears the board, so a bridge that misses a tick
// falls back to reading recent events itself.
type metricsBoard struct {
	mu     sync.Mutex
	latest *ProcessingMetrics
}

func (b *metricsBoard) publish(m *ProcessingMetrics) {
	b.mu.Lock()
	b.latest = m
	b.mu.Unlock()
}

// take returns and clears the latest metrics, or nil when none are
// pending.
func (b *metricsBoard) take() *ProcessingMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.latest
	b.latest = nil
	return m
}
