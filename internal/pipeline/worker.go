// Package pipeline implements the adaptive worker: the single loop that
// drains the event queue, fans each event into the stores in a fixed
// order (memory, cognitive, outcome, eidos), publishes the processed
// batch for bridge tasks, and retunes its own interval from backpressure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"spark/internal/cognitive"
	"spark/internal/config"
	"spark/internal/eidos"
	"spark/internal/logging"
	"spark/internal/memory"
	"spark/internal/outcome"
	"spark/internal/queue"
	"spark/internal/statedir"
	"spark/internal/types"
)

// Bridge consumes processed batches at worker ticks. A nil metrics value
// means the bridge missed the tick and should fall back to recent reads.
type Bridge interface {
	Name() string
	OnTick(ctx context.Context, m *ProcessingMetrics) error
}

// Worker is the pipeline worker.
type Worker struct {
	layout    *statedir.Layout
	cfg       *config.Tuneables
	queue     *queue.Queue
	memory    *memory.Store
	cognitive *cognitive.Store
	outcomes  *outcome.Log
	eidos     *eidos.Store

	feedback *outcome.FeedbackIngester
	checkin  *outcome.Checkin
	bridges  []Bridge
	board    metricsBoard

	interval time.Duration
	counters types.ReasonCounters
}

// NewWorker wires the worker over already-opened stores.
func NewWorker(layout *statedir.Layout, cfg *config.Tuneables, q *queue.Queue, mem *memory.Store, cog *cognitive.Store, out *outcome.Log, eid *eidos.Store) *Worker {
	return &Worker{
		layout:    layout,
		cfg:       cfg,
		queue:     q,
		memory:    mem,
		cognitive: cog,
		outcomes:  out,
		eidos:     eid,
		feedback:  outcome.NewFeedbackIngester(layout, out),
		checkin:   outcome.NewCheckin(layout, out, time.Duration(cfg.Pipeline.CheckinMinIntervalS)*time.Second),
		interval:  time.Duration(cfg.Pipeline.BaseIntervalS) * time.Second,
		counters:  make(types.ReasonCounters),
	}
}

// AddBridge registers a bridge task observing worker ticks.
func (w *Worker) AddBridge(b Bridge) { w.bridges = append(w.bridges, b) }

// Metrics exposes the board for out-of-band consumers (tests, status).
func (w *Worker) Metrics() *ProcessingMetrics { return w.board.take() }

// Run drives the loop until the context ends. The PID lock enforces a
// single worker instance; a second invocation returns cleanly. On
// cancellation the current batch finishes, stores flush, and the lock is
// released.
func (w *Worker) Run(ctx context.Context) error {
	lock, err := statedir.AcquirePidLock(w.layout.PidLock("worker"))
	if err != nil {
		if errors.Is(err, statedir.ErrAlreadyRunning) {
			logging.Boot("worker already running, exiting")
			return nil
		}
		return fmt.Errorf("worker pid lock: %w", err)
	}
	defer lock.Release()

	if err := w.queue.RotateIfNeeded(); err != nil {
		logging.Get(logging.CategoryPipeline).Warn("startup rotation failed: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Feedback drop-dir watcher runs beside the loop.
	g.Go(func() error {
		err := w.feedback.Watch(gctx, time.Duration(w.cfg.Pipeline.BaseIntervalS)*time.Second)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Coarse cadences: check-in solicitation and the evidence TTL sweep.
	sched := cron.New()
	if _, err := sched.AddFunc("@every 10m", func() {
		if _, cerr := w.checkin.MaybeSolicit(time.Now()); cerr != nil {
			logging.Get(logging.CategoryPipeline).Warn("check-in failed: %v", cerr)
		}
	}); err != nil {
		return fmt.Errorf("schedule check-in: %w", err)
	}
	if _, err := sched.AddFunc("@every 1h", func() {
		if _, serr := w.eidos.SweepExpiredEvidence(time.Now()); serr != nil {
			logging.Get(logging.CategoryPipeline).Warn("evidence sweep failed: %v", serr)
		}
	}); err != nil {
		return fmt.Errorf("schedule evidence sweep: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	g.Go(func() error {
		timer := time.NewTimer(w.interval)
		defer timer.Stop()
		for {
			select {
			case <-gctx.Done():
				// Finish with one final drain so nothing queued is lost.
				w.Tick(context.Background())
				return nil
			case <-timer.C:
			}
			w.Tick(gctx)
			timer.Reset(w.interval)
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Tick runs one worker cycle: drain, fan out, publish, retune.
func (w *Worker) Tick(ctx context.Context) *ProcessingMetrics {
	timer := logging.StartTimer(logging.CategoryPipeline, "tick")
	defer timer.StopWithThreshold(5 * time.Second)

	batch, err := w.queue.Drain(w.cfg.Pipeline.BatchSize)
	if err != nil {
		logging.Get(logging.CategoryPipeline).Error("drain failed: %v", err)
		w.counters.Bump("drain_error")
		batch = nil
	}

	processed := w.processBatch(ctx, batch)
	depthAfter, _ := w.queue.Depth()

	m := &ProcessingMetrics{
		EventsRead:        len(batch),
		EventsProcessed:   processed,
		QueueDepthAfter:   depthAfter,
		BackpressureLevel: w.backpressure(depthAfter, len(batch)),
		Counters:          w.snapshotCounters(),
		ProcessedEvents:   batch,
	}
	w.board.publish(m)
	w.runBridges(ctx, m)
	w.retune(m)

	logging.Pipeline("tick read=%d processed=%d depth=%d level=%s next=%s",
		m.EventsRead, m.EventsProcessed, depthAfter, m.BackpressureLevel, w.interval)
	return m
}

// processBatch fans each event into the stores sequentially so later
// stages can reference ids produced by earlier stages. Cognitive writes
// coalesce under batch mode.
func (w *Worker) processBatch(ctx context.Context, batch []*types.Event) int {
	if len(batch) == 0 {
		return 0
	}
	w.cognitive.BeginBatch()
	defer func() {
		if err := w.cognitive.EndBatch(); err != nil {
			logging.Get(logging.CategoryPipeline).Error("cognitive flush failed: %v", err)
		}
	}()

	processed := 0
	for _, e := range batch {
		if ctx.Err() != nil && processed > 0 {
			// Cancellation finishes the event in flight, not the batch.
			break
		}
		if w.processEvent(e) {
			processed++
		}
	}
	return processed
}

// processEvent runs the fixed fan-out order for one event.
func (w *Worker) processEvent(e *types.Event) bool {
	e.EnsureTraceID()
	ok := true

	if entry, keep := w.memoryEntry(e); keep {
		if _, err := w.memory.Add(entry); err != nil {
			logging.Get(logging.CategoryMemory).Error("memory add failed: %v", err)
			w.counters.Bump("memory_error")
			ok = false
		}
	}

	if in, reason, keep := cognitive.Distill(e); keep {
		if _, err := w.cognitive.AddInsight(*in); err != nil {
			logging.Get(logging.CategoryCognitive).Error("insight add failed: %v", err)
			w.counters.Bump("cognitive_error")
			ok = false
		}
	} else if reason != "" {
		w.counters.Bump("distill_" + reason)
	}

	if err := w.outcomes.IngestToolResult(e); err != nil {
		logging.Get(logging.CategoryOutcome).Error("outcome ingest failed: %v", err)
		w.counters.Bump("outcome_error")
		ok = false
	}

	if err := w.eidos.Ingest(e); err != nil {
		logging.Get(logging.CategoryEidos).Error("eidos ingest failed: %v", err)
		w.counters.Bump("eidos_error")
		ok = false
	}
	return ok
}

// memoryEntry derives a memory entry from an event, gated on a minimum
// signal length so tool chatter stays out of the store.
func (w *Worker) memoryEntry(e *types.Event) (memory.Entry, bool) {
	if e.Kind != types.KindMessage {
		return memory.Entry{}, false
	}
	text := strings.TrimSpace(e.Payload.Text)
	if len(text) < w.cfg.Pipeline.MinSignalChars {
		return memory.Entry{}, false
	}
	category := e.Payload.Category
	if category == "" {
		category = "conversation"
	}
	return memory.Entry{
		Text:      text,
		Scope:     "global",
		Category:  category,
		CreatedAt: e.TS,
		Source:    e.Source,
	}, true
}

func (w *Worker) runBridges(ctx context.Context, m *ProcessingMetrics) {
	for _, b := range w.bridges {
		if err := b.OnTick(ctx, m); err != nil {
			logging.Get(logging.CategoryBridge).Warn("bridge %s failed: %v", b.Name(), err)
			w.counters.Bump("bridge_error")
		}
	}
}

// backpressure derives the health tag from post-drain depth and read size.
func (w *Worker) backpressure(depthAfter, eventsRead int) string {
	switch {
	case depthAfter >= w.cfg.Pipeline.CriticalQueueDepth:
		return BackpressureCritical
	case depthAfter >= w.cfg.Pipeline.WarnQueueDepth || eventsRead >= w.cfg.Pipeline.BatchSize:
		return BackpressureWarn
	default:
		return BackpressureHealthy
	}
}

// retune computes the next interval: clamp(base·f, min, max). Critical
// pressure drives toward the floor, sustained healthy idle extends toward
// the ceiling, warn holds the base.
func (w *Worker) retune(m *ProcessingMetrics) {
	base := time.Duration(w.cfg.Pipeline.BaseIntervalS) * time.Second
	var next time.Duration
	switch m.BackpressureLevel {
	case BackpressureCritical:
		next = w.interval / 2
		if next > base/2 {
			next = base / 2
		}
	case BackpressureWarn:
		next = base
	default:
		if m.EventsRead == 0 && m.QueueDepthAfter == 0 {
			next = w.interval * 3 / 2
			if next > base*2 {
				next = base * 2
			}
		} else {
			next = base
		}
	}

	min := time.Duration(w.cfg.Pipeline.MinIntervalS) * time.Second
	max := time.Duration(w.cfg.Pipeline.MaxIntervalS) * time.Second
	if next < min {
		next = min
	}
	if next > max {
		next = max
	}
	w.interval = next
}

// Interval reports the current loop interval.
func (w *Worker) Interval() time.Duration { return w.interval }

func (w *Worker) snapshotCounters() types.ReasonCounters {
	out := make(types.ReasonCounters, len(w.counters))
	for k, v := range w.counters {
		out[k] = v
	}
	for k, v := range w.queue.Counters() {
		out[k] += v
	}
	return out
}
