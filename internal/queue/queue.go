// Package queue implements the append-only, rotation-bounded event log.
// Writers are serialized by an inter-process lockfile; readers go lock-free
// and tolerate a torn trailing line. Rotation truncates from the head into
// a bounded overflow sidecar so nothing grows without limit.
package queue

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"spark/internal/config"
	"spark/internal/logging"
	"spark/internal/statedir"
	"spark/internal/types"
)

// Queue is a handle on the persistent event log.
type Queue struct {
	path         string
	overflowPath string
	lock         *statedir.FileLock
	cfg          config.QueueConfig

	mu       sync.Mutex
	counters types.ReasonCounters
}

// Skip/drop counter names beyond the event validation reasons.
const (
	ReasonCorruptLine = "corrupt_line"
	ReasonLockBusy    = "lock_busy"
)

// New opens (or lazily creates) the queue under the given layout.
func New(layout *statedir.Layout, cfg config.QueueConfig) *Queue {
	return &Queue{
		path:         layout.QueueFile(),
		overflowPath: layout.QueueOverflow(),
		lock: &statedir.FileLock{
			Path:  layout.QueueLock(),
			Wait:  time.Duration(cfg.LockWaitMS) * time.Millisecond,
			Stale: time.Duration(cfg.LockStaleMS) * time.Millisecond,
		},
		cfg:      cfg,
		counters: make(types.ReasonCounters),
	}
}

// Append validates the event and appends it as one JSON line. Invalid
// events are dropped with a taxonomized reason and a nil error: ingest
// never crashes the caller. Lock contention surfaces as a transport-kind
// error after the bounded wait.
func (q *Queue) Append(e *types.Event) error {
	if e == nil {
		q.bump(types.ReasonUnparseable)
		return nil
	}
	if ok, reason := e.Validate(); !ok {
		q.bump(reason)
		logging.QueueDebug("dropped invalid event source=%s reason=%s", e.Source, reason)
		return nil
	}
	e.EnsureTraceID()

	line, err := e.Marshal()
	if err != nil {
		q.bump(types.ReasonUnparseable)
		return nil
	}

	if err := q.lock.Acquire(); err != nil {
		q.bump(ReasonLockBusy)
		return err
	}
	defer q.lock.Release()

	if err := statedir.AppendLine(q.path, line); err != nil {
		return fmt.Errorf("queue append: %w", err)
	}
	return q.rotateLocked()
}

// ReadRecent returns up to n most recent well-formed events without
// consuming them. Lock-free; a torn tail line is skipped.
func (q *Queue) ReadRecent(n int) ([]*types.Event, error) {
	events, _, err := q.readAll()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// Drain returns up to max events and removes them atomically: the file is
// read under the writer lock, split at the drain offset, and the retained
// tail rewritten in place.
func (q *Queue) Drain(max int) ([]*types.Event, error) {
	if err := q.lock.Acquire(); err != nil {
		q.bump(ReasonLockBusy)
		return nil, err
	}
	defer q.lock.Release()

	events, lines, err := q.readAll()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	if max <= 0 || max > len(events) {
		max = len(events)
	}

	drained := events[:max]
	// lines holds the raw well-formed lines aligned with events.
	tail := lines[max:]
	var sb strings.Builder
	for _, line := range tail {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err := statedir.AtomicWrite(q.path, []byte(sb.String()), 0o644); err != nil {
		return nil, fmt.Errorf("queue drain rewrite: %w", err)
	}
	logging.QueueDebug("drained %d events, %d retained", len(drained), len(tail))
	return drained, nil
}

// Depth returns the number of well-formed events currently queued.
func (q *Queue) Depth() (int, error) {
	events, _, err := q.readAll()
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// RotateIfNeeded applies the size caps outside of an append (e.g. on worker
// start). Appends rotate automatically.
func (q *Queue) RotateIfNeeded() error {
	if err := q.lock.Acquire(); err != nil {
		q.bump(ReasonLockBusy)
		return err
	}
	defer q.lock.Release()
	return q.rotateLocked()
}

// Counters returns a copy of the drop/skip counters.
func (q *Queue) Counters() types.ReasonCounters {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(types.ReasonCounters, len(q.counters))
	for k, v := range q.counters {
		out[k] = v
	}
	return out
}

func (q *Queue) bump(reason string) {
	q.mu.Lock()
	q.counters.Bump(reason)
	q.mu.Unlock()
}

// readAll parses every complete line, skipping corrupt ones with a counter.
// Returns parsed events and their raw lines, index-aligned.
func (q *Queue) readAll() ([]*types.Event, []string, error) {
	raw, err := statedir.ReadLines(q.path)
	if err != nil {
		return nil, nil, fmt.Errorf("queue read: %w", err)
	}
	events := make([]*types.Event, 0, len(raw))
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		e, perr := types.ParseEvent([]byte(line))
		if perr != nil {
			q.bump(ReasonCorruptLine)
			continue
		}
		events = append(events, e)
		lines = append(lines, line)
	}
	return events, lines, nil
}

// rotateLocked truncates from the head once either cap is exceeded,
// spilling the overflow into the ring-rotated sidecar. Order of the
// retained tail is preserved. Caller holds the writer lock.
func (q *Queue) rotateLocked() error {
	info, err := os.Stat(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	count, err := statedir.CountLines(q.path)
	if err != nil {
		return err
	}
	if count <= q.cfg.MaxEvents && info.Size() <= q.cfg.MaxBytes {
		return nil
	}

	raw, err := statedir.ReadLines(q.path)
	if err != nil {
		return err
	}
	keep := q.cfg.MaxEvents
	if keep <= 0 || keep > len(raw) {
		keep = len(raw)
	}
	// Byte cap may require keeping fewer than MaxEvents.
	for keep > 0 {
		size := 0
		for _, line := range raw[len(raw)-keep:] {
			size += len(line) + 1
		}
		if int64(size) <= q.cfg.MaxBytes {
			break
		}
		keep = keep * 9 / 10
		if keep == 0 {
			break
		}
	}

	overflow := raw[:len(raw)-keep]
	tail := raw[len(raw)-keep:]

	for _, line := range overflow {
		if err := statedir.AppendLine(q.overflowPath, []byte(line)); err != nil {
			logging.Get(logging.CategoryQueue).Warn("overflow append failed: %v", err)
			break
		}
	}
	if err := statedir.TrimToTail(q.overflowPath, q.cfg.OverflowMaxLines); err != nil {
		logging.Get(logging.CategoryQueue).Warn("overflow trim failed: %v", err)
	}

	var sb strings.Builder
	for _, line := range tail {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err := statedir.AtomicWrite(q.path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("queue rotate rewrite: %w", err)
	}
	logging.Queue("rotated queue: %d spilled, %d retained", len(overflow), len(tail))
	return nil
}
