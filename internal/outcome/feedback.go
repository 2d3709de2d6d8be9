package outcome

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"spark/internal/logging"
	"spark/internal/statedir"
)

// FeedbackReport is the structured file the agent drops to report on an
// advisory. Either the advice id or the advised tool must be present; a
// tool-only report is matched behaviorally by the scorer.
type FeedbackReport struct {
	AdviceID string `json:"advice_id,omitempty"`
	Tool     string `json:"tool,omitempty"`
	Verdict  string `json:"verdict"` // acted|skipped|blocked|harmful|ignored
	TraceID  string `json:"trace_id,omitempty"`
	Session  string `json:"session_id,omitempty"`
	Comment  string `json:"comment,omitempty"`
	TS       int64  `json:"ts,omitempty"`
}

func validVerdict(v string) bool {
	switch v {
	case VerdictActed, VerdictSkipped, VerdictBlocked, VerdictHarmful, VerdictIgnored:
		return true
	}
	return false
}

// FeedbackIngester drains the drop directory into the outcome log. It
// reacts to filesystem events and also sweeps periodically, since editors
// and network mounts do not always deliver notifications. Files are
// deduped by content hash across the process lifetime and removed once
// ingested.
type FeedbackIngester struct {
	dir string
	log *Log

	mu   sync.Mutex
	seen map[string]bool
}

// NewFeedbackIngester builds an ingester over the layout's feedback dir.
func NewFeedbackIngester(layout *statedir.Layout, log *Log) *FeedbackIngester {
	return &FeedbackIngester{
		dir:  layout.FeedbackDir(),
		log:  log,
		seen: make(map[string]bool),
	}
}

// Sweep ingests every pending feedback file once. Returns the number of
// reports ingested.
func (fi *FeedbackIngester) Sweep() (int, error) {
	entries, err := os.ReadDir(fi.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	ingested := 0
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		if fi.ingestFile(filepath.Join(fi.dir, ent.Name())) {
			ingested++
		}
	}
	return ingested, nil
}

// ingestFile reads, dedupes, appends, and removes one drop file. Returns
// whether a new report landed in the log. Malformed files are removed so
// they do not wedge the sweep forever.
func (fi *FeedbackIngester) ingestFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	fi.mu.Lock()
	dup := fi.seen[hash]
	fi.seen[hash] = true
	fi.mu.Unlock()
	if dup {
		os.Remove(path)
		return false
	}

	var report FeedbackReport
	if err := json.Unmarshal(data, &report); err != nil || (report.AdviceID == "" && report.Tool == "") || !validVerdict(report.Verdict) {
		logging.Get(logging.CategoryOutcome).Warn("discarding malformed feedback file %s", filepath.Base(path))
		os.Remove(path)
		return false
	}
	if report.TS == 0 {
		report.TS = time.Now().Unix()
	}

	polarity := PolarityNeutral
	switch report.Verdict {
	case VerdictActed:
		polarity = PolarityPos
	case VerdictHarmful, VerdictBlocked:
		polarity = PolarityNeg
	}

	err = fi.log.Append(&Record{
		EventType: EventExplicitFeedback,
		Polarity:  polarity,
		Text:      report.Comment,
		Tool:      report.Tool,
		AdviceID:  report.AdviceID,
		Verdict:   report.Verdict,
		TraceID:   report.TraceID,
		SessionID: report.Session,
		CreatedAt: report.TS,
	})
	if err != nil {
		logging.Get(logging.CategoryOutcome).Error("feedback append failed: %v", err)
		return false
	}
	os.Remove(path)
	return true
}

// Watch blocks ingesting drops until the context ends. A periodic sweep
// backs up the notifications.
func (fi *FeedbackIngester) Watch(ctx context.Context, sweepEvery time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(fi.dir); err != nil {
		return err
	}

	if _, err := fi.Sweep(); err != nil {
		logging.Get(logging.CategoryOutcome).Warn("feedback sweep failed: %v", err)
	}

	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if strings.HasSuffix(ev.Name, ".json") {
				fi.ingestFile(ev.Name)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryOutcome).Warn("feedback watcher: %v", werr)
		case <-ticker.C:
			if _, err := fi.Sweep(); err != nil {
				logging.Get(logging.CategoryOutcome).Warn("feedback sweep failed: %v", err)
			}
		}
	}
}
