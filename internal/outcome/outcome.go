// Package outcome implements the append-only polarized outcome log and its
// two ingest paths: implicit classification of tool-result events and
// explicit feedback reports dropped as files by the agent.
package outcome

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"spark/internal/logging"
	"spark/internal/statedir"
	"spark/internal/types"
)

// Polarity of an outcome row.
const (
	PolarityPos     = "pos"
	PolarityNeg     = "neg"
	PolarityNeutral = "neutral"
)

// EventType of an outcome row.
const (
	EventToolResult       = "tool_result"
	EventExplicitFeedback = "explicit_feedback"
	EventCheckin          = "checkin"
)

// Explicit feedback verdicts the agent may report on an advice id.
const (
	VerdictActed   = "acted"
	VerdictSkipped = "skipped"
	VerdictBlocked = "blocked"
	VerdictHarmful = "harmful"
	VerdictIgnored = "ignored"
)

// Record is one row of outcomes.jsonl.
type Record struct {
	OutcomeID      string   `json:"outcome_id"`
	EventType      string   `json:"event_type"`
	Tool           string   `json:"tool,omitempty"`
	Polarity       string   `json:"polarity"`
	Text           string   `json:"text,omitempty"`
	LinkedInsights []string `json:"linked_insights,omitempty"`
	AdviceID       string   `json:"advice_id,omitempty"`
	Verdict        string   `json:"verdict,omitempty"`
	TraceID        string   `json:"trace_id,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
	CreatedAt      int64    `json:"created_at"`
}

// Log is a handle on outcomes.jsonl. Appends are serialized in-process;
// the file itself is append-only so cross-process interleaving is safe at
// line granularity.
type Log struct {
	path string
	mu   sync.Mutex
}

// OpenLog returns the outcome log under the layout.
func OpenLog(layout *statedir.Layout) *Log {
	return &Log{path: layout.OutcomesFile()}
}

// Append writes one record, assigning id and timestamp when missing.
func (l *Log) Append(r *Record) error {
	if r.OutcomeID == "" {
		r.OutcomeID = uuid.NewString()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().Unix()
	}
	line, err := marshalRecord(r)
	if err != nil {
		return fmt.Errorf("outcome marshal: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := statedir.AppendLine(l.path, line); err != nil {
		return fmt.Errorf("outcome append: %w", err)
	}
	logging.Outcome("outcome %s type=%s polarity=%s trace=%s", r.OutcomeID, r.EventType, r.Polarity, r.TraceID)
	return nil
}

// ReadSince returns records created at or after the cutoff (zero cutoff
// returns everything). Corrupt lines are skipped.
func (l *Log) ReadSince(cutoff int64) ([]Record, error) {
	lines, err := statedir.ReadLines(l.path)
	if err != nil {
		return nil, fmt.Errorf("outcome read: %w", err)
	}
	out := make([]Record, 0, len(lines))
	for _, line := range lines {
		r, perr := unmarshalRecord([]byte(line))
		if perr != nil {
			continue
		}
		if cutoff > 0 && r.CreatedAt < cutoff {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// ByTrace returns records bound to a trace id, in append order.
func (l *Log) ByTrace(traceID string) ([]Record, error) {
	all, err := l.ReadSince(0)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, 4)
	for _, r := range all {
		if r.TraceID == traceID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ByAdvice returns explicit feedback records carrying an advice id.
func (l *Log) ByAdvice(adviceID string) ([]Record, error) {
	all, err := l.ReadSince(0)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, 4)
	for _, r := range all {
		if r.AdviceID == adviceID {
			out = append(out, r)
		}
	}
	return out, nil
}

// negSignals mark a non-flagged tool result as a failure anyway.
var negSignals = []string{
	"error:", "fatal:", "panic:", "traceback (most recent call last)",
	"permission denied", "command not found", "no such file or directory",
	"exit status 1", "exit code 1", "failed to", "cannot ",
}

// posSignals uplift an otherwise neutral result. Matched as whole tokens
// so "broken" does not read as "ok".
var posSignals = map[string]bool{
	"ok": true, "passed": true, "success": true, "succeeded": true,
	"created": true, "updated": true, "done": true, "applied": true,
}

// ClassifyToolResult derives the polarity of a post-execution tool event.
// The error flag wins; otherwise text heuristics decide, defaulting to
// neutral for empty or ambiguous output.
func ClassifyToolResult(e *types.Event) string {
	if !e.IsToolResult() {
		return PolarityNeutral
	}
	if e.Payload.IsError != nil && *e.Payload.IsError {
		return PolarityNeg
	}
	text := strings.ToLower(e.Payload.ToolResult)
	if text == "" {
		return PolarityNeutral
	}
	for _, s := range negSignals {
		if strings.Contains(text, s) {
			return PolarityNeg
		}
	}
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if posSignals[tok] {
			return PolarityPos
		}
	}
	return PolarityNeutral
}

// IngestToolResult classifies and appends an implicit outcome for a
// tool-result event. Non-result events are ignored without error.
func (l *Log) IngestToolResult(e *types.Event) error {
	if !e.IsToolResult() {
		return nil
	}
	e.EnsureTraceID()
	return l.Append(&Record{
		EventType: EventToolResult,
		Tool:      e.Payload.ToolName,
		Polarity:  ClassifyToolResult(e),
		Text:      truncate(e.Payload.ToolResult, 400),
		TraceID:   e.TraceID,
		SessionID: e.SessionID,
		CreatedAt: e.TS,
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func marshalRecord(r *Record) ([]byte, error) {
	return json.Marshal(r)
}

func unmarshalRecord(line []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
