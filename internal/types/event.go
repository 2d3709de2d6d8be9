// Package types defines the normalized event schema (v1) shared by every
// adapter and by the pipeline. Adapters translate host-specific hooks into
// this shape and append to the queue; nothing downstream ever sees a raw
// host event.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the wire version every valid event carries.
const SchemaVersion = 1

// EventKind classifies an event at the top level.
type EventKind string

const (
	KindMessage EventKind = "message"
	KindTool    EventKind = "tool"
	KindCommand EventKind = "command"
	KindSystem  EventKind = "system"
)

// Payload is the kind-specific bag carried by an event. Fields not relevant
// to the kind are left zero and omitted on the wire.
type Payload struct {
	Role       string         `json:"role,omitempty"`
	Text       string         `json:"text,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolResult string         `json:"tool_result,omitempty"`
	IsError    *bool          `json:"is_error,omitempty"`
	Intent     string         `json:"intent,omitempty"`
	Category   string         `json:"category,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Event is the normalized schema-v1 record appended to the queue.
type Event struct {
	Version   int       `json:"v"`
	Source    string    `json:"source"`
	Kind      EventKind `json:"kind"`
	TS        int64     `json:"ts"`
	SessionID string    `json:"session_id"`
	Payload   Payload   `json:"payload"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// Drop reasons for invalid events. These feed the ingest reason counters;
// ingest never raises on a bad event.
const (
	ReasonBadVersion    = "bad_version"
	ReasonMissingSource = "missing_source"
	ReasonBadKind       = "bad_kind"
	ReasonBadTimestamp  = "bad_timestamp"
	ReasonMissingFields = "missing_payload_fields"
	ReasonUnparseable   = "unparseable"
)

// Validate reports whether the event is well-formed for its kind.
// Returns (false, reason) on the first failed check.
func (e *Event) Validate() (bool, string) {
	if e.Version != SchemaVersion {
		return false, ReasonBadVersion
	}
	if strings.TrimSpace(e.Source) == "" {
		return false, ReasonMissingSource
	}
	if e.TS <= 0 {
		return false, ReasonBadTimestamp
	}
	switch e.Kind {
	case KindMessage:
		if e.Payload.Role == "" || e.Payload.Text == "" {
			return false, ReasonMissingFields
		}
	case KindTool:
		if e.Payload.ToolName == "" {
			return false, ReasonMissingFields
		}
		// A tool event is either pre (input present) or post (result +
		// error flag present).
		if e.Payload.ToolInput == nil && (e.Payload.ToolResult == "" || e.Payload.IsError == nil) {
			return false, ReasonMissingFields
		}
	case KindCommand:
		if e.Payload.Intent == "" {
			return false, ReasonMissingFields
		}
	case KindSystem:
		// Any structured payload is acceptable.
	default:
		return false, ReasonBadKind
	}
	return true, ""
}

// EnsureTraceID fills TraceID deterministically when the adapter omitted it.
func (e *Event) EnsureTraceID() {
	if e.TraceID == "" {
		e.TraceID = DeriveTraceID(e.Source, string(e.Kind), e.SessionID, e.Payload.Intent, e.firstText())
	}
}

func (e *Event) firstText() string {
	if e.Payload.Text != "" {
		return e.Payload.Text
	}
	if e.Payload.ToolName != "" {
		return e.Payload.ToolName
	}
	return e.Payload.ToolResult
}

// DeriveTraceID produces the short deterministic hash used to de-dup
// related events across adapters: 16 hex chars of
// sha256(source|kind|session|intent|text).
func DeriveTraceID(source, kind, session, intent, text string) string {
	sum := sha256.Sum256([]byte(source + "|" + kind + "|" + session + "|" + intent + "|" + text))
	return hex.EncodeToString(sum[:])[:16]
}

// IsToolResult reports whether this is a post-execution tool event.
func (e *Event) IsToolResult() bool {
	return e.Kind == KindTool && e.Payload.IsError != nil
}

// IsToolCall reports whether this is a pre-execution tool event.
func (e *Event) IsToolCall() bool {
	return e.Kind == KindTool && e.Payload.IsError == nil && e.Payload.ToolInput != nil
}

// Time returns the event timestamp as time.Time.
func (e *Event) Time() time.Time { return time.Unix(e.TS, 0) }

// Marshal serializes the event as a single JSON line (no trailing newline).
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEvent decodes one JSON line into an Event without validating it.
func ParseEvent(line []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	return &e, nil
}

// ReasonCounters tallies dropped/processed events by reason. Not safe for
// concurrent use; each owner keeps its own.
type ReasonCounters map[string]int

// Bump increments a counter.
func (rc ReasonCounters) Bump(reason string) {
	rc[reason]++
}

// Total sums all counters.
func (rc ReasonCounters) Total() int {
	n := 0
	for _, v := range rc {
		n += v
	}
	return n
}
