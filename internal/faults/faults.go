// Package faults defines the closed error taxonomy shared by every Spark
// surface (queue writes, retrieval, advisory emit, auto-scoring).
// Classification is deterministic: substring tables are checked in a fixed
// priority order so the same message always maps to the same kind.
package faults

import (
	"errors"
	"strings"
)

// Kind is a member of the closed error taxonomy.
type Kind string

const (
	KindPolicy    Kind = "policy"
	KindAuth      Kind = "auth"
	KindTimeout   Kind = "timeout"
	KindTransport Kind = "transport"
	KindNoHit     Kind = "no_hit"
	KindStale     Kind = "stale"
	KindUnknown   Kind = "unknown"
)

// classificationOrder fixes the priority: policy beats auth beats timeout,
// and so on. A message matching substrings from two kinds classifies as the
// earlier one.
var classificationOrder = []Kind{
	KindPolicy,
	KindAuth,
	KindTimeout,
	KindTransport,
	KindNoHit,
	KindStale,
}

// substrings maps each kind to the lowercase markers that select it.
var substrings = map[Kind][]string{
	KindPolicy: {
		"policy", "refus", "content_filter", "blocked by", "not allowed",
		"forbidden by policy", "safety",
	},
	KindAuth: {
		"auth", "unauthorized", "api key", "apikey", "credential",
		"permission denied", "401", "403", "invalid key",
	},
	KindTimeout: {
		"timeout", "timed out", "deadline exceeded", "context canceled",
		"deadline",
	},
	KindTransport: {
		"connection", "transport", "lock", "disk", "i/o", "eof",
		"broken pipe", "refused", "unreachable", "no such host", "tls",
		"reset by peer", "503", "502",
	},
	KindNoHit: {
		"no_hit", "no results", "not found", "no rows", "404", "empty result",
	},
	KindStale: {
		"stale", "expired", "out of date", "superseded",
	},
}

// DefaultMessageCap bounds error_message length in reports.
const DefaultMessageCap = 500

// Classify maps an error message to its taxonomy kind.
func Classify(message string) Kind {
	if message == "" {
		return KindUnknown
	}
	lower := strings.ToLower(message)
	for _, kind := range classificationOrder {
		for _, marker := range substrings[kind] {
			if strings.Contains(lower, marker) {
				return kind
			}
		}
	}
	return KindUnknown
}

// ClassifyErr is Classify over an error, tolerating nil.
func ClassifyErr(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	return Classify(err.Error())
}

// Report is the structured failure record every surface populates.
type Report struct {
	Kind    Kind   `json:"error_kind"`
	Code    string `json:"error_code,omitempty"`
	Message string `json:"error_message,omitempty"`
}

// NewReport builds a Report from an error, truncating the message to cap.
// A cap <= 0 uses DefaultMessageCap.
func NewReport(err error, code string, cap int) Report {
	if cap <= 0 {
		cap = DefaultMessageCap
	}
	msg := ""
	kind := KindUnknown
	if err != nil {
		msg = err.Error()
		kind = Classify(msg)
	}
	if len(msg) > cap {
		msg = msg[:cap]
	}
	return Report{Kind: kind, Code: code, Message: msg}
}

// Wrap attaches a kind to an error so callers can carry taxonomy through
// %w chains without re-classifying.
type Wrap struct {
	Kind Kind
	Err  error
}

func (w *Wrap) Error() string {
	if w.Err == nil {
		return string(w.Kind)
	}
	return string(w.Kind) + ": " + w.Err.Error()
}

func (w *Wrap) Unwrap() error { return w.Err }

// KindOf returns the wrapped kind if err carries one, otherwise classifies
// its message.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var w *Wrap
	if errors.As(err, &w) {
		return w.Kind
	}
	return Classify(err.Error())
}
