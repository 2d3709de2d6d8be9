// Package trace reconstructs the cross-store timeline for a trace id:
// episodic steps and their evidence, outcome rows, and advisory emissions
// merged into one ordered view.
package trace

import (
	"encoding/json"
	"fmt"
	"sort"

	"spark/internal/eidos"
	"spark/internal/faults"
	"spark/internal/outcome"
	"spark/internal/statedir"
)

// EntryKind tags one timeline row.
const (
	KindStep     = "step"
	KindEvidence = "evidence"
	KindOutcome  = "outcome"
	KindAdvisory = "advisory"
)

// Entry is one row of a reconstructed timeline.
type Entry struct {
	TS      int64  `json:"ts"`
	Kind    string `json:"kind"`
	Tool    string `json:"tool,omitempty"`
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
}

// Timeline is the merged view for one trace id.
type Timeline struct {
	TraceID string  `json:"trace_id"`
	Entries []Entry `json:"entries"`
}

// adviceRow is the slice of a recent-advice row the timeline needs.
type adviceRow struct {
	TS        int64    `json:"ts"`
	TraceID   string   `json:"trace_id"`
	Tool      string   `json:"tool"`
	AdviceIDs []string `json:"advice_ids"`
}

// Build joins the stores on a trace id. An id with no rows anywhere
// returns a no_hit fault so the CLI can exit with the domain code.
func Build(layout *statedir.Layout, eid *eidos.Store, outcomes *outcome.Log, traceID string) (*Timeline, error) {
	tl := &Timeline{TraceID: traceID}

	steps, err := eid.StepsByTrace(traceID)
	if err != nil {
		return nil, fmt.Errorf("trace steps: %w", err)
	}
	for _, st := range steps {
		summary := fmt.Sprintf("step %s", st.Tool)
		if st.Validated {
			summary += " (" + st.Evaluation + ")"
		}
		tl.Entries = append(tl.Entries, Entry{
			TS:      st.CreatedAt,
			Kind:    KindStep,
			Tool:    st.Tool,
			Summary: summary,
			Detail:  st.Decision,
		})
		evs, err := eid.EvidenceByStep(st.StepID)
		if err != nil {
			return nil, fmt.Errorf("trace evidence: %w", err)
		}
		for _, ev := range evs {
			tl.Entries = append(tl.Entries, Entry{
				TS:      ev.CreatedAt,
				Kind:    KindEvidence,
				Tool:    ev.ToolName,
				Summary: fmt.Sprintf("evidence %s (%d bytes)", ev.Type, len(ev.Bytes)),
			})
		}
	}

	rows, err := outcomes.ByTrace(traceID)
	if err != nil {
		return nil, fmt.Errorf("trace outcomes: %w", err)
	}
	for _, r := range rows {
		tl.Entries = append(tl.Entries, Entry{
			TS:      r.CreatedAt,
			Kind:    KindOutcome,
			Tool:    r.Tool,
			Summary: fmt.Sprintf("outcome %s %s", r.EventType, r.Polarity),
			Detail:  r.Text,
		})
	}

	lines, err := statedir.ReadLines(layout.RecentAdvice())
	if err == nil {
		for _, line := range lines {
			var row adviceRow
			if json.Unmarshal([]byte(line), &row) != nil || row.TraceID != traceID {
				continue
			}
			tl.Entries = append(tl.Entries, Entry{
				TS:      row.TS,
				Kind:    KindAdvisory,
				Tool:    row.Tool,
				Summary: fmt.Sprintf("advisory emitted (%d items)", len(row.AdviceIDs)),
			})
		}
	}

	if len(tl.Entries) == 0 {
		return nil, &faults.Wrap{
			Kind: faults.KindNoHit,
			Err:  fmt.Errorf("no rows for trace %s", traceID),
		}
	}

	sort.SliceStable(tl.Entries, func(i, j int) bool { return tl.Entries[i].TS < tl.Entries[j].TS })
	return tl, nil
}
