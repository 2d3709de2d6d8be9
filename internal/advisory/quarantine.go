package advisory

import (
	"encoding/json"
	"time"

	"spark/internal/logging"
	"spark/internal/statedir"
)

// snippetCap bounds the text excerpt stored per quarantined item.
const snippetCap = 420

// QuarantineRow is one diagnostic record for an item a gate dropped.
type QuarantineRow struct {
	TS                int64              `json:"ts"`
	Source            string             `json:"source"`
	Stage             string             `json:"stage"`
	Reason            string             `json:"reason"`
	TextLen           int                `json:"text_len"`
	Snippet           string             `json:"snippet"`
	AdvisoryQuality   map[string]float64 `json:"advisory_quality,omitempty"`
	AdvisoryReadiness float64            `json:"advisory_readiness"`
}

// Quarantine is the ring-limited JSONL sink. Writes never propagate
// failures to the advisory path.
type Quarantine struct {
	path     string
	maxLines int
}

// NewQuarantine builds the sink with its line cap.
func NewQuarantine(layout *statedir.Layout, maxLines int) *Quarantine {
	return &Quarantine{path: layout.QuarantineFile(), maxLines: maxLines}
}

// Record appends one row, clamping readiness to [0,1] and truncating the
// ring from the head at the line cap.
func (q *Quarantine) Record(row QuarantineRow) {
	if row.TS == 0 {
		row.TS = time.Now().Unix()
	}
	if row.AdvisoryReadiness < 0 {
		row.AdvisoryReadiness = 0
	}
	if row.AdvisoryReadiness > 1 {
		row.AdvisoryReadiness = 1
	}
	if len(row.Snippet) > snippetCap {
		row.Snippet = row.Snippet[:snippetCap]
	}

	line, err := json.Marshal(row)
	if err != nil {
		return
	}
	if err := statedir.AppendLine(q.path, line); err != nil {
		logging.AdvisoryDebug("quarantine append failed: %v", err)
		return
	}
	if err := statedir.TrimToTail(q.path, q.maxLines); err != nil {
		logging.AdvisoryDebug("quarantine trim failed: %v", err)
	}
}

// quarantineAdvice records a gate drop for a candidate.
func (q *Quarantine) quarantineAdvice(a *Advice, stage, reason string) {
	q.Record(QuarantineRow{
		Source:  a.Source,
		Stage:   stage,
		Reason:  reason,
		TextLen: len(a.Text),
		Snippet: a.Text,
		AdvisoryQuality: map[string]float64{
			"confidence":    a.Confidence,
			"context_match": a.ContextMatch,
		},
		AdvisoryReadiness: a.RankScore,
	})
}
