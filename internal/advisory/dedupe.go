package advisory

import (
	"encoding/json"
	"sync"
	"time"

	"spark/internal/config"
	"spark/internal/statedir"
)

// Dedup suppression reasons.
const (
	DedupeReasonText    = "repeat text within window"
	DedupeReasonKey     = "repeat source+key within window"
	DedupeReasonTrace   = "already advised for trace"
	DedupeReasonCooldown = "tool cooldown"
)

// recentItem is one advisory in a recent-advice row.
type recentItem struct {
	AdviceID   string  `json:"advice_id"`
	Source     string  `json:"source"`
	InsightKey string  `json:"insight_key,omitempty"`
	NormText   string  `json:"norm_text"`
	Rank       float64 `json:"rank"`
}

// recentRow is one emission in recent_advice.jsonl.
type recentRow struct {
	TS        int64        `json:"ts"`
	TraceID   string       `json:"trace_id,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Tool      string       `json:"tool,omitempty"`
	AdviceIDs []string     `json:"advice_ids"`
	Items     []recentItem `json:"items"`
}

// deduper holds the three dedup windows plus the per-tool cooldown,
// rebuilt from the recent-advice log so windows survive restarts.
type deduper struct {
	cfg config.AdvisoryConfig

	mu      sync.Mutex
	byText  map[string]int64
	byKey   map[string]int64
	byTrace map[string]int64
	byTool  map[string]int64
}

func newDeduper(cfg config.AdvisoryConfig, recentPath string) *deduper {
	d := &deduper{
		cfg:     cfg,
		byText:  make(map[string]int64),
		byKey:   make(map[string]int64),
		byTrace: make(map[string]int64),
		byTool:  make(map[string]int64),
	}
	lines, err := statedir.ReadLines(recentPath)
	if err != nil {
		return d
	}
	for _, line := range lines {
		var row recentRow
		if json.Unmarshal([]byte(line), &row) != nil {
			continue
		}
		d.noteRow(&row)
	}
	return d
}

func (d *deduper) noteRow(row *recentRow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if row.Tool != "" {
		if row.TS > d.byTool[row.Tool] {
			d.byTool[row.Tool] = row.TS
		}
	}
	for _, it := range row.Items {
		if it.NormText != "" && row.TS > d.byText[it.NormText] {
			d.byText[it.NormText] = row.TS
		}
		if row.TS > d.byKey[it.AdviceID] {
			d.byKey[it.AdviceID] = row.TS
		}
		if row.TraceID != "" {
			k := row.TraceID + "|" + it.AdviceID
			if row.TS > d.byTrace[k] {
				d.byTrace[k] = row.TS
			}
		}
	}
}

// check returns a suppression reason when the item repeats within one of
// the three windows.
func (d *deduper) check(a *Advice, traceID string, now time.Time) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts := now.Unix()

	if last, ok := d.byText[NormalizeAdviceText(a.Text)]; ok && ts-last < int64(d.cfg.TextRepeatS) {
		return DedupeReasonText, true
	}
	if last, ok := d.byKey[a.AdviceID]; ok && ts-last < int64(d.cfg.AdviceRepeatS) {
		return DedupeReasonKey, true
	}
	if traceID != "" {
		if _, ok := d.byTrace[traceID+"|"+a.AdviceID]; ok {
			return DedupeReasonTrace, true
		}
	}
	return "", false
}

// toolCoolingDown reports whether the tool is inside its cooldown window.
// High-rank items override the cooldown.
func (d *deduper) toolCoolingDown(tool string, rank float64, now time.Time) bool {
	if tool == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.byTool[tool]
	if !ok {
		return false
	}
	if now.Unix()-last >= int64(d.cfg.ToolCooldownS) {
		return false
	}
	return rank < d.cfg.CooldownOverrideRank
}
