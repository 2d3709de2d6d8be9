package advisory

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"spark/internal/statedir"
)

// SourceScore tracks how well one source's advisories have performed.
type SourceScore struct {
	Reliability    float64 `json:"reliability"`
	Validations    int     `json:"validations"`
	Contradictions int     `json:"contradictions"`
	UpdatedAt      int64   `json:"updated_at"`
}

// Effectiveness is the per-source reliability book the synthesizer reads
// for ranking and the auto-scorer writes back to.
type Effectiveness struct {
	path string

	mu     sync.Mutex
	scores map[string]SourceScore
}

// LoadEffectiveness reads effectiveness.json, starting empty when absent
// or corrupt.
func LoadEffectiveness(layout *statedir.Layout) *Effectiveness {
	e := &Effectiveness{path: layout.Effectiveness(), scores: make(map[string]SourceScore)}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return e
	}
	var scores map[string]SourceScore
	if json.Unmarshal(data, &scores) == nil && scores != nil {
		e.scores = scores
	}
	return e
}

// Reliability returns the source's score, defaulting to a neutral prior
// for sources never scored.
func (e *Effectiveness) Reliability(source string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	fam := Family(source)
	if sc, ok := e.scores[fam]; ok {
		return sc.Reliability
	}
	return 0.5
}

// RecordEffect applies one scored outcome to a source's book. Reliability
// is the Laplace-smoothed support ratio, monotone in total feedback.
func (e *Effectiveness) RecordEffect(source string, positive bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fam := Family(source)
	sc := e.scores[fam]
	if positive {
		sc.Validations++
	} else {
		sc.Contradictions++
	}
	v := float64(sc.Validations)
	c := float64(sc.Contradictions)
	sc.Reliability = (v + 1) / (v + c + 2)
	sc.UpdatedAt = time.Now().Unix()
	e.scores[fam] = sc
}

// Save persists the book atomically.
func (e *Effectiveness) Save() error {
	e.mu.Lock()
	data, err := json.MarshalIndent(e.scores, "", "  ")
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return statedir.AtomicWrite(e.path, data, 0o644)
}
