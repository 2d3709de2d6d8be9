// Package emotion models the small affect snapshot stored alongside memory
// entries and consulted at retrieval time. Snapshots bias retrieval toward
// entries recorded in a similar state; they never gate correctness.
package emotion

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Snapshot is the numeric/label affect vector.
type Snapshot struct {
	Mode           string  `json:"mode,omitempty"`
	Strain         float64 `json:"strain"`
	Calm           float64 `json:"calm"`
	Energy         float64 `json:"energy"`
	Warmth         float64 `json:"warmth"`
	Playfulness    float64 `json:"playfulness"`
	PrimaryEmotion string  `json:"primary_emotion,omitempty"`
}

// Neutral is the snapshot used when no local state exists.
func Neutral() Snapshot {
	return Snapshot{Mode: "steady", Calm: 0.5, Energy: 0.5, Warmth: 0.5}
}

// vector flattens the numeric dimensions for similarity.
func (s Snapshot) vector() []float64 {
	return []float64{s.Strain, s.Calm, s.Energy, s.Warmth, s.Playfulness}
}

// Similarity is the cosine similarity between two snapshots' numeric
// dimensions, in [0,1] for non-negative components.
func Similarity(a, b Snapshot) float64 {
	va, vb := a.vector(), b.vector()
	var dot, na, nb float64
	for i := range va {
		dot += va[i] * vb[i]
		na += va[i] * va[i]
		nb += vb[i] * vb[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// LoadLocal reads the local emotion state file; a missing or malformed
// file yields the neutral snapshot.
func LoadLocal(path string) Snapshot {
	data, err := os.ReadFile(path)
	if err != nil {
		return Neutral()
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Neutral()
	}
	return s
}

// SaveLocal persists the local emotion state.
func SaveLocal(path string, s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal emotion state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write emotion state: %w", err)
	}
	return nil
}
