package cognitive

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"spark/internal/config"
	"spark/internal/logging"
	"spark/internal/statedir"
)

// Store maps insight keys to insights, persisted as one JSON document.
// Writes go through the coarse file lock; batch mode coalesces many
// AddInsight calls into a single disk write.
type Store struct {
	path string
	lock *statedir.FileLock
	cfg  config.CognitiveConfig

	mu       sync.RWMutex
	insights map[string]*Insight
	batching int
	dirty    bool
}

// storeDoc is the on-disk shape.
type storeDoc struct {
	Version  int                 `json:"version"`
	Insights map[string]*Insight `json:"insights"`
}

// OpenStore loads (or initializes) the cognitive store.
func OpenStore(layout *statedir.Layout, cfg config.CognitiveConfig) (*Store, error) {
	s := &Store{
		path: layout.CognitiveFile(),
		lock: &statedir.FileLock{
			Path:  layout.CognitiveLock(),
			Wait:  2 * time.Second,
			Stale: 30 * time.Second,
		},
		cfg:      cfg,
		insights: make(map[string]*Insight),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cognitive store: %w", err)
	}
	var doc storeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse cognitive store: %w", err)
	}
	if doc.Insights != nil {
		s.insights = doc.Insights
	}
	return nil
}

// save flushes the document to disk. Caller holds s.mu.
func (s *Store) save() error {
	doc := storeDoc{Version: 1, Insights: s.insights}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cognitive store: %w", err)
	}
	if err := s.lock.Acquire(); err != nil {
		return err
	}
	defer s.lock.Release()
	if err := statedir.AtomicWrite(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cognitive store: %w", err)
	}
	s.dirty = false
	return nil
}

// flushLocked persists unless a batch is open. Caller holds s.mu.
func (s *Store) flushLocked() error {
	s.dirty = true
	if s.batching > 0 {
		return nil
	}
	return s.save()
}

// BeginBatch suspends disk writes until EndBatch. Nestable.
func (s *Store) BeginBatch() {
	s.mu.Lock()
	s.batching++
	s.mu.Unlock()
}

// Flush forces a write mid-batch.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.save()
}

// EndBatch closes the batch and writes once if anything changed.
func (s *Store) EndBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batching > 0 {
		s.batching--
	}
	if s.batching == 0 && s.dirty {
		return s.save()
	}
	return nil
}

// AddInsight inserts a new insight or merges into the existing one with
// the same normalized key. Returns the canonical key.
func (s *Store) AddInsight(in Insight) (string, error) {
	if in.Key == "" {
		in.Key = MakeKey(in.Category, in.Insight)
	}
	if in.CreatedAt == 0 {
		in.CreatedAt = time.Now().Unix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.insights[in.Key]; ok {
		// Merge: evidence accumulates, confidence takes the max.
		for _, ev := range in.Evidence {
			existing.Evidence = appendRing(existing.Evidence, ev, s.cfg.MaxEvidence)
		}
		if in.Confidence > existing.Confidence {
			existing.Confidence = in.Confidence
		}
		if existing.Context == "" {
			existing.Context = in.Context
		}
		logging.CognitiveDebug("merged insight %s", in.Key)
		return in.Key, s.flushLocked()
	}

	copied := in
	copied.Evidence = nil
	for _, ev := range in.Evidence {
		copied.Evidence = appendRing(copied.Evidence, ev, s.cfg.MaxEvidence)
	}
	s.insights[in.Key] = &copied
	logging.Cognitive("new insight %s category=%s", in.Key, in.Category)
	return in.Key, s.flushLocked()
}

// Get returns the insight for a key, or nil.
func (s *Store) Get(key string) *Insight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if in, ok := s.insights[key]; ok {
		copied := *in
		return &copied
	}
	return nil
}

// All returns every insight, most reliable first. Noise-quarantined
// insights are excluded unless includeNoise is set.
func (s *Store) All(includeNoise bool) []Insight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Insight, 0, len(s.insights))
	for _, in := range s.insights {
		if !includeNoise && IsNoiseInsight(in.Insight) {
			continue
		}
		out = append(out, *in)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Reliability(s.cfg) > out[j].Reliability(s.cfg)
	})
	return out
}

// Count returns the number of stored insights.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.insights)
}

// RecordValidation applies a validation or contradiction to a key and
// recomputes promotion state. The event counts at its evidence quality,
// so telemetry-shaped or near-empty evidence moves reliability less than
// a substantive observation. Unknown keys are ignored (the insight may
// have been quarantined meanwhile).
func (s *Store) RecordValidation(key string, contradicted bool, evidence string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.insights[key]
	if !ok {
		return nil
	}
	quality := ValidationQuality(evidence)
	if contradicted {
		in.Contradict(evidence, quality, s.cfg.MaxEvidence)
	} else {
		in.Validate(evidence, quality, s.cfg.MaxEvidence)
	}

	// Promotion and decay thresholds come from configuration.
	if in.TimesValidated >= s.cfg.PromoteValidations && in.TimesValidated > in.TimesContradicted {
		in.Promoted = true
	}
	if in.TimesContradicted >= s.cfg.DecayContradictions && in.TimesContradicted > in.TimesValidated {
		in.Promoted = false
	}
	return s.flushLocked()
}

// Reliability exposes the derived score for a key (0 when unknown).
func (s *Store) Reliability(key string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if in, ok := s.insights[key]; ok {
		return in.Reliability(s.cfg)
	}
	return 0
}
