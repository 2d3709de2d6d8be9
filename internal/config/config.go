// Package config holds the Spark runtime configuration snapshot. Tuneables
// load from <state>/tuneables.json with baked-in defaults; a handful of
// environment variables override specific knobs at process start. The
// snapshot is taken once and passed by handle; nothing re-reads it mid-run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Tuneables is the full runtime configuration.
type Tuneables struct {
	Queue     QueueConfig     `json:"queue"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Cognitive CognitiveConfig `json:"cognitive"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Advisory  AdvisoryConfig  `json:"advisory"`
	Autoscore AutoscoreConfig `json:"autoscore"`
	Embedding EmbeddingConfig `json:"embedding"`
}

// QueueConfig bounds the append-only event queue.
type QueueConfig struct {
	MaxEvents        int   `json:"max_events"`
	MaxBytes         int64 `json:"max_bytes"`
	OverflowMaxLines int   `json:"overflow_max_lines"`
	LockWaitMS       int   `json:"lock_wait_ms"`
	LockStaleMS      int   `json:"lock_stale_ms"`
}

// PipelineConfig tunes the adaptive worker loop.
type PipelineConfig struct {
	BatchSize         int `json:"batch_size"`
	BaseIntervalS     int `json:"base_interval_s"`
	MinIntervalS      int `json:"min_interval_s"`
	MaxIntervalS      int `json:"max_interval_s"`
	WarnQueueDepth    int `json:"warn_queue_depth"`
	CriticalQueueDepth int `json:"critical_queue_depth"`
	MinSignalChars    int `json:"min_signal_chars"`
	CheckinMinIntervalS int `json:"checkin_min_interval_s"`
}

// CognitiveConfig tunes the insight store.
type CognitiveConfig struct {
	MaxEvidence          int     `json:"max_evidence"`
	PromoteValidations   int     `json:"promote_validations"`
	DecayContradictions  int     `json:"decay_contradictions"`
	ReliabilityConfWeight float64 `json:"reliability_conf_weight"`
	ContradictionPenalty float64 `json:"contradiction_penalty"`
}

// RetrievalConfig holds the hybrid fusion weights and floors.
type RetrievalConfig struct {
	LexicalWeight  float64 `json:"lexical_weight"`
	SemanticWeight float64 `json:"semantic_weight"`
	EmotionWeight  float64 `json:"emotion_weight"`
	RecencyWeight  float64 `json:"recency_weight"`
	EmotionFloor   float64 `json:"emotion_floor"`
	FusionFloor    float64 `json:"fusion_floor"`
	RescueFusionFloor float64 `json:"rescue_fusion_floor"`
	TopK           int     `json:"top_k"`
}

// AdvisoryConfig tunes the synthesizer and its gates.
type AdvisoryConfig struct {
	MaxItems           int     `json:"max_items"`
	MinRankScore       float64 `json:"min_rank_score"`
	AdviceRepeatS      int     `json:"advice_repeat_s"`
	TextRepeatS        int     `json:"advisory_text_repeat_s"`
	ToolCooldownS      int     `json:"tool_cooldown_s"`
	CooldownOverrideRank float64 `json:"cooldown_override_rank"`
	ConfidenceWeight   float64 `json:"confidence_weight"`
	ContextWeight      float64 `json:"context_weight"`
	ReliabilityWeight  float64 `json:"reliability_weight"`
	RecencyWeight      float64 `json:"recency_weight"`
	QuarantineMaxLines int     `json:"quarantine_max_lines"`
	MaxBridgeInfluence float64 `json:"max_bridge_influence"`
}

// AutoscoreConfig tunes the advice-to-action scorer.
type AutoscoreConfig struct {
	MaxMatchWindowS int    `json:"max_match_window_s"`
	UseMinimax      bool   `json:"use_minimax"`
	MinimaxBaseURL  string `json:"minimax_base_url"`
	MinimaxModel    string `json:"minimax_model"`
	MinimaxTimeoutS int    `json:"minimax_timeout_s"`
	MinimaxAPIKey   string `json:"-"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Enabled    bool   `json:"enabled"`
	Backend    string `json:"backend"` // tfidf, fastembed, none
	Dimensions int    `json:"dimensions"`
	Endpoint   string `json:"endpoint"`
	Model      string `json:"model"`
	TimeoutS   int    `json:"timeout_s"`
}

// Default returns the baked-in defaults.
func Default() *Tuneables {
	return &Tuneables{
		Queue: QueueConfig{
			MaxEvents:        5000,
			MaxBytes:         8 * 1024 * 1024,
			OverflowMaxLines: 2000,
			LockWaitMS:       1500,
			LockStaleMS:      30000,
		},
		Pipeline: PipelineConfig{
			BatchSize:          200,
			BaseIntervalS:      60,
			MinIntervalS:       10,
			MaxIntervalS:       300,
			WarnQueueDepth:     500,
			CriticalQueueDepth: 2000,
			MinSignalChars:     24,
			CheckinMinIntervalS: 1800,
		},
		Cognitive: CognitiveConfig{
			MaxEvidence:           8,
			PromoteValidations:    3,
			DecayContradictions:   3,
			ReliabilityConfWeight: 0.3,
			ContradictionPenalty:  0.5,
		},
		Retrieval: RetrievalConfig{
			LexicalWeight:     0.45,
			SemanticWeight:    0.30,
			EmotionWeight:     0.10,
			RecencyWeight:     0.15,
			EmotionFloor:      0.35,
			FusionFloor:       0.25,
			RescueFusionFloor: 0.10,
			TopK:              8,
		},
		Advisory: AdvisoryConfig{
			MaxItems:             5,
			MinRankScore:         0.35,
			AdviceRepeatS:        1800,
			TextRepeatS:          900,
			ToolCooldownS:        300,
			CooldownOverrideRank: 0.85,
			ConfidenceWeight:     0.35,
			ContextWeight:        0.30,
			ReliabilityWeight:    0.25,
			RecencyWeight:        0.10,
			QuarantineMaxLines:   1200,
			MaxBridgeInfluence:   0.35,
		},
		Autoscore: AutoscoreConfig{
			MaxMatchWindowS: 3600,
			UseMinimax:      false,
			MinimaxBaseURL:  "https://api.minimax.io/v1",
			MinimaxModel:    "MiniMax-Text-01",
			MinimaxTimeoutS: 20,
		},
		Embedding: EmbeddingConfig{
			Enabled:    true,
			Backend:    "tfidf",
			Dimensions: 256,
			Endpoint:   "http://localhost:8765",
			Model:      "BAAI/bge-small-en-v1.5",
			TimeoutS:   10,
		},
	}
}

// Load reads tuneables.json (if present), overlays it on the defaults, then
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Tuneables, error) {
	t := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, t); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	t.applyEnv()
	return t, nil
}

// applyEnv wires the recognized environment variables over the snapshot.
func (t *Tuneables) applyEnv() {
	if v := os.Getenv("SPARK_EMBEDDINGS"); v != "" {
		if v == "0" || strings.EqualFold(v, "false") {
			t.Embedding.Enabled = false
		}
	}
	if v := os.Getenv("SPARK_EMBED_BACKEND"); v != "" {
		t.Embedding.Backend = v
		if v == "none" {
			t.Embedding.Enabled = false
		}
	}
	if v := os.Getenv("SPARK_ADVISORY_QUARANTINE_MAX_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			t.Advisory.QuarantineMaxLines = n
		}
	}
	if v := os.Getenv("AUTO_SCORER_MINIMAX_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			t.Autoscore.MinimaxTimeoutS = n
		}
	}
	if v := os.Getenv("SPARK_MINIMAX_BASE_URL"); v != "" {
		t.Autoscore.MinimaxBaseURL = v
	}
	if v := os.Getenv("SPARK_MINIMAX_MODEL"); v != "" {
		t.Autoscore.MinimaxModel = v
	}
	if key := os.Getenv("MINIMAX_API_KEY"); key != "" {
		t.Autoscore.MinimaxAPIKey = key
	}
	if key := os.Getenv("SPARK_MINIMAX_API_KEY"); key != "" {
		t.Autoscore.MinimaxAPIKey = key
	}
}

// Save writes the snapshot back to disk (used by setup flows).
func (t *Tuneables) Save(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tuneables: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write tuneables: %w", err)
	}
	return nil
}
