// Package embedding provides vector embeddings as a capability, not a
// dependency: retrieval stays fully correct with embeddings disabled.
// Backends: tfidf (local hashed lexical vectors, the default), fastembed
// (an OpenAI-compatible embedding service), none.
package embedding

import (
	"context"
	"fmt"
	"math"

	"spark/internal/config"
	"spark/internal/logging"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the backend name.
	Name() string
}

// NewEmbedder creates an embedding backend from configuration. A disabled
// config returns (nil, nil): callers treat a nil embedder as "no semantic
// signal" and proceed on the lexical path.
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, error) {
	if !cfg.Enabled || cfg.Backend == "none" {
		logging.Embedding("embeddings disabled")
		return nil, nil
	}

	switch cfg.Backend {
	case "", "tfidf":
		logging.Embedding("using tfidf backend dims=%d", cfg.Dimensions)
		return NewTFIDFEmbedder(cfg.Dimensions), nil
	case "fastembed":
		logging.Embedding("using fastembed backend endpoint=%s model=%s", cfg.Endpoint, cfg.Model)
		return NewFastembedClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding backend: %s (use 'tfidf', 'fastembed' or 'none')", cfg.Backend)
	}
}

// Cosine computes cosine similarity between two vectors, 0 on mismatch.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
