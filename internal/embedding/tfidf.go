package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// TFIDFEmbedder produces deterministic hashed lexical vectors. Tokens are
// feature-hashed into a fixed-width vector with sublinear term-frequency
// scaling, then L2-normalized. No corpus statistics are kept, so two
// processes always agree on a text's vector.
type TFIDFEmbedder struct {
	dims int
}

// NewTFIDFEmbedder creates the local lexical backend.
func NewTFIDFEmbedder(dims int) *TFIDFEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &TFIDFEmbedder{dims: dims}
}

func (e *TFIDFEmbedder) Name() string    { return "tfidf" }
func (e *TFIDFEmbedder) Dimensions() int { return e.dims }

// Embed never fails and ignores ctx; it exists to satisfy the interface.
func (e *TFIDFEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		counts[tok]++
	}
	for tok, n := range counts {
		h := fnv.New32a()
		h.Write([]byte(tok))
		idx := int(h.Sum32()) % e.dims
		if idx < 0 {
			idx += e.dims
		}
		// Signed hashing reduces collision bias.
		sign := float32(1)
		if h.Sum32()&1 == 1 {
			sign = -1
		}
		vec[idx] += sign * float32(1+math.Log(float64(n)))
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// Tokenize lowercases and splits on non-alphanumerics, dropping one-char
// tokens and a small stop set.
func Tokenize(text string) []string {
	var tokens []string
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(field) < 2 || stopWords[field] {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "is": true, "it": true, "for": true, "on": true,
	"with": true, "as": true, "at": true, "be": true, "this": true, "that": true,
}
