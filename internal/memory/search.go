package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"spark/internal/config"
	"spark/internal/embedding"
	"spark/internal/emotion"
	"spark/internal/logging"
)

// Query is a hybrid retrieval request.
type Query struct {
	Context    string
	Scope      string // "" means any scope
	ProjectKey string
	Emotion    *emotion.Snapshot
	Limit      int
	Now        time.Time // zero means time.Now()
}

// Result is one ranked hit.
type Result struct {
	Entry   Entry
	Fusion  float64
	Lexical float64
	Semantic float64
	EmotionMatch float64
	Recency float64
	Rescued bool
}

// Search ranks candidates by the fusion score
// α·lexical + β·semantic + γ·emotion + δ·recency. When the strict floors
// yield nothing, a single relaxed rescue pass runs with lowered floors and
// marks its results, so novel queries never black out completely.
func (s *Store) Search(ctx context.Context, q Query, emb embedding.Embedder, cfg config.RetrievalConfig) ([]Result, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Search")
	defer timer.Stop()

	if q.Limit <= 0 {
		q.Limit = cfg.TopK
	}
	if q.Now.IsZero() {
		q.Now = time.Now()
	}

	results, err := s.searchPass(ctx, q, emb, cfg, cfg.FusionFloor, cfg.EmotionFloor)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	// Rescue pass: relaxed floors, annotated hits.
	rescued, err := s.searchPass(ctx, q, emb, cfg, cfg.RescueFusionFloor, 0)
	if err != nil {
		return nil, err
	}
	for i := range rescued {
		rescued[i].Rescued = true
	}
	if len(rescued) > 0 {
		logging.Memory("rescue pass returned %d results for blank strict query", len(rescued))
	}
	return rescued, nil
}

func (s *Store) searchPass(ctx context.Context, q Query, emb embedding.Embedder, cfg config.RetrievalConfig, fusionFloor, emotionFloor float64) ([]Result, error) {
	lexical, err := s.lexicalScores(q)
	if err != nil {
		return nil, err
	}

	var queryVec []float32
	if emb != nil {
		if vec, err := emb.Embed(ctx, q.Context); err == nil {
			queryVec = vec
		} else {
			logging.Get(logging.CategoryMemory).Warn("query embed failed, lexical-only: %v", err)
		}
	}

	candidates, err := s.candidateEntries(q)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, e := range candidates {
		r := Result{Entry: e}
		r.Lexical = lexical[e.MemoryID]

		if queryVec != nil {
			if vec, ok := s.embeddingOf(e.MemoryID); ok {
				r.Semantic = embedding.Cosine(queryVec, vec)
			}
		}

		if q.Emotion != nil {
			if snap, ok := e.Emotion(); ok {
				sim := emotion.Similarity(*q.Emotion, snap)
				if sim >= emotionFloor {
					r.EmotionMatch = sim
				}
			}
		}

		age := q.Now.Sub(time.Unix(e.CreatedAt, 0))
		if age < 0 {
			age = 0
		}
		// Exponential decay with a 7-day half-life.
		r.Recency = math.Exp(-age.Hours() / (24 * 7) * math.Ln2)

		r.Fusion = cfg.LexicalWeight*r.Lexical +
			cfg.SemanticWeight*r.Semantic +
			cfg.EmotionWeight*r.EmotionMatch +
			cfg.RecencyWeight*r.Recency
		if r.Fusion >= fusionFloor {
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Fusion > results[j].Fusion })
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// candidateEntries applies the scope filter and returns rows to rank.
func (s *Store) candidateEntries(q Query) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT memory_id, text, scope, COALESCE(project_key,''), COALESCE(category,''),
		created_at, COALESCE(source,''), COALESCE(meta,'') FROM memories`
	var args []any
	var conds []string
	if q.Scope != "" {
		conds = append(conds, "scope = ?")
		args = append(args, q.Scope)
	}
	if q.ProjectKey != "" {
		conds = append(conds, "(project_key = ? OR scope = 'global')")
		args = append(args, q.ProjectKey)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT 2000"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// lexicalScores maps memory_id -> normalized lexical score for the query
// context, via FTS5 bm25 when available, token overlap otherwise.
func (s *Store) lexicalScores(q Query) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := embedding.Tokenize(q.Context)
	if len(tokens) == 0 {
		return map[string]float64{}, nil
	}

	// FTS narrows the scan when available; scoring itself is normalized
	// token overlap, which stays well-behaved on small corpora where
	// bm25 idf collapses to zero.
	var shortlist map[string]bool
	if s.ftsOK {
		match := strings.Join(tokens, " OR ")
		rows, err := s.db.Query(
			`SELECT memory_id FROM memories_fts WHERE memories_fts MATCH ? LIMIT 500`, match)
		if err == nil {
			shortlist = make(map[string]bool)
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err == nil {
					shortlist[id] = true
				}
			}
			rows.Close()
		} else {
			logging.Get(logging.CategoryMemory).Warn("fts query failed, full scan: %v", err)
		}
	}

	rows, err := s.db.Query(`SELECT memory_id, text FROM memories LIMIT 2000`)
	if err != nil {
		return nil, fmt.Errorf("failed lexical scan: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]float64)
	tokSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokSet[t] = true
	}
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			continue
		}
		if shortlist != nil && !shortlist[id] {
			continue
		}
		hits := 0
		for _, t := range embedding.Tokenize(text) {
			if tokSet[t] {
				hits++
			}
		}
		if hits > 0 {
			score := float64(hits) / float64(len(tokens))
			if score > 1 {
				score = 1
			}
			scores[id] = score
		}
	}
	return scores, rows.Err()
}

// embeddingOf loads a stored vector. Missing vectors simply score zero.
func (s *Store) embeddingOf(memoryID string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw string
	err := s.db.QueryRow(`SELECT vector FROM embeddings WHERE memory_id = ?`, memoryID).Scan(&raw)
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, false
	}
	return vec, true
}

// EnsureEmbeddings lazily backfills vectors for entries missing one, up to
// limit rows per call. Failures are logged and skipped; the store stays
// usable without embeddings.
func (s *Store) EnsureEmbeddings(ctx context.Context, emb embedding.Embedder, limit int) (int, error) {
	if emb == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	rows, err := s.db.Query(`SELECT m.memory_id, m.text FROM memories m
		LEFT JOIN embeddings e ON e.memory_id = m.memory_id
		WHERE e.memory_id IS NULL LIMIT ?`, limit)
	if err != nil {
		s.mu.RUnlock()
		return 0, fmt.Errorf("failed to find unembedded rows: %w", err)
	}
	type pending struct{ id, text string }
	var work []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.text); err == nil {
			work = append(work, p)
		}
	}
	rows.Close()
	s.mu.RUnlock()

	done := 0
	for _, p := range work {
		vec, err := emb.Embed(ctx, p.text)
		if err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("embed %s failed: %v", p.id, err)
			continue
		}
		data, err := json.Marshal(vec)
		if err != nil {
			continue
		}
		s.mu.Lock()
		_, err = s.db.Exec(`INSERT OR REPLACE INTO embeddings (memory_id, vector, dims, backend)
			VALUES (?, ?, ?, ?)`, p.id, string(data), len(vec), emb.Name())
		s.mu.Unlock()
		if err != nil {
			return done, fmt.Errorf("failed to store embedding: %w", err)
		}
		done++
	}
	if done > 0 {
		logging.Embedding("backfilled %d embeddings via %s", done, emb.Name())
	}
	return done, nil
}
