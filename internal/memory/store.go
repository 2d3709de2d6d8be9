// Package memory implements the relational memory store: content-addressed
// entries in SQLite with an FTS index, lazily-populated embeddings, and
// hybrid lexical+semantic+emotion+recency retrieval.
package memory

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"spark/internal/emotion"
	"spark/internal/logging"
)

// Entry is one memory row. Entries are immutable except for meta merges;
// the memory_id is a stable content key.
type Entry struct {
	MemoryID   string         `json:"memory_id"`
	Text       string         `json:"text"`
	Scope      string         `json:"scope"` // global | project
	ProjectKey string         `json:"project_key,omitempty"`
	Category   string         `json:"category"`
	CreatedAt  int64          `json:"created_at"`
	Source     string         `json:"source"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Emotion returns the emotion snapshot stored in meta, if any.
func (e *Entry) Emotion() (emotion.Snapshot, bool) {
	raw, ok := e.Meta["emotion"]
	if !ok {
		return emotion.Snapshot{}, false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return emotion.Snapshot{}, false
	}
	var snap emotion.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return emotion.Snapshot{}, false
	}
	return snap, true
}

// Store is the SQLite-backed memory store.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	ftsOK  bool
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; readers share the connection

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		memory_id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT 'global',
		project_key TEXT,
		category TEXT,
		created_at INTEGER NOT NULL,
		source TEXT,
		meta TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(scope, project_key);
	CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);

	CREATE TABLE IF NOT EXISTS embeddings (
		memory_id TEXT PRIMARY KEY,
		vector TEXT NOT NULL,
		dims INTEGER NOT NULL,
		backend TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize memory schema: %w", err)
	}

	// FTS5 is available in modernc builds; fall back to LIKE scoring when
	// the virtual table cannot be created.
	_, err := s.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts
		USING fts5(memory_id UNINDEXED, text)`)
	s.ftsOK = err == nil
	if err != nil {
		logging.Get(logging.CategoryMemory).Warn("FTS unavailable, using LIKE fallback: %v", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// ContentKey derives the stable memory_id for a text within a scope.
func ContentKey(scope, projectKey, text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(scope + "|" + projectKey + "|" + norm))
	return "mem-" + hex.EncodeToString(sum[:])[:16]
}

// Add inserts an entry, deriving its memory_id when unset. Re-adding an
// existing id merges meta and leaves everything else untouched. Returns
// the memory_id.
func (s *Store) Add(e Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Scope == "" {
		e.Scope = "global"
	}
	if e.MemoryID == "" {
		e.MemoryID = ContentKey(e.Scope, e.ProjectKey, e.Text)
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}

	var existingMeta sql.NullString
	err := s.db.QueryRow(`SELECT meta FROM memories WHERE memory_id = ?`, e.MemoryID).Scan(&existingMeta)
	switch {
	case err == sql.ErrNoRows:
		metaJSON, _ := json.Marshal(e.Meta)
		_, err := s.db.Exec(`INSERT INTO memories
			(memory_id, text, scope, project_key, category, created_at, source, meta)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.MemoryID, e.Text, e.Scope, nullable(e.ProjectKey), e.Category, e.CreatedAt, e.Source, string(metaJSON))
		if err != nil {
			return "", fmt.Errorf("failed to insert memory: %w", err)
		}
		if s.ftsOK {
			if _, err := s.db.Exec(`INSERT INTO memories_fts (memory_id, text) VALUES (?, ?)`, e.MemoryID, e.Text); err != nil {
				logging.Get(logging.CategoryMemory).Warn("fts insert failed: %v", err)
			}
		}
		logging.MemoryDebug("stored memory %s scope=%s category=%s", e.MemoryID, e.Scope, e.Category)
		return e.MemoryID, nil
	case err != nil:
		return "", fmt.Errorf("failed to check memory: %w", err)
	}

	// Existing entry: meta merge only.
	merged := map[string]any{}
	if existingMeta.Valid && existingMeta.String != "" {
		_ = json.Unmarshal([]byte(existingMeta.String), &merged)
	}
	for k, v := range e.Meta {
		merged[k] = v
	}
	metaJSON, _ := json.Marshal(merged)
	if _, err := s.db.Exec(`UPDATE memories SET meta = ? WHERE memory_id = ?`, string(metaJSON), e.MemoryID); err != nil {
		return "", fmt.Errorf("failed to merge meta: %w", err)
	}
	return e.MemoryID, nil
}

// Get fetches one entry by id.
func (s *Store) Get(memoryID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT memory_id, text, scope, COALESCE(project_key,''), COALESCE(category,''),
		created_at, COALESCE(source,''), COALESCE(meta,'')
		FROM memories WHERE memory_id = ?`, memoryID)
	return scanEntry(row)
}

// Count returns the number of stored memories.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var metaJSON string
	err := row.Scan(&e.MemoryID, &e.Text, &e.Scope, &e.ProjectKey, &e.Category, &e.CreatedAt, &e.Source, &metaJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan memory: %w", err)
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &e.Meta)
	}
	return &e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
