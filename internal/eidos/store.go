// Package eidos persists the episodic record of agent work: episodes
// (goal-scoped spans), steps (one decision/tool action each), and evidence
// (raw payload snippets with a TTL). Everything is trace_id-bindable so
// the trace command and the auto-scorer can reconstruct timelines.
package eidos

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"spark/internal/logging"
	"spark/internal/statedir"
)

// Episode phases.
const (
	PhaseActive    = "active"
	PhaseCompleted = "completed"
	PhaseAbandoned = "abandoned"
)

// Episode is one goal-scoped span of agent work.
type Episode struct {
	EpisodeID string `json:"episode_id"`
	Goal      string `json:"goal"`
	Phase     string `json:"phase"`
	Outcome   string `json:"outcome,omitempty"`
	StepCount int    `json:"step_count"`
	StartedAt int64  `json:"started_at"`
	EndedAt   int64  `json:"ended_at,omitempty"`
}

// Step is one decision inside an episode.
type Step struct {
	StepID     string `json:"step_id"`
	EpisodeID  string `json:"episode_id"`
	Intent     string `json:"intent,omitempty"`
	Decision   string `json:"decision,omitempty"`
	Tool       string `json:"tool,omitempty"`
	Evaluation string `json:"evaluation,omitempty"`
	Validated  bool   `json:"validated"`
	Result     string `json:"result,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// Evidence is a raw payload snippet attached to a step, expiring after TTL.
type Evidence struct {
	EvidenceID string `json:"evidence_id"`
	StepID     string `json:"step_id"`
	Type       string `json:"type"`
	ToolName   string `json:"tool_name,omitempty"`
	Bytes      []byte `json:"bytes"`
	TTLSeconds int64  `json:"ttl_seconds"`
	CreatedAt  int64  `json:"created_at"`
}

// Store wraps the episodic database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the episodic database under the layout.
func Open(layout *statedir.Layout) (*Store, error) {
	db, err := sql.Open("sqlite3", layout.EidosDB()+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open eidos database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS episodes (
		episode_id TEXT PRIMARY KEY,
		goal       TEXT NOT NULL,
		phase      TEXT NOT NULL DEFAULT 'active',
		outcome    TEXT,
		step_count INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at   INTEGER
	);
	CREATE TABLE IF NOT EXISTS steps (
		step_id    TEXT PRIMARY KEY,
		episode_id TEXT NOT NULL REFERENCES episodes(episode_id),
		intent     TEXT,
		decision   TEXT,
		tool       TEXT,
		evaluation TEXT,
		validated  INTEGER NOT NULL DEFAULT 0,
		result     TEXT,
		trace_id   TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS evidence (
		evidence_id TEXT PRIMARY KEY,
		step_id     TEXT NOT NULL REFERENCES steps(step_id),
		type        TEXT NOT NULL,
		tool_name   TEXT,
		bytes       BLOB,
		ttl_seconds INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_steps_episode ON steps(episode_id);
	CREATE INDEX IF NOT EXISTS idx_steps_trace   ON steps(trace_id);
	CREATE INDEX IF NOT EXISTS idx_evidence_step ON evidence(step_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize eidos schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// BeginEpisode opens a new active episode and returns its id.
func (s *Store) BeginEpisode(goal string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO episodes (episode_id, goal, phase, started_at) VALUES (?, ?, ?, ?)`,
		id, goal, PhaseActive, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to begin episode: %w", err)
	}
	logging.Eidos("episode %s started goal=%q", id, goal)
	return id, nil
}

// EndEpisode closes an episode with its final phase and outcome.
func (s *Store) EndEpisode(episodeID, phase, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`UPDATE episodes SET phase = ?, outcome = ?, ended_at = ? WHERE episode_id = ?`,
		phase, outcome, time.Now().Unix(), episodeID,
	)
	if err != nil {
		return fmt.Errorf("failed to end episode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("episode %s not found", episodeID)
	}
	return nil
}

// ActiveEpisode returns the most recently started active episode, or nil.
func (s *Store) ActiveEpisode() (*Episode, error) {
	row := s.db.QueryRow(
		`SELECT episode_id, goal, phase, COALESCE(outcome,''), step_count, started_at, COALESCE(ended_at,0)
		 FROM episodes WHERE phase = ? ORDER BY started_at DESC LIMIT 1`, PhaseActive)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

// AddStep records a step and bumps its episode's step count.
func (s *Store) AddStep(st *Step) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.StepID == "" {
		st.StepID = uuid.NewString()
	}
	if st.CreatedAt == 0 {
		st.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin step transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO steps (step_id, episode_id, intent, decision, tool, evaluation, validated, result, trace_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.StepID, st.EpisodeID, st.Intent, st.Decision, st.Tool, st.Evaluation,
		boolToInt(st.Validated), st.Result, st.TraceID, st.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert step: %w", err)
	}
	if _, err := tx.Exec(`UPDATE episodes SET step_count = step_count + 1 WHERE episode_id = ?`, st.EpisodeID); err != nil {
		return "", fmt.Errorf("failed to bump step count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit step: %w", err)
	}
	return st.StepID, nil
}

// ValidateStep marks a step validated and records its evaluation. The
// trace_id is never rewritten here.
func (s *Store) ValidateStep(stepID, evaluation, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE steps SET validated = 1, evaluation = ?, result = ? WHERE step_id = ?`,
		evaluation, result, stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to validate step: %w", err)
	}
	return nil
}

// BackfillTrace binds a trace id onto a step that was recorded without
// one. Explicit backfill is the only path that rewrites trace_id.
func (s *Store) BackfillTrace(stepID, traceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE steps SET trace_id = ? WHERE step_id = ?`, traceID, stepID)
	if err != nil {
		return fmt.Errorf("failed to backfill trace: %w", err)
	}
	return nil
}

// AddEvidence attaches a payload snippet to a step.
func (s *Store) AddEvidence(ev *Evidence) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.EvidenceID == "" {
		ev.EvidenceID = uuid.NewString()
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.Exec(
		`INSERT INTO evidence (evidence_id, step_id, type, tool_name, bytes, ttl_seconds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.EvidenceID, ev.StepID, ev.Type, ev.ToolName, ev.Bytes, ev.TTLSeconds, ev.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert evidence: %w", err)
	}
	return ev.EvidenceID, nil
}

// StepsByTrace returns every step bound to a trace id, oldest first.
func (s *Store) StepsByTrace(traceID string) ([]Step, error) {
	rows, err := s.db.Query(
		`SELECT step_id, episode_id, COALESCE(intent,''), COALESCE(decision,''), COALESCE(tool,''),
		        COALESCE(evaluation,''), validated, COALESCE(result,''), COALESCE(trace_id,''), created_at
		 FROM steps WHERE trace_id = ? ORDER BY created_at ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps by trace: %w", err)
	}
	defer rows.Close()
	return scanSteps(rows)
}

// StepsByEpisode returns an episode's steps, oldest first.
func (s *Store) StepsByEpisode(episodeID string) ([]Step, error) {
	rows, err := s.db.Query(
		`SELECT step_id, episode_id, COALESCE(intent,''), COALESCE(decision,''), COALESCE(tool,''),
		        COALESCE(evaluation,''), validated, COALESCE(result,''), COALESCE(trace_id,''), created_at
		 FROM steps WHERE episode_id = ? ORDER BY created_at ASC`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps by episode: %w", err)
	}
	defer rows.Close()
	return scanSteps(rows)
}

// EvidenceByStep returns a step's evidence rows, oldest first.
func (s *Store) EvidenceByStep(stepID string) ([]Evidence, error) {
	rows, err := s.db.Query(
		`SELECT evidence_id, step_id, type, COALESCE(tool_name,''), bytes, ttl_seconds, created_at
		 FROM evidence WHERE step_id = ? ORDER BY created_at ASC`, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer rows.Close()

	var out []Evidence
	for rows.Next() {
		var ev Evidence
		if err := rows.Scan(&ev.EvidenceID, &ev.StepID, &ev.Type, &ev.ToolName, &ev.Bytes, &ev.TTLSeconds, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetEpisode fetches one episode.
func (s *Store) GetEpisode(episodeID string) (*Episode, error) {
	row := s.db.QueryRow(
		`SELECT episode_id, goal, phase, COALESCE(outcome,''), step_count, started_at, COALESCE(ended_at,0)
		 FROM episodes WHERE episode_id = ?`, episodeID)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

// SweepExpiredEvidence deletes evidence past its TTL (ttl_seconds == 0
// means keep forever). Returns the number of rows removed.
func (s *Store) SweepExpiredEvidence(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`DELETE FROM evidence WHERE ttl_seconds > 0 AND created_at + ttl_seconds < ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep evidence: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Eidos("swept %d expired evidence rows", n)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (*Episode, error) {
	var ep Episode
	err := row.Scan(&ep.EpisodeID, &ep.Goal, &ep.Phase, &ep.Outcome, &ep.StepCount, &ep.StartedAt, &ep.EndedAt)
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

func scanSteps(rows *sql.Rows) ([]Step, error) {
	var out []Step
	for rows.Next() {
		var st Step
		var validated int
		if err := rows.Scan(&st.StepID, &st.EpisodeID, &st.Intent, &st.Decision, &st.Tool,
			&st.Evaluation, &validated, &st.Result, &st.TraceID, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.Validated = validated != 0
		out = append(out, st)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
