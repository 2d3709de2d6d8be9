// Package statedir resolves and lays out the per-user Spark state root.
// All persistent artifacts (queue, stores, advisory logs, pid locks) live
// under this root; components receive paths from here instead of computing
// their own.
package statedir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout names every file and directory under the state root.
type Layout struct {
	Root string
}

// Resolve picks the state root: SPARK_STATE_DIR if set, otherwise
// ~/.spark. The directory tree is created on first use.
func Resolve() (*Layout, error) {
	root := os.Getenv("SPARK_STATE_DIR")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		root = filepath.Join(home, ".spark")
	}
	return At(root)
}

// At builds a Layout rooted at an explicit path, creating subdirectories.
func At(root string) (*Layout, error) {
	l := &Layout{Root: root}
	for _, dir := range []string{
		root,
		filepath.Join(root, "queue"),
		filepath.Join(root, "memory"),
		filepath.Join(root, "eidos"),
		filepath.Join(root, "advisory"),
		filepath.Join(root, "advisory_quarantine"),
		filepath.Join(root, "feedback"),
		filepath.Join(root, "pids"),
		filepath.Join(root, "logs"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state dir %s: %w", dir, err)
		}
	}
	return l, nil
}

func (l *Layout) QueueFile() string       { return filepath.Join(l.Root, "queue", "events.jsonl") }
func (l *Layout) QueueOverflow() string   { return filepath.Join(l.Root, "queue", "events.overflow.jsonl") }
func (l *Layout) QueueLock() string       { return filepath.Join(l.Root, "queue", ".queue.lock") }
func (l *Layout) CognitiveFile() string   { return filepath.Join(l.Root, "cognitive_insights.json") }
func (l *Layout) CognitiveLock() string   { return filepath.Join(l.Root, "cognitive_insights.json.lock") }
func (l *Layout) MemoryDB() string        { return filepath.Join(l.Root, "memory", "store.sqlite") }
func (l *Layout) MemoryJSONL() string     { return filepath.Join(l.Root, "memory", "memories.jsonl") }
func (l *Layout) OutcomesFile() string    { return filepath.Join(l.Root, "outcomes.jsonl") }
func (l *Layout) EidosDB() string         { return filepath.Join(l.Root, "eidos", "eidos.db") }
func (l *Layout) RecentAdvice() string    { return filepath.Join(l.Root, "advisory", "recent_advice.jsonl") }
func (l *Layout) AdviceLog() string       { return filepath.Join(l.Root, "advisory", "advice_log.jsonl") }
func (l *Layout) Effectiveness() string   { return filepath.Join(l.Root, "advisory", "effectiveness.json") }
func (l *Layout) AdvisoryMetrics() string { return filepath.Join(l.Root, "advisory", "metrics.json") }
func (l *Layout) AdvisorySettings() string {
	return filepath.Join(l.Root, "advisory", "settings.yaml")
}
func (l *Layout) QuarantineFile() string {
	return filepath.Join(l.Root, "advisory_quarantine", "advisory_quarantine.jsonl")
}
func (l *Layout) Tuneables() string    { return filepath.Join(l.Root, "tuneables.json") }
func (l *Layout) FeedbackDir() string  { return filepath.Join(l.Root, "feedback") }
func (l *Layout) LogsDir() string      { return filepath.Join(l.Root, "logs") }
func (l *Layout) EmotionState() string { return filepath.Join(l.Root, "emotion_state.json") }
func (l *Layout) BridgeState() string  { return filepath.Join(l.Root, "consciousness_bridge.json") }
func (l *Layout) CheckinState() string { return filepath.Join(l.Root, "checkin_state.json") }

// PidLock returns the lockfile path for a long-lived role.
func (l *Layout) PidLock(role string) string {
	return filepath.Join(l.Root, "pids", role+".lock")
}

// ArtifactFile returns the per-workspace advisory artifact path. When a
// workspace is known the artifact sits inside it so the agent re-reads it
// each turn; otherwise it lands under the state root.
func (l *Layout) ArtifactFile(workspace string) string {
	if workspace != "" {
		return filepath.Join(workspace, ".spark_advisory.md")
	}
	return filepath.Join(l.Root, "advisory", "advisory.md")
}
