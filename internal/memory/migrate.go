package memory

import (
	"encoding/json"
	"fmt"

	"spark/internal/logging"
	"spark/internal/statedir"
)

// MigrateJSONL backfills the SQL store from a legacy JSONL memory file.
// Each line is one Entry; malformed lines are skipped with a count,
// duplicates collapse onto their content key. Returns (imported, skipped).
func (s *Store) MigrateJSONL(path string) (int, int, error) {
	lines, err := statedir.ReadLines(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read legacy memories: %w", err)
	}

	imported, skipped := 0, 0
	for _, line := range lines {
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.Text == "" {
			skipped++
			continue
		}
		if _, err := s.Add(e); err != nil {
			skipped++
			continue
		}
		imported++
	}
	logging.Memory("migrated %d legacy memories (%d skipped) from %s", imported, skipped, path)
	return imported, skipped, nil
}
