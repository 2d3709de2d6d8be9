package statedir

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AtomicWrite replaces path with data via write-to-temp + rename so readers
// never observe a partial file.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// AppendLine appends one line to a JSONL file, creating it if missing.
func AppendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return nil
}

// ReadLines returns all non-empty lines of a file. A missing file reads as
// empty. A partially-written trailing line (no terminating newline) is
// skipped so lock-free readers never see torn records.
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	complete := true
	if data[len(data)-1] != '\n' {
		complete = false
	}
	raw := strings.Split(string(data), "\n")
	var lines []string
	for i, line := range raw {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !complete && i == len(raw)-1 {
			continue // torn tail
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// TrimToTail rewrites a line-oriented file keeping only the last maxLines
// lines. Used as the head-truncation ring for append-only logs.
func TrimToTail(path string, maxLines int) error {
	if maxLines <= 0 {
		return nil
	}
	lines, err := ReadLines(path)
	if err != nil {
		return err
	}
	if len(lines) <= maxLines {
		return nil
	}
	tail := lines[len(lines)-maxLines:]
	var sb strings.Builder
	for _, line := range tail {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return AtomicWrite(path, []byte(sb.String()), 0o644)
}

// CountLines counts complete lines without loading the file into one string.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	return n, scanner.Err()
}
