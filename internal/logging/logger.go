// Package logging provides categorized file-based logging for Spark.
// Each category writes to <state>/logs/<category>.log with byte-capped
// rotation and numbered backups. Logging is off unless SPARK_DEBUG is
// truthy; SPARK_LOG_TEE additionally mirrors lines to stderr.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // startup, shutdown, config
	CategoryQueue     Category = "queue"     // event queue append/drain/rotate
	CategoryPipeline  Category = "pipeline"  // worker loop, backpressure
	CategoryCognitive Category = "cognitive" // insight store, distillation
	CategoryMemory    Category = "memory"    // SQL memory store, retrieval
	CategoryOutcome   Category = "outcome"   // outcome log, feedback ingest
	CategoryEidos     Category = "eidos"     // episodes, steps, evidence
	CategoryAdvisory  Category = "advisory"  // synthesizer, gates, artifact
	CategoryAutoscore Category = "autoscore" // advice-to-action scoring
	CategoryEmbedding Category = "embedding" // embedding backends
	CategoryBridge    Category = "bridge"    // consciousness/emotion bridge
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Defaults for rotation; overridable via SPARK_LOG_MAX_BYTES and
// SPARK_LOG_BACKUPS.
const (
	defaultMaxBytes = 2 * 1024 * 1024
	defaultBackups  = 3
)

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	configMu  sync.RWMutex
	enabled   bool
	teeStderr bool
	logsDir   string
	maxBytes  int64
	backups   int
	logLevel  int
)

// Logger writes leveled lines for one category with size-based rotation.
type Logger struct {
	category Category
	mu       sync.Mutex
	file     *os.File
	logger   *log.Logger
	written  int64
	path     string
}

// Initialize configures the logging system from the environment. dir is the
// default log directory (usually <state>/logs); SPARK_LOG_DIR overrides it.
// Safe to call more than once; later calls reconfigure.
func Initialize(dir string) error {
	configMu.Lock()
	defer configMu.Unlock()

	enabled = truthy(os.Getenv("SPARK_DEBUG"))
	teeStderr = truthy(os.Getenv("SPARK_LOG_TEE"))

	if override := os.Getenv("SPARK_LOG_DIR"); override != "" {
		dir = override
	}
	logsDir = dir

	maxBytes = defaultMaxBytes
	if v := os.Getenv("SPARK_LOG_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxBytes = n
		}
	}
	backups = defaultBackups
	if v := os.Getenv("SPARK_LOG_BACKUPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			backups = n
		}
	}

	logLevel = LevelDebug

	if !enabled {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return enabled
}

// Get returns (or creates) the logger for a category. Returns a no-op
// logger when logging is disabled.
func Get(category Category) *Logger {
	configMu.RLock()
	on := enabled
	dir := logsDir
	configMu.RUnlock()

	if !on || dir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	path := filepath.Join(dir, string(category)+".log")
	l := &Logger{category: category, path: path}
	if err := l.open(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: could not open %s: %v\n", path, err)
		return &Logger{category: category}
	}
	loggers[category] = l
	return l
}

func (l *Logger) open() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	l.file = file
	l.written = info.Size()
	l.logger = log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	return nil
}

// rotate shifts <cat>.log -> <cat>.log.1 -> ... -> <cat>.log.N, dropping
// the oldest. Caller holds l.mu.
func (l *Logger) rotate() {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	configMu.RLock()
	n := backups
	configMu.RUnlock()

	if n <= 0 {
		os.Remove(l.path)
	} else {
		os.Remove(fmt.Sprintf("%s.%d", l.path, n))
		for i := n - 1; i >= 1; i-- {
			os.Rename(fmt.Sprintf("%s.%d", l.path, i), fmt.Sprintf("%s.%d", l.path, i+1))
		}
		os.Rename(l.path, l.path+".1")
	}
	if err := l.open(); err != nil {
		l.logger = nil
	}
}

func (l *Logger) write(level int, tag, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logger == nil || level < logLevel {
		return
	}

	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] %s", tag, msg)
	l.logger.Print(line)
	l.written += int64(len(line)) + 32 // rough prefix overhead

	configMu.RLock()
	tee := teeStderr
	limit := maxBytes
	configMu.RUnlock()

	if tee {
		fmt.Fprintf(os.Stderr, "%s %s %s\n", time.Now().Format("15:04:05"), l.category, line)
	}
	if limit > 0 && l.written >= limit {
		l.rotate()
		l.written = 0
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		l.mu.Lock()
		if l.file != nil {
			l.file.Close()
			l.file = nil
			l.logger = nil
		}
		l.mu.Unlock()
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func Queue(format string, args ...interface{})     { Get(CategoryQueue).Info(format, args...) }
func Pipeline(format string, args ...interface{})  { Get(CategoryPipeline).Info(format, args...) }
func Cognitive(format string, args ...interface{}) { Get(CategoryCognitive).Info(format, args...) }
func Memory(format string, args ...interface{})    { Get(CategoryMemory).Info(format, args...) }
func Outcome(format string, args ...interface{})   { Get(CategoryOutcome).Info(format, args...) }
func Eidos(format string, args ...interface{})     { Get(CategoryEidos).Info(format, args...) }
func Advisory(format string, args ...interface{})  { Get(CategoryAdvisory).Info(format, args...) }
func Autoscore(format string, args ...interface{}) { Get(CategoryAutoscore).Info(format, args...) }
func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Info(format, args...) }
func Bridge(format string, args ...interface{})    { Get(CategoryBridge).Info(format, args...) }

func QueueDebug(format string, args ...interface{})     { Get(CategoryQueue).Debug(format, args...) }
func PipelineDebug(format string, args ...interface{})  { Get(CategoryPipeline).Debug(format, args...) }
func CognitiveDebug(format string, args ...interface{}) { Get(CategoryCognitive).Debug(format, args...) }
func MemoryDebug(format string, args ...interface{})    { Get(CategoryMemory).Debug(format, args...) }
func AdvisoryDebug(format string, args ...interface{})  { Get(CategoryAdvisory).Debug(format, args...) }
func AutoscoreDebug(format string, args ...interface{}) { Get(CategoryAutoscore).Debug(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
