// Package logging provides categorized file-based diagnostic logging for
// audioforge. Logs are written to .pipeline/logs/ with separate files per
// category. Logging is controlled by the config's debug_mode; when false, no
// log files are created. This diagnostic log is separate from the policy
// event log, which is an observability surface with its own durability
// rules (see internal/policy).
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot         Category = "boot"         // startup/initialization
	CategoryState        Category = "state"        // StateStore reads, writes, locks, backups
	CategorySchema       Category = "schema"       // canonicalization and validation
	CategoryPolicy       Category = "policy"       // policy logger, advisor, overrides
	CategoryRunner       Category = "runner"       // phase subprocess execution
	CategoryOrchestrator Category = "orchestrator" // top-level control loop
	CategoryBatch        Category = "batch"        // batch worker pool
)

// Options controls whether and how the diagnostic log is written.
type Options struct {
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`
	Level      string          `yaml:"level" json:"level"`             // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format" json:"json_format"` // structured lines for machine parsing
	Categories map[string]bool `yaml:"categories" json:"categories"`   // per-category toggles
}

// StructuredLogEntry is one machine-parseable diagnostic line.
type StructuredLogEntry struct {
	Timestamp int64          `json:"ts"`  // Unix milliseconds
	Category  string         `json:"cat"` // log category
	Level     string         `json:"lvl"` // debug/info/warn/error
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	optsMu    sync.RWMutex
	logLevel  int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory under the project root.
// Should be called once at startup; a no-op when debug mode is off.
func Initialize(projectRoot string, o Options) error {
	if projectRoot == "" {
		return fmt.Errorf("project root required")
	}

	optsMu.Lock()
	opts = o
	switch o.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	optsMu.Unlock()

	logsDir = filepath.Join(projectRoot, ".pipeline", "logs")

	if !o.DebugMode {
		return nil // silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== audioforge logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Level: %s, json=%v", o.Level, o.JSONFormat)

	return nil
}

// IsDebugMode returns whether diagnostic logging is enabled.
func IsDebugMode() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !opts.DebugMode {
		return false
	}
	if opts.Categories == nil {
		return true // all enabled by default in debug mode
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}
	if logsDir == "" {
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

	// Date-prefixed file per category for easy rotation.
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// logJSON writes a structured JSON log entry.
func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg) // fall back to text
		return
	}
	l.logger.Printf("%s", data)
}

func (l *Logger) write(level int, tag, format string, args ...any) {
	if l.logger == nil || logLevel > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	optsMu.RLock()
	jsonFormat := opts.JSONFormat
	optsMu.RUnlock()
	if jsonFormat {
		l.logJSON(tag, msg)
	} else {
		l.logger.Printf("[%s] %s", tag, msg)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) { l.write(LevelDebug, "debug", format, args...) }

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) { l.write(LevelInfo, "info", format, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) { l.write(LevelWarn, "warn", format, args...) }

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) { l.write(LevelError, "error", format, args...) }

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without getting a logger first.
// These are no-ops if the category is disabled.
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...any) { Get(CategoryBoot).Info(format, args...) }

// BootDebug logs debug to the boot category.
func BootDebug(format string, args ...any) { Get(CategoryBoot).Debug(format, args...) }

// State logs to the state category.
func State(format string, args ...any) { Get(CategoryState).Info(format, args...) }

// StateDebug logs debug to the state category.
func StateDebug(format string, args ...any) { Get(CategoryState).Debug(format, args...) }

// StateWarn logs a warning to the state category.
func StateWarn(format string, args ...any) { Get(CategoryState).Warn(format, args...) }

// StateError logs an error to the state category.
func StateError(format string, args ...any) { Get(CategoryState).Error(format, args...) }

// Schema logs to the schema category.
func Schema(format string, args ...any) { Get(CategorySchema).Info(format, args...) }

// SchemaDebug logs debug to the schema category.
func SchemaDebug(format string, args ...any) { Get(CategorySchema).Debug(format, args...) }

// Policy logs to the policy category.
func Policy(format string, args ...any) { Get(CategoryPolicy).Info(format, args...) }

// PolicyDebug logs debug to the policy category.
func PolicyDebug(format string, args ...any) { Get(CategoryPolicy).Debug(format, args...) }

// PolicyWarn logs a warning to the policy category.
func PolicyWarn(format string, args ...any) { Get(CategoryPolicy).Warn(format, args...) }

// Runner logs to the runner category.
func Runner(format string, args ...any) { Get(CategoryRunner).Info(format, args...) }

// RunnerDebug logs debug to the runner category.
func RunnerDebug(format string, args ...any) { Get(CategoryRunner).Debug(format, args...) }

// RunnerWarn logs a warning to the runner category.
func RunnerWarn(format string, args ...any) { Get(CategoryRunner).Warn(format, args...) }

// Orchestrator logs to the orchestrator category.
func Orchestrator(format string, args ...any) { Get(CategoryOrchestrator).Info(format, args...) }

// OrchestratorDebug logs debug to the orchestrator category.
func OrchestratorDebug(format string, args ...any) { Get(CategoryOrchestrator).Debug(format, args...) }

// OrchestratorError logs an error to the orchestrator category.
func OrchestratorError(format string, args ...any) { Get(CategoryOrchestrator).Error(format, args...) }

// Batch logs to the batch category.
func Batch(format string, args ...any) { Get(CategoryBatch).Info(format, args...) }

// BatchDebug logs debug to the batch category.
func BatchDebug(format string, args ...any) { Get(CategoryBatch).Debug(format, args...) }

// =============================================================================
// TIMER - measure slow operations
// =============================================================================

// Timer measures operation duration.
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
