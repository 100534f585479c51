// Package logging provides config-driven categorized file-based logging.
// Logs are written to the configured directory with separate files per
// category. When debug mode is off every logger is a silent no-op, so hot
// paths can log unconditionally.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot        Category = "boot"        // Startup and shutdown
	CategoryAPI         Category = "api"         // HTTP transport
	CategoryPipeline    Category = "pipeline"    // Ask orchestrator stages
	CategoryPlanner     Category = "planner"     // Heuristic/pattern/hybrid planning
	CategorySQLGuard    Category = "sqlguard"    // SQL safety validation
	CategoryExecution   Category = "execution"   // Query execution
	CategoryStore       Category = "store"       // SQLite repositories
	CategoryEmbedding   Category = "embedding"   // Embedding engine
	CategoryRetrieval   Category = "retrieval"   // Context retrieval
	CategoryRouter      Category = "router"      // Model routing and budgets
	CategoryCache       Category = "cache"       // Ask response cache
	CategoryRateLimit   Category = "ratelimit"   // Fixed-window limiter
	CategoryIngest      Category = "ingest"      // Dataset/context ingestion
	CategoryWatcher     Category = "watcher"     // Context directory watcher
	CategoryVoice       Category = "voice"       // Voice proxy endpoints
	CategoryPerformance Category = "performance" // Slow-operation warnings
)

// Options configures the logging system at startup.
type Options struct {
	Debug      bool            // master switch; false means no files, no output
	Level      string          // debug | info | warn | error
	JSONFormat bool            // structured JSON lines instead of text
	Categories map[string]bool // per-category enable; empty enables all
}

// StructuredLogEntry is the JSON line shape used when JSONFormat is on.
type StructuredLogEntry struct {
	Timestamp int64          `json:"ts"`
	Category  string         `json:"cat"`
	Level     string         `json:"lvl"`
	Message   string         `json:"msg"`
	RequestID string         `json:"req,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	optsMu    sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory and options. Call once at startup;
// with Debug false it is a silent no-op.
func Initialize(dir string, o Options) error {
	optsMu.Lock()
	opts = o
	switch strings.ToLower(o.Level) {
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

	if !o.Debug {
		return nil
	}
	if dir == "" {
		return fmt.Errorf("log directory required when debug logging is on")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	loggersMu.Lock()
	logsDir = dir
	loggersMu.Unlock()

	boot := Get(CategoryBoot)
	boot.Info("=== logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	boot.Info("Level: %s json=%v", o.Level, o.JSONFormat)
	return nil
}

// IsDebugMode reports whether logging is active at all.
func IsDebugMode() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.Debug
}

// IsCategoryEnabled reports whether a category writes anywhere.
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	if !opts.Debug {
		return false
	}
	if len(opts.Categories) == 0 {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for a category. Disabled categories
// get a no-op logger, so callers never branch.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if logsDir == "" {
		loggersMu.RUnlock()
		return &Logger{category: category}
	}
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

	// Date prefix keeps rotation a matter of deleting old files.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", logPath, err)
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

func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
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
		return
	}
	l.logger.Printf("[%s] %s", strings.ToUpper(tag), msg)
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...any) { l.write(LevelDebug, "debug", format, args...) }

// Info logs at info level.
func (l *Logger) Info(format string, args ...any) { l.write(LevelInfo, "info", format, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...any) { l.write(LevelWarn, "warn", format, args...) }

// Error logs at error level.
func (l *Logger) Error(format string, args ...any) { l.write(LevelError, "error", format, args...) }

// CloseAll closes every open log file. Call on shutdown.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for cat, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
		delete(loggers, cat)
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - one pair per hot category
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...any) { Get(CategoryBoot).Info(format, args...) }

// API logs to the api category.
func API(format string, args ...any) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs debug to the api category.
func APIDebug(format string, args ...any) { Get(CategoryAPI).Debug(format, args...) }

// Pipeline logs to the pipeline category.
func Pipeline(format string, args ...any) { Get(CategoryPipeline).Info(format, args...) }

// PipelineDebug logs debug to the pipeline category.
func PipelineDebug(format string, args ...any) { Get(CategoryPipeline).Debug(format, args...) }

// Planner logs to the planner category.
func Planner(format string, args ...any) { Get(CategoryPlanner).Info(format, args...) }

// PlannerDebug logs debug to the planner category.
func PlannerDebug(format string, args ...any) { Get(CategoryPlanner).Debug(format, args...) }

// SQLGuard logs to the sqlguard category.
func SQLGuard(format string, args ...any) { Get(CategorySQLGuard).Info(format, args...) }

// SQLGuardDebug logs debug to the sqlguard category.
func SQLGuardDebug(format string, args ...any) { Get(CategorySQLGuard).Debug(format, args...) }

// Execution logs to the execution category.
func Execution(format string, args ...any) { Get(CategoryExecution).Info(format, args...) }

// ExecutionDebug logs debug to the execution category.
func ExecutionDebug(format string, args ...any) { Get(CategoryExecution).Debug(format, args...) }

// Store logs to the store category.
func Store(format string, args ...any) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...any) { Get(CategoryStore).Debug(format, args...) }

// Router logs to the router category.
func Router(format string, args ...any) { Get(CategoryRouter).Info(format, args...) }

// RouterDebug logs debug to the router category.
func RouterDebug(format string, args ...any) { Get(CategoryRouter).Debug(format, args...) }

// Retrieval logs to the retrieval category.
func Retrieval(format string, args ...any) { Get(CategoryRetrieval).Info(format, args...) }

// Ingest logs to the ingest category.
func Ingest(format string, args ...any) { Get(CategoryIngest).Info(format, args...) }

// IngestDebug logs debug to the ingest category.
func IngestDebug(format string, args ...any) { Get(CategoryIngest).Debug(format, args...) }

// Watcher logs to the watcher category.
func Watcher(format string, args ...any) { Get(CategoryWatcher).Info(format, args...) }

// Voice logs to the voice category.
func Voice(format string, args ...any) { Get(CategoryVoice).Info(format, args...) }

// =============================================================================
// REQUEST-SCOPED LOGGING
// =============================================================================

// RequestLogger carries a correlation id and optional fields through one
// request's log lines.
type RequestLogger struct {
	category  Category
	requestID string
	fields    map[string]any
}

// WithRequestID creates a request-scoped logger.
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{category: category, requestID: requestID}
}

// WithField adds a field to the request logger.
func (r *RequestLogger) WithField(key string, value any) *RequestLogger {
	next := &RequestLogger{
		category:  r.category,
		requestID: r.requestID,
		fields:    make(map[string]any, len(r.fields)+1),
	}
	for k, v := range r.fields {
		next.fields[k] = v
	}
	next.fields[key] = value
	return next
}

func (r *RequestLogger) formatMsg(format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	parts := []string{fmt.Sprintf("[req=%s]", r.requestID)}
	if len(r.fields) > 0 {
		keys := make([]string, 0, len(r.fields))
		for k := range r.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, r.fields[k]))
		}
	}
	return strings.Join(parts, " ") + " " + msg
}

// Debug logs a request-scoped debug line.
func (r *RequestLogger) Debug(format string, args ...any) {
	Get(r.category).Debug("%s", r.formatMsg(format, args...))
}

// Info logs a request-scoped info line.
func (r *RequestLogger) Info(format string, args ...any) {
	Get(r.category).Info("%s", r.formatMsg(format, args...))
}

// Warn logs a request-scoped warn line.
func (r *RequestLogger) Warn(format string, args ...any) {
	Get(r.category).Warn("%s", r.formatMsg(format, args...))
}

// Error logs a request-scoped error line.
func (r *RequestLogger) Error(format string, args ...any) {
	Get(r.category).Error("%s", r.formatMsg(format, args...))
}

// =============================================================================
// TIMING HELPERS
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

// StopWithInfo ends the timer and logs at info level. An optional detail
// string is appended to the log line.
func (t *Timer) StopWithInfo(detail ...string) time.Duration {
	elapsed := time.Since(t.start)
	if len(detail) > 0 && detail[0] != "" {
		Get(t.category).Info("%s completed in %v (%s)", t.op, elapsed, detail[0])
		return elapsed
	}
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning when the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
