// Package logger provides structured logging for live calls.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Call correlation (call id, Twilio call and stream SIDs, dialogue state)
//     carried on context.Context and added to every record
//   - Collaborator call logging (recognition, reasoning, synthesis)
//   - Automatic API key and token redaction
//   - Per-module level overrides
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	// logOutput is where newly built handlers write.
	logOutput io.Writer = os.Stderr

	// customHandler is set by SetLogger; Configure leaves it in place.
	customHandler slog.Handler

	// current remembers the last applied settings so SetOutput can rebuild.
	current loggerSettings

	mu sync.Mutex
)

type loggerSettings struct {
	level        slog.Level
	commonFields []slog.Attr
	modules      *ModuleConfig
	json         bool
}

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		level = ParseLevel(envLevel)
	}
	initLoggerWithConfig(level, nil, nil, false)
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return slog.LevelDebug - 4
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	initLoggerWithConfig(level, nil, nil, false)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// SetOutput redirects newly configured handlers to w. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	mu.Lock()
	logOutput = w
	cur := current
	mu.Unlock()

	initLoggerWithConfig(cur.level, cur.commonFields, cur.modules, cur.json)
}

// SetLogger installs a caller-provided handler. Subsequent Configure calls
// keep it. Passing nil removes the override.
func SetLogger(h slog.Handler) {
	mu.Lock()
	customHandler = h
	mu.Unlock()
	if h != nil {
		DefaultLogger = slog.New(NewContextHandler(h))
	}
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors: per-frame and per-turn failures that have a fallback.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// CollaboratorCall logs a completed call to an external collaborator.
func CollaboratorCall(ctx context.Context, provider, operation string, d time.Duration, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"provider", provider,
		"operation", operation,
		"duration_ms", d.Milliseconds(),
	)
	allAttrs = append(allAttrs, attrs...)
	DebugContext(ctx, "🤖 Collaborator call", allAttrs...)
}

// CollaboratorError logs a failed collaborator call. Failures are logged at
// warn level because every collaborator has a fallback path.
func CollaboratorError(ctx context.Context, provider, operation string, err error, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	msg := ""
	if err != nil {
		msg = RedactSensitiveData(err.Error())
	}
	allAttrs = append(allAttrs,
		"provider", provider,
		"operation", operation,
		"error", msg,
	)
	allAttrs = append(allAttrs, attrs...)
	WarnContext(ctx, "❌ Collaborator call failed", allAttrs...)
}

var (
	// apiKeyPatterns contains compiled regular expressions for detecting sensitive data.
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`sk-[a-zA-Z0-9_-]{32,}`),   // OpenAI and Anthropic API keys
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_-]+`), // Bearer tokens
		regexp.MustCompile(`Token\s+[a-zA-Z0-9]+`),    // Deepgram tokens
	}
)

// RedactSensitiveData removes API keys and other sensitive information from strings.
//
// Supported patterns:
//   - OpenAI and Anthropic keys (sk-...): shows first 4 chars
//   - Bearer tokens: "Bearer [REDACTED]"
//   - Deepgram tokens: "Token [REDACTED]"
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			switch {
			case strings.HasPrefix(match, "Bearer"):
				return "Bearer [REDACTED]"
			case strings.HasPrefix(match, "Token"):
				return "Token [REDACTED]"
			case len(match) > 8:
				return match[:4] + "...[REDACTED]"
			default:
				return "[REDACTED]"
			}
		})
	}

	return result
}
