package logger

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

const maxPromptLength = 64

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Options selects where log lines go and how they are rendered.
type Options struct {
	Level  LogLevel
	IsDev  bool
	Format string // "text" or "json"
	File   string // rotated with lumberjack when set
	Output io.Writer
}

// Logger provides leveled key/value logging with automatic redaction of
// emails, user ids, tokens and prompt text.
type Logger struct {
	mu     sync.RWMutex
	level  LogLevel
	logger *log.Logger
	json   *zerolog.Logger
	isDev  bool
	closer io.Closer
}

var (
	defaultLogger *Logger
	defaultMu     sync.Mutex
)

// New builds a logger from options. Output defaults to stdout.
func New(opts Options) *Logger {
	out := opts.Output
	var closer io.Closer
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		out = rotator
		closer = rotator
	}
	if out == nil {
		out = os.Stdout
	}

	l := &Logger{
		level:  opts.Level,
		isDev:  opts.IsDev,
		closer: closer,
	}
	if strings.EqualFold(opts.Format, "json") {
		zl := zerolog.New(out).With().Timestamp().Logger()
		l.json = &zl
	} else {
		l.logger = log.New(out, "", log.LstdFlags)
	}
	return l
}

// Initialize sets up the default logger instance
func Initialize(opts Options) *Logger {
	l := New(opts)
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	return l
}

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(Options{Level: INFO})
	}
	return defaultLogger
}

// SetLevel updates the log level
func SetLevel(level LogLevel) {
	l := GetLogger()
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// Close releases the rotating file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// redactEmail redacts email addresses for privacy
func redactEmail(email string) string {
	if email == "" {
		return ""
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "****"
	}

	local := parts[0]
	domain := parts[1]

	if len(local) <= 2 {
		return "****@" + domain
	}

	return local[0:1] + "****" + local[len(local)-1:] + "@" + domain
}

// hashUserID creates a consistent hash for user IDs
func hashUserID(userID interface{}) string {
	str := fmt.Sprintf("%v", userID)
	if str == "guest" {
		return str
	}
	hash := sha256.Sum256([]byte(str))
	return fmt.Sprintf("user_%x", hash[:4])
}

// truncateID truncates tokens and other opaque identifiers
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:4] + "****"
}

func truncatePrompt(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= maxPromptLength {
		return prompt
	}
	return string(runes[:maxPromptLength]) + "..."
}

// redactValue redacts sensitive values based on the key name
func redactValue(key string, value interface{}) interface{} {
	keyLower := strings.ToLower(key)
	valueStr := fmt.Sprintf("%v", value)

	if strings.Contains(keyLower, "email") || strings.Contains(valueStr, "@") {
		return redactEmail(valueStr)
	}

	if strings.Contains(keyLower, "userid") || strings.Contains(keyLower, "user_id") {
		return hashUserID(value)
	}

	if strings.Contains(keyLower, "token") || strings.Contains(keyLower, "apikey") {
		return truncateID(valueStr)
	}

	if strings.Contains(keyLower, "prompt") {
		return truncatePrompt(valueStr)
	}

	// Inline image payloads would flood the log.
	if strings.HasPrefix(valueStr, "data:") {
		return truncatePrompt(valueStr)
	}

	return value
}

func (l *Logger) redacting() bool {
	return !l.isDev || l.level > DEBUG
}

// formatMessage formats a log message with key-value pairs
func (l *Logger) formatMessage(level, msg string, keysAndValues ...interface{}) string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("[%s] %s", level, msg))

	if len(keysAndValues) > 0 {
		builder.WriteString(" {")
		for i := 0; i < len(keysAndValues); i += 2 {
			if i > 0 {
				builder.WriteString(",")
			}

			key, value := pair(keysAndValues, i)
			if l.redacting() {
				value = redactValue(key, value)
			}

			builder.WriteString(fmt.Sprintf(" %s=%v", key, value))
		}
		builder.WriteString(" }")
	}

	return builder.String()
}

func pair(keysAndValues []interface{}, i int) (string, interface{}) {
	key := fmt.Sprintf("%v", keysAndValues[i])
	if i+1 < len(keysAndValues) {
		return key, keysAndValues[i+1]
	}
	return key, ""
}

func (l *Logger) writeJSON(level LogLevel, msg string, keysAndValues ...interface{}) {
	var event *zerolog.Event
	switch level {
	case DEBUG:
		event = l.json.Debug()
	case WARN:
		event = l.json.Warn()
	case ERROR:
		event = l.json.Error()
	default:
		event = l.json.Info()
	}

	for i := 0; i < len(keysAndValues); i += 2 {
		key, value := pair(keysAndValues, i)
		if l.redacting() {
			value = redactValue(key, value)
		}
		if err, ok := value.(error); ok {
			event = event.AnErr(key, err)
			continue
		}
		event = event.Interface(key, value)
	}
	event.Msg(msg)
}

// shouldLog checks if a message should be logged based on level
func (l *Logger) shouldLog(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *Logger) write(level LogLevel, msg string, keysAndValues ...interface{}) {
	if !l.shouldLog(level) {
		return
	}
	if l.json != nil {
		l.writeJSON(level, msg, keysAndValues...)
		return
	}
	l.logger.Println(l.formatMessage(level.String(), msg, keysAndValues...))
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.write(DEBUG, msg, keysAndValues...)
}

// Info logs an info message
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.write(INFO, msg, keysAndValues...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.write(WARN, msg, keysAndValues...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.write(ERROR, msg, keysAndValues...)
}

// Package-level convenience functions

// Debug logs a debug message using the default logger
func Debug(msg string, keysAndValues ...interface{}) {
	GetLogger().Debug(msg, keysAndValues...)
}

// Info logs an info message using the default logger
func Info(msg string, keysAndValues ...interface{}) {
	GetLogger().Info(msg, keysAndValues...)
}

// Warn logs a warning message using the default logger
func Warn(msg string, keysAndValues ...interface{}) {
	GetLogger().Warn(msg, keysAndValues...)
}

// Error logs an error message using the default logger
func Error(msg string, keysAndValues ...interface{}) {
	GetLogger().Error(msg, keysAndValues...)
}

// ParseLevel converts a string to a LogLevel
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}
