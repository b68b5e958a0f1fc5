package logger

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/term"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	// DEBUG level for detailed debugging information
	DEBUG LogLevel = iota
	// INFO level for general informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SlogLevel maps the level onto slog.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel parses a string to LogLevel.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Output formats.
const (
	FormatAuto = ""
	FormatText = "text"
	FormatJSON = "json"
)

// Config contains logger configuration.
type Config struct {
	Level    LogLevel // Minimum log level to output
	Prefix   string   // Prefix for every line
	Console  bool     // Enable console output
	File     bool     // Enable file output
	FilePath string   // Path to log file
	// Format is text, json, or empty to pick text on a terminal and json
	// otherwise.
	Format string
	// Writer replaces stderr as the console output.
	Writer io.Writer
}

// Logger is a *slog.Logger that owns its log file.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New creates a logger from cfg.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = &Config{Level: INFO, Console: true}
	}

	console := cfg.Writer
	if console == nil {
		console = os.Stderr
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, console)
	}

	l := &Logger{}
	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		writers = append(writers, file)
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}
	if cfg.Prefix != "" {
		out = &prefixWriter{prefix: []byte(cfg.Prefix), w: out}
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.SlogLevel()}
	var handler slog.Handler
	if resolveFormat(cfg.Format, console) == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	l.Logger = slog.New(handler)
	return l, nil
}

// Setup creates a logger from cfg and installs it as the slog default.
func Setup(cfg *Config) (*Logger, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l.Logger)
	return l, nil
}

// NewDefaultLogger creates a console logger at INFO.
func NewDefaultLogger() *Logger {
	l, _ := New(&Config{Level: INFO, Console: true})
	return l
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func resolveFormat(format string, console io.Writer) string {
	switch strings.ToLower(format) {
	case FormatJSON:
		return FormatJSON
	case FormatText:
		return FormatText
	}
	if f, ok := console.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return FormatJSON
	}
	return FormatText
}

// prefixWriter prepends prefix to every line. slog handlers write one
// record per call.
type prefixWriter struct {
	mu     sync.Mutex
	prefix []byte
	w      io.Writer
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf bytes.Buffer
	for _, line := range bytes.SplitAfter(b, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		buf.Write(p.prefix)
		buf.Write(line)
	}
	if _, err := p.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(b), nil
}
