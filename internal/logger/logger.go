package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

// Options controls where log lines go. An empty Dir disables the JSON file.
type Options struct {
	Service  string
	Dir      string
	MinLevel LogLevel
	Color    bool
	Terminal io.Writer
}

type Logger struct {
	mu       sync.Mutex
	terminal io.Writer
	logFile  *os.File
	minLevel LogLevel
	color    bool
}

func NewLogger(opts Options) (*Logger, error) {
	l := &Logger{
		terminal: opts.Terminal,
		minLevel: opts.MinLevel,
		color:    opts.Color,
	}
	if l.terminal == nil {
		l.terminal = os.Stdout
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		service := opts.Service
		if service == "" {
			service = "registration"
		}
		name := filepath.Join(opts.Dir, fmt.Sprintf("%s-%s.log", service, time.Now().Format("2006-01-02")))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.logFile = f
		l.Info("LOGGER", fmt.Sprintf("Log file: %s", name))
	}
	return l, nil
}

// NewDiscardLogger drops everything. Used by tests.
func NewDiscardLogger() *Logger {
	return &Logger{terminal: io.Discard, minLevel: FATAL + 1}
}

// ParseLevel maps LOG_LEVEL values, falling back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l *Logger) log(level LogLevel, category, message string) {
	if level < l.minLevel {
		return
	}
	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     levelToString(level),
		Category:  strings.ToUpper(category),
		Message:   message,
		File:      file,
		Line:      line,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.terminal, l.formatTerminal(entry))
	if l.logFile != nil {
		b, _ := json.Marshal(entry)
		l.logFile.Write(append(b, '\n'))
	}
}

func (l *Logger) formatTerminal(entry LogEntry) string {
	clock := entry.Timestamp[11:19]
	if !l.color {
		return fmt.Sprintf("%s %-5s [%-10s] %s (%s:%d)\n", clock, entry.Level, entry.Category, entry.Message, entry.File, entry.Line)
	}

	var tone *color.Color
	switch entry.Level {
	case "DEBUG":
		tone = color.New(color.FgCyan)
	case "INFO":
		tone = color.New(color.FgGreen)
	case "WARN":
		tone = color.New(color.FgYellow)
	default:
		tone = color.New(color.FgRed)
	}

	return fmt.Sprintf("%s %s %s %s%s\n",
		color.New(color.FgBlue).Sprint(clock),
		tone.Sprintf("%-5s", entry.Level),
		tone.Add(color.Bold).Sprintf("[%-10s]", entry.Category),
		entry.Message,
		color.New(color.FgMagenta).Sprintf(" (%s:%d)", entry.File, entry.Line),
	)
}

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "INFO"
	}
}

func (l *Logger) Debug(category, message string) {
	l.log(DEBUG, category, message)
}

func (l *Logger) Info(category, message string) {
	l.log(INFO, category, message)
}

func (l *Logger) Warn(category, message string) {
	l.log(WARN, category, message)
}

func (l *Logger) Error(category, message string) {
	l.log(ERROR, category, message)
}

func (l *Logger) Fatal(category, message string) {
	l.log(FATAL, category, message)
	os.Exit(1)
}

func (l *Logger) LogAdmission(action, registrationID, message string) {
	l.Info("ADMISSION", fmt.Sprintf("[%s] %s - %s", action, registrationID, message))
}

func (l *Logger) LogWaitlist(action, eventID, message string) {
	l.Info("WAITLIST", fmt.Sprintf("[%s] %s - %s", action, eventID, message))
}

func (l *Logger) LogWebhook(kind, notificationID, message string) {
	l.Info("WEBHOOK", fmt.Sprintf("[%s] %s - %s", kind, notificationID, message))
}

func (l *Logger) LogAPI(method, path string, status int, duration time.Duration) {
	l.Info("API", fmt.Sprintf("%s %s - %d (%s)", method, path, status, duration))
}

func (l *Logger) LogKafka(action, topic, message string) {
	l.Info("KAFKA", fmt.Sprintf("[%s] %s - %s", action, topic, message))
}

func (l *Logger) LogSecurity(event, message string) {
	l.Warn("SECURITY", fmt.Sprintf("[%s] %s", event, message))
}

func (l *Logger) Close() {
	if l.logFile != nil {
		l.Info("LOGGER", "Closing log file")
		l.logFile.Close()
	}
}
