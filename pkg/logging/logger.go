package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	l := Level(s)
	if _, ok := levelRank[l]; ok {
		return l
	}
	return LevelInfo
}

// Category represents the subsystem generating the log
type Category string

const (
	CategoryCycle   Category = "cycle"
	CategorySession Category = "session"
	CategoryBridge  Category = "bridge"
	CategoryNetwork Category = "network"
	CategoryServer  Category = "server"
)

// Event represents a structured log event
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      Level          `json:"level"`
	Category   Category       `json:"category"`
	EventType  string         `json:"type"`
	InstanceID string         `json:"instance_id,omitempty"`
	CycleID    string         `json:"cycle_id,omitempty"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Logger appends JSONL events to cycles.jsonl, copying errors to errors.jsonl.
// A nil *Logger discards everything.
type Logger struct {
	instanceID string
	baseDir    string
	cycleFile  *os.File
	errorFile  *os.File
	mu         sync.Mutex
	minLevel   Level
}

// NewLogger creates a new structured logger rooted at baseDir.
func NewLogger(baseDir, instanceID string) (*Logger, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	cycleFile, err := openAppend(filepath.Join(baseDir, "cycles.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open cycle log: %w", err)
	}
	errorFile, err := openAppend(filepath.Join(baseDir, "errors.jsonl"))
	if err != nil {
		cycleFile.Close()
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	return &Logger{
		instanceID: instanceID,
		baseDir:    baseDir,
		cycleFile:  cycleFile,
		errorFile:  errorFile,
		minLevel:   LevelInfo,
	}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// CyclePath returns the path of the main event log.
func (l *Logger) CyclePath() string {
	return filepath.Join(l.baseDir, "cycles.jsonl")
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Log writes an event to appropriate destinations
func (l *Logger) Log(event Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelRank[event.Level] < levelRank[l.minLevel] {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.InstanceID == "" {
		event.InstanceID = l.instanceID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	if l.cycleFile != nil {
		if _, err := l.cycleFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to cycle log: %w", err)
		}
	}
	if event.Level == LevelError && l.errorFile != nil {
		if _, err := l.errorFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to error log: %w", err)
		}
	}
	return nil
}

// Cycle logs an info event tied to one cycle.
func (l *Logger) Cycle(cycleID, eventType, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelInfo,
		Category:  CategoryCycle,
		EventType: eventType,
		CycleID:   cycleID,
		Message:   message,
		Details:   details,
	})
}

// Debug logs a debug event
func (l *Logger) Debug(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelDebug, Category: category, EventType: eventType, Message: message, Details: details})
}

// Info logs an info event
func (l *Logger) Info(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelInfo, Category: category, EventType: eventType, Message: message, Details: details})
}

// Warn logs a warning event
func (l *Logger) Warn(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelWarn, Category: category, EventType: eventType, Message: message, Details: details})
}

// Error logs an error event
func (l *Logger) Error(category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: LevelError, Category: category, EventType: eventType, Message: message, Details: details})
}

// Close closes all log files
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, f := range []*os.File{l.cycleFile, l.errorFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.cycleFile, l.errorFile = nil, nil
	if len(errs) > 0 {
		return fmt.Errorf("errors closing log files: %v", errs)
	}
	return nil
}

// ReadRecentEvents reads the last count events from a JSONL log, skipping
// lines that do not decode.
func ReadRecentEvents(logPath string, count int) ([]Event, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, event)
		if count > 0 && len(events) > count {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return events, nil
}
