package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventPlanCreated  EventType = "plan_created"
	EventPlanApproved EventType = "plan_approved"
	EventBatch        EventType = "batch"
	EventStep         EventType = "step"
	EventPause        EventType = "pause"
	EventRollback     EventType = "rollback"
	EventError        EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event is one record in the execution event stream. The executor emits
// one step event per completed step so any presentation layer can follow
// progress without coupling to the engine.
type Event struct {
	Timestamp    time.Time         `json:"ts"`
	Level        EventLevel        `json:"level"`
	Event        EventType         `json:"event"`
	PlanID       int64             `json:"plan_id,omitempty"`
	StepID       int64             `json:"step_id,omitempty"`
	FileID       int64             `json:"file_id,omitempty"`
	Action       string            `json:"action,omitempty"`
	SrcPath      string            `json:"src_path,omitempty"`
	DestPath     string            `json:"dest_path,omitempty"`
	BytesWritten int64             `json:"bytes_written,omitempty"`
	Duration     int64             `json:"duration_ms,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Error        string            `json:"error,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogPlanCreated logs plan creation
func (l *EventLogger) LogPlanCreated(planID int64, description string, totalFiles int, totalBytes int64) error {
	return l.Log(&Event{
		Level:  LevelInfo,
		Event:  EventPlanCreated,
		PlanID: planID,
		Reason: description,
		Extra: map[string]string{
			"total_files": fmt.Sprintf("%d", totalFiles),
			"total_bytes": fmt.Sprintf("%d", totalBytes),
		},
	})
}

// LogPlanApproved logs the approval gate being passed
func (l *EventLogger) LogPlanApproved(planID int64) error {
	return l.Log(&Event{
		Level:  LevelInfo,
		Event:  EventPlanApproved,
		PlanID: planID,
	})
}

// LogBatch logs batch admission
func (l *EventLogger) LogBatch(planID int64, steps int, batchBytes, freeBytes uint64) error {
	return l.Log(&Event{
		Level:  LevelInfo,
		Event:  EventBatch,
		PlanID: planID,
		Extra: map[string]string{
			"steps":       fmt.Sprintf("%d", steps),
			"batch_bytes": fmt.Sprintf("%d", batchBytes),
			"free_bytes":  fmt.Sprintf("%d", freeBytes),
		},
	})
}

// LogStep logs one executed step, failed or completed
func (l *EventLogger) LogStep(planID, stepID, fileID int64, action, srcPath, destPath string, bytesWritten int64, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:        level,
		Event:        EventStep,
		PlanID:       planID,
		StepID:       stepID,
		FileID:       fileID,
		Action:       action,
		SrcPath:      srcPath,
		DestPath:     destPath,
		BytesWritten: bytesWritten,
		Duration:     duration.Milliseconds(),
		Error:        errMsg,
	})
}

// LogPause logs a plan being paused by the space guard
func (l *EventLogger) LogPause(planID int64, reason string) error {
	return l.Log(&Event{
		Level:  LevelWarning,
		Event:  EventPause,
		PlanID: planID,
		Reason: reason,
	})
}

// LogRollback logs a step rollback attempt
func (l *EventLogger) LogRollback(planID, stepID int64, action, reason string, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:  level,
		Event:  EventRollback,
		PlanID: planID,
		StepID: stepID,
		Action: action,
		Reason: reason,
		Error:  errMsg,
	})
}

// LogError logs a run-level error
func (l *EventLogger) LogError(planID int64, err error) error {
	return l.Log(&Event{
		Level:  LevelError,
		Event:  EventError,
		PlanID: planID,
		Error:  err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
