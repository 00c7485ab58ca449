package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open event log: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Invalid JSONL line: %v", err)
		}
		events = append(events, e)
	}
	return events
}

func TestEventLoggerWritesJSONL(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelInfo)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.LogPlanCreated(1, "migrate 3 files", 3, 3072)
	logger.LogPlanApproved(1)
	logger.LogStep(1, 10, 100, "copy", "/src/a", "/dst/a", 1024, 50*time.Millisecond, nil)
	logger.LogPause(1, "headroom exceeded")
	logger.LogStep(1, 11, 101, "copy", "/src/b", "/dst/b", 0, time.Millisecond, errors.New("boom"))

	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events := readEvents(t, logger.Path())
	if len(events) != 5 {
		t.Fatalf("Expected 5 events, got %d", len(events))
	}

	if events[0].Event != EventPlanCreated || events[0].PlanID != 1 {
		t.Errorf("Unexpected first event: %+v", events[0])
	}
	if events[2].Event != EventStep || events[2].BytesWritten != 1024 {
		t.Errorf("Step event lost fields: %+v", events[2])
	}
	if events[3].Level != LevelWarning || events[3].Reason == "" {
		t.Errorf("Pause event lost fields: %+v", events[3])
	}
	if events[4].Level != LevelError || events[4].Error != "boom" {
		t.Errorf("Failed step should log at error level: %+v", events[4])
	}

	for _, e := range events {
		if e.Timestamp.IsZero() {
			t.Error("Event timestamp not set")
		}
	}
}

func TestEventLoggerLevelFilter(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelWarning)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.LogPlanCreated(1, "below threshold", 1, 1) // info, filtered
	logger.LogPause(1, "kept")                        // warning, kept

	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	events := readEvents(t, logger.Path())
	if len(events) != 1 {
		t.Fatalf("Expected 1 event after filtering, got %d", len(events))
	}
	if events[0].Event != EventPause {
		t.Errorf("Wrong event survived the filter: %+v", events[0])
	}
}

func TestNullLoggerIsSafe(t *testing.T) {
	logger := NullLogger()

	if err := logger.LogPlanCreated(1, "noop", 0, 0); err != nil {
		t.Errorf("Null logger returned error: %v", err)
	}
	if err := logger.LogRollback(1, 2, "copy", "test", nil); err != nil {
		t.Errorf("Null logger returned error: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Null logger close returned error: %v", err)
	}
	if logger.Path() != "" {
		t.Error("Null logger should have no path")
	}
}
