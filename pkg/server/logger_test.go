package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
)

type memLogs struct {
	mu      sync.Mutex
	entries []database.LogEntry
	err     error
}

func (m *memLogs) InsertLog(_ context.Context, entry database.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *memLogs) snapshot() []database.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.LogEntry(nil), m.entries...)
}

func TestDBLogHandler(t *testing.T) {
	logs := &memLogs{}
	var console bytes.Buffer
	jobID := uuid.New()
	next := slog.NewTextHandler(&console, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewDBLogHandler(logs, jobID, next)).With("stage", "plan")
	logger.Debug("Streaming chunk")
	logger.WithGroup("search").Info("Search complete", "sources", 3, "error", errors.New("partial"))

	entries := logs.snapshot()
	if len(entries) != 2 {
		t.Fatalf("stored %d entries, want 2", len(entries))
	}
	if entries[0].Level != "DEBUG" || entries[0].JobID != jobID {
		t.Errorf("first entry = %+v", entries[0])
	}

	var meta map[string]any
	if err := json.Unmarshal(entries[1].Metadata, &meta); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"stage": "plan", "search.sources": float64(3), "search.error": "partial"}
	for k, v := range want {
		if meta[k] != v {
			t.Errorf("metadata[%q] = %v, want %v", k, meta[k], v)
		}
	}

	out := console.String()
	if strings.Contains(out, "Streaming chunk") {
		t.Error("console handler should filter debug records")
	}
	if !strings.Contains(out, "Search complete") || !strings.Contains(out, "job_id="+jobID.String()) {
		t.Errorf("console output missing record: %q", out)
	}
}

func TestDBLogHandlerReturnsStoreError(t *testing.T) {
	logs := &memLogs{err: errors.New("db down")}
	h := NewDBLogHandler(logs, uuid.New(), nil)

	err := h.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelError, "boom", 0))
	if err == nil || err.Error() != "db down" {
		t.Errorf("Handle() error = %v, want db down", err)
	}
	if got := logs.snapshot(); len(got) != 1 || got[0].Timestamp.IsZero() {
		t.Errorf("entry should be stored with a timestamp, got %+v", got)
	}
}
