package logging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/me/flightlogic/pkg/model"
)

type memSink struct {
	mu      sync.Mutex
	entries []*model.LogEntry
	err     error
}

func (s *memSink) CreateLog(_ context.Context, e *model.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func fixedNow() model.Timestamp { return 1000 }

func TestStoreHandler_PersistsWithIDs(t *testing.T) {
	sink := &memSink{}
	h := NewStoreHandler(sink, StoreConfig{Level: slog.LevelInfo, RatePerSec: 100}, fixedNow)
	logger := slog.New(h).With(KeyTaskID, model.TaskID(7), KeyPluginID, model.PluginID(3))

	logger.Info("heartbeat", "state", true)
	logger.Debug("ignored")

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(sink.entries))
	}
	e := sink.entries[0]
	if e.TaskID != 7 || e.PluginID != 3 {
		t.Errorf("ids = (%d, %d), want (7, 3)", e.TaskID, e.PluginID)
	}
	if e.Level != "INFO" {
		t.Errorf("level = %q, want INFO", e.Level)
	}
	if e.CreatedAt != 1000 {
		t.Errorf("created_at = %d, want 1000", e.CreatedAt)
	}
	if !strings.HasPrefix(e.Message, "heartbeat") || !strings.Contains(e.Message, "state=true") {
		t.Errorf("message = %q", e.Message)
	}
	if strings.Contains(e.Message, KeyTaskID) {
		t.Errorf("task id should be moved out of message: %q", e.Message)
	}
}

func TestStoreHandler_RecordAttrIDs(t *testing.T) {
	sink := &memSink{}
	h := NewStoreHandler(sink, StoreConfig{Level: slog.LevelDebug, RatePerSec: 100}, fixedNow)

	slog.New(h).Warn("late", KeyTaskID, 12)

	if len(sink.entries) != 1 || sink.entries[0].TaskID != 12 {
		t.Fatalf("expected task id 12, got %+v", sink.entries)
	}
}

func TestStoreHandler_RateLimited(t *testing.T) {
	sink := &memSink{}
	h := NewStoreHandler(sink, StoreConfig{Level: slog.LevelInfo, RatePerSec: 2}, fixedNow)
	logger := slog.New(h)

	for i := 0; i < 10; i++ {
		logger.Info("burst")
	}

	if len(sink.entries) > 3 {
		t.Errorf("expected burst to be capped, got %d entries", len(sink.entries))
	}
	if h.Dropped() == 0 {
		t.Error("expected dropped records to be counted")
	}
}

func TestStoreHandler_SinkErrorSwallowed(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	h := NewStoreHandler(sink, StoreConfig{Level: slog.LevelInfo}, fixedNow)

	if err := h.Handle(context.Background(), slog.NewRecord(fixedNow().Time(), slog.LevelError, "boom", 0)); err != nil {
		t.Fatalf("Handle returned %v, want nil", err)
	}
	if h.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", h.Failed())
	}
}

func TestStoreHandler_GroupsQualifyKeys(t *testing.T) {
	sink := &memSink{}
	h := NewStoreHandler(sink, StoreConfig{Level: slog.LevelInfo, RatePerSec: 100}, fixedNow)
	logger := slog.New(h).With("x", 2).WithGroup("radio").With("band", "uhf")

	logger.Info("tx", "x", 1, slog.Group("link", "snr", 9))

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(sink.entries))
	}
	msg := sink.entries[0].Message
	for _, want := range []string{" x=2", " radio.band=uhf", " radio.x=1", " radio.link.snr=9"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	if strings.Contains(msg, " x=1") {
		t.Errorf("grouped key leaked unqualified: %q", msg)
	}
}

func TestStoreHandler_GroupedIDsStayInMessage(t *testing.T) {
	sink := &memSink{}
	h := NewStoreHandler(sink, StoreConfig{Level: slog.LevelInfo, RatePerSec: 100}, fixedNow)

	slog.New(h).WithGroup("peer").Info("linked", KeyTaskID, 5)

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(sink.entries))
	}
	e := sink.entries[0]
	if e.TaskID != model.NoTask {
		t.Errorf("task id = %d, want none", e.TaskID)
	}
	if !strings.Contains(e.Message, "peer."+KeyTaskID+"=5") {
		t.Errorf("message = %q", e.Message)
	}
}
