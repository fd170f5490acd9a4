package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/me/flightlogic/pkg/model"
)

// LogSink persists log entries. store.Store satisfies it.
type LogSink interface {
	CreateLog(ctx context.Context, entry *model.LogEntry) error
}

// StoreConfig configures a StoreHandler.
type StoreConfig struct {
	Level      slog.Level
	RatePerSec int           // sustained records per second; <=0 means 10
	Timeout    time.Duration // per-write budget; <=0 means 2s
}

// StoreHandler writes records into the logs table. Writes are fire-and-forget:
// errors are counted, records over the rate budget are dropped, and Handle
// never returns an error to the caller.
type StoreHandler struct {
	sink    LogSink
	level   slog.Level
	timeout time.Duration
	limiter *rate.Limiter
	now     func() model.Timestamp
	dropped *atomic.Int64
	failed  *atomic.Int64

	taskID   model.TaskID
	pluginID model.PluginID
	attrs    []slog.Attr // keys already qualified by their groups
	prefix   string      // open groups, e.g. "radio."
}

// NewStoreHandler returns a handler persisting to sink. now stamps each entry.
func NewStoreHandler(sink LogSink, cfg StoreConfig, now func() model.Timestamp) *StoreHandler {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &StoreHandler{
		sink:    sink,
		level:   cfg.Level,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		now:     now,
		dropped: new(atomic.Int64),
		failed:  new(atomic.Int64),
	}
}

// Dropped returns how many records were discarded by the rate limiter.
func (h *StoreHandler) Dropped() int64 { return h.dropped.Load() }

// Failed returns how many records the sink refused.
func (h *StoreHandler) Failed() int64 { return h.failed.Load() }

func (h *StoreHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *StoreHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.limiter.Allow() {
		h.dropped.Add(1)
		return nil
	}

	entry := &model.LogEntry{
		Level:     r.Level.String(),
		TaskID:    h.taskID,
		PluginID:  h.pluginID,
		CreatedAt: h.now(),
	}

	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix == "" && h.captureID(entry, a) {
			return true
		}
		writeAttr(&b, h.prefix, a)
		return true
	})
	entry.Message = b.String()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()
	if err := h.sink.CreateLog(wctx, entry); err != nil {
		h.failed.Add(1)
	}
	return nil
}

// captureID moves task and plugin ids out of the message into their columns.
func (h *StoreHandler) captureID(entry *model.LogEntry, a slog.Attr) bool {
	switch a.Key {
	case KeyTaskID:
		if id, ok := asInt64(a.Value); ok {
			entry.TaskID = model.TaskID(id)
			return true
		}
	case KeyPluginID:
		if id, ok := asInt64(a.Value); ok {
			entry.PluginID = model.PluginID(id)
			return true
		}
	}
	return false
}

func (h *StoreHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	scratch := &model.LogEntry{TaskID: h.taskID, PluginID: h.pluginID}
	for _, a := range attrs {
		// Ids are only recognised at the top level.
		if h.prefix == "" && h.captureID(scratch, a) {
			continue
		}
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	clone.taskID = scratch.TaskID
	clone.pluginID = scratch.PluginID
	return &clone
}

// WithGroup qualifies later attribute keys with name, the way the text
// handler does.
func (h *StoreHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

// writeAttr appends a as " key=value", flattening group values into dotted keys.
func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, inner, ga)
		}
		return
	}
	fmt.Fprintf(b, " %s%s=%v", prefix, a.Key, a.Value.Any())
}

func asInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindAny:
		switch id := v.Any().(type) {
		case model.TaskID:
			return int64(id), true
		case model.PluginID:
			return int64(id), true
		case int:
			return int64(id), true
		}
	}
	return 0, false
}
