package model

import (
	"strconv"
	"time"
)

// Timestamp is a point in time in whole seconds since the Unix epoch.
// Scheduling decisions compare timestamps at one-second resolution.
type Timestamp int64

// Unset marks a timestamp that has not been assigned. For ScheduledAt it means
// "eligible immediately"; for ExpiresAt it means "never expires".
const Unset Timestamp = -1

// IsSet reports whether t holds a real time.
func (t Timestamp) IsSet() bool { return t != Unset }

// Time converts t to a time.Time in UTC. The zero time is returned for Unset.
func (t Timestamp) Time() time.Time {
	if !t.IsSet() {
		return time.Time{}
	}
	return time.Unix(int64(t), 0).UTC()
}

// Add returns t shifted by the given number of seconds.
func (t Timestamp) Add(seconds int64) Timestamp {
	return t + Timestamp(seconds)
}

// TimestampOf truncates a time.Time to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.Unix())
}

// TaskID is the durable identity of a task, assigned by the store.
type TaskID int64

// NoTask is the empty queue link.
const NoTask TaskID = 0

func (id TaskID) String() string { return strconv.FormatInt(int64(id), 10) }

// PluginID is the durable identity of a plugin kind, assigned by the store.
type PluginID int64

func (id PluginID) String() string { return strconv.FormatInt(int64(id), 10) }

// Parameters is the opaque, ordered argument list handed to a plugin.
// Values survive a JSON round trip, so numbers come back as float64.
type Parameters []any

// Bool returns the i-th parameter as a bool, or def when absent or of another type.
func (p Parameters) Bool(i int, def bool) bool {
	if i < 0 || i >= len(p) {
		return def
	}
	if b, ok := p[i].(bool); ok {
		return b
	}
	return def
}

// Int returns the i-th parameter as an int, or def when absent or non-numeric.
func (p Parameters) Int(i int, def int) int {
	if i < 0 || i >= len(p) {
		return def
	}
	switch v := p[i].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// String returns the i-th parameter as a string, or def when absent or not a string.
func (p Parameters) String(i int, def string) string {
	if i < 0 || i >= len(p) {
		return def
	}
	if s, ok := p[i].(string); ok {
		return s
	}
	return def
}

// Task is the durable record of one schedulable unit of work.
type Task struct {
	ID           TaskID     `json:"id"`
	Priority     int        `json:"priority"`
	PluginID     PluginID   `json:"plugin_id"`
	Prev         TaskID     `json:"prev,omitempty"`
	Next         TaskID     `json:"next,omitempty"`
	AddedAt      Timestamp  `json:"added_at"`
	ScheduledAt  Timestamp  `json:"scheduled_at"`
	ExpiresAt    Timestamp  `json:"expires_at"`
	StartedAt    Timestamp  `json:"started_at"`
	EndedAt      Timestamp  `json:"ended_at"`
	Active       bool       `json:"active"`
	ResumeOnBoot bool       `json:"resume_on_boot"`
	Parameters   Parameters `json:"parameters"`
}

// DueAt reports whether the task may run at now.
func (t *Task) DueAt(now Timestamp) bool {
	return !t.ScheduledAt.IsSet() || t.ScheduledAt <= now
}

// ExpiredAt reports whether the task's deadline has passed at now.
func (t *Task) ExpiredAt(now Timestamp) bool {
	return t.ExpiresAt.IsSet() && t.ExpiresAt <= now
}

// TaskField names a single mutable column of a task record.
type TaskField string

const (
	FieldPriority     TaskField = "priority"
	FieldPrev         TaskField = "prev_id"
	FieldNext         TaskField = "next_id"
	FieldScheduledAt  TaskField = "scheduled_at"
	FieldExpiresAt    TaskField = "expires_at"
	FieldStartedAt    TaskField = "started_at"
	FieldEndedAt      TaskField = "ended_at"
	FieldActive       TaskField = "active"
	FieldResumeOnBoot TaskField = "resume_on_boot"
)

// TaskLink is the full linkage of one task, written atomically with its neighbors.
type TaskLink struct {
	ID   TaskID `json:"id"`
	Prev TaskID `json:"prev"`
	Next TaskID `json:"next"`
}

// Plugin is the durable record of a plugin kind.
type Plugin struct {
	ID   PluginID `json:"id"`
	Kind string   `json:"kind"`
}
