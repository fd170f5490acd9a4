package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/me/flightlogic/pkg/model"
)

// TaskOption adjusts a task before it is persisted.
type TaskOption func(*taskSpec)

type taskSpec struct {
	expiresAt    model.Timestamp
	expiresAfter time.Duration
	relative     bool
	resume       bool
	cron         string
}

// WithExpiresAt sets an absolute deadline.
func WithExpiresAt(ts model.Timestamp) TaskOption {
	return func(s *taskSpec) {
		s.expiresAt = ts
		s.relative = false
	}
}

// WithExpiresAfter sets a deadline relative to the task's trigger time, or to
// its creation time when it is due immediately.
func WithExpiresAfter(d time.Duration) TaskOption {
	return func(s *taskSpec) {
		s.expiresAfter = d
		s.relative = true
	}
}

// WithResumeOnBoot controls whether the task is queued again after a restart.
// Tasks resume by default.
func WithResumeOnBoot(resume bool) TaskOption {
	return func(s *taskSpec) { s.resume = resume }
}

// WithCron triggers the task at the next activation of a standard five-field
// cron expression (or a descriptor such as "@daily"), overriding any trigger
// time passed to the constructor.
func WithCron(expr string) TaskOption {
	return func(s *taskSpec) { s.cron = expr }
}

// NextCronTime returns the first activation of expr strictly after after.
func NextCronTime(expr string, after model.Timestamp) (model.Timestamp, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return model.Unset, fmt.Errorf("cron %q: %w", expr, err)
	}
	return model.TimestampOf(sched.Next(after.Time())), nil
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// Option configures a TaskManager.
type Option func(*TaskManager)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(m *TaskManager) { m.clock = c }
}

// WithPollInterval sets how long Run sleeps after an idle iteration.
func WithPollInterval(d time.Duration) Option {
	return func(m *TaskManager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithKeepAlive registers a function called after every iteration of Run.
func WithKeepAlive(fn func()) Option {
	return func(m *TaskManager) { m.keepAlive = fn }
}

// WithBootstrapKind sets the plugin kind of the task queued first at boot.
func WithBootstrapKind(kind string) Option {
	return func(m *TaskManager) { m.bootstrapKind = kind }
}
