package scheduler

import (
	"context"
	"sync"

	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/pkg/model"
)

// Task is the in-memory handle of a persisted task record. Every setter writes
// the store first and changes the handle only when the write succeeded.
type Task struct {
	mu    *sync.Mutex // the owning manager's mutex
	store store.Store
	rec   model.Task
	state model.TaskState
	queue *queue // nil while unqueued
}

func newTask(mu *sync.Mutex, st store.Store, rec model.Task) *Task {
	return &Task{mu: mu, store: st, rec: rec, state: model.TaskStateUnqueued}
}

// ID is immutable, so it is read without locking.
func (t *Task) ID() model.TaskID { return t.rec.ID }

// Record returns a copy of the task's current fields.
func (t *Task) Record() model.Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.rec
	rec.Parameters = append(model.Parameters{}, t.rec.Parameters...)
	return rec
}

func (t *Task) State() model.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) Priority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.Priority
}

func (t *Task) PluginID() model.PluginID { return t.rec.PluginID }

func (t *Task) ScheduledAt() model.Timestamp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.ScheduledAt
}

func (t *Task) ExpiresAt() model.Timestamp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.ExpiresAt
}

func (t *Task) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.Active
}

func (t *Task) Parameters() model.Parameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append(model.Parameters{}, t.rec.Parameters...)
}

// Queued reports whether the task is linked into either queue.
func (t *Task) Queued() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue != nil
}

// SetPriority changes the priority of an unqueued task.
func (t *Task) SetPriority(ctx context.Context, priority int) error {
	if t.Queued() {
		return ErrTaskQueued
	}
	return t.set(ctx, model.FieldPriority, priority, func(r *model.Task) { r.Priority = priority })
}

// SetScheduledAt changes the trigger time of an unqueued task.
func (t *Task) SetScheduledAt(ctx context.Context, ts model.Timestamp) error {
	if t.Queued() {
		return ErrTaskQueued
	}
	return t.set(ctx, model.FieldScheduledAt, ts, func(r *model.Task) { r.ScheduledAt = ts })
}

func (t *Task) SetExpiresAt(ctx context.Context, ts model.Timestamp) error {
	return t.set(ctx, model.FieldExpiresAt, ts, func(r *model.Task) { r.ExpiresAt = ts })
}

func (t *Task) SetStartedAt(ctx context.Context, ts model.Timestamp) error {
	return t.set(ctx, model.FieldStartedAt, ts, func(r *model.Task) { r.StartedAt = ts })
}

func (t *Task) SetEndedAt(ctx context.Context, ts model.Timestamp) error {
	return t.set(ctx, model.FieldEndedAt, ts, func(r *model.Task) { r.EndedAt = ts })
}

func (t *Task) SetActive(ctx context.Context, active bool) error {
	return t.set(ctx, model.FieldActive, active, func(r *model.Task) { r.Active = active })
}

func (t *Task) SetResumeOnBoot(ctx context.Context, resume bool) error {
	return t.set(ctx, model.FieldResumeOnBoot, resume, func(r *model.Task) { r.ResumeOnBoot = resume })
}

// SetPrev and SetNext write one link of an unqueued task. Queued tasks are
// relinked only through the manager's splices.
func (t *Task) SetPrev(ctx context.Context, id model.TaskID) error {
	if t.Queued() {
		return ErrTaskQueued
	}
	return t.set(ctx, model.FieldPrev, id, func(r *model.Task) { r.Prev = id })
}

func (t *Task) SetNext(ctx context.Context, id model.TaskID) error {
	if t.Queued() {
		return ErrTaskQueued
	}
	return t.set(ctx, model.FieldNext, id, func(r *model.Task) { r.Next = id })
}

func (t *Task) set(ctx context.Context, field model.TaskField, value any, apply func(*model.Task)) error {
	if err := t.store.UpdateTaskField(ctx, t.rec.ID, field, value); err != nil {
		return &PersistenceError{TaskID: t.rec.ID, Field: field, Err: err}
	}
	t.mu.Lock()
	apply(&t.rec)
	t.mu.Unlock()
	return nil
}

// transition moves the task to next. Caller holds t.mu.
func (t *Task) transition(next model.TaskState) error {
	if !t.state.CanTransitionTo(next) {
		return &model.InvalidTransitionError{ID: t.rec.ID, From: t.state, To: next}
	}
	t.state = next
	return nil
}
