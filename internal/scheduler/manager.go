package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/flightlogic/internal/logging"
	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/pkg/model"
)

// Manager is the surface plugins use to queue further work.
type Manager interface {
	AddTask(ctx context.Context, t *Task) error
	NewPriorityTask(ctx context.Context, kind string, priority int, params model.Parameters, opts ...TaskOption) (*Task, error)
	ScheduleTaskAt(ctx context.Context, kind string, priority int, at model.Timestamp, params model.Parameters, opts ...TaskOption) (*Task, error)
	ScheduleTaskAfter(ctx context.Context, kind string, priority int, delay time.Duration, params model.Parameters, opts ...TaskOption) (*Task, error)
	Now() model.Timestamp
	Logger(taskID model.TaskID, kind string) *slog.Logger
}

// TaskManager owns the priority and scheduled queues and drives the run loop.
// The loop itself is single threaded; the mutex only keeps splices atomic with
// respect to plugins queueing work and to status readers.
type TaskManager struct {
	store         store.Store
	registry      *PluginRegistry
	clock         Clock
	base          *slog.Logger
	logger        *slog.Logger
	pollInterval  time.Duration
	keepAlive     func()
	bootstrapKind string

	mu        sync.Mutex
	tasks     map[model.TaskID]*Task // queued tasks only
	priority  *queue
	scheduled *queue
	running   *Task
	lastSweep model.Timestamp
	booted    bool
}

var _ Scheduler = (*TaskManager)(nil)
var _ Manager = (*TaskManager)(nil)

// NewTaskManager creates a manager with empty queues. Call Boot before Run.
func NewTaskManager(st store.Store, reg *PluginRegistry, logger *slog.Logger, opts ...Option) *TaskManager {
	m := &TaskManager{
		store:         st,
		registry:      reg,
		clock:         SystemClock{},
		base:          logger,
		logger:        logger.With("component", "task-manager"),
		pollInterval:  100 * time.Millisecond,
		keepAlive:     func() {},
		bootstrapKind: "startup",
		tasks:         make(map[model.TaskID]*Task),
		priority:      newPriorityQueue(),
		scheduled:     newScheduledQueue(),
		lastSweep:     model.Unset,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now returns the manager's clock reading.
func (m *TaskManager) Now() model.Timestamp { return m.clock.Now() }

// Logger returns a logger tagged with the task and its plugin.
func (m *TaskManager) Logger(taskID model.TaskID, kind string) *slog.Logger {
	return m.base.With(
		"component", "plugin",
		logging.KeyTaskID, taskID,
		logging.KeyPluginID, m.registry.cachedID(kind),
		"kind", kind,
	)
}

// --- task construction ---

// NewPriorityTask creates a task that is due immediately.
func (m *TaskManager) NewPriorityTask(ctx context.Context, kind string, priority int, params model.Parameters, opts ...TaskOption) (*Task, error) {
	return m.createTask(ctx, kind, priority, model.Unset, params, opts)
}

// ScheduleTaskAt creates a task due at an absolute time.
func (m *TaskManager) ScheduleTaskAt(ctx context.Context, kind string, priority int, at model.Timestamp, params model.Parameters, opts ...TaskOption) (*Task, error) {
	return m.createTask(ctx, kind, priority, at, params, opts)
}

// ScheduleTaskAfter creates a task due delay from now, at one-second resolution.
func (m *TaskManager) ScheduleTaskAfter(ctx context.Context, kind string, priority int, delay time.Duration, params model.Parameters, opts ...TaskOption) (*Task, error) {
	return m.createTask(ctx, kind, priority, m.clock.Now().Add(seconds(delay)), params, opts)
}

func (m *TaskManager) createTask(ctx context.Context, kind string, priority int, at model.Timestamp, params model.Parameters, opts []TaskOption) (*Task, error) {
	pluginID, _, err := m.registry.Get(ctx, kind)
	if err != nil {
		return nil, err
	}

	spec := taskSpec{expiresAt: model.Unset, resume: true}
	for _, opt := range opts {
		opt(&spec)
	}

	now := m.clock.Now()
	if spec.cron != "" {
		if at, err = NextCronTime(spec.cron, now); err != nil {
			return nil, err
		}
	}
	if params == nil {
		params = model.Parameters{}
	}

	rec := model.Task{
		Priority:     priority,
		PluginID:     pluginID,
		AddedAt:      now,
		ScheduledAt:  at,
		ExpiresAt:    spec.expiresAt,
		StartedAt:    model.Unset,
		EndedAt:      model.Unset,
		Active:       true,
		ResumeOnBoot: spec.resume,
		Parameters:   params,
	}
	if spec.relative {
		base := now
		if at.IsSet() {
			base = at
		}
		rec.ExpiresAt = base.Add(seconds(spec.expiresAfter))
	}

	if err := m.store.CreateTask(ctx, &rec); err != nil {
		return nil, fmt.Errorf("create %s task: %w", kind, err)
	}
	m.logger.Debug("task created", logging.KeyTaskID, rec.ID, "kind", kind,
		"priority", priority, "scheduled_at", rec.ScheduledAt, "expires_at", rec.ExpiresAt)
	return newTask(&m.mu, m.store, rec), nil
}

// --- queueing ---

// AddTask queues t: into the priority queue when it is due, otherwise into the
// scheduled queue. Terminated and expired tasks cannot be queued again.
func (m *TaskManager) AddTask(ctx context.Context, t *Task) error {
	if t == nil {
		return errors.New("add task: nil task")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.scheduled
	if t.rec.DueAt(m.clock.Now()) {
		q = m.priority
	}
	p := newPlan(m.tasks)
	if err := p.insert(q, t); err != nil {
		return err
	}
	if err := m.commit(ctx, p); err != nil {
		return err
	}
	m.logger.Debug("task queued", logging.KeyTaskID, t.rec.ID, "queue", q.name)
	return nil
}

// commit persists every link of p in one transaction, then applies p.
// Caller holds m.mu.
func (m *TaskManager) commit(ctx context.Context, p *plan) error {
	if err := m.store.UpdateTaskLinks(ctx, p.linkList()); err != nil {
		return &PersistenceError{TaskID: p.subject, Field: fieldLinks, Err: err}
	}
	p.apply()
	return nil
}

// --- boot ---

// Boot restores resumable tasks from the store and puts the bootstrap task at
// the front of the priority queue.
func (m *TaskManager) Boot(ctx context.Context) error {
	m.mu.Lock()
	if m.booted {
		m.mu.Unlock()
		return ErrAlreadyBooted
	}
	m.booted = true
	m.mu.Unlock()

	records, err := m.store.ListActiveTasks(ctx, true)
	if err != nil {
		return fmt.Errorf("boot: list active tasks: %w", err)
	}

	restored, abandoned, failed := 0, 0, 0
	for _, rec := range records {
		t := newTask(&m.mu, m.store, *rec)
		switch m.restore(ctx, t) {
		case restoreQueued:
			restored++
		case restoreAbandoned:
			abandoned++
		default:
			failed++
		}
	}

	boot, err := m.NewPriorityTask(ctx, m.bootstrapKind, 0, nil, WithResumeOnBoot(false))
	if err != nil {
		return fmt.Errorf("boot: bootstrap task: %w", err)
	}
	m.mu.Lock()
	p := newPlan(m.tasks)
	err = p.pushFront(m.priority, boot)
	if err == nil {
		err = m.commit(ctx, p)
	}
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("boot: queue bootstrap task: %w", err)
	}

	m.logger.Info("boot complete", "restored", restored, "abandoned", abandoned,
		"requeue_failed", failed, "bootstrap_task", boot.ID())
	return nil
}

type restoreResult int

const (
	restoreQueued restoreResult = iota
	restoreAbandoned
	// restoreFailed leaves the task active so the next boot retries it.
	restoreFailed
)

// restore requeues one persisted task, or abandons it when it must not resume.
func (m *TaskManager) restore(ctx context.Context, t *Task) restoreResult {
	log := m.logger.With(logging.KeyTaskID, t.rec.ID, logging.KeyPluginID, t.rec.PluginID)

	_, err := m.registry.byPluginID(ctx, t.rec.PluginID)
	if err != nil {
		log.Error("task plugin unavailable, abandoning", "error", err)
	}
	if err != nil || !t.rec.ResumeOnBoot {
		if m.abandon(ctx, t) {
			return restoreAbandoned
		}
		return restoreFailed
	}

	if err := t.SetPrev(ctx, model.NoTask); err != nil {
		log.Warn("clear stale link", "error", err)
	}
	if err := t.SetNext(ctx, model.NoTask); err != nil {
		log.Warn("clear stale link", "error", err)
	}
	if err := m.AddTask(ctx, t); err != nil {
		log.Error("requeue task, leaving it for the next boot", "error", err)
		return restoreFailed
	}
	return restoreQueued
}

// abandon deactivates t and reports whether the write succeeded.
func (m *TaskManager) abandon(ctx context.Context, t *Task) bool {
	if err := t.SetActive(ctx, false); err != nil {
		m.logger.Error("abandon task", logging.KeyTaskID, t.rec.ID, "error", err)
		return false
	}
	m.mu.Lock()
	_ = t.transition(model.TaskStateAbandoned)
	m.mu.Unlock()
	m.logger.Info("task abandoned", logging.KeyTaskID, t.rec.ID, logging.KeyPluginID, t.rec.PluginID)
	return true
}

// --- run loop ---

// Run loops until ctx is cancelled, sleeping for the poll interval whenever an
// iteration finds nothing to do.
func (m *TaskManager) Run(ctx context.Context) error {
	m.logger.Info("task manager running", "poll_interval", m.pollInterval)
	for {
		if err := ctx.Err(); err != nil {
			m.logger.Info("task manager stopping (context cancelled)")
			return err
		}

		outcome, err := m.Step(ctx)
		if err != nil {
			m.logger.Error("step error", "error", err)
		}
		m.keepAlive()

		if outcome != Idle {
			continue
		}
		select {
		case <-ctx.Done():
			m.logger.Info("task manager stopping (context cancelled)")
			return ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// Step runs one iteration: an expiration sweep when the clock has advanced,
// then either one promotion or one execution.
func (m *TaskManager) Step(ctx context.Context) (Outcome, error) {
	now := m.clock.Now()

	var errs []error
	if now > m.lastSweep {
		m.lastSweep = now
		errs = append(errs, m.sweep(ctx, now)...)
	}

	promoted, err := m.promote(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	if promoted {
		return Promoted, errors.Join(errs...)
	}

	t, err := m.dequeue(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if t == nil {
		return Idle, errors.Join(errs...)
	}
	m.execute(ctx, t)
	return Ran, errors.Join(errs...)
}

// sweep unlinks every queued task whose deadline has passed and runs its
// expiry callback.
func (m *TaskManager) sweep(ctx context.Context, now model.Timestamp) []error {
	var errs []error
	var expired []*Task

	m.mu.Lock()
	var due []*Task
	for id := m.priority.head; id != model.NoTask; {
		t, ok := m.tasks[id]
		if !ok {
			errs = append(errs, fmt.Errorf("priority queue: dangling link to task %d", id))
			break
		}
		if t.rec.ExpiredAt(now) {
			due = append(due, t)
		}
		id = t.rec.Next
	}
	for _, t := range due {
		p := newPlan(m.tasks)
		err := p.remove(m.priority, t)
		if err == nil {
			err = m.commit(ctx, p)
		}
		if err != nil {
			// Left queued; execute re-checks the deadline before starting it.
			errs = append(errs, err)
			continue
		}
		expired = append(expired, t)
	}
	m.mu.Unlock()

	for _, t := range expired {
		m.expire(ctx, t)
	}
	return errs
}

// promote moves the scheduled head into the priority queue if it is due.
func (m *TaskManager) promote(ctx context.Context, now model.Timestamp) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[m.scheduled.head]
	if !ok || !t.rec.DueAt(now) {
		return false, nil
	}
	p := newPlan(m.tasks)
	if err := p.remove(m.scheduled, t); err != nil {
		return false, err
	}
	if err := p.insert(m.priority, t); err != nil {
		return false, err
	}
	if err := m.commit(ctx, p); err != nil {
		return false, err
	}
	m.logger.Debug("task promoted", logging.KeyTaskID, t.rec.ID, "scheduled_at", t.rec.ScheduledAt)
	return true, nil
}

// dequeue unlinks and returns the priority head, or nil when the queue is empty.
func (m *TaskManager) dequeue(ctx context.Context) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[m.priority.head]
	if !ok {
		return nil, nil
	}
	p := newPlan(m.tasks)
	if err := p.remove(m.priority, t); err != nil {
		return nil, err
	}
	if err := m.commit(ctx, p); err != nil {
		return nil, err
	}
	return t, nil
}

// execute runs an unlinked task: Start then Terminate. A task whose deadline
// has already passed is expired instead.
func (m *TaskManager) execute(ctx context.Context, t *Task) {
	log := m.logger.With(logging.KeyTaskID, t.rec.ID, logging.KeyPluginID, t.rec.PluginID)

	e, err := m.registry.byPluginID(ctx, t.rec.PluginID)
	if err != nil {
		log.Error("task plugin unavailable, dropping", "error", err)
		if err := t.SetActive(ctx, false); err != nil {
			log.Error("deactivate task", "error", err)
		}
		return
	}

	now := m.clock.Now()
	if t.ExpiresAt().IsSet() && t.ExpiresAt() <= now {
		m.expire(ctx, t)
		return
	}

	if err := t.SetActive(ctx, false); err != nil {
		log.Error("deactivate task before start", "error", err)
	}
	if err := t.SetStartedAt(ctx, now); err != nil {
		log.Error("record start time", "error", err)
	}

	m.mu.Lock()
	_ = t.transition(model.TaskStateExecuting)
	m.running = t
	m.mu.Unlock()

	params := t.Parameters()
	log.Debug("task starting", "kind", e.kind)
	if s, ok := e.plugin.(Starter); ok {
		err = call(t.rec.ID, e, "start", func() error { return s.Start(ctx, t.rec.ID, m, params) })
	} else {
		err = missing(t.rec.ID, e, "start")
	}
	if err != nil {
		log.Error("task start failed", "error", err)
	}

	if err := t.SetEndedAt(ctx, m.clock.Now()); err != nil {
		log.Error("record end time", "error", err)
	}
	if term, ok := e.plugin.(Terminator); ok {
		err = call(t.rec.ID, e, "terminate", func() error { return term.Terminate(ctx, t.rec.ID, m, params) })
	} else {
		err = missing(t.rec.ID, e, "terminate")
	}
	if err != nil {
		log.Error("task terminate failed", "error", err)
	}

	m.mu.Lock()
	_ = t.transition(model.TaskStateTerminated)
	m.running = nil
	m.mu.Unlock()
	log.Debug("task terminated", "kind", e.kind)
}

// expire deactivates an unlinked task and runs its expiry callback.
func (m *TaskManager) expire(ctx context.Context, t *Task) {
	log := m.logger.With(logging.KeyTaskID, t.rec.ID, logging.KeyPluginID, t.rec.PluginID)

	if err := t.SetActive(ctx, false); err != nil {
		log.Error("deactivate expired task", "error", err)
	}
	m.mu.Lock()
	_ = t.transition(model.TaskStateExpired)
	m.mu.Unlock()
	log.Info("task expired", "expires_at", t.ExpiresAt())

	e, err := m.registry.byPluginID(ctx, t.rec.PluginID)
	if err != nil {
		log.Error("task plugin unavailable", "error", err)
		return
	}
	params := t.Parameters()
	if h, ok := e.plugin.(ExpiryHandler); ok {
		err = call(t.rec.ID, e, "expired", func() error { return h.Expired(ctx, m, params) })
	} else {
		err = missing(t.rec.ID, e, "expired")
	}
	if err != nil {
		log.Error("task expiry handler failed", "error", err)
	}
}

// --- status ---

// QueueSnapshot is a point-in-time copy of both queues, heads first.
type QueueSnapshot struct {
	Priority  []model.Task `json:"priority"`
	Scheduled []model.Task `json:"scheduled"`
	Running   *model.Task  `json:"running,omitempty"`
}

// Snapshot copies both queues under the manager mutex.
func (m *TaskManager) Snapshot() QueueSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := QueueSnapshot{
		Priority:  m.walk(m.priority),
		Scheduled: m.walk(m.scheduled),
	}
	if m.running != nil {
		rec := m.running.rec
		snap.Running = &rec
	}
	return snap
}

func (m *TaskManager) walk(q *queue) []model.Task {
	out := []model.Task{}
	for id := q.head; id != model.NoTask && len(out) <= len(m.tasks); {
		t, ok := m.tasks[id]
		if !ok {
			break
		}
		out = append(out, t.rec)
		id = t.rec.Next
	}
	return out
}

// StateOf reports where a stored task currently is in its lifecycle.
func (m *TaskManager) StateOf(rec *model.Task) model.TaskState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tasks[rec.ID]; ok {
		return t.state
	}
	if m.running != nil && m.running.rec.ID == rec.ID {
		return model.TaskStateExecuting
	}
	switch {
	case rec.EndedAt.IsSet():
		return model.TaskStateTerminated
	case rec.Active:
		return model.TaskStateUnqueued
	// Abandoned at boot before its deadline otherwise looks the same.
	case rec.ExpiresAt.IsSet() && rec.ExpiresAt <= m.clock.Now() && !rec.StartedAt.IsSet():
		return model.TaskStateExpired
	default:
		return model.TaskStateAbandoned
	}
}
