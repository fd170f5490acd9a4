package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/pkg/model"
)

var errInjected = errors.New("injected failure")

type fakeClock struct {
	mu  sync.Mutex
	now model.Timestamp
}

func (c *fakeClock) Now() model.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(seconds int64) {
	c.mu.Lock()
	c.now += model.Timestamp(seconds)
	c.mu.Unlock()
}

// faultyStore fails selected writes on demand.
type faultyStore struct {
	store.Store

	mu        sync.Mutex
	failField model.TaskField
	failLinks int // calls left to fail; negative fails forever
}

func (s *faultyStore) failFieldWrites(f model.TaskField) {
	s.mu.Lock()
	s.failField = f
	s.mu.Unlock()
}

func (s *faultyStore) failLinkWrites(n int) {
	s.mu.Lock()
	s.failLinks = n
	s.mu.Unlock()
}

func (s *faultyStore) UpdateTaskField(ctx context.Context, id model.TaskID, field model.TaskField, value any) error {
	s.mu.Lock()
	fail := s.failField == field
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.Store.UpdateTaskField(ctx, id, field, value)
}

func (s *faultyStore) UpdateTaskLinks(ctx context.Context, links []model.TaskLink) error {
	s.mu.Lock()
	fail := s.failLinks != 0
	if s.failLinks > 0 {
		s.failLinks--
	}
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.Store.UpdateTaskLinks(ctx, links)
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// recorder journals every callback as "<callback>:<first parameter>".
type recorder struct {
	kind    string
	j       *journal
	onStart func(ctx context.Context, id model.TaskID, m Manager, params model.Parameters) error
}

func (r *recorder) Kind() string { return r.kind }

func (r *recorder) label(params model.Parameters) string { return params.String(0, r.kind) }

func (r *recorder) Start(ctx context.Context, id model.TaskID, m Manager, params model.Parameters) error {
	r.j.add("start:" + r.label(params))
	if r.onStart != nil {
		return r.onStart(ctx, id, m, params)
	}
	return nil
}

func (r *recorder) Terminate(_ context.Context, _ model.TaskID, _ Manager, params model.Parameters) error {
	r.j.add("terminate:" + r.label(params))
	return nil
}

func (r *recorder) Expired(_ context.Context, _ Manager, params model.Parameters) error {
	r.j.add("expired:" + r.label(params))
	return nil
}

// bare implements no callbacks at all.
type bare struct{}

func (bare) Kind() string { return "bare" }

type fixture struct {
	ctx   context.Context
	st    *faultyStore
	reg   *PluginRegistry
	clock *fakeClock
	mgr   *TaskManager
	j     *journal
	work  *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	base, err := store.NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	require.NoError(t, base.Migrate(context.Background()))
	t.Cleanup(func() { base.Close() })

	f := &fixture{
		ctx:   context.Background(),
		st:    &faultyStore{Store: base},
		clock: &fakeClock{now: 1000},
		j:     &journal{},
	}
	f.work = &recorder{kind: "work", j: f.j}
	f.reg = NewPluginRegistry(f.st, logger)
	f.reg.Register("work", func() Plugin { return f.work })
	f.reg.Register("startup", func() Plugin { return &recorder{kind: "startup", j: f.j} })
	f.reg.Register("bare", func() Plugin { return bare{} })
	f.mgr = NewTaskManager(f.st, f.reg, logger, WithClock(f.clock))
	return f
}

// queueWork creates and queues a due "work" task labelled label.
func (f *fixture) queueWork(t *testing.T, priority int, label string, opts ...TaskOption) *Task {
	t.Helper()
	task, err := f.mgr.NewPriorityTask(f.ctx, "work", priority, model.Parameters{label}, opts...)
	require.NoError(t, err)
	require.NoError(t, f.mgr.AddTask(f.ctx, task))
	return task
}

// drain steps until an iteration is idle and returns the number of steps taken.
func (f *fixture) drain(t *testing.T) int {
	t.Helper()
	for i := 0; i < 1000; i++ {
		out, err := f.mgr.Step(f.ctx)
		require.NoError(t, err)
		if out == Idle {
			return i
		}
	}
	t.Fatal("queues never drained")
	return 0
}

func priorities(tasks []model.Task) []int {
	out := make([]int, len(tasks))
	for i, t := range tasks {
		out[i] = t.Priority
	}
	return out
}

func labels(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Parameters.String(0, "")
	}
	return out
}
