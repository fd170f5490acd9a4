package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/flightlogic/pkg/model"
)

func TestTask_PersistBeforeApply(t *testing.T) {
	tests := []struct {
		name  string
		field model.TaskField
		set   func(context.Context, *Task) error
		get   func(model.Task) any
	}{
		{"priority", model.FieldPriority,
			func(ctx context.Context, t *Task) error { return t.SetPriority(ctx, 99) },
			func(r model.Task) any { return r.Priority }},
		{"scheduled_at", model.FieldScheduledAt,
			func(ctx context.Context, t *Task) error { return t.SetScheduledAt(ctx, 2000) },
			func(r model.Task) any { return r.ScheduledAt }},
		{"expires_at", model.FieldExpiresAt,
			func(ctx context.Context, t *Task) error { return t.SetExpiresAt(ctx, 3000) },
			func(r model.Task) any { return r.ExpiresAt }},
		{"started_at", model.FieldStartedAt,
			func(ctx context.Context, t *Task) error { return t.SetStartedAt(ctx, 1500) },
			func(r model.Task) any { return r.StartedAt }},
		{"ended_at", model.FieldEndedAt,
			func(ctx context.Context, t *Task) error { return t.SetEndedAt(ctx, 1600) },
			func(r model.Task) any { return r.EndedAt }},
		{"active", model.FieldActive,
			func(ctx context.Context, t *Task) error { return t.SetActive(ctx, false) },
			func(r model.Task) any { return r.Active }},
		{"resume_on_boot", model.FieldResumeOnBoot,
			func(ctx context.Context, t *Task) error { return t.SetResumeOnBoot(ctx, false) },
			func(r model.Task) any { return r.ResumeOnBoot }},
		{"prev", model.FieldPrev,
			func(ctx context.Context, t *Task) error { return t.SetPrev(ctx, 42) },
			func(r model.Task) any { return r.Prev }},
		{"next", model.FieldNext,
			func(ctx context.Context, t *Task) error { return t.SetNext(ctx, 43) },
			func(r model.Task) any { return r.Next }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			task, err := f.mgr.NewPriorityTask(f.ctx, "work", 5, nil)
			require.NoError(t, err)
			before := tt.get(task.Record())

			f.st.failFieldWrites(tt.field)
			err = tt.set(f.ctx, task)
			require.Error(t, err)
			var pe *PersistenceError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.field, pe.Field)
			assert.Equal(t, task.ID(), pe.TaskID)
			assert.ErrorIs(t, err, errInjected)
			assert.Equal(t, before, tt.get(task.Record()), "memory changed despite failed write")

			stored, err := f.st.GetTask(f.ctx, task.ID())
			require.NoError(t, err)
			assert.Equal(t, before, tt.get(*stored))

			f.st.failFieldWrites("")
			require.NoError(t, tt.set(f.ctx, task))
			after := tt.get(task.Record())
			assert.NotEqual(t, before, after)

			stored, err = f.st.GetTask(f.ctx, task.ID())
			require.NoError(t, err)
			assert.Equal(t, after, tt.get(*stored))
		})
	}
}

func TestTask_QueuedFieldsLocked(t *testing.T) {
	f := newFixture(t)
	task := f.queueWork(t, 5, "A")

	assert.ErrorIs(t, task.SetPriority(f.ctx, 1), ErrTaskQueued)
	assert.ErrorIs(t, task.SetScheduledAt(f.ctx, 5000), ErrTaskQueued)
	assert.ErrorIs(t, task.SetPrev(f.ctx, model.NoTask), ErrTaskQueued)
	assert.Equal(t, 5, task.Priority())

	require.NoError(t, task.SetExpiresAt(f.ctx, 5000))
	assert.Equal(t, model.Timestamp(5000), task.ExpiresAt())
}

func TestTaskConstructors(t *testing.T) {
	f := newFixture(t)

	now, err := f.mgr.NewPriorityTask(f.ctx, "work", 1, nil, WithExpiresAfter(5*time.Second))
	require.NoError(t, err)
	rec := now.Record()
	assert.Equal(t, model.Unset, rec.ScheduledAt)
	assert.Equal(t, model.Timestamp(1005), rec.ExpiresAt)
	assert.Equal(t, model.Timestamp(1000), rec.AddedAt)
	assert.True(t, rec.Active)
	assert.True(t, rec.ResumeOnBoot)
	assert.Equal(t, model.Parameters{}, rec.Parameters)

	later, err := f.mgr.ScheduleTaskAfter(f.ctx, "work", 1, 10*time.Second, model.Parameters{true},
		WithExpiresAfter(4*time.Second), WithResumeOnBoot(false))
	require.NoError(t, err)
	rec = later.Record()
	assert.Equal(t, model.Timestamp(1010), rec.ScheduledAt)
	assert.Equal(t, model.Timestamp(1014), rec.ExpiresAt)
	assert.False(t, rec.ResumeOnBoot)

	at, err := f.mgr.ScheduleTaskAt(f.ctx, "work", 1, 2000, nil, WithExpiresAt(2500))
	require.NoError(t, err)
	assert.Equal(t, model.Timestamp(2500), at.ExpiresAt())

	hourly, err := f.mgr.ScheduleTaskAt(f.ctx, "work", 1, model.Unset, nil, WithCron("@hourly"))
	require.NoError(t, err)
	assert.Equal(t, model.Timestamp(3600), hourly.ScheduledAt())

	_, err = f.mgr.NewPriorityTask(f.ctx, "work", 1, nil, WithCron("not a schedule"))
	assert.Error(t, err)

	_, err = f.mgr.NewPriorityTask(f.ctx, "nope", 1, nil)
	assert.ErrorIs(t, err, ErrUnknownPlugin)

	stored, err := f.st.GetTask(f.ctx, later.ID())
	require.NoError(t, err)
	assert.Equal(t, later.Record(), *stored)
}

func TestNextCronTime(t *testing.T) {
	next, err := NextCronTime("*/5 * * * *", 0)
	require.NoError(t, err)
	assert.Equal(t, model.Timestamp(300), next)

	_, err = NextCronTime("bogus", 0)
	assert.Error(t, err)
}

func TestExpiration_PrecedesStart(t *testing.T) {
	f := newFixture(t)
	f.queueWork(t, 10, "A")
	f.queueWork(t, 20, "B")
	x := f.queueWork(t, 300, "X", WithExpiresAt(1001))

	out, err := f.mgr.Step(f.ctx)
	require.NoError(t, err)
	require.Equal(t, Ran, out)

	f.clock.Advance(1)
	out, err = f.mgr.Step(f.ctx)
	require.NoError(t, err)
	require.Equal(t, Ran, out)

	assert.False(t, x.Queued())
	assert.False(t, x.Active())
	assert.Equal(t, model.TaskStateExpired, x.State())

	f.drain(t)
	assert.Equal(t, []string{
		"start:A", "terminate:A",
		"expired:X",
		"start:B", "terminate:B",
	}, f.j.list())

	stored, err := f.st.GetTask(f.ctx, x.ID())
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Equal(t, model.Unset, stored.StartedAt)
}

func TestExpiration_RepairsNeighbourLinks(t *testing.T) {
	f := newFixture(t)
	f.queueWork(t, 0, "H")
	a := f.queueWork(t, 1, "A")
	x := f.queueWork(t, 2, "X", WithExpiresAt(1001))
	b := f.queueWork(t, 3, "B")
	require.Equal(t, a.ID(), x.Record().Prev)
	require.Equal(t, b.ID(), x.Record().Next)

	f.clock.Advance(1)
	out, err := f.mgr.Step(f.ctx)
	require.NoError(t, err)
	require.Equal(t, Ran, out)
	assert.Equal(t, []string{"expired:X", "start:H", "terminate:H"}, f.j.list())

	assertLinks := func(name string, got model.Task, prev, next model.TaskID) {
		t.Helper()
		assert.Equal(t, prev, got.Prev, "%s prev", name)
		assert.Equal(t, next, got.Next, "%s next", name)
	}
	assertLinks("A", a.Record(), model.NoTask, b.ID())
	assertLinks("B", b.Record(), a.ID(), model.NoTask)
	assertLinks("X", x.Record(), model.NoTask, model.NoTask)

	for _, tc := range []struct {
		name       string
		id         model.TaskID
		prev, next model.TaskID
	}{
		{"A", a.ID(), model.NoTask, b.ID()},
		{"B", b.ID(), a.ID(), model.NoTask},
		{"X", x.ID(), model.NoTask, model.NoTask},
	} {
		stored, err := f.st.GetTask(f.ctx, tc.id)
		require.NoError(t, err)
		assertLinks("stored "+tc.name, *stored, tc.prev, tc.next)
	}

	snap := f.mgr.Snapshot()
	require.Len(t, snap.Priority, 2)
	assert.Equal(t, a.ID(), snap.Priority[0].ID)
	assert.Equal(t, b.ID(), snap.Priority[1].ID)
}

func TestExpiration_CheckedAgainBeforeStart(t *testing.T) {
	f := newFixture(t)
	var spawned int
	f.work.onStart = func(ctx context.Context, _ model.TaskID, m Manager, _ model.Parameters) error {
		// Expires within the second that was already swept.
		task, err := m.NewPriorityTask(ctx, "work", 1, model.Parameters{"child"}, WithExpiresAt(m.Now()))
		if err != nil {
			return err
		}
		spawned++
		return m.AddTask(ctx, task)
	}
	f.queueWork(t, 1, "parent")

	out, err := f.mgr.Step(f.ctx)
	require.NoError(t, err)
	require.Equal(t, Ran, out)
	f.work.onStart = nil

	out, err = f.mgr.Step(f.ctx)
	require.NoError(t, err)
	require.Equal(t, Ran, out)

	assert.Equal(t, 1, spawned)
	assert.Equal(t, []string{"start:parent", "terminate:parent", "expired:child"}, f.j.list())
}

func TestExpiration_StartGuardWhenUnlinkFails(t *testing.T) {
	f := newFixture(t)
	x := f.queueWork(t, 1, "X", WithExpiresAt(1001))
	f.clock.Advance(1)

	f.st.failLinkWrites(1)
	out, err := f.mgr.Step(f.ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, Ran, out)

	assert.Equal(t, []string{"expired:X"}, f.j.list())
	assert.False(t, x.Active())
	assert.Equal(t, model.TaskStateExpired, x.State())
}

func TestExecute_InactiveBeforeStart(t *testing.T) {
	f := newFixture(t)
	var seen *model.Task
	f.work.onStart = func(ctx context.Context, id model.TaskID, _ Manager, _ model.Parameters) error {
		rec, err := f.st.GetTask(ctx, id)
		seen = rec
		return err
	}
	task := f.queueWork(t, 1, "A")
	f.clock.Advance(3)

	_, err := f.mgr.Step(f.ctx)
	require.NoError(t, err)

	require.NotNil(t, seen)
	assert.False(t, seen.Active)
	assert.Equal(t, model.Timestamp(1003), seen.StartedAt)
	assert.Equal(t, model.Unset, seen.EndedAt)

	rec := task.Record()
	assert.Equal(t, model.Timestamp(1003), rec.EndedAt)
	assert.Equal(t, model.TaskStateTerminated, task.State())

	err = f.mgr.AddTask(f.ctx, task)
	var ite *model.InvalidTransitionError
	assert.ErrorAs(t, err, &ite)
}

func TestExecute_PluginFailuresDoNotStopLoop(t *testing.T) {
	f := newFixture(t)
	f.work.onStart = func(_ context.Context, _ model.TaskID, _ Manager, params model.Parameters) error {
		switch params.String(0, "") {
		case "panic":
			panic("sensor exploded")
		case "fail":
			return errors.New("bad reading")
		}
		return nil
	}
	f.queueWork(t, 1, "panic")
	f.queueWork(t, 2, "fail")
	f.queueWork(t, 3, "ok")

	bareTask, err := f.mgr.NewPriorityTask(f.ctx, "bare", 4, nil, WithExpiresAt(1001))
	require.NoError(t, err)
	require.NoError(t, f.mgr.AddTask(f.ctx, bareTask))
	bare2, err := f.mgr.NewPriorityTask(f.ctx, "bare", 5, nil)
	require.NoError(t, err)
	require.NoError(t, f.mgr.AddTask(f.ctx, bare2))

	for i := 0; i < 3; i++ {
		out, err := f.mgr.Step(f.ctx)
		require.NoError(t, err)
		require.Equal(t, Ran, out)
	}
	assert.Equal(t, []string{
		"start:panic", "terminate:panic",
		"start:fail", "terminate:fail",
		"start:ok", "terminate:ok",
	}, f.j.list())

	// A plugin with no callbacks expires and runs without effect.
	f.clock.Advance(1)
	f.drain(t)
	assert.False(t, bareTask.Active())
	assert.Equal(t, model.TaskStateExpired, bareTask.State())
	assert.Equal(t, model.TaskStateTerminated, bare2.State())
	assert.True(t, bare2.Record().EndedAt.IsSet())
}

func TestCall_WrapsPanicAndError(t *testing.T) {
	e := &pluginEntry{id: 3, kind: "work"}

	err := call(7, e, "start", func() error { panic("boom") })
	var pe *PluginError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.TaskID(7), pe.TaskID)
	assert.Equal(t, model.PluginID(3), pe.PluginID)
	assert.Equal(t, "start", pe.Callback)
	assert.Contains(t, pe.Error(), "panic: boom")

	cause := errors.New("cause")
	err = call(7, e, "terminate", func() error { return cause })
	assert.ErrorIs(t, err, cause)

	assert.NoError(t, call(7, e, "expired", func() error { return nil }))
	assert.ErrorIs(t, missing(7, e, "expired"), ErrMissingCallback)
}

func TestPlugin_ReentrantQueueing(t *testing.T) {
	f := newFixture(t)
	f.work.onStart = func(ctx context.Context, _ model.TaskID, m Manager, params model.Parameters) error {
		n := params.Int(1, 0)
		if n >= 3 {
			return nil
		}
		next, err := m.NewPriorityTask(ctx, "work", 1, model.Parameters{"gen", n + 1})
		if err != nil {
			return err
		}
		return m.AddTask(ctx, next)
	}
	task, err := f.mgr.NewPriorityTask(f.ctx, "work", 1, model.Parameters{"gen", 0})
	require.NoError(t, err)
	require.NoError(t, f.mgr.AddTask(f.ctx, task))

	assert.Equal(t, 4, f.drain(t))
	assert.Len(t, f.j.list(), 8)
}

func TestBoot_RestoresAndQueuesBootstrapFirst(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx

	work, err := f.st.CreateOrGetPlugin(ctx, "work")
	require.NoError(t, err)
	ghost, err := f.st.CreateOrGetPlugin(ctx, "ghost")
	require.NoError(t, err)

	seed := func(pluginID model.PluginID, priority int, scheduledAt model.Timestamp, resume bool, label string) model.TaskID {
		rec := &model.Task{
			Priority: priority, PluginID: pluginID, Prev: 77, Next: 78,
			AddedAt: 900, ScheduledAt: scheduledAt, ExpiresAt: model.Unset,
			StartedAt: model.Unset, EndedAt: model.Unset,
			Active: true, ResumeOnBoot: resume, Parameters: model.Parameters{label},
		}
		require.NoError(t, f.st.CreateTask(ctx, rec))
		return rec.ID
	}
	resumed := seed(work.ID, 0, model.Unset, true, "resumed")
	future := seed(work.ID, 0, 5000, true, "future")
	dropped := seed(work.ID, 0, model.Unset, false, "dropped")
	orphan := seed(ghost.ID, 0, model.Unset, true, "orphan")
	done := seed(work.ID, 0, model.Unset, true, "done")
	require.NoError(t, f.st.UpdateTaskField(ctx, done, model.FieldActive, false))

	require.NoError(t, f.mgr.Boot(ctx))

	snap := f.mgr.Snapshot()
	require.Len(t, snap.Priority, 2)
	boot := snap.Priority[0]
	assert.Equal(t, "", boot.Parameters.String(0, ""))
	assert.False(t, boot.ResumeOnBoot)
	assert.Equal(t, 0, boot.Priority)
	assert.Equal(t, resumed, snap.Priority[1].ID)
	require.Len(t, snap.Scheduled, 1)
	assert.Equal(t, future, snap.Scheduled[0].ID)

	rec, err := f.st.GetTask(ctx, resumed)
	require.NoError(t, err)
	assert.Equal(t, boot.ID, rec.Prev)
	assert.Equal(t, model.NoTask, rec.Next)

	rec, err = f.st.GetTask(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, model.NoTask, rec.Prev)
	assert.Equal(t, model.NoTask, rec.Next)

	for _, id := range []model.TaskID{dropped, orphan} {
		rec, err := f.st.GetTask(ctx, id)
		require.NoError(t, err)
		assert.False(t, rec.Active, "task %d should be abandoned", id)
	}

	out, err := f.mgr.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, Ran, out)
	assert.Equal(t, []string{"start:startup", "terminate:startup"}, f.j.list())

	assert.ErrorIs(t, f.mgr.Boot(ctx), ErrAlreadyBooted)
}

func TestBoot_RequeueFailureLeavesTaskForNextBoot(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx

	work, err := f.st.CreateOrGetPlugin(ctx, "work")
	require.NoError(t, err)
	rec := &model.Task{
		Priority: 5, PluginID: work.ID, AddedAt: 900,
		ScheduledAt: model.Unset, ExpiresAt: model.Unset,
		StartedAt: model.Unset, EndedAt: model.Unset,
		Active: true, ResumeOnBoot: true, Parameters: model.Parameters{"kept"},
	}
	require.NoError(t, f.st.CreateTask(ctx, rec))

	var logs bytes.Buffer
	mgr := NewTaskManager(f.st, f.reg, slog.New(slog.NewTextHandler(&logs, nil)), WithClock(f.clock))
	f.st.failLinkWrites(1)
	require.NoError(t, mgr.Boot(ctx))

	snap := mgr.Snapshot()
	require.Len(t, snap.Priority, 1, "only the bootstrap task is queued")
	assert.NotEqual(t, rec.ID, snap.Priority[0].ID)
	assert.Contains(t, logs.String(), "abandoned=0")
	assert.Contains(t, logs.String(), "requeue_failed=1")

	stored, err := f.st.GetTask(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)
	assert.Equal(t, model.TaskStateUnqueued, mgr.StateOf(stored))

	next := NewTaskManager(f.st, f.reg, f.mgr.base, WithClock(f.clock))
	require.NoError(t, next.Boot(ctx))
	var ids []model.TaskID
	for _, task := range next.Snapshot().Priority {
		ids = append(ids, task.ID)
	}
	assert.Contains(t, ids, rec.ID)
}

func TestBoot_EmptyStore(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Boot(f.ctx))

	snap := f.mgr.Snapshot()
	require.Len(t, snap.Priority, 1)
	assert.Empty(t, snap.Scheduled)

	active, err := f.st.ListActiveTasks(f.ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, snap.Priority[0].ID, active[0].ID)
}

func TestRegistry_CachesInstances(t *testing.T) {
	f := newFixture(t)
	var built int
	f.reg.Register("counted", func() Plugin {
		built++
		return &recorder{kind: "counted", j: f.j}
	})

	id1, p1, err := f.reg.Get(f.ctx, "counted")
	require.NoError(t, err)
	id2, p2, err := f.reg.Get(f.ctx, "counted")
	require.NoError(t, err)

	assert.Equal(t, 1, built)
	assert.Equal(t, id1, id2)
	assert.Same(t, p1, p2)

	e, err := f.reg.byPluginID(f.ctx, id1)
	require.NoError(t, err)
	assert.Same(t, p1, e.plugin)

	f.reg.Register("liar", func() Plugin { return bare{} })
	_, _, err = f.reg.Get(f.ctx, "liar")
	assert.Error(t, err)

	_, _, err = f.reg.Get(f.ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownPlugin)

	assert.Equal(t, []string{"bare", "counted", "liar", "startup", "work"}, f.reg.Kinds())
}

func TestStateOf(t *testing.T) {
	f := newFixture(t)
	queued := f.queueWork(t, 1, "q")
	rec := queued.Record()
	assert.Equal(t, model.TaskStateReady, f.mgr.StateOf(&rec))

	assert.Equal(t, model.TaskStateTerminated, f.mgr.StateOf(&model.Task{ID: 999, EndedAt: 5}))
	assert.Equal(t, model.TaskStateUnqueued, f.mgr.StateOf(&model.Task{ID: 999, Active: true, EndedAt: model.Unset}))
	assert.Equal(t, model.TaskStateExpired, f.mgr.StateOf(&model.Task{
		ID: 999, EndedAt: model.Unset, StartedAt: model.Unset, ExpiresAt: 10,
	}))
	assert.Equal(t, model.TaskStateAbandoned, f.mgr.StateOf(&model.Task{
		ID: 999, EndedAt: model.Unset, StartedAt: model.Unset, ExpiresAt: model.Unset,
	}))
	// Abandoned at boot with a deadline still ahead.
	assert.Equal(t, model.TaskStateAbandoned, f.mgr.StateOf(&model.Task{
		ID: 999, EndedAt: model.Unset, StartedAt: model.Unset, ExpiresAt: 5000,
	}))
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	var pings atomic.Int64
	f.mgr = NewTaskManager(f.st, f.reg, f.mgr.base, WithClock(f.clock),
		WithPollInterval(time.Millisecond), WithKeepAlive(func() { pings.Add(1) }))
	f.queueWork(t, 1, "A")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.mgr.Run(ctx) }()

	require.Eventually(t, func() bool { return pings.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"start:A", "terminate:A"}, f.j.list())
}
