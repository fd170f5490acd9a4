package plugins

import (
	"context"
	"time"

	"github.com/me/flightlogic/internal/scheduler"
	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/pkg/model"
)

// Housekeeping prunes old logs on a cron schedule.
type Housekeeping struct {
	schedule  string
	retention time.Duration
	store     store.Store
}

func (p *Housekeeping) Kind() string { return KindHousekeeping }

func (p *Housekeeping) Start(ctx context.Context, taskID model.TaskID, m scheduler.Manager, _ model.Parameters) error {
	log := m.Logger(taskID, KindHousekeeping)

	cutoff := m.Now().Add(-int64(p.retention / time.Second))
	n, err := p.store.DeleteLogsBefore(ctx, cutoff)
	if err != nil {
		log.Error("prune logs", "error", err)
	} else {
		log.Info("logs pruned", "deleted", n, "before", cutoff)
	}

	return p.reschedule(ctx, m)
}

func (p *Housekeeping) Terminate(context.Context, model.TaskID, scheduler.Manager, model.Parameters) error {
	return nil
}

// Expired keeps the schedule alive when a run was missed.
func (p *Housekeeping) Expired(ctx context.Context, m scheduler.Manager, _ model.Parameters) error {
	return p.reschedule(ctx, m)
}

func (p *Housekeeping) reschedule(ctx context.Context, m scheduler.Manager) error {
	next, err := m.ScheduleTaskAt(ctx, KindHousekeeping, PriorityHousekeeping, model.Unset, nil,
		scheduler.WithCron(p.schedule), scheduler.WithResumeOnBoot(false))
	if err != nil {
		return err
	}
	return m.AddTask(ctx, next)
}
