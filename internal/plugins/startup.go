package plugins

import (
	"context"
	"fmt"

	"github.com/me/flightlogic/internal/scheduler"
	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/pkg/model"
)

// Startup is the bootstrap task run first after every boot. It queues the
// recurring work; those tasks do not resume on boot because Startup queues
// them again.
type Startup struct {
	cfg    Config
	store  store.Store
	bootID string
}

func (p *Startup) Kind() string { return KindStartup }

func (p *Startup) Start(ctx context.Context, taskID model.TaskID, m scheduler.Manager, _ model.Parameters) error {
	log := m.Logger(taskID, KindStartup)
	log.Info("startup plugin started", "boot_id", p.bootID)

	if err := p.store.CreateDatum(ctx, &model.Datum{Sensor: SensorBoot, Value: p.bootID, RecordedAt: m.Now()}); err != nil {
		log.Warn("record boot", "error", err)
	}

	queue := []struct {
		name string
		make func() (*scheduler.Task, error)
	}{
		{KindHeartbeat, func() (*scheduler.Task, error) {
			return m.ScheduleTaskAfter(ctx, KindHeartbeat, PriorityHeartbeat, p.cfg.HeartbeatPeriod,
				model.Parameters{true},
				scheduler.WithExpiresAfter(p.cfg.HeartbeatPeriod), scheduler.WithResumeOnBoot(false))
		}},
		{KindSelfTest, func() (*scheduler.Task, error) {
			return m.NewPriorityTask(ctx, KindSelfTest, PrioritySelfTest,
				model.Parameters{PrioritySelfTest, "immediate"}, scheduler.WithResumeOnBoot(false))
		}},
		{KindBeacon, func() (*scheduler.Task, error) {
			return m.ScheduleTaskAfter(ctx, KindBeacon, PriorityBeacon, p.cfg.BeaconPeriod, nil,
				scheduler.WithResumeOnBoot(false))
		}},
		{KindHousekeeping, func() (*scheduler.Task, error) {
			return m.ScheduleTaskAt(ctx, KindHousekeeping, PriorityHousekeeping, model.Unset, nil,
				scheduler.WithCron(p.cfg.HousekeepingSchedule), scheduler.WithResumeOnBoot(false))
		}},
	}

	var failed int
	for _, q := range queue {
		t, err := q.make()
		if err == nil {
			err = m.AddTask(ctx, t)
		}
		if err != nil {
			log.Error("queue startup task", "kind", q.name, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d startup tasks not queued", failed, len(queue))
	}
	return nil
}

func (p *Startup) Terminate(context.Context, model.TaskID, scheduler.Manager, model.Parameters) error {
	return nil
}

func (p *Startup) Expired(context.Context, scheduler.Manager, model.Parameters) error {
	return nil
}
