package plugins

import (
	"context"
	"time"

	"github.com/me/flightlogic/internal/scheduler"
	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/pkg/model"
)

// Heartbeat toggles a level every period and records it. Parameter 0 is the
// level to apply; the successor carries the opposite level.
type Heartbeat struct {
	period time.Duration
	store  store.Store
}

func (p *Heartbeat) Kind() string { return KindHeartbeat }

func (p *Heartbeat) Start(ctx context.Context, taskID model.TaskID, m scheduler.Manager, params model.Parameters) error {
	level := params.Bool(0, true)
	log := m.Logger(taskID, KindHeartbeat)
	log.Info("toggle heartbeat " + levelName(level))

	if err := p.store.CreateDatum(ctx, &model.Datum{
		Sensor:     SensorHeartbeat,
		Value:      levelValue(level),
		RecordedAt: m.Now(),
	}); err != nil {
		log.Warn("record heartbeat", "error", err)
	}

	next, err := m.ScheduleTaskAfter(ctx, KindHeartbeat, PriorityHeartbeat, p.period,
		model.Parameters{!level},
		scheduler.WithExpiresAfter(p.period), scheduler.WithResumeOnBoot(false))
	if err != nil {
		return err
	}
	return m.AddTask(ctx, next)
}

func (p *Heartbeat) Terminate(context.Context, model.TaskID, scheduler.Manager, model.Parameters) error {
	return nil
}

// Expired queues a recovery heartbeat at once so the toggle sequence resumes.
func (p *Heartbeat) Expired(ctx context.Context, m scheduler.Manager, params model.Parameters) error {
	level := params.Bool(0, true)
	m.Logger(model.NoTask, KindHeartbeat).Warn("heartbeat missed, recovering", "level", levelName(level))

	recovery, err := m.NewPriorityTask(ctx, KindHeartbeat, PriorityHeartbeat, model.Parameters{level},
		scheduler.WithExpiresAfter(p.period), scheduler.WithResumeOnBoot(false))
	if err != nil {
		return err
	}
	return m.AddTask(ctx, recovery)
}

func levelName(high bool) string {
	if high {
		return "high"
	}
	return "low"
}

func levelValue(high bool) string {
	if high {
		return "1"
	}
	return "0"
}
