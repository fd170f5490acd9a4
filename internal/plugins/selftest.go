package plugins

import (
	"context"

	"github.com/me/flightlogic/internal/scheduler"
	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/pkg/model"
)

// SelfTest checks that the store answers and records the verdict.
type SelfTest struct {
	store store.Store
}

func (p *SelfTest) Kind() string { return KindSelfTest }

func (p *SelfTest) Start(ctx context.Context, taskID model.TaskID, m scheduler.Manager, params model.Parameters) error {
	log := m.Logger(taskID, KindSelfTest)
	log.Info("self test ran", "priority", params.Int(0, -1), "mode", params.String(1, ""))

	verdict := "ok"
	plugins, err := p.store.ListPlugins(ctx)
	if err != nil {
		verdict = "fail"
		log.Error("self test: list plugins", "error", err)
	} else {
		log.Debug("self test: plugins loaded", "count", len(plugins))
	}

	return p.store.CreateDatum(ctx, &model.Datum{Sensor: SensorSelfTest, Value: verdict, RecordedAt: m.Now()})
}

func (p *SelfTest) Terminate(context.Context, model.TaskID, scheduler.Manager, model.Parameters) error {
	return nil
}

func (p *SelfTest) Expired(_ context.Context, m scheduler.Manager, _ model.Parameters) error {
	m.Logger(model.NoTask, KindSelfTest).Warn("self test expired before running")
	return nil
}
