package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/me/flightlogic/internal/scheduler"
	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/pkg/model"
)

// BeaconStatus is the payload of a beacon packet.
type BeaconStatus struct {
	BootID    string          `json:"boot_id"`
	Time      model.Timestamp `json:"time"`
	Ready     int             `json:"ready"`
	Scheduled int             `json:"scheduled"`
}

// snapshotter is implemented by *scheduler.TaskManager.
type snapshotter interface {
	Snapshot() scheduler.QueueSnapshot
}

// Beacon queues a status packet for the next downlink and repeats every period.
type Beacon struct {
	period time.Duration
	store  store.Store
	bootID string
}

func (p *Beacon) Kind() string { return KindBeacon }

func (p *Beacon) Start(ctx context.Context, taskID model.TaskID, m scheduler.Manager, _ model.Parameters) error {
	log := m.Logger(taskID, KindBeacon)

	status := BeaconStatus{BootID: p.bootID, Time: m.Now()}
	if s, ok := m.(snapshotter); ok {
		snap := s.Snapshot()
		status.Ready = len(snap.Priority)
		status.Scheduled = len(snap.Scheduled)
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode beacon: %w", err)
	}
	pkt := &model.Packet{Payload: string(payload), SendAt: model.Unset}
	if err := p.store.CreatePacket(ctx, pkt); err != nil {
		log.Error("queue beacon packet", "error", err)
	} else {
		log.Debug("beacon packet queued", "packet_id", pkt.ID, "ready", status.Ready, "scheduled", status.Scheduled)
	}

	next, err := m.ScheduleTaskAfter(ctx, KindBeacon, PriorityBeacon, p.period, nil, scheduler.WithResumeOnBoot(false))
	if err != nil {
		return err
	}
	return m.AddTask(ctx, next)
}

func (p *Beacon) Terminate(context.Context, model.TaskID, scheduler.Manager, model.Parameters) error {
	return nil
}
