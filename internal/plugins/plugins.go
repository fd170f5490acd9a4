// Package plugins holds the built-in task behaviors and registers them with a
// scheduler.PluginRegistry.
package plugins

import (
	"time"

	"github.com/me/flightlogic/internal/scheduler"
	"github.com/me/flightlogic/internal/store"
)

// Plugin kinds. These strings are persisted, so they must not change.
const (
	KindStartup      = "startup"
	KindHeartbeat    = "heartbeat"
	KindSelfTest     = "selftest"
	KindBeacon       = "beacon"
	KindHousekeeping = "housekeeping"
)

// Priorities of the built-in tasks; lower runs sooner.
const (
	PriorityHeartbeat    = 10
	PriorityBeacon       = 50
	PrioritySelfTest     = 200
	PriorityHousekeeping = 250
)

// Sensors written by the built-in plugins.
const (
	SensorHeartbeat = "heartbeat"
	SensorSelfTest  = "selftest"
	SensorBoot      = "boot"
)

// Config tunes the periodic plugins.
type Config struct {
	HeartbeatPeriod      time.Duration
	BeaconPeriod         time.Duration
	HousekeepingSchedule string // cron expression
	LogRetention         time.Duration
}

// DefaultConfig returns the flight defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatPeriod:      4 * time.Second,
		BeaconPeriod:         60 * time.Second,
		HousekeepingSchedule: "@hourly",
		LogRetention:         24 * time.Hour,
	}
}

// Deps are the collaborators shared by the built-in plugins.
type Deps struct {
	Store  store.Store
	Config Config
	BootID string
}

// Register adds every built-in plugin kind to reg.
func Register(reg *scheduler.PluginRegistry, deps Deps) {
	reg.Register(KindStartup, func() scheduler.Plugin { return &Startup{cfg: deps.Config, store: deps.Store, bootID: deps.BootID} })
	reg.Register(KindHeartbeat, func() scheduler.Plugin { return &Heartbeat{period: deps.Config.HeartbeatPeriod, store: deps.Store} })
	reg.Register(KindSelfTest, func() scheduler.Plugin { return &SelfTest{store: deps.Store} })
	reg.Register(KindBeacon, func() scheduler.Plugin { return &Beacon{period: deps.Config.BeaconPeriod, store: deps.Store, bootID: deps.BootID} })
	reg.Register(KindHousekeeping, func() scheduler.Plugin {
		return &Housekeeping{schedule: deps.Config.HousekeepingSchedule, retention: deps.Config.LogRetention, store: deps.Store}
	})
}
