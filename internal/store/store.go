package store

import (
	"context"
	"errors"

	"github.com/me/flightlogic/pkg/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownField is returned by UpdateTaskField for a field it cannot write.
	ErrUnknownField = errors.New("unknown task field")
)

// Store defines the persistence layer for flight-logic entities.
type Store interface {
	// Task operations
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id model.TaskID) (*model.Task, error)
	ListActiveTasks(ctx context.Context, active bool) ([]*model.Task, error)
	ListTasks(ctx context.Context, opts model.ListOptions) ([]*model.Task, int, error)
	UpdateTaskField(ctx context.Context, id model.TaskID, field model.TaskField, value any) error
	// UpdateTaskLinks writes every link in one transaction.
	UpdateTaskLinks(ctx context.Context, links []model.TaskLink) error

	// Plugin operations
	CreateOrGetPlugin(ctx context.Context, kind string) (*model.Plugin, error)
	GetPlugin(ctx context.Context, id model.PluginID) (*model.Plugin, error)
	ListPlugins(ctx context.Context) ([]*model.Plugin, error)

	// Logs
	CreateLog(ctx context.Context, entry *model.LogEntry) error
	ListLogs(ctx context.Context, opts model.ListOptions) ([]*model.LogEntry, int, error)
	MarkLogsSent(ctx context.Context, ids []int64) error
	DeleteLogsBefore(ctx context.Context, before model.Timestamp) (int64, error)

	// Telemetry
	CreateDatum(ctx context.Context, d *model.Datum) error
	ListData(ctx context.Context, opts model.ListOptions) ([]*model.Datum, int, error)
	CreatePacket(ctx context.Context, p *model.Packet) error
	ListPackets(ctx context.Context, opts model.ListOptions) ([]*model.Packet, int, error)
	UpdatePacketSendAt(ctx context.Context, id int64, sendAt model.Timestamp) error

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
