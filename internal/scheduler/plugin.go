package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/pkg/model"
)

// Plugin is the behavior a task runs. One instance serves every task of its
// kind; per-task state travels in the task parameters.
//
// A plugin implements any of Starter, Terminator and ExpiryHandler. A missing
// callback is logged and skipped.
type Plugin interface {
	Kind() string
}

// Starter performs the task's work. It may queue further tasks through m.
type Starter interface {
	Start(ctx context.Context, taskID model.TaskID, m Manager, params model.Parameters) error
}

// Terminator runs after Start returns, whatever Start's outcome.
type Terminator interface {
	Terminate(ctx context.Context, taskID model.TaskID, m Manager, params model.Parameters) error
}

// ExpiryHandler runs instead of Start when a task misses its deadline.
type ExpiryHandler interface {
	Expired(ctx context.Context, m Manager, params model.Parameters) error
}

// Factory constructs the single instance of a plugin kind.
type Factory func() Plugin

type pluginEntry struct {
	id     model.PluginID
	kind   string
	plugin Plugin
}

// PluginRegistry maps plugin kinds to their constructors. Registration happens
// at startup before concurrent access; instances are created on first use and
// cached for the life of the process.
type PluginRegistry struct {
	store     store.Store
	logger    *slog.Logger
	factories map[string]Factory

	mu     sync.Mutex
	byKind map[string]*pluginEntry
	byID   map[model.PluginID]*pluginEntry
}

// NewPluginRegistry creates an empty PluginRegistry.
func NewPluginRegistry(st store.Store, logger *slog.Logger) *PluginRegistry {
	return &PluginRegistry{
		store:     st,
		logger:    logger.With("component", "plugin-registry"),
		factories: make(map[string]Factory),
		byKind:    make(map[string]*pluginEntry),
		byID:      make(map[model.PluginID]*pluginEntry),
	}
}

// Register adds a constructor for kind, replacing any earlier one.
func (r *PluginRegistry) Register(kind string, f Factory) {
	r.factories[kind] = f
	r.logger.Debug("plugin registered", "kind", kind)
}

// Kinds returns the registered kinds in sorted order.
func (r *PluginRegistry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Get returns the durable id and instance for kind, creating both on first use.
func (r *PluginRegistry) Get(ctx context.Context, kind string) (model.PluginID, Plugin, error) {
	e, err := r.entry(ctx, kind)
	if err != nil {
		return 0, nil, err
	}
	return e.id, e.plugin, nil
}

func (r *PluginRegistry) entry(ctx context.Context, kind string) (*pluginEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byKind[kind]; ok {
		return e, nil
	}
	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, kind)
	}
	rec, err := r.store.CreateOrGetPlugin(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("plugin %q: %w", kind, err)
	}
	p := f()
	if p.Kind() != kind {
		return nil, fmt.Errorf("plugin registered as %q reports kind %q", kind, p.Kind())
	}
	e := &pluginEntry{id: rec.ID, kind: kind, plugin: p}
	r.byKind[kind] = e
	r.byID[rec.ID] = e
	r.logger.Info("plugin loaded", "kind", kind, "plugin_id", rec.ID)
	return e, nil
}

// byPluginID resolves a stored plugin id back to its cached instance.
func (r *PluginRegistry) byPluginID(ctx context.Context, id model.PluginID) (*pluginEntry, error) {
	r.mu.Lock()
	e, ok := r.byID[id]
	r.mu.Unlock()
	if ok {
		return e, nil
	}
	rec, err := r.store.GetPlugin(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("plugin %d: %w", id, err)
	}
	return r.entry(ctx, rec.Kind)
}

// cachedID returns the id of a kind that has already been loaded.
func (r *PluginRegistry) cachedID(kind string) model.PluginID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byKind[kind]; ok {
		return e.id
	}
	return 0
}

// call runs one plugin callback, turning errors and panics into a *PluginError.
func call(taskID model.TaskID, e *pluginEntry, callback string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PluginError{
				TaskID: taskID, PluginID: e.id, Kind: e.kind, Callback: callback,
				Err: fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()
	if cerr := fn(); cerr != nil {
		return &PluginError{TaskID: taskID, PluginID: e.id, Kind: e.kind, Callback: callback, Err: cerr}
	}
	return nil
}

func missing(taskID model.TaskID, e *pluginEntry, callback string) error {
	return &PluginError{TaskID: taskID, PluginID: e.id, Kind: e.kind, Callback: callback, Err: ErrMissingCallback}
}
