package scheduler

import (
	"errors"
	"fmt"

	"github.com/me/flightlogic/pkg/model"
)

var (
	// ErrTaskQueued is returned when an operation needs an unqueued task.
	ErrTaskQueued = errors.New("task is queued")
	// ErrMissingCallback is reported when a plugin kind lacks a callback.
	ErrMissingCallback = errors.New("plugin does not implement callback")
	// ErrUnknownPlugin is returned for a plugin kind that is not registered.
	ErrUnknownPlugin = errors.New("unknown plugin kind")
	// ErrAlreadyBooted is returned by a second call to Boot.
	ErrAlreadyBooted = errors.New("task manager already booted")
)

// fieldLinks names a multi-task linkage write in a PersistenceError.
const fieldLinks model.TaskField = "links"

// PersistenceError reports a durable write that failed. The in-memory task is
// left as it was before the call.
type PersistenceError struct {
	TaskID model.TaskID
	Field  model.TaskField
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist task %d %s: %v", e.TaskID, e.Field, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PluginError reports a plugin callback that failed, panicked, or is missing.
type PluginError struct {
	TaskID   model.TaskID
	PluginID model.PluginID
	Kind     string
	Callback string
	Err      error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s (%d) %s for task %d: %v", e.Kind, e.PluginID, e.Callback, e.TaskID, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }
