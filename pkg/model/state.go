package model

// TaskState is the in-memory lifecycle position of a Task. It is derived, not
// persisted: a task loaded at boot always starts Unqueued.
type TaskState string

const (
	TaskStateUnqueued   TaskState = "UNQUEUED"
	TaskStateScheduled  TaskState = "SCHEDULED"
	TaskStateReady      TaskState = "READY"
	TaskStateExecuting  TaskState = "EXECUTING"
	TaskStateTerminated TaskState = "TERMINATED"
	TaskStateExpired    TaskState = "EXPIRED"
	TaskStateAbandoned  TaskState = "ABANDONED"
)

// String returns the string representation of the task state.
func (s TaskState) String() string {
	return string(s)
}

// IsTerminal returns true if the task can never be queued again.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateTerminated, TaskStateExpired, TaskStateAbandoned:
		return true
	}
	return false
}

// ValidTaskTransitions defines the allowed state transitions for Tasks.
var ValidTaskTransitions = map[TaskState][]TaskState{
	TaskStateUnqueued:  {TaskStateScheduled, TaskStateReady, TaskStateAbandoned},
	TaskStateScheduled: {TaskStateReady},
	TaskStateReady:     {TaskStateExecuting, TaskStateExpired},
	TaskStateExecuting: {TaskStateTerminated},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
