package scheduler

import "context"

// Outcome describes what a single scheduling iteration did.
type Outcome int

const (
	// Idle means both queues had nothing to do.
	Idle Outcome = iota
	// Promoted means one due task moved from the scheduled queue to the priority queue.
	Promoted
	// Ran means the head of the priority queue was executed or discarded as expired.
	Ran
)

func (o Outcome) String() string {
	switch o {
	case Promoted:
		return "promoted"
	case Ran:
		return "ran"
	default:
		return "idle"
	}
}

// Scheduler restores queued work, then decides which task runs next.
type Scheduler interface {
	// Boot restores resumable tasks and queues the bootstrap task. Call once.
	Boot(ctx context.Context) error

	// Run loops until ctx is cancelled.
	Run(ctx context.Context) error

	// Step runs a single scheduling iteration. Used for testing.
	Step(ctx context.Context) (Outcome, error)
}
