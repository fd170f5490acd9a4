package scheduler

import (
	"fmt"

	"github.com/me/flightlogic/pkg/model"
)

// queue is a linked list threaded through the Prev and Next ids of its tasks.
// Only the head is kept; the tail is found by walking.
type queue struct {
	name   string
	state  model.TaskState
	head   model.TaskID
	before func(a, b *model.Task) bool // a sorts strictly before b
}

func newPriorityQueue() *queue {
	return &queue{
		name:   "priority",
		state:  model.TaskStateReady,
		before: func(a, b *model.Task) bool { return a.Priority < b.Priority },
	}
}

func newScheduledQueue() *queue {
	return &queue{
		name:   "scheduled",
		state:  model.TaskStateScheduled,
		before: func(a, b *model.Task) bool { return a.ScheduledAt < b.ScheduledAt },
	}
}

// plan records a splice over one or both queues. Nothing is changed until the
// manager has persisted every link in one transaction and calls apply.
type plan struct {
	arena   map[model.TaskID]*Task
	joining map[model.TaskID]*Task
	links   map[model.TaskID]model.TaskLink
	order   []model.TaskID
	heads   map[*queue]model.TaskID
	moves   map[model.TaskID]*queue // nil target means unlinked
	subject model.TaskID
}

func newPlan(arena map[model.TaskID]*Task) *plan {
	return &plan{
		arena:   arena,
		joining: make(map[model.TaskID]*Task),
		links:   make(map[model.TaskID]model.TaskLink),
		heads:   make(map[*queue]model.TaskID),
		moves:   make(map[model.TaskID]*queue),
	}
}

func (p *plan) task(id model.TaskID) (*Task, error) {
	if t, ok := p.joining[id]; ok {
		return t, nil
	}
	if t, ok := p.arena[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("dangling link to task %d", id)
}

func (p *plan) link(t *Task) model.TaskLink {
	if l, ok := p.links[t.rec.ID]; ok {
		return l
	}
	return model.TaskLink{ID: t.rec.ID, Prev: t.rec.Prev, Next: t.rec.Next}
}

func (p *plan) setLink(t *Task, prev, next model.TaskID) {
	if _, ok := p.links[t.rec.ID]; !ok {
		p.order = append(p.order, t.rec.ID)
	}
	p.links[t.rec.ID] = model.TaskLink{ID: t.rec.ID, Prev: prev, Next: next}
}

func (p *plan) head(q *queue) model.TaskID {
	if h, ok := p.heads[q]; ok {
		return h
	}
	return q.head
}

func (p *plan) queueOf(t *Task) *queue {
	if q, ok := p.moves[t.rec.ID]; ok {
		return q
	}
	return t.queue
}

func (p *plan) touch(t *Task) {
	if p.subject == model.NoTask {
		p.subject = t.rec.ID
	}
}

func (p *plan) join(q *queue, t *Task) error {
	if p.queueOf(t) != nil {
		return fmt.Errorf("task %d: %w", t.rec.ID, ErrTaskQueued)
	}
	if !t.state.CanTransitionTo(q.state) {
		return &model.InvalidTransitionError{ID: t.rec.ID, From: t.state, To: q.state}
	}
	p.touch(t)
	p.joining[t.rec.ID] = t
	p.moves[t.rec.ID] = q
	return nil
}

// insert places t after every task that does not sort after it, so equal keys
// keep arrival order.
func (p *plan) insert(q *queue, t *Task) error {
	if err := p.join(q, t); err != nil {
		return err
	}
	headID := p.head(q)
	if headID == model.NoTask {
		p.setLink(t, model.NoTask, model.NoTask)
		p.heads[q] = t.rec.ID
		return nil
	}
	c, err := p.task(headID)
	if err != nil {
		return err
	}
	if q.before(&t.rec, &c.rec) {
		p.linkFront(q, t, c)
		return nil
	}

	limit := len(p.arena) + len(p.joining)
	for steps := 0; steps <= limit; steps++ {
		cl := p.link(c)
		if q.before(&t.rec, &c.rec) {
			prev, err := p.task(cl.Prev)
			if err != nil {
				return err
			}
			pl := p.link(prev)
			p.setLink(prev, pl.Prev, t.rec.ID)
			p.setLink(t, prev.rec.ID, c.rec.ID)
			p.setLink(c, t.rec.ID, cl.Next)
			return nil
		}
		if cl.Next == model.NoTask {
			p.setLink(c, cl.Prev, t.rec.ID)
			p.setLink(t, c.rec.ID, model.NoTask)
			return nil
		}
		if c, err = p.task(cl.Next); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s queue: cycle detected", q.name)
}

// pushFront makes t the head of q regardless of its key.
func (p *plan) pushFront(q *queue, t *Task) error {
	if err := p.join(q, t); err != nil {
		return err
	}
	headID := p.head(q)
	if headID == model.NoTask {
		p.setLink(t, model.NoTask, model.NoTask)
		p.heads[q] = t.rec.ID
		return nil
	}
	h, err := p.task(headID)
	if err != nil {
		return err
	}
	p.linkFront(q, t, h)
	return nil
}

func (p *plan) linkFront(q *queue, t, head *Task) {
	hl := p.link(head)
	p.setLink(t, model.NoTask, head.rec.ID)
	p.setLink(head, t.rec.ID, hl.Next)
	p.heads[q] = t.rec.ID
}

// remove unlinks t from q and repairs its neighbors.
func (p *plan) remove(q *queue, t *Task) error {
	if p.queueOf(t) != q {
		return fmt.Errorf("task %d is not in the %s queue", t.rec.ID, q.name)
	}
	p.touch(t)
	tl := p.link(t)
	if tl.Prev == model.NoTask {
		p.heads[q] = tl.Next
	} else {
		prev, err := p.task(tl.Prev)
		if err != nil {
			return err
		}
		pl := p.link(prev)
		p.setLink(prev, pl.Prev, tl.Next)
	}
	if tl.Next != model.NoTask {
		next, err := p.task(tl.Next)
		if err != nil {
			return err
		}
		nl := p.link(next)
		p.setLink(next, tl.Prev, nl.Next)
	}
	p.setLink(t, model.NoTask, model.NoTask)
	p.moves[t.rec.ID] = nil
	return nil
}

func (p *plan) linkList() []model.TaskLink {
	links := make([]model.TaskLink, 0, len(p.order))
	for _, id := range p.order {
		links = append(links, p.links[id])
	}
	return links
}

// apply mutates memory once the links are durable. Caller holds the manager mutex.
func (p *plan) apply() {
	for _, id := range p.order {
		t, _ := p.task(id)
		l := p.links[id]
		t.rec.Prev, t.rec.Next = l.Prev, l.Next
	}
	for q, h := range p.heads {
		q.head = h
	}
	for id, q := range p.moves {
		t, _ := p.task(id)
		t.queue = q
		if q == nil {
			delete(p.arena, id)
			continue
		}
		t.state = q.state
		p.arena[id] = t
	}
}
