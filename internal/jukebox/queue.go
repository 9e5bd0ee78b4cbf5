package jukebox

import (
	"context"
	"sync"

	"github.com/samber/lo"
)

// commandQueue is a FIFO holding at most one pending command per
// superseding group.
type commandQueue struct {
	mu    sync.Mutex
	items []Command
	ready chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{ready: make(chan struct{}, 1)}
}

// Push appends c after dropping the pending commands it supersedes
func (q *commandQueue) Push(c Command) {
	evicted := c.evicts()

	q.mu.Lock()
	q.items = lo.Reject(q.items, func(p Command, _ int) bool {
		return lo.Contains(evicted, p.Tag)
	})
	q.items = append(q.items, c)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Take blocks until a command is available or ctx is done
func (q *commandQueue) Take(ctx context.Context) (Command, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			c := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return c, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Command{}, ctx.Err()
		case <-q.ready:
		}
	}
}

func (q *commandQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Tags returns the tags of the pending commands in order
func (q *commandQueue) Tags() []Tag {
	q.mu.Lock()
	defer q.mu.Unlock()
	return lo.Map(q.items, func(c Command, _ int) Tag { return c.Tag })
}

func (q *commandQueue) Has(tag Tag) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return lo.ContainsBy(q.items, func(c Command) bool { return c.Tag == tag })
}
