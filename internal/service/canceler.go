package service

import (
	"context"
	"sync"
)

// Canceler tracks the cancel function of every in-flight runner so a
// cancel request can destroy the job's stream. Register replaces any
// previous entry for the id, which keeps the one-runner-per-job
// invariant visible: at most one live cancel func per id.
type Canceler struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewCanceler() *Canceler {
	return &Canceler{cancels: make(map[string]context.CancelFunc)}
}

// Register stores the cancel function for a running job.
func (c *Canceler) Register(id string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels[id] = cancel
}

// Unregister drops the entry once the runner finishes.
func (c *Canceler) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, id)
}

// Cancel fires the registered cancel function, if any. Returns whether
// a runner was in flight.
func (c *Canceler) Cancel(id string) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[id]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
