package service

import (
	"context"
	"sync"
	"sync/atomic"
)

type CompletionState int32

const (
	Pending CompletionState = iota
	Done
	Cancelled
)

func (s CompletionState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Completion is a one-shot future closed once the terminal marker of a job
// has been written. Only the owning Job transitions it.
type Completion struct {
	state atomic.Int32
	once  sync.Once
	done  chan struct{}
}

func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) State() CompletionState {
	return CompletionState(c.state.Load())
}

// IsDone reports whether the output stream was exhausted naturally. It stays
// false for a cancelled job.
func (c *Completion) IsDone() bool {
	return c.State() == Done
}

// Done returns a channel closed on the terminal transition.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the terminal transition or until ctx is done.
func (c *Completion) Wait(ctx context.Context) (CompletionState, error) {
	select {
	case <-c.done:
		return c.State(), nil
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

// finish moves Pending to s. Only the first call has an effect.
func (c *Completion) finish(s CompletionState) bool {
	if s == Pending {
		return false
	}
	var ok bool
	c.once.Do(func() {
		c.state.Store(int32(s))
		close(c.done)
		ok = true
	})
	return ok
}
