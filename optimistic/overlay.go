// Package optimistic applies user edits to task rows before the remote
// confirms them and reverts them when it refuses.
package optimistic

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"taskmanagement/domain"
)

// Phase is the state of one row.
type Phase int

const (
	Idle Phase = iota
	OptimisticPending
	Reverting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case OptimisticPending:
		return "optimistic-pending"
	case Reverting:
		return "reverting"
	default:
		return "unknown"
	}
}

// Overlay is either Confirmed or Pending.
type Overlay[V any] interface {
	// Current is the value to display.
	Current() V
	overlay()
}

// Confirmed holds a value the remote has acknowledged.
type Confirmed[V any] struct {
	Value V
}

func (c Confirmed[V]) Current() V { return c.Value }
func (Confirmed[V]) overlay()     {}

// Pending holds a value shown ahead of confirmation, the value to fall back
// to if the mutation fails, and the mutation itself.
type Pending[V any] struct {
	Optimistic V
	Revert     V
	Handle     *Handle
}

func (p Pending[V]) Current() V { return p.Optimistic }
func (Pending[V]) overlay()     {}

// Handle tracks one dispatched mutation.
type Handle struct {
	ID     string
	TaskID int64

	done chan struct{}
	once sync.Once
	task domain.Task
	err  error
}

func newHandle(taskID int64) *Handle {
	return &Handle{ID: uuid.NewString(), TaskID: taskID, done: make(chan struct{})}
}

// Done is closed once the mutation has settled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the mutation error. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the mutation settles or ctx ends.
func (h *Handle) Wait(ctx context.Context) (domain.Task, error) {
	select {
	case <-h.done:
		return h.task, h.err
	case <-ctx.Done():
		return domain.Task{}, ctx.Err()
	}
}

func (h *Handle) settle(task domain.Task, err error) {
	h.once.Do(func() {
		h.task = task
		h.err = err
		close(h.done)
	})
}
