package optimistic

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskmanagement/domain"
)

// ErrUnknownRow is returned for ids that were never seeded.
var ErrUnknownRow = errors.New("unknown task row")

// Mutator sends the update for a row. *store.Mutations satisfies it.
type Mutator interface {
	UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error)
}

// RowError is a mutation failure. Superseded is set when a newer mutation
// for the same row had already been issued, so the row was not reverted.
type RowError struct {
	TaskID     int64
	HandleID   string
	Err        error
	Superseded bool
}

func (e RowError) Error() string {
	return fmt.Sprintf("task %d: %v", e.TaskID, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// Transition is reported to the observer on every phase change.
type Transition struct {
	TaskID int64
	From   Phase
	To     Phase
	View   domain.Task
}

// Option configures Rows.
type Option func(*Rows)

// WithLogger sets the logger used for failed mutations.
func WithLogger(l *log.Logger) Option {
	return func(r *Rows) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers fn for phase transitions. fn runs with the rows
// lock held and must not call back into Rows.
func WithObserver(fn func(Transition)) Option {
	return func(r *Rows) { r.observe = fn }
}

type row struct {
	overlay      Overlay[domain.Task]
	confirmed    domain.Task
	confirmedSeq uint64
	seq          uint64
	phase        Phase
}

// Rows holds the overlay of every visible task row.
//
// A new toggle is computed from the value currently displayed, which may
// itself be optimistic. A failure reverts to the last confirmed value, and
// only when no newer mutation for the row has been issued since.
type Rows struct {
	mu      sync.Mutex
	mutate  Mutator
	rows    map[int64]*row
	errs    []RowError
	wg      sync.WaitGroup
	logger  *log.Logger
	observe func(Transition)
}

// NewRows returns an empty set of rows.
func NewRows(m Mutator, opts ...Option) *Rows {
	r := &Rows{
		mutate: m,
		rows:   make(map[int64]*row),
		logger: log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Seed loads authoritative tasks. Idle rows take the new value; rows with a
// mutation in flight keep their optimistic value but revert to the seeded
// one. Idle rows missing from tasks are dropped.
func (r *Rows) Seed(tasks []domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[int64]struct{}, len(tasks))
	for _, t := range tasks {
		t = t.Normalize()
		seen[t.ID] = struct{}{}
		rw, ok := r.rows[t.ID]
		if !ok {
			r.rows[t.ID] = &row{overlay: Confirmed[domain.Task]{Value: t}, confirmed: t}
			continue
		}
		rw.confirmed = t
		if p, pending := rw.overlay.(Pending[domain.Task]); pending {
			p.Revert = t
			rw.overlay = p
			continue
		}
		rw.overlay = Confirmed[domain.Task]{Value: t}
	}
	for id, rw := range r.rows {
		if _, ok := seen[id]; !ok && rw.phase == Idle {
			delete(r.rows, id)
		}
	}
}

// View returns the task as it should be displayed.
func (r *Rows) View(id int64) (domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rw, ok := r.rows[id]
	if !ok {
		return domain.Task{}, false
	}
	return rw.overlay.Current(), true
}

// Overlay returns the raw overlay of a row.
func (r *Rows) Overlay(id int64) (Overlay[domain.Task], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rw, ok := r.rows[id]
	if !ok {
		return nil, false
	}
	return rw.overlay, true
}

// Phase returns the state of a row. Unknown rows are Idle.
func (r *Rows) Phase(id int64) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rw, ok := r.rows[id]; ok {
		return rw.phase
	}
	return Idle
}

// Toggle flips the done flag of a row immediately and sends the update in
// the background.
func (r *Rows) Toggle(ctx context.Context, id int64) (*Handle, error) {
	return r.dispatch(ctx, id, func(t domain.Task) domain.TaskPatch {
		return domain.PendingPatch(!t.Pending)
	})
}

// Cycle advances the status of a row one step immediately and sends the
// update in the background.
func (r *Rows) Cycle(ctx context.Context, id int64) (*Handle, error) {
	return r.dispatch(ctx, id, func(t domain.Task) domain.TaskPatch {
		return domain.StatusPatch(t.Status.Next())
	})
}

func (r *Rows) dispatch(ctx context.Context, id int64, change func(domain.Task) domain.TaskPatch) (*Handle, error) {
	r.mu.Lock()
	rw, ok := r.rows[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownRow, id)
	}
	current := rw.overlay.Current()
	patch := change(current)
	h := newHandle(id)
	rw.seq++
	seq := rw.seq
	rw.overlay = Pending[domain.Task]{
		Optimistic: patch.Apply(current),
		Revert:     rw.confirmed,
		Handle:     h,
	}
	r.transitionLocked(id, rw, OptimisticPending)
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		task, err := r.mutate.UpdateTask(ctx, id, patch)
		r.settle(id, seq, h, task, err)
	}()
	return h, nil
}

func (r *Rows) settle(id int64, seq uint64, h *Handle, task domain.Task, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer h.settle(task, err)

	rw, ok := r.rows[id]
	if !ok {
		return
	}
	latest := seq == rw.seq

	if err != nil {
		rowErr := RowError{TaskID: id, HandleID: h.ID, Err: err, Superseded: !latest}
		r.errs = append(r.errs, rowErr)
		r.logger.WithError(err).WithFields(log.Fields{
			"task":       id,
			"superseded": !latest,
		}).Warn("optimistic update failed")
		if latest {
			r.transitionLocked(id, rw, Reverting)
			rw.overlay = Confirmed[domain.Task]{Value: rw.confirmed}
			r.transitionLocked(id, rw, Idle)
		}
		return
	}

	task = task.Normalize()
	if seq >= rw.confirmedSeq {
		rw.confirmed = task
		rw.confirmedSeq = seq
	}
	if latest {
		rw.overlay = Confirmed[domain.Task]{Value: task}
		r.transitionLocked(id, rw, Idle)
		return
	}
	if p, pending := rw.overlay.(Pending[domain.Task]); pending {
		p.Revert = rw.confirmed
		rw.overlay = p
	}
}

func (r *Rows) transitionLocked(id int64, rw *row, to Phase) {
	from := rw.phase
	rw.phase = to
	if r.observe != nil {
		r.observe(Transition{TaskID: id, From: from, To: to, View: rw.overlay.Current()})
	}
}

// Errors returns every recorded failure, oldest first.
func (r *Rows) Errors() []RowError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.errs)
}

// Wait blocks until every dispatched mutation has settled.
func (r *Rows) Wait() {
	r.wg.Wait()
}
