package store

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"taskmanagement/domain"
)

const bulkConcurrency = 4

// Mutations issues writes against the remote and invalidates every cache
// entry the write could affect. Writes are never retried and overlapping
// writes to the same task are not ordered: the last response wins.
type Mutations struct {
	remote Remote
	tasks  *Tasks
}

// NewMutations binds the write side to the caches of tasks.
func NewMutations(remote Remote, tasks *Tasks) *Mutations {
	return &Mutations{remote: remote, tasks: tasks}
}

// UpdateTask applies patch and returns the server's record.
func (m *Mutations) UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	task, err := m.remote.UpdateTask(ctx, id, patch.Normalize())
	if err != nil {
		m.tasks.logger.WithError(err).WithField("task", id).Warn("update task failed")
		return domain.Task{}, err
	}
	m.tasks.invalidateTasks()
	return task.Normalize(), nil
}

// MoveToStatus sets the status of a task; pending follows.
func (m *Mutations) MoveToStatus(ctx context.Context, id int64, status domain.Status) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTask, status)
	}
	return m.UpdateTask(ctx, id, domain.StatusPatch(status))
}

// SetPending marks a task done (false) or reopens it (true).
func (m *Mutations) SetPending(ctx context.Context, id int64, pending bool) (domain.Task, error) {
	return m.UpdateTask(ctx, id, domain.PendingPatch(pending))
}

// CreateTask creates a task and returns it with its server assigned id.
func (m *Mutations) CreateTask(ctx context.Context, n domain.NewTask) (domain.Task, error) {
	task, err := m.remote.CreateTask(ctx, n)
	if err != nil {
		m.tasks.logger.WithError(err).WithField("title", n.Title).Warn("create task failed")
		return domain.Task{}, err
	}
	m.tasks.invalidateTasks()
	return task.Normalize(), nil
}

// DeleteTask removes a task from future query results.
func (m *Mutations) DeleteTask(ctx context.Context, id int64) error {
	if err := m.remote.DeleteTask(ctx, id); err != nil {
		m.tasks.logger.WithError(err).WithField("task", id).Warn("delete task failed")
		return err
	}
	m.tasks.invalidateTasks()
	return nil
}

// BulkUpdate applies the same patch to every id with bounded concurrency.
// Results keep the input order for the updates that succeeded; the
// error joins every failure. Caches are invalidated if anything changed.
func (m *Mutations) BulkUpdate(ctx context.Context, ids []int64, patch domain.TaskPatch) ([]domain.Task, error) {
	patch = patch.Normalize()
	results := make([]domain.Task, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(bulkConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			task, err := m.remote.UpdateTask(ctx, id, patch)
			if err != nil {
				errs[i] = fmt.Errorf("task %d: %w", id, err)
				return nil
			}
			results[i] = task.Normalize()
			return nil
		})
	}
	_ = g.Wait()

	updated := make([]domain.Task, 0, len(ids))
	for i := range ids {
		if errs[i] == nil {
			updated = append(updated, results[i])
		}
	}
	if len(updated) > 0 {
		m.tasks.invalidateTasks()
	}
	err := errors.Join(errs...)
	if err != nil {
		m.tasks.logger.WithError(err).WithField("failed", len(ids)-len(updated)).Warn("bulk update incomplete")
	}
	return updated, err
}

// CreateProject creates a project and invalidates the project list.
func (m *Mutations) CreateProject(ctx context.Context, n domain.NewProject) (domain.Project, error) {
	p, err := m.remote.CreateProject(ctx, n)
	if err != nil {
		m.tasks.logger.WithError(err).WithField("project", n.Name).Warn("create project failed")
		return domain.Project{}, err
	}
	m.tasks.invalidateProjects()
	return p, nil
}

// UpdateProject edits a project and invalidates every cached project read.
func (m *Mutations) UpdateProject(ctx context.Context, id int64, patch domain.ProjectPatch) (domain.Project, error) {
	p, err := m.remote.UpdateProject(ctx, id, patch)
	if err != nil {
		m.tasks.logger.WithError(err).WithField("project", id).Warn("update project failed")
		return domain.Project{}, err
	}
	m.tasks.invalidateProjects()
	return p, nil
}

// DeleteProject removes a project. Its tasks are left in place.
func (m *Mutations) DeleteProject(ctx context.Context, id int64) error {
	if err := m.remote.DeleteProject(ctx, id); err != nil {
		m.tasks.logger.WithError(err).WithField("project", id).Warn("delete project failed")
		return err
	}
	m.tasks.invalidateProjects()
	return nil
}
