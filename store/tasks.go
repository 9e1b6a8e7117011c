package store

import (
	"context"

	"taskmanagement/domain"
)

// Remote is the collaborator the store reads from and writes to.
// *client.Client satisfies it.
type Remote interface {
	ListTasks(ctx context.Context, q domain.Query) ([]domain.Task, error)
	TaskStats(ctx context.Context) (domain.Stats, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	CreateTask(ctx context.Context, n domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	CreateProject(ctx context.Context, n domain.NewProject) (domain.Project, error)
	UpdateProject(ctx context.Context, id int64, patch domain.ProjectPatch) (domain.Project, error)
	DeleteProject(ctx context.Context, id int64) error
}

// TaskView is the result of a task query: the tasks, whether a fetch is in
// flight and the last error.
type TaskView = Snapshot[[]domain.Task]

// Tasks serves task lists, stats and projects out of shared caches.
type Tasks struct {
	remote   Remote
	lists    *Cache[[]domain.Task]
	stats    *Cache[domain.Stats]
	projects *Cache[[]domain.Project]
	settings
}

// NewTasks builds the query side of the store.
func NewTasks(remote Remote, opts ...Option) *Tasks {
	return &Tasks{
		remote:   remote,
		lists:    NewCache[[]domain.Task](opts...),
		stats:    NewCache[domain.Stats](opts...),
		projects: NewCache[[]domain.Project](opts...),
		settings: newSettings(opts),
	}
}

// List returns the tasks matching q. Equivalent queries share one entry.
func (t *Tasks) List(ctx context.Context, q domain.Query) TaskView {
	return withTasks(t.lists.Read(ctx, q.Key(), t.fetchList(q)))
}

// Watch subscribes to q and refreshes it in the background when the entry
// is missing or stale. Callers must Close the subscription.
func (t *Tasks) Watch(ctx context.Context, q domain.Query) *Subscription[[]domain.Task] {
	key := q.Key()
	sub := t.lists.Subscribe(key)
	if snap, ok := t.lists.Peek(key); !ok || snap.Stale {
		t.lists.Revalidate(ctx, key, t.fetchList(q))
	}
	return sub
}

// Refresh forces a refetch of q and waits for it.
func (t *Tasks) Refresh(ctx context.Context, q domain.Query) TaskView {
	key := q.Key()
	t.lists.Invalidate(key)
	return withTasks(t.lists.Read(ctx, key, t.fetchList(q)))
}

func (t *Tasks) fetchList(q domain.Query) Fetcher[[]domain.Task] {
	return func(ctx context.Context) ([]domain.Task, error) {
		tasks, err := t.remote.ListTasks(ctx, q)
		if err != nil {
			return nil, err
		}
		for i := range tasks {
			tasks[i] = tasks[i].Normalize()
		}
		return tasks, nil
	}
}

// Stats returns the aggregate counts. When the stats endpoint fails the
// counts are computed from the unfiltered task list instead.
func (t *Tasks) Stats(ctx context.Context) Snapshot[domain.Stats] {
	return t.stats.Read(ctx, domain.StatsKey, func(ctx context.Context) (domain.Stats, error) {
		stats, err := t.remote.TaskStats(ctx)
		if err == nil {
			return stats, nil
		}
		all := t.List(ctx, domain.Query{})
		if all.Err != nil {
			return domain.Stats{}, err
		}
		t.logger.WithError(err).Debug("stats endpoint failed, computing locally")
		return domain.ComputeStats(all.Data, t.now()), nil
	})
}

// Projects lists the caller's projects.
func (t *Tasks) Projects(ctx context.Context) Snapshot[[]domain.Project] {
	snap := t.projects.Read(ctx, domain.ProjectsKey, t.remote.ListProjects)
	if snap.Data == nil {
		snap.Data = []domain.Project{}
	}
	return snap
}

// invalidateTasks marks every list and the stats entry stale.
func (t *Tasks) invalidateTasks() {
	t.lists.InvalidatePrefix(domain.TasksKeyPrefix)
	t.stats.Invalidate(domain.StatsKey)
}

func (t *Tasks) invalidateProjects() {
	t.projects.InvalidateAll()
}

// Sweep drops unwatched entries from every cache.
func (t *Tasks) Sweep() int {
	return t.lists.Sweep() + t.stats.Sweep() + t.projects.Sweep()
}

func withTasks(v TaskView) TaskView {
	if v.Data == nil {
		v.Data = []domain.Task{}
	}
	return v
}
