package store

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"taskmanagement/domain"
)

var errBoom = errors.New("boom")

// fakeRemote is an in-memory collaborator with call counters and hooks.
type fakeRemote struct {
	mu        sync.Mutex
	tasks     map[int64]domain.Task
	projects  []domain.Project
	nextID    int64
	listCalls int
	now       time.Time

	listGate   chan struct{}
	listErr    error
	statsErr   error
	updateErr  error
	updateErrs map[int64]error
	createErr  error
}

func newFakeRemote(tasks ...domain.Task) *fakeRemote {
	f := &fakeRemote{tasks: map[int64]domain.Task{}, now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	for _, t := range tasks {
		f.tasks[t.ID] = t.Normalize()
		if t.ID > f.nextID {
			f.nextID = t.ID
		}
	}
	return f
}

func seedTasks() []domain.Task {
	return []domain.Task{
		{ID: 1, Title: "Write plan", Status: domain.StatusToDo, Priority: domain.PriorityHigh},
		{ID: 2, Title: "Review plan", Status: domain.StatusToDo, Priority: domain.PriorityLow},
		{ID: 3, Title: "Ship build", Status: domain.StatusInProgress, Priority: domain.PriorityMedium},
		{ID: 4, Title: "Retro", Status: domain.StatusDone, Priority: domain.PriorityMedium},
	}
}

func (f *fakeRemote) ListTasks(ctx context.Context, q domain.Query) ([]domain.Task, error) {
	f.mu.Lock()
	f.listCalls++
	gate := f.listGate
	err := f.listErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]domain.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		all = append(all, t)
	}
	slices.SortFunc(all, func(a, b domain.Task) int { return int(a.ID - b.ID) })
	return q.Apply(all), nil
}

func (f *fakeRemote) TaskStats(ctx context.Context) (domain.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return domain.Stats{}, f.statsErr
	}
	all := make([]domain.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		all = append(all, t)
	}
	return domain.ComputeStats(all, f.now), nil
}

func (f *fakeRemote) ListProjects(ctx context.Context) ([]domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.projects), nil
}

func (f *fakeRemote) CreateTask(ctx context.Context, n domain.NewTask) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.Task{}, f.createErr
	}
	f.nextID++
	t := n.Build(f.nextID, f.now)
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeRemote) UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErrs[id]; err != nil {
		return domain.Task{}, err
	}
	if f.updateErr != nil {
		return domain.Task{}, f.updateErr
	}
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, errors.New("not found")
	}
	t = patch.Apply(t)
	t.UpdatedAt = f.now
	f.tasks[id] = t
	return t, nil
}

func (f *fakeRemote) DeleteTask(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return errors.New("not found")
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeRemote) CreateProject(ctx context.Context, n domain.NewProject) (domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := domain.Project{ID: int64(len(f.projects) + 1), Name: n.Name}
	f.projects = append(f.projects, p)
	return p, nil
}

func (f *fakeRemote) UpdateProject(ctx context.Context, id int64, patch domain.ProjectPatch) (domain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return domain.Project{}, f.updateErr
	}
	i := slices.IndexFunc(f.projects, func(p domain.Project) bool { return p.ID == id })
	if i < 0 {
		return domain.Project{}, errors.New("not found")
	}
	p, err := patch.Apply(f.projects[i])
	if err != nil {
		return domain.Project{}, err
	}
	f.projects[i] = p
	return p, nil
}

func (f *fakeRemote) DeleteProject(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := slices.IndexFunc(f.projects, func(p domain.Project) bool { return p.ID == id })
	if i < 0 {
		return errors.New("not found")
	}
	f.projects = slices.Delete(f.projects, i, i+1)
	return nil
}

func (f *fakeRemote) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeRemote) set(fn func(f *fakeRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
