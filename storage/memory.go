package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmanagement/domain"
)

// Option configures a repository.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *log.Logger
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger used for background failures.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

type ownerData struct {
	tasks    map[int64]domain.Task
	projects map[int64]domain.Project
}

// Memory keeps everything in process. Used for local runs and tests.
type Memory struct {
	mu          sync.RWMutex
	owners      map[string]*ownerData
	nextTask    int64
	nextProject int64
	clock       *monotonicClock
}

func NewMemory(opts ...Option) *Memory {
	o := newOptions(opts)
	return &Memory{
		owners: make(map[string]*ownerData),
		clock:  newClock(o.now),
	}
}

func (m *Memory) ownerLocked(owner string, create bool) *ownerData {
	d, ok := m.owners[owner]
	if !ok && create {
		d = &ownerData{tasks: map[int64]domain.Task{}, projects: map[int64]domain.Project{}}
		m.owners[owner] = d
	}
	return d
}

func (m *Memory) ListTasks(_ context.Context, owner string) ([]domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tasks := []domain.Task{}
	if d := m.ownerLocked(owner, false); d != nil {
		for _, t := range d.tasks {
			tasks = append(tasks, cloneTask(t))
		}
	}
	slices.SortFunc(tasks, func(a, b domain.Task) int { return cmp.Compare(a.ID, b.ID) })
	return tasks, nil
}

func (m *Memory) QueryTasks(ctx context.Context, owner string, q domain.Query) ([]domain.Task, error) {
	tasks, err := m.ListTasks(ctx, owner)
	return applyQuery(tasks, err, q)
}

func (m *Memory) GetTask(_ context.Context, owner string, id int64) (domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Task{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d := m.ownerLocked(owner, false); d != nil {
		if t, ok := d.tasks[id]; ok {
			return cloneTask(t), nil
		}
	}
	return domain.Task{}, notFound("task", id)
}

func (m *Memory) CreateTask(_ context.Context, owner string, n domain.NewTask) (domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Task{}, err
	}
	if err := n.Validate(); err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTask++
	t := n.Build(m.nextTask, m.clock.Now())
	m.ownerLocked(owner, true).tasks[t.ID] = t
	return cloneTask(t), nil
}

func (m *Memory) UpdateTask(_ context.Context, owner string, id int64, patch domain.TaskPatch) (domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Task{}, err
	}
	if err := patch.Validate(); err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.ownerLocked(owner, false)
	if d == nil {
		return domain.Task{}, notFound("task", id)
	}
	t, ok := d.tasks[id]
	if !ok {
		return domain.Task{}, notFound("task", id)
	}
	t = patch.Apply(t)
	t.UpdatedAt = m.clock.Now()
	d.tasks[id] = t
	return cloneTask(t), nil
}

func (m *Memory) ReplaceTask(_ context.Context, owner string, id int64, n domain.NewTask) (domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Task{}, err
	}
	if err := n.Validate(); err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.ownerLocked(owner, false)
	if d == nil {
		return domain.Task{}, notFound("task", id)
	}
	old, ok := d.tasks[id]
	if !ok {
		return domain.Task{}, notFound("task", id)
	}
	t := replaceTask(old, n, m.clock.Now())
	d.tasks[id] = t
	return cloneTask(t), nil
}

func (m *Memory) DeleteTask(_ context.Context, owner string, id int64) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.ownerLocked(owner, false)
	if d == nil {
		return notFound("task", id)
	}
	if _, ok := d.tasks[id]; !ok {
		return notFound("task", id)
	}
	delete(d.tasks, id)
	return nil
}

func (m *Memory) ListProjects(_ context.Context, owner string) ([]domain.Project, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	projects := []domain.Project{}
	if d := m.ownerLocked(owner, false); d != nil {
		for _, p := range d.projects {
			projects = append(projects, p)
		}
	}
	slices.SortFunc(projects, func(a, b domain.Project) int { return cmp.Compare(a.ID, b.ID) })
	return projects, nil
}

func (m *Memory) GetProject(_ context.Context, owner string, id int64) (domain.Project, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Project{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d := m.ownerLocked(owner, false); d != nil {
		if p, ok := d.projects[id]; ok {
			return p, nil
		}
	}
	return domain.Project{}, notFound("project", id)
}

func (m *Memory) CreateProject(_ context.Context, owner string, n domain.NewProject) (domain.Project, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Project{}, err
	}
	if err := n.Validate(); err != nil {
		return domain.Project{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextProject++
	p := buildProject(m.nextProject, owner, n, m.clock.Now())
	m.ownerLocked(owner, true).projects[p.ID] = p
	return p, nil
}

func (m *Memory) UpdateProject(_ context.Context, owner string, id int64, patch domain.ProjectPatch) (domain.Project, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Project{}, err
	}
	if err := patch.Validate(); err != nil {
		return domain.Project{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.ownerLocked(owner, false)
	if d == nil {
		return domain.Project{}, notFound("project", id)
	}
	old, ok := d.projects[id]
	if !ok {
		return domain.Project{}, notFound("project", id)
	}
	p, err := patch.Apply(old)
	if err != nil {
		return domain.Project{}, err
	}
	p.UpdatedAt = m.clock.Now()
	d.projects[id] = p
	return p, nil
}

func (m *Memory) DeleteProject(_ context.Context, owner string, id int64) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.ownerLocked(owner, false)
	if d == nil {
		return notFound("project", id)
	}
	if _, ok := d.projects[id]; !ok {
		return notFound("project", id)
	}
	delete(d.projects, id)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func cloneTask(t domain.Task) domain.Task {
	t.Assignees = slices.Clone(t.Assignees)
	return t
}
