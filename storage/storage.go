// Package storage persists the stub backend's tasks and projects. Every
// record is partitioned by owner, the subject of the caller's token.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskmanagement/domain"
)

var (
	// ErrNotFound is returned when the owner has no record with the id.
	ErrNotFound = errors.New("record not found")
	// ErrNoOwner is returned when a call carries an empty owner.
	ErrNoOwner = errors.New("owner is required")
)

// Repository is implemented by every backend. Ids are assigned by the
// repository and never reused; UpdatedAt is set on every write.
type Repository interface {
	ListTasks(ctx context.Context, owner string) ([]domain.Task, error)
	QueryTasks(ctx context.Context, owner string, q domain.Query) ([]domain.Task, error)
	GetTask(ctx context.Context, owner string, id int64) (domain.Task, error)
	CreateTask(ctx context.Context, owner string, n domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, owner string, id int64, patch domain.TaskPatch) (domain.Task, error)
	ReplaceTask(ctx context.Context, owner string, id int64, n domain.NewTask) (domain.Task, error)
	DeleteTask(ctx context.Context, owner string, id int64) error

	ListProjects(ctx context.Context, owner string) ([]domain.Project, error)
	GetProject(ctx context.Context, owner string, id int64) (domain.Project, error)
	CreateProject(ctx context.Context, owner string, n domain.NewProject) (domain.Project, error)
	UpdateProject(ctx context.Context, owner string, id int64, patch domain.ProjectPatch) (domain.Project, error)
	// DeleteProject removes the project only. Its tasks keep their
	// projectId and drop out of project stats.
	DeleteProject(ctx context.Context, owner string, id int64) error

	Ping(ctx context.Context) error
	Close() error
}

func checkOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return ErrNoOwner
	}
	return nil
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
}

// applyQuery filters and sorts a full owner listing.
func applyQuery(tasks []domain.Task, err error, q domain.Query) ([]domain.Task, error) {
	if err != nil {
		return nil, err
	}
	return q.Apply(tasks), nil
}

// replaceTask builds the record a PUT leaves behind: the payload fields with
// the original id and creation time.
func replaceTask(old domain.Task, n domain.NewTask, now time.Time) domain.Task {
	t := n.Build(old.ID, now)
	t.CreatedAt = old.CreatedAt
	return t
}

func buildProject(id int64, owner string, n domain.NewProject, now time.Time) domain.Project {
	return domain.Project{
		ID:          id,
		Name:        strings.TrimSpace(n.Name),
		Description: n.Description,
		StartDate:   n.StartDate,
		EndDate:     n.EndDate,
		OwnerID:     owner,
		Status:      domain.ProjectActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// monotonicClock hands out strictly increasing UTC times so UpdatedAt always
// moves forward, even when two writes land in the same instant.
type monotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newClock(now func() time.Time) *monotonicClock {
	if now == nil {
		now = time.Now
	}
	return &monotonicClock{now: now}
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
