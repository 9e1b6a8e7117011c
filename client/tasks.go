package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"taskmanagement/domain"
)

const maxPages = 1000

// TaskPage is one page of GET /api/tasks.
type TaskPage struct {
	Tasks         []domain.Task `json:"tasks"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

func (p *TaskPage) itemCount() int { return len(p.Tasks) }

// ListTasks returns every task matching q, following page tokens.
func (c *Client) ListTasks(ctx context.Context, q domain.Query) ([]domain.Task, error) {
	tasks := []domain.Task{}
	token := ""
	seen := map[string]struct{}{}
	for page := 0; page < maxPages; page++ {
		p, err := c.ListTasksPage(ctx, q, token)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, p.Tasks...)
		if p.NextPageToken == "" {
			return tasks, nil
		}
		if _, dup := seen[p.NextPageToken]; dup {
			return nil, fmt.Errorf("%w: page token %q repeated", ErrServer, p.NextPageToken)
		}
		seen[p.NextPageToken] = struct{}{}
		token = p.NextPageToken
	}
	return nil, fmt.Errorf("%w: more than %d pages", ErrServer, maxPages)
}

// ListTasksPage fetches a single page.
func (c *Client) ListTasksPage(ctx context.Context, q domain.Query, pageToken string) (TaskPage, error) {
	values := q.Values()
	if pageToken != "" {
		values.Set("pageToken", pageToken)
	}
	if c.pageSize > 0 {
		values.Set("pageSize", strconv.Itoa(c.pageSize))
	}
	var page TaskPage
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/tasks",
		path:   "/api/tasks",
		query:  values,
	}, &page)
	if err != nil {
		return TaskPage{}, err
	}
	if page.Tasks == nil {
		page.Tasks = []domain.Task{}
	}
	return page, nil
}

// GetTask fetches a single task.
func (c *Client) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/tasks/:id",
		path:   taskPath(id),
	}, &t)
	return t, err
}

// CreateTask creates a task. Each call carries a fresh idempotency key, so a
// single call never creates two records even if the server sees it twice.
func (c *Client) CreateTask(ctx context.Context, n domain.NewTask) (domain.Task, error) {
	return c.CreateTaskWithKey(ctx, uuid.NewString(), n)
}

// CreateTaskWithKey lets callers reuse an idempotency key across attempts.
func (c *Client) CreateTaskWithKey(ctx context.Context, key string, n domain.NewTask) (domain.Task, error) {
	if err := n.Validate(); err != nil {
		return domain.Task{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var t domain.Task
	err := c.do(ctx, request{
		method:  http.MethodPost,
		route:   "/api/tasks",
		path:    "/api/tasks",
		body:    n.Normalize(),
		headers: map[string]string{idempotencyHdr: key},
	}, &t)
	return t, err
}

// UpdateTask applies a partial update and returns the authoritative record.
func (c *Client) UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	if err := patch.Validate(); err != nil {
		return domain.Task{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var t domain.Task
	err := c.do(ctx, request{
		method: http.MethodPatch,
		route:  "/api/tasks/:id",
		path:   taskPath(id),
		body:   patch.Normalize(),
	}, &t)
	return t, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		route:  "/api/tasks/:id",
		path:   taskPath(id),
	}, nil)
}

// TaskStats fetches the server-side aggregate.
func (c *Client) TaskStats(ctx context.Context) (domain.Stats, error) {
	var s domain.Stats
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/tasks/stats",
		path:   "/api/tasks/stats",
	}, &s)
	return s, err
}

func taskPath(id int64) string {
	return "/api/tasks/" + strconv.FormatInt(id, 10)
}
