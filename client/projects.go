package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"taskmanagement/domain"
)

type projectList struct {
	Projects []domain.Project `json:"projects"`
}

func (p *projectList) itemCount() int { return len(p.Projects) }

func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var out projectList
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/projects",
		path:   "/api/projects",
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Projects == nil {
		out.Projects = []domain.Project{}
	}
	return out.Projects, nil
}

func (c *Client) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	var p domain.Project
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/projects/:id",
		path:   projectPath(id),
	}, &p)
	return p, err
}

func (c *Client) CreateProject(ctx context.Context, n domain.NewProject) (domain.Project, error) {
	if err := n.Validate(); err != nil {
		return domain.Project{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var p domain.Project
	err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/projects",
		path:   "/api/projects",
		body:   n,
	}, &p)
	return p, err
}

// UpdateProject sends a partial update with PUT, which is how the project
// endpoint accepts edits.
func (c *Client) UpdateProject(ctx context.Context, id int64, patch domain.ProjectPatch) (domain.Project, error) {
	if err := patch.Validate(); err != nil {
		return domain.Project{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	var p domain.Project
	err := c.do(ctx, request{
		method: http.MethodPut,
		route:  "/api/projects/:id",
		path:   projectPath(id),
		body:   patch,
	}, &p)
	return p, err
}

func (c *Client) DeleteProject(ctx context.Context, id int64) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		route:  "/api/projects/:id",
		path:   projectPath(id),
	}, nil)
}

func (c *Client) ProjectStats(ctx context.Context, id int64) (domain.ProjectStats, error) {
	var s domain.ProjectStats
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/projects/:id/stats",
		path:   projectPath(id) + "/stats",
	}, &s)
	return s, err
}

func projectPath(id int64) string {
	return "/api/projects/" + strconv.FormatInt(id, 10)
}
