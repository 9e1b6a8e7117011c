package stubapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"taskmanagement/domain"
	"taskmanagement/storage"
)

type projectList struct {
	Projects []domain.Project `json:"projects"`
}

func (s *Server) listProjects(c echo.Context) error {
	projects, err := s.repo.ListProjects(c.Request().Context(), ownerOf(c))
	if err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	c.Set(ctxItems, len(projects))
	return c.JSON(http.StatusOK, projectList{Projects: projects})
}

func (s *Server) getProject(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := s.repo.GetProject(c.Request().Context(), ownerOf(c), id)
	if err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) createProject(c echo.Context) error {
	var n domain.NewProject
	if err := decodeBody(c, &n); err != nil {
		return err
	}
	if err := n.Validate(); err != nil {
		c.Set(ctxErrorStage, "validate")
		return err
	}
	p, err := s.repo.CreateProject(c.Request().Context(), ownerOf(c), n)
	if err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	s.publish(c, storage.Event{Type: storage.EventProjectCreated, ProjectID: p.ID})
	return c.JSON(http.StatusCreated, p)
}

// updateProject takes a partial body on PUT; absent fields are kept.
func (s *Server) updateProject(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var patch domain.ProjectPatch
	if err := decodeBody(c, &patch); err != nil {
		return err
	}
	if err := patch.Validate(); err != nil {
		c.Set(ctxErrorStage, "validate")
		return err
	}
	p, err := s.repo.UpdateProject(c.Request().Context(), ownerOf(c), id, patch)
	if err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	s.publish(c, storage.Event{Type: storage.EventProjectUpdated, ProjectID: p.ID})
	return c.JSON(http.StatusOK, p)
}

func (s *Server) deleteProject(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProject(c.Request().Context(), ownerOf(c), id); err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	s.publish(c, storage.Event{Type: storage.EventProjectDeleted, ProjectID: id})
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) projectStats(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	owner := ownerOf(c)
	if _, err := s.repo.GetProject(ctx, owner, id); err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	tasks, err := s.repo.ListTasks(ctx, owner)
	if err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	return c.JSON(http.StatusOK, domain.ComputeProjectStats(id, tasks, s.now()))
}
