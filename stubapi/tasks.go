package stubapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"taskmanagement/domain"
	"taskmanagement/storage"
)

const idempotencyHeader = "Idempotency-Key"

type taskPage struct {
	Tasks         []domain.Task `json:"tasks"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

func (s *Server) listTasks(c echo.Context) error {
	q, err := domain.ParseQuery(c.QueryParams())
	if err != nil {
		c.Set(ctxErrorStage, "query")
		return err
	}
	pageSize, err := s.parsePageSize(c.QueryParam("pageSize"))
	if err != nil {
		c.Set(ctxErrorStage, "query")
		return err
	}
	offset, err := decodePageToken(c.QueryParam("pageToken"))
	if err != nil {
		c.Set(ctxErrorStage, "query")
		return err
	}

	tasks, err := s.repo.QueryTasks(c.Request().Context(), ownerOf(c), q)
	if err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}

	// A token past the end (rows deleted since) yields an empty last page.
	start := min(offset, len(tasks))
	end := min(start+pageSize, len(tasks))
	page := taskPage{Tasks: tasks[start:end]}
	if page.Tasks == nil {
		page.Tasks = []domain.Task{}
	}
	if end < len(tasks) {
		page.NextPageToken = encodePageToken(end)
	}
	c.Set(ctxItems, len(page.Tasks))
	return c.JSON(http.StatusOK, page)
}

func (s *Server) taskStats(c echo.Context) error {
	tasks, err := s.repo.ListTasks(c.Request().Context(), ownerOf(c))
	if err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	c.Set(ctxItems, len(tasks))
	return c.JSON(http.StatusOK, domain.ComputeStats(tasks, s.now()))
}

func (s *Server) getTask(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := s.repo.GetTask(c.Request().Context(), ownerOf(c), id)
	if err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// createTask honours Idempotency-Key: a repeated key replays the task the
// first request created instead of creating another.
func (s *Server) createTask(c echo.Context) error {
	var n domain.NewTask
	if err := decodeBody(c, &n); err != nil {
		return err
	}
	if err := n.Validate(); err != nil {
		c.Set(ctxErrorStage, "validate")
		return err
	}

	ctx := c.Request().Context()
	owner := ownerOf(c)
	key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
	if key != "" {
		claimed, err := s.deduper.Claim(ctx, owner, key)
		if err != nil {
			c.Set(ctxErrorStage, "idempotency")
			return err
		}
		if !claimed {
			return s.replayCreate(c, owner, key)
		}
	}

	t, err := s.repo.CreateTask(ctx, owner, n.Normalize())
	if err != nil {
		c.Set(ctxErrorStage, "storage")
		if key != "" {
			if rerr := s.deduper.Release(ctx, owner, key); rerr != nil {
				s.logger.WithError(rerr).WithField("owner", owner).Warn("release idempotency key failed")
			}
		}
		return err
	}
	if key != "" {
		if err := s.deduper.Complete(ctx, owner, key, t.ID); err != nil {
			s.logger.WithError(err).WithField("owner", owner).Warn("complete idempotency key failed")
		}
	}

	s.publish(c, storage.Event{Type: storage.EventTaskCreated, TaskID: t.ID, ProjectID: t.ProjectID})
	return c.JSON(http.StatusCreated, t)
}

func (s *Server) replayCreate(c echo.Context, owner, key string) error {
	ctx := c.Request().Context()
	id, err := s.deduper.Lookup(ctx, owner, key)
	if err != nil {
		c.Set(ctxErrorStage, "idempotency")
		if errors.Is(err, storage.ErrNotFound) {
			// The claim expired or was released between the two calls.
			return apiError(http.StatusConflict, codeConflict, "idempotency key is being retried")
		}
		return err
	}
	t, err := s.repo.GetTask(ctx, owner, id)
	if err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	c.Response().Header().Set("Idempotent-Replayed", "true")
	return c.JSON(http.StatusOK, t)
}

func (s *Server) patchTask(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var patch domain.TaskPatch
	if err := decodeBody(c, &patch); err != nil {
		return err
	}
	if err := patch.Validate(); err != nil {
		c.Set(ctxErrorStage, "validate")
		return err
	}

	t, err := s.repo.UpdateTask(c.Request().Context(), ownerOf(c), id, patch.Normalize())
	if err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	s.publish(c, storage.Event{Type: storage.EventTaskUpdated, TaskID: t.ID, ProjectID: t.ProjectID})
	return c.JSON(http.StatusOK, t)
}

func (s *Server) putTask(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var n domain.NewTask
	if err := decodeBody(c, &n); err != nil {
		return err
	}
	if err := n.Validate(); err != nil {
		c.Set(ctxErrorStage, "validate")
		return err
	}

	t, err := s.repo.ReplaceTask(c.Request().Context(), ownerOf(c), id, n.Normalize())
	if err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	s.publish(c, storage.Event{Type: storage.EventTaskUpdated, TaskID: t.ID, ProjectID: t.ProjectID})
	return c.JSON(http.StatusOK, t)
}

func (s *Server) deleteTask(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTask(c.Request().Context(), ownerOf(c), id); err != nil {
		c.Set(ctxErrorStage, "storage")
		return err
	}
	s.publish(c, storage.Event{Type: storage.EventTaskDeleted, TaskID: id})
	return c.NoContent(http.StatusNoContent)
}
