package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidProject marks project payloads rejected before storage.
var ErrInvalidProject = errors.New("invalid project")

// Project groups tasks on the project list screen.
type Project struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	OwnerID     string     `json:"ownerId,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewProject is the create payload for a project.
type NewProject struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
}

func (n NewProject) Validate() error {
	if strings.TrimSpace(n.Name) == "" {
		return fmt.Errorf("%w: project name is required", ErrInvalidProject)
	}
	if n.StartDate != nil && n.EndDate != nil && n.EndDate.Before(*n.StartDate) {
		return fmt.Errorf("%w: project ends before it starts", ErrInvalidProject)
	}
	return nil
}

// Project statuses. New projects start active.
const (
	ProjectActive    = "active"
	ProjectInactive  = "inactive"
	ProjectCompleted = "completed"
	ProjectArchived  = "archived"
)

func validProjectStatus(s string) bool {
	switch s {
	case ProjectActive, ProjectInactive, ProjectCompleted, ProjectArchived:
		return true
	}
	return false
}

// ProjectPatch is a partial project update. Nil fields are left unchanged.
type ProjectPatch struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
}

func (p ProjectPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Status == nil &&
		p.StartDate == nil && p.EndDate == nil
}

func (p ProjectPatch) Validate() error {
	if p.Empty() {
		return fmt.Errorf("%w: update had no fields", ErrInvalidProject)
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: project name cannot be blank", ErrInvalidProject)
	}
	if p.Status != nil && !validProjectStatus(*p.Status) {
		return fmt.Errorf("%w: unknown project status %q", ErrInvalidProject, *p.Status)
	}
	return nil
}

// Apply returns old with the patch applied. The dates are checked against
// each other after merging, so moving only one of them can still fail.
func (p ProjectPatch) Apply(old Project) (Project, error) {
	if p.Name != nil {
		old.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		old.Description = *p.Description
	}
	if p.Status != nil {
		old.Status = *p.Status
	}
	if p.StartDate != nil {
		start := *p.StartDate
		old.StartDate = &start
	}
	if p.EndDate != nil {
		end := *p.EndDate
		old.EndDate = &end
	}
	if old.StartDate != nil && old.EndDate != nil && old.EndDate.Before(*old.StartDate) {
		return Project{}, fmt.Errorf("%w: project ends before it starts", ErrInvalidProject)
	}
	return old, nil
}

// ProjectStats summarises the tasks of one project.
type ProjectStats struct {
	TotalTasks     int `json:"totalTasks"`
	CompletedTasks int `json:"completedTasks"`
	OverdueTasks   int `json:"overdueTasks"`
	ActiveTasks    int `json:"activeTasks"`
	Progress       int `json:"progress"`
}

// ComputeProjectStats counts the tasks belonging to projectID. Progress is a
// whole percentage of completed tasks.
func ComputeProjectStats(projectID int64, tasks []Task, now time.Time) ProjectStats {
	var ps ProjectStats
	for _, t := range tasks {
		if t.ProjectID != projectID {
			continue
		}
		ps.TotalTasks++
		switch {
		case !t.Pending:
			ps.CompletedTasks++
		case t.Status == StatusInProgress || t.Status == StatusTesting:
			ps.ActiveTasks++
		}
		if t.Overdue(now) {
			ps.OverdueTasks++
		}
	}
	if ps.TotalTasks > 0 {
		ps.Progress = ps.CompletedTasks * 100 / ps.TotalTasks
	}
	return ps
}
