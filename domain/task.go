package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrInvalidTask marks payloads rejected before they reach storage.
var ErrInvalidTask = errors.New("invalid task")

// Task is the authoritative record held by the remote collaborator.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	Pending     bool       `json:"pending"`
	Tag         string     `json:"tag,omitempty"`
	Assignees   []string   `json:"assignees,omitempty"`
	ProjectID   int64      `json:"projectId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Normalize re-derives the pending flag from the status.
func (t Task) Normalize() Task {
	t.Pending = !t.Status.Done()
	return t
}

// Overdue reports whether the task is still pending past its due date.
func (t Task) Overdue(now time.Time) bool {
	return t.Pending && t.DueDate != nil && t.DueDate.Before(now)
}

// NewTask is the create payload. The server assigns id and timestamps.
type NewTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	Status      Status     `json:"status,omitempty"`
	Pending     *bool      `json:"pending,omitempty"`
	Tag         string     `json:"tag,omitempty"`
	Assignees   []string   `json:"assignees,omitempty"`
	ProjectID   int64      `json:"projectId,omitempty"`
}

// Validate rejects payloads that cannot become a task.
func (n NewTask) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if n.Status != "" && !n.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, n.Status)
	}
	if n.Priority != 0 && !n.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %d", ErrInvalidTask, n.Priority)
	}
	return nil
}

// Normalize fills defaults. Status wins over pending when both are set;
// a lone pending=false means the task is created done.
func (n NewTask) Normalize() NewTask {
	n.Title = strings.TrimSpace(n.Title)
	if n.Priority == 0 {
		n.Priority = PriorityMedium
	}
	if n.Status == "" {
		n.Status = StatusToDo
		if n.Pending != nil && !*n.Pending {
			n.Status = StatusDone
		}
	}
	pending := !n.Status.Done()
	n.Pending = &pending
	return n
}

// Build turns a normalized payload into a record.
func (n NewTask) Build(id int64, now time.Time) Task {
	n = n.Normalize()
	return Task{
		ID:          id,
		Title:       n.Title,
		Description: n.Description,
		DueDate:     n.DueDate,
		Priority:    n.Priority,
		Status:      n.Status,
		Pending:     *n.Pending,
		Tag:         n.Tag,
		Assignees:   slices.Clone(n.Assignees),
		ProjectID:   n.ProjectID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TaskPatch carries a partial update. Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Pending     *bool      `json:"pending,omitempty"`
	Tag         *string    `json:"tag,omitempty"`
	Assignees   []string   `json:"assignees,omitempty"`
	ProjectID   *int64     `json:"projectId,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.DueDate == nil &&
		p.Priority == nil && p.Status == nil && p.Pending == nil &&
		p.Tag == nil && p.Assignees == nil && p.ProjectID == nil
}

// Validate rejects patches the server would refuse.
func (p TaskPatch) Validate() error {
	if p.Empty() {
		return fmt.Errorf("%w: update had no fields", ErrInvalidTask)
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title cannot be blank", ErrInvalidTask)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %d", ErrInvalidTask, *p.Priority)
	}
	return nil
}

// Normalize keeps status and pending consistent. A status always decides
// pending; a lone pending flag moves the task to DONE or back to TO_DO.
func (p TaskPatch) Normalize() TaskPatch {
	switch {
	case p.Status != nil:
		pending := !p.Status.Done()
		p.Pending = &pending
	case p.Pending != nil:
		status := StatusToDo
		if !*p.Pending {
			status = StatusDone
		}
		p.Status = &status
	}
	return p
}

// Apply returns t with the patch merged in.
func (p TaskPatch) Apply(t Task) Task {
	p = p.Normalize()
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.DueDate != nil {
		due := *p.DueDate
		t.DueDate = &due
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Tag != nil {
		t.Tag = *p.Tag
	}
	if p.Assignees != nil {
		t.Assignees = slices.Clone(p.Assignees)
	}
	if p.ProjectID != nil {
		t.ProjectID = *p.ProjectID
	}
	return t.Normalize()
}

// StatusPatch builds the patch used by status moves.
func StatusPatch(s Status) TaskPatch {
	return TaskPatch{Status: &s}.Normalize()
}

// PendingPatch builds the patch used by the done toggle.
func PendingPatch(pending bool) TaskPatch {
	return TaskPatch{Pending: &pending}.Normalize()
}
