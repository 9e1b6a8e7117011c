// Package board arranges tasks for display: tabs, search, grouping and the
// summary counters of the home card. Everything here is view-local and never
// touches the remote.
package board

import (
	"fmt"
	"strings"
	"time"

	"taskmanagement/domain"
)

// DefaultLimit is how many tasks a card shows before "show all".
const DefaultLimit = 4

// Tab selects a slice of the task list.
type Tab string

const (
	Upcoming  Tab = "upcoming"
	Completed Tab = "completed"
	Overdue   Tab = "overdue"
)

// Tabs in display order.
var Tabs = []Tab{Upcoming, Overdue, Completed}

// ParseTab accepts a tab name in any case.
func ParseTab(raw string) (Tab, error) {
	t := Tab(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case Upcoming, Completed, Overdue:
		return t, nil
	case "":
		return Upcoming, nil
	}
	return "", fmt.Errorf("unknown tab %q", raw)
}

// Includes reports whether task belongs on the tab.
func (t Tab) Includes(task domain.Task, now time.Time) bool {
	switch t {
	case Completed:
		return !task.Pending
	case Overdue:
		return task.Overdue(now)
	default:
		return task.Pending
	}
}

// Card is one rendered tab.
type Card struct {
	Tab     Tab
	Tasks   []domain.Task
	Matched int
	HasMore bool
}

// Show filters tasks for tab. Unless showAll is set at most limit tasks are
// returned; limit <= 0 means DefaultLimit.
func Show(tasks []domain.Task, tab Tab, now time.Time, limit int, showAll bool) Card {
	if limit <= 0 {
		limit = DefaultLimit
	}
	matched := make([]domain.Task, 0, len(tasks))
	for _, task := range tasks {
		if tab.Includes(task, now) {
			matched = append(matched, task)
		}
	}
	card := Card{Tab: tab, Matched: len(matched), HasMore: len(matched) > limit}
	if showAll || len(matched) <= limit {
		card.Tasks = matched
		card.HasMore = false
		return card
	}
	card.Tasks = matched[:limit]
	return card
}

// Search keeps tasks whose title or description contains term, ignoring
// case. A blank term keeps everything.
func Search(tasks []domain.Task, term string) []domain.Task {
	term = strings.TrimSpace(term)
	if term == "" {
		return tasks
	}
	return domain.Query{Filter: domain.Filter{domain.FilterSearch: term}}.Apply(tasks)
}

// Summary holds the counters shown in the card header.
type Summary struct {
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
	Total     int `json:"total"`
}

// Summarize counts tasks the way the home card does.
func Summarize(tasks []domain.Task, now time.Time) Summary {
	s := Summary{Total: len(tasks)}
	for _, task := range tasks {
		if !task.Pending {
			s.Completed++
		}
		if task.Overdue(now) {
			s.Overdue++
		}
	}
	return s
}

// Viewer exposes the displayed value of a row. *optimistic.Rows satisfies it.
type Viewer interface {
	View(id int64) (domain.Task, bool)
}

// Merge replaces every task that has a local overlay with its displayed
// value. The input is not modified.
func Merge(tasks []domain.Task, v Viewer) []domain.Task {
	out := make([]domain.Task, len(tasks))
	for i, task := range tasks {
		if shown, ok := v.View(task.ID); ok {
			task = shown
		}
		out[i] = task
	}
	return out
}
