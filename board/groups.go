package board

import (
	"time"

	"taskmanagement/domain"
)

// Group is a labelled run of tasks. Empty groups are kept so columns stay
// stable as tasks move between them.
type Group struct {
	Key   string        `json:"key"`
	Tasks []domain.Task `json:"tasks"`
}

// GroupByStatus buckets tasks by status in workflow order.
func GroupByStatus(tasks []domain.Task) []Group {
	keys := make([]string, len(domain.Statuses))
	for i, s := range domain.Statuses {
		keys[i] = string(s)
	}
	return bucket(tasks, keys, func(t domain.Task) string { return string(t.Status) })
}

// GroupByPriority buckets tasks from High to Low. Tasks without a priority
// are counted as Medium.
func GroupByPriority(tasks []domain.Task) []Group {
	order := []domain.Priority{domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow}
	keys := make([]string, len(order))
	for i, p := range order {
		keys[i] = p.String()
	}
	return bucket(tasks, keys, func(t domain.Task) string {
		if !t.Priority.Valid() {
			return domain.PriorityMedium.String()
		}
		return t.Priority.String()
	})
}

// Due date buckets.
const (
	DuePast     = "past"
	DueToday    = "today"
	DueThisWeek = "this-week"
	DueLater    = "later"
	DueNone     = "no-date"
)

// GroupByDue buckets tasks by due date relative to now. Day boundaries use
// the location of now.
func GroupByDue(tasks []domain.Task, now time.Time) []Group {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	tomorrow := startOfDay.AddDate(0, 0, 1)
	nextWeek := startOfDay.AddDate(0, 0, 7)
	keys := []string{DuePast, DueToday, DueThisWeek, DueLater, DueNone}
	return bucket(tasks, keys, func(t domain.Task) string {
		switch {
		case t.DueDate == nil:
			return DueNone
		case t.DueDate.Before(now):
			return DuePast
		case t.DueDate.Before(tomorrow):
			return DueToday
		case t.DueDate.Before(nextWeek):
			return DueThisWeek
		default:
			return DueLater
		}
	})
}

func bucket(tasks []domain.Task, keys []string, keyOf func(domain.Task) string) []Group {
	groups := make([]Group, len(keys))
	index := make(map[string]int, len(keys))
	for i, k := range keys {
		groups[i] = Group{Key: k, Tasks: []domain.Task{}}
		index[k] = i
	}
	for _, t := range tasks {
		i, ok := index[keyOf(t)]
		if !ok {
			continue
		}
		groups[i].Tasks = append(groups[i].Tasks, t)
	}
	return groups
}
