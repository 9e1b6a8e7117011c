package domain

import "time"

// Stats aggregates the authoritative task set. It is never persisted.
type Stats struct {
	ByStatus  map[Status]int `json:"byStatus"`
	Completed int            `json:"completed"`
	Overdue   int            `json:"overdue"`
	Total     int            `json:"total"`
}

// ComputeStats counts tasks per status and the completed/overdue groups.
func ComputeStats(tasks []Task, now time.Time) Stats {
	s := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	for _, t := range tasks {
		s.ByStatus[t.Status]++
		if !t.Pending {
			s.Completed++
		}
		if t.Overdue(now) {
			s.Overdue++
		}
	}
	s.Total = len(tasks)
	return s
}
