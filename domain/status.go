package domain

import (
	"fmt"
	"strings"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusToDo       Status = "TO_DO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusBlocked    Status = "BLOCKED"
	StatusTesting    Status = "TESTING"
	StatusDone       Status = "DONE"
)

// Statuses lists every status in board order.
var Statuses = []Status{StatusToDo, StatusInProgress, StatusBlocked, StatusTesting, StatusDone}

// ParseStatus accepts canonical names and the legacy spellings older
// clients still send ("TODO", "completed").
func ParseStatus(raw string) (Status, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch s {
	case "TO_DO", "TODO":
		return StatusToDo, nil
	case "IN_PROGRESS":
		return StatusInProgress, nil
	case "BLOCKED":
		return StatusBlocked, nil
	case "TESTING":
		return StatusTesting, nil
	case "DONE", "COMPLETED":
		return StatusDone, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTask, raw)
}

// Done reports whether the status is terminal.
func (s Status) Done() bool { return s == StatusDone }

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Next returns the status a row advances to when clicked:
// TO_DO -> IN_PROGRESS -> DONE -> TO_DO. BLOCKED and TESTING move to DONE.
func (s Status) Next() Status {
	switch s {
	case StatusToDo:
		return StatusInProgress
	case StatusInProgress, StatusBlocked, StatusTesting:
		return StatusDone
	default:
		return StatusToDo
	}
}

func (s Status) rank() int {
	for i, v := range Statuses {
		if v == s {
			return i
		}
	}
	return len(Statuses)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = ""
		return nil
	}
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Priority is ordered Low < Medium < High. The zero value means unset.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

// ParsePriority is case-insensitive.
func ParsePriority(raw string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	}
	return 0, fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, raw)
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	}
	return ""
}

func (p Priority) Valid() bool { return p >= PriorityLow && p <= PriorityHigh }

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = 0
		return nil
	}
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
