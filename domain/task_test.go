package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func seedTasks() []Task {
	return []Task{
		{ID: 1, Title: "Complete project proposal", Status: StatusToDo, Pending: true, Priority: PriorityHigh},
		{ID: 2, Title: "Review design mockups", Status: StatusToDo, Pending: true, Priority: PriorityMedium},
		{ID: 3, Title: "Update documentation", Status: StatusInProgress, Pending: true, Priority: PriorityLow},
		{ID: 4, Title: "Prepare slides", Status: StatusDone, Pending: false, Priority: PriorityHigh},
	}
}

func TestTaskMarshalUsesPriorityNames(t *testing.T) {
	task := Task{ID: 7, Title: "Ship", Priority: PriorityHigh, Status: StatusToDo, Pending: true}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	if !strings.Contains(string(payload), `"priority":"High"`) {
		t.Fatalf("expected priority name in payload, got %s", payload)
	}
	if !strings.Contains(string(payload), `"pending":true`) {
		t.Fatalf("expected pending flag to be present, got %s", payload)
	}

	var decoded Task
	if err := sonic.Unmarshal([]byte(`{"id":1,"title":"x","priority":"low","status":"completed"}`), &decoded); err != nil {
		t.Fatalf("unmarshal legacy payload: %v", err)
	}
	if decoded.Priority != PriorityLow || decoded.Status != StatusDone {
		t.Fatalf("unexpected decoded task: %#v", decoded)
	}
}

func TestParseStatusAcceptsLegacyNames(t *testing.T) {
	tests := map[string]Status{
		"TO_DO":       StatusToDo,
		"TODO":        StatusToDo,
		"in_progress": StatusInProgress,
		"completed":   StatusDone,
		" DONE ":      StatusDone,
	}
	for raw, want := range tests {
		got, err := ParseStatus(raw)
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseStatus(%q) = %s, want %s", raw, got, want)
		}
	}
	if _, err := ParseStatus("archived"); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got %v", err)
	}
}

func TestStatusNextCycles(t *testing.T) {
	s := StatusToDo
	seen := []Status{s}
	for i := 0; i < 3; i++ {
		s = s.Next()
		seen = append(seen, s)
	}
	want := []Status{StatusToDo, StatusInProgress, StatusDone, StatusToDo}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("cycle step %d = %s, want %s", i, seen[i], want[i])
		}
	}
	if StatusBlocked.Next() != StatusDone {
		t.Fatalf("blocked tasks should advance to done")
	}
}

func TestPatchNormalizeKeepsPendingInvariant(t *testing.T) {
	base := Task{ID: 1, Title: "t", Status: StatusToDo, Pending: true}

	for _, st := range Statuses {
		got := StatusPatch(st).Apply(base)
		if got.Pending != (got.Status != StatusDone) {
			t.Fatalf("status %s: pending=%v breaks invariant", st, got.Pending)
		}
	}

	done := PendingPatch(false).Apply(base)
	if done.Status != StatusDone || done.Pending {
		t.Fatalf("pending=false should complete the task, got %#v", done)
	}
	reopened := PendingPatch(true).Apply(done)
	if reopened.Status != StatusToDo || !reopened.Pending {
		t.Fatalf("pending=true should reopen the task, got %#v", reopened)
	}

	status := StatusInProgress
	pending := false
	conflicting := TaskPatch{Status: &status, Pending: &pending}.Apply(base)
	if !conflicting.Pending || conflicting.Status != StatusInProgress {
		t.Fatalf("status should win over pending, got %#v", conflicting)
	}
}

func TestPatchValidate(t *testing.T) {
	if err := (TaskPatch{}).Validate(); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected empty patch to be rejected, got %v", err)
	}
	blank := "  "
	if err := (TaskPatch{Title: &blank}).Validate(); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected blank title to be rejected, got %v", err)
	}
	bad := Status("ARCHIVED")
	if err := (TaskPatch{Status: &bad}).Validate(); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected unknown status to be rejected, got %v", err)
	}
}

func TestNewTaskNormalize(t *testing.T) {
	pending := true
	n := NewTask{Title: " New task ", Status: StatusToDo, Pending: &pending}.Normalize()
	if n.Title != "New task" || n.Priority != PriorityMedium || !*n.Pending {
		t.Fatalf("unexpected normalized task: %#v", n)
	}

	notPending := false
	done := NewTask{Title: "x", Pending: &notPending}.Normalize()
	if done.Status != StatusDone || *done.Pending {
		t.Fatalf("lone pending=false should create a done task, got %#v", done)
	}

	now := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	built := NewTask{Title: "x"}.Build(9, now)
	if built.ID != 9 || !built.CreatedAt.Equal(now) || !built.UpdatedAt.Equal(now) || !built.Pending {
		t.Fatalf("unexpected built task: %#v", built)
	}

	if err := (NewTask{Title: "   "}).Validate(); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected missing title to be rejected, got %v", err)
	}
}

func TestOverdue(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if !(Task{Pending: true, DueDate: &past}).Overdue(now) {
		t.Fatalf("pending task past due should be overdue")
	}
	if (Task{Pending: false, DueDate: &past}).Overdue(now) {
		t.Fatalf("completed task is never overdue")
	}
	if (Task{Pending: true, DueDate: &future}).Overdue(now) {
		t.Fatalf("future due date is not overdue")
	}
	if (Task{Pending: true}).Overdue(now) {
		t.Fatalf("task without due date is not overdue")
	}
}
