package board

import (
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"taskmanagement/domain"
)

var now = time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func fixture() []domain.Task {
	tasks := []domain.Task{
		{ID: 1, Title: "Draft agenda", Status: domain.StatusToDo, DueDate: at(-48 * time.Hour), Priority: domain.PriorityHigh},
		{ID: 2, Title: "Book room", Status: domain.StatusInProgress, DueDate: at(2 * time.Hour), Priority: domain.PriorityLow},
		{ID: 3, Title: "Send invites", Description: "Agenda attached", Status: domain.StatusToDo, DueDate: at(72 * time.Hour)},
		{ID: 4, Title: "Order food", Status: domain.StatusDone, DueDate: at(-24 * time.Hour), Priority: domain.PriorityMedium},
		{ID: 5, Title: "Print badges", Status: domain.StatusBlocked, Priority: domain.PriorityHigh},
		{ID: 6, Title: "Rehearse", Status: domain.StatusTesting, DueDate: at(30 * 24 * time.Hour)},
	}
	for i := range tasks {
		tasks[i] = tasks[i].Normalize()
	}
	return tasks
}

func idsOf(tasks []domain.Task) []int64 {
	out := []int64{}
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestShowTabs(t *testing.T) {
	tests := []struct {
		tab         Tab
		showAll     bool
		wantIDs     []int64
		wantMatched int
		wantHasMore bool
	}{
		{tab: Upcoming, wantIDs: []int64{1, 2, 3, 5}, wantMatched: 5, wantHasMore: true},
		{tab: Upcoming, showAll: true, wantIDs: []int64{1, 2, 3, 5, 6}, wantMatched: 5},
		{tab: Completed, wantIDs: []int64{4}, wantMatched: 1},
		{tab: Overdue, wantIDs: []int64{1}, wantMatched: 1},
	}
	for _, tt := range tests {
		card := Show(fixture(), tt.tab, now, 0, tt.showAll)
		if diff := cmp.Diff(tt.wantIDs, idsOf(card.Tasks)); diff != "" {
			t.Fatalf("%s showAll=%v (-want +got):\n%s", tt.tab, tt.showAll, diff)
		}
		if card.Matched != tt.wantMatched || card.HasMore != tt.wantHasMore {
			t.Fatalf("%s: matched=%d hasMore=%v", tt.tab, card.Matched, card.HasMore)
		}
	}
}

func TestParseTab(t *testing.T) {
	if tab, err := ParseTab(" Overdue "); err != nil || tab != Overdue {
		t.Fatalf("unexpected tab %q err %v", tab, err)
	}
	if tab, _ := ParseTab(""); tab != Upcoming {
		t.Fatalf("expected upcoming default, got %q", tab)
	}
	if _, err := ParseTab("archived"); err == nil {
		t.Fatalf("expected error for unknown tab")
	}
}

func TestSearchKeepsInputOrder(t *testing.T) {
	tasks := fixture()
	slices.Reverse(tasks)
	got := idsOf(Search(tasks, "agenda"))
	if diff := cmp.Diff([]int64{3, 1}, got); diff != "" {
		t.Fatalf("search reordered tasks (-want +got):\n%s", diff)
	}
}

func TestSearch(t *testing.T) {
	got := idsOf(Search(fixture(), "AGENDA"))
	if diff := cmp.Diff([]int64{1, 3}, got); diff != "" {
		t.Fatalf("unexpected search result (-want +got):\n%s", diff)
	}
	if n := len(Search(fixture(), "  ")); n != 6 {
		t.Fatalf("blank search should keep all, got %d", n)
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize(fixture(), now)
	want := Summary{Completed: 1, Overdue: 1, Total: 6}
	if got != want {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func groupIDs(groups []Group) map[string][]int64 {
	out := map[string][]int64{}
	for _, g := range groups {
		out[g.Key] = idsOf(g.Tasks)
	}
	return out
}

func TestGroupByStatusKeepsEmptyGroups(t *testing.T) {
	tasks := fixture()[:2]
	groups := GroupByStatus(tasks)
	if len(groups) != len(domain.Statuses) || groups[0].Key != "TO_DO" || groups[4].Key != "DONE" {
		t.Fatalf("unexpected group order %#v", groups)
	}
	want := map[string][]int64{
		"TO_DO":       {1},
		"IN_PROGRESS": {2},
		"BLOCKED":     {},
		"TESTING":     {},
		"DONE":        {},
	}
	if diff := cmp.Diff(want, groupIDs(groups)); diff != "" {
		t.Fatalf("unexpected groups (-want +got):\n%s", diff)
	}
}

func TestGroupByPriority(t *testing.T) {
	want := map[string][]int64{
		"High":   {1, 5},
		"Medium": {3, 4, 6},
		"Low":    {2},
	}
	if diff := cmp.Diff(want, groupIDs(GroupByPriority(fixture()))); diff != "" {
		t.Fatalf("unexpected groups (-want +got):\n%s", diff)
	}
}

func TestGroupByDue(t *testing.T) {
	want := map[string][]int64{
		DuePast:     {1, 4},
		DueToday:    {2},
		DueThisWeek: {3},
		DueLater:    {6},
		DueNone:     {5},
	}
	if diff := cmp.Diff(want, groupIDs(GroupByDue(fixture(), now))); diff != "" {
		t.Fatalf("unexpected groups (-want +got):\n%s", diff)
	}
}

type viewerFunc func(int64) (domain.Task, bool)

func (f viewerFunc) View(id int64) (domain.Task, bool) { return f(id) }

func TestMergeUsesDisplayedValue(t *testing.T) {
	tasks := fixture()
	optimistic := tasks[0]
	optimistic.Pending = false
	optimistic.Status = domain.StatusDone

	merged := Merge(tasks, viewerFunc(func(id int64) (domain.Task, bool) {
		if id == 1 {
			return optimistic, true
		}
		return domain.Task{}, false
	}))
	if merged[0].Pending || !tasks[0].Pending {
		t.Fatalf("expected overlay in copy only")
	}
	if s := Summarize(merged, now); s.Completed != 2 || s.Overdue != 0 {
		t.Fatalf("unexpected summary after merge %#v", s)
	}
}
