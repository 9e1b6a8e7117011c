package domain

import (
	"errors"
	"net/url"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestQueryKeyIsStable(t *testing.T) {
	a := Query{Filter: Filter{"status": "TO_DO", "assignee": "ana"}, Sort: Sort{Field: SortDueDate}}
	b := Query{Filter: Filter{"assignee": " ana ", "status": "TO_DO", "tag": ""}, Sort: Sort{Field: SortDueDate}}

	if a.Key() != b.Key() {
		t.Fatalf("equivalent queries produced different keys: %q vs %q", a.Key(), b.Key())
	}
	if a.Key() != "tasks?assignee=ana&order=asc&sort=dueDate&status=TO_DO" {
		t.Fatalf("unexpected key: %q", a.Key())
	}

	c := a
	c.Sort.Desc = true
	if c.Key() == a.Key() {
		t.Fatalf("sort direction must be part of the key")
	}
	if (Query{}).Key() != TasksKeyPrefix {
		t.Fatalf("empty query key = %q", (Query{}).Key())
	}
}

func TestParseQueryRoundTrip(t *testing.T) {
	q := Query{Filter: Filter{"status": "DONE", "priority": "High"}, Sort: Sort{Field: SortTitle, Desc: true}}
	values := q.Values()
	values.Set("pageToken", "abc")

	parsed, err := ParseQuery(values)
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	if diff := cmp.Diff(q, parsed); diff != "" {
		t.Fatalf("query mismatch (-want +got):\n%s", diff)
	}
	if parsed.Key() != q.Key() {
		t.Fatalf("parsed key %q != %q", parsed.Key(), q.Key())
	}

	if _, err := ParseQuery(url.Values{"sort": {"color"}}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for unknown sort field, got %v", err)
	}
	if _, err := ParseQuery(url.Values{"order": {"sideways"}}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for unknown order, got %v", err)
	}
}

func TestQueryKeyCanonicalizesAliases(t *testing.T) {
	cases := []struct {
		name string
		a, b Filter
	}{
		{name: "status alias", a: Filter{FilterStatus: "todo"}, b: Filter{FilterStatus: "TO_DO"}},
		{name: "completed", a: Filter{FilterStatus: "completed"}, b: Filter{FilterStatus: "DONE"}},
		{name: "priority case", a: Filter{FilterPriority: "HIGH"}, b: Filter{FilterPriority: "High"}},
		{name: "pending", a: Filter{FilterPending: "1"}, b: Filter{FilterPending: "true"}},
		{name: "project", a: Filter{FilterProject: "007"}, b: Filter{FilterProject: "7"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, b := Query{Filter: tc.a}, Query{Filter: tc.b}
			if a.Key() != b.Key() {
				t.Fatalf("keys differ: %q vs %q", a.Key(), b.Key())
			}
		})
	}

	// Unparseable values still reach the server verbatim.
	if got := (Query{Filter: Filter{FilterStatus: "archived"}}).Values().Get(FilterStatus); got != "archived" {
		t.Fatalf("unparseable status rewritten to %q", got)
	}
}

func TestValuesDropsReservedFilterKeys(t *testing.T) {
	q := Query{
		Filter: Filter{"sort": "x", "order": "desc", "pageToken": "t", "pageSize": "5", FilterTag: "work"},
		Sort:   Sort{Field: SortTitle},
	}
	v := q.Values()
	if v.Get("sort") != SortTitle || v.Get("order") != "asc" {
		t.Fatalf("sort parameters overwritten: %v", v)
	}
	if v.Has("pageToken") || v.Has("pageSize") {
		t.Fatalf("paging keys leaked from filter: %v", v)
	}
	if v.Get(FilterTag) != "work" {
		t.Fatalf("tag filter lost: %v", v)
	}
	if got := (Query{Filter: Filter{"sort": "x"}}).Key(); got != TasksKeyPrefix {
		t.Fatalf("reserved filter key changed the cache key: %q", got)
	}
}

func TestParseQueryRejectsBadFilterValues(t *testing.T) {
	cases := []url.Values{
		{FilterStatus: {"ARCHIVED"}},
		{FilterPriority: {"urgent"}},
		{FilterPending: {"maybe"}},
		{FilterProject: {"abc"}},
	}
	for _, v := range cases {
		if _, err := ParseQuery(v); !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("%v: expected ErrInvalidQuery, got %v", v, err)
		}
	}

	q, err := ParseQuery(url.Values{FilterStatus: {"todo"}, FilterPriority: {"HIGH"}, "workspace": {"w1"}})
	if err != nil {
		t.Fatalf("parse aliases: %v", err)
	}
	want := Filter{FilterStatus: "TO_DO", FilterPriority: "High", "workspace": "w1"}
	if diff := cmp.Diff(want, q.Filter); diff != "" {
		t.Fatalf("filter mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyWithoutSortKeepsInputOrder(t *testing.T) {
	tasks := seedTasks()
	slices.Reverse(tasks)
	got := Query{Filter: Filter{FilterPending: "true"}}.Apply(tasks)
	ids := make([]int64, 0, len(got))
	for _, task := range got {
		ids = append(ids, task.ID)
	}
	if diff := cmp.Diff([]int64{3, 2, 1}, ids); diff != "" {
		t.Fatalf("unsorted apply reordered tasks (-want +got):\n%s", diff)
	}
}

func TestQueryApplyFiltersByStatus(t *testing.T) {
	got := Query{Filter: Filter{FilterStatus: "TO_DO"}}.Apply(seedTasks())
	if len(got) != 2 {
		t.Fatalf("expected 2 TO_DO tasks, got %d", len(got))
	}
	for _, task := range got {
		if task.Status != StatusToDo {
			t.Fatalf("unexpected task in result: %#v", task)
		}
	}
}

func TestQueryApplyPredicates(t *testing.T) {
	tasks := seedTasks()
	tasks[0].Assignees = []string{"ana"}
	tasks[1].Tag = "Design"
	tasks[2].ProjectID = 42

	cases := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{name: "assignee", filter: Filter{FilterAssignee: "ana"}, want: []int64{1}},
		{name: "tag case-insensitive", filter: Filter{FilterTag: "design"}, want: []int64{2}},
		{name: "project", filter: Filter{FilterProject: "42"}, want: []int64{3}},
		{name: "pending false", filter: Filter{FilterPending: "false"}, want: []int64{4}},
		{name: "priority", filter: Filter{FilterPriority: "high"}, want: []int64{1, 4}},
		{name: "search", filter: Filter{FilterSearch: "DESIGN"}, want: []int64{2}},
		{name: "unknown keys ignored", filter: Filter{"workspace": "w1"}, want: []int64{1, 2, 3, 4}},
		{name: "bad status matches nothing", filter: Filter{FilterStatus: "nope"}, want: []int64{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Query{Filter: tc.filter}.Apply(tasks)
			ids := make([]int64, 0, len(got))
			for _, task := range got {
				ids = append(ids, task.ID)
			}
			if diff := cmp.Diff(tc.want, ids); diff != "" {
				t.Fatalf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSortTasks(t *testing.T) {
	tasks := seedTasks()
	SortTasks(tasks, Sort{Field: SortPriority, Desc: true})
	want := []int64{1, 4, 2, 3}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Fatalf("priority desc position %d = %d, want %d", i, tasks[i].ID, id)
		}
	}

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := day.Add(48 * time.Hour)
	tasks = seedTasks()
	tasks[2].DueDate = &day
	tasks[0].DueDate = &later
	SortTasks(tasks, Sort{Field: SortDueDate})
	if tasks[0].ID != 3 || tasks[1].ID != 1 {
		t.Fatalf("due date sort put %d,%d first", tasks[0].ID, tasks[1].ID)
	}
	if tasks[2].DueDate != nil || tasks[3].DueDate != nil {
		t.Fatalf("tasks without due date should sort last")
	}
}

func TestComputeStats(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	tasks := seedTasks()
	tasks[0].DueDate = &past
	tasks[3].DueDate = &past

	s := ComputeStats(tasks, now)
	if s.Total != 4 || s.Completed != 1 || s.Overdue != 1 {
		t.Fatalf("unexpected stats: %#v", s)
	}
	if s.ByStatus[StatusToDo] != 2 || s.ByStatus[StatusInProgress] != 1 || s.ByStatus[StatusDone] != 1 {
		t.Fatalf("unexpected status counts: %#v", s.ByStatus)
	}
	if _, ok := s.ByStatus[StatusBlocked]; !ok {
		t.Fatalf("every status should be present in the breakdown")
	}
}

func TestComputeProjectStats(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tasks := seedTasks()
	for i := range tasks {
		tasks[i].ProjectID = 5
	}
	tasks[0].ProjectID = 6

	ps := ComputeProjectStats(5, tasks, now)
	if ps.TotalTasks != 3 || ps.CompletedTasks != 1 || ps.ActiveTasks != 1 || ps.Progress != 33 {
		t.Fatalf("unexpected project stats: %#v", ps)
	}
	if empty := ComputeProjectStats(99, tasks, now); empty.Progress != 0 || empty.TotalTasks != 0 {
		t.Fatalf("unexpected stats for empty project: %#v", empty)
	}
}
