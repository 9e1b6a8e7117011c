package domain

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Filter fields understood by both sides of the wire.
const (
	FilterStatus   = "status"
	FilterPriority = "priority"
	FilterAssignee = "assignee"
	FilterProject  = "projectId"
	FilterTag      = "tag"
	FilterPending  = "pending"
	FilterSearch   = "search"

	sortParam      = "sort"
	orderParam     = "order"
	pageTokenParam = "pageToken"
	pageSizeParam  = "pageSize"
)

// Cache key namespaces.
const (
	TasksKeyPrefix   = "tasks?"
	StatsKey         = "tasks/stats"
	ProjectsKey      = "projects"
	ProjectKeyPrefix = "projects/"
)

// Sortable task fields.
const (
	SortID        = "id"
	SortTitle     = "title"
	SortDueDate   = "dueDate"
	SortPriority  = "priority"
	SortStatus    = "status"
	SortCreatedAt = "createdAt"
	SortUpdatedAt = "updatedAt"
)

// ErrInvalidQuery is returned for unparseable sort, order or filter values.
var ErrInvalidQuery = errors.New("invalid query")

// Filter maps a field to the value it must equal. Fields the client does not
// know are forwarded to the server and ignored locally.
type Filter map[string]string

// Sort orders a result set. An empty field keeps server order.
type Sort struct {
	Field string `json:"field,omitempty"`
	Desc  bool   `json:"desc,omitempty"`
}

// Query is the cache identity of a task list subscription.
type Query struct {
	Filter Filter `json:"filter,omitempty"`
	Sort   Sort   `json:"sort,omitempty"`
}

// Values encodes the query as request parameters. Blank values and filter
// keys that clash with sort or paging parameters are dropped. Known fields
// are written in canonical form so alias spellings share one key; values
// that do not parse are sent as given and left for the server to reject.
func (q Query) Values() url.Values {
	v := url.Values{}
	for k, val := range q.Filter {
		k = strings.TrimSpace(k)
		val = strings.TrimSpace(val)
		if k == "" || val == "" || reservedParam(k) {
			continue
		}
		if canon, err := canonicalFilterValue(k, val); err == nil {
			val = canon
		}
		v.Set(k, val)
	}
	if f := strings.TrimSpace(q.Sort.Field); f != "" {
		v.Set(sortParam, f)
		if q.Sort.Desc {
			v.Set(orderParam, "desc")
		} else {
			v.Set(orderParam, "asc")
		}
	}
	return v
}

// Key is a stable serialization: equivalent queries always yield the same
// key regardless of map iteration order or surrounding whitespace.
func (q Query) Key() string {
	return TasksKeyPrefix + q.Values().Encode()
}

// ParseQuery reads a query back from request parameters, skipping paging
// parameters.
func ParseQuery(v url.Values) (Query, error) {
	q := Query{Filter: Filter{}}
	for k, vals := range v {
		if len(vals) == 0 {
			continue
		}
		switch k {
		case pageTokenParam, pageSizeParam:
			continue
		case sortParam:
			q.Sort.Field = strings.TrimSpace(vals[0])
		case orderParam:
			switch strings.ToLower(strings.TrimSpace(vals[0])) {
			case "desc":
				q.Sort.Desc = true
			case "asc", "":
			default:
				return Query{}, fmt.Errorf("%w: unknown order %q", ErrInvalidQuery, vals[0])
			}
		default:
			val := strings.TrimSpace(vals[0])
			if val == "" {
				continue
			}
			canon, err := canonicalFilterValue(k, val)
			if err != nil {
				return Query{}, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, k, err)
			}
			q.Filter[k] = canon
		}
	}
	if q.Sort.Field != "" && !validSortField(q.Sort.Field) {
		return Query{}, fmt.Errorf("%w: unknown sort field %q", ErrInvalidQuery, q.Sort.Field)
	}
	return q, nil
}

func reservedParam(k string) bool {
	switch k {
	case sortParam, orderParam, pageTokenParam, pageSizeParam:
		return true
	}
	return false
}

// canonicalFilterValue normalizes the typed filter fields. Free text fields
// pass through unchanged.
func canonicalFilterValue(k, val string) (string, error) {
	switch k {
	case FilterStatus:
		s, err := ParseStatus(val)
		if err != nil {
			return "", err
		}
		return string(s), nil
	case FilterPriority:
		p, err := ParsePriority(val)
		if err != nil {
			return "", err
		}
		return p.String(), nil
	case FilterPending:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case FilterProject:
		id, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(id, 10), nil
	}
	return val, nil
}

func validSortField(f string) bool {
	switch f {
	case SortID, SortTitle, SortDueDate, SortPriority, SortStatus, SortCreatedAt, SortUpdatedAt:
		return true
	}
	return false
}

// Matches reports whether t satisfies every known predicate.
func (f Filter) Matches(t Task) bool {
	for k, raw := range f {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		switch k {
		case FilterStatus:
			s, err := ParseStatus(val)
			if err != nil || t.Status != s {
				return false
			}
		case FilterPriority:
			p, err := ParsePriority(val)
			if err != nil || t.Priority != p {
				return false
			}
		case FilterAssignee:
			if !slices.Contains(t.Assignees, val) {
				return false
			}
		case FilterProject:
			id, err := strconv.ParseInt(val, 10, 64)
			if err != nil || t.ProjectID != id {
				return false
			}
		case FilterTag:
			if !strings.EqualFold(t.Tag, val) {
				return false
			}
		case FilterPending:
			want, err := strconv.ParseBool(val)
			if err != nil || t.Pending != want {
				return false
			}
		case FilterSearch:
			needle := strings.ToLower(val)
			if !strings.Contains(strings.ToLower(t.Title), needle) &&
				!strings.Contains(strings.ToLower(t.Description), needle) {
				return false
			}
		}
	}
	return true
}

// Apply filters tasks and sorts the survivors. Without a sort field the
// input order is kept.
func (q Query) Apply(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if q.Filter.Matches(t) {
			out = append(out, t)
		}
	}
	SortTasks(out, q.Sort)
	return out
}

// SortTasks sorts in place. Ties fall back to id order. An empty field
// leaves tasks untouched.
func SortTasks(tasks []Task, s Sort) {
	if s.Field == "" {
		return
	}
	compare := compareBy(s.Field)
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		c := compare(a, b)
		if c == 0 {
			return a.ID < b.ID
		}
		if s.Desc {
			return c > 0
		}
		return c < 0
	})
}

func compareBy(field string) func(a, b Task) int {
	switch field {
	case SortID:
		return func(a, b Task) int { return cmp.Compare(a.ID, b.ID) }
	case SortTitle:
		return func(a, b Task) int { return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)) }
	case SortDueDate:
		return func(a, b Task) int {
			switch {
			case a.DueDate == nil && b.DueDate == nil:
				return 0
			case a.DueDate == nil:
				return 1
			case b.DueDate == nil:
				return -1
			}
			return a.DueDate.Compare(*b.DueDate)
		}
	case SortPriority:
		return func(a, b Task) int { return cmp.Compare(a.Priority, b.Priority) }
	case SortStatus:
		return func(a, b Task) int { return cmp.Compare(a.Status.rank(), b.Status.rank()) }
	case SortCreatedAt:
		return func(a, b Task) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case SortUpdatedAt:
		return func(a, b Task) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	default:
		return func(a, b Task) int { return 0 }
	}
}
