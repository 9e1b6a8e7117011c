package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskmanagement/domain"
)

const (
	counterPartition = "_seq"
	maxCounterTries  = 8
)

// tableClient is the subset of *aztables.Client the repository uses.
type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// Tables stores records in Azure Table Storage. The owner is the partition
// key and the zero-padded id the row key, so listings come back in id order.
// Id counters live in their own partition and are advanced with ETag checks.
type Tables struct {
	tasks    tableClient
	projects tableClient
	clock    *monotonicClock
	logger   *log.Logger
}

// NewTables connects to the account in connStr and creates both tables if
// they are missing.
func NewTables(ctx context.Context, connStr, tasksTable, projectsTable string, opts ...Option) (*Tables, error) {
	clientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &clientOptions)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{tasksTable, projectsTable} {
		if _, err := svc.CreateTable(ctx, name, nil); err != nil && !hasErrorCode(err, "TableAlreadyExists") {
			return nil, fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return newTables(svc.NewClient(tasksTable), svc.NewClient(projectsTable), opts...), nil
}

func newTables(tasks, projects tableClient, opts ...Option) *Tables {
	o := newOptions(opts)
	return &Tables{tasks: tasks, projects: projects, clock: newClock(o.now), logger: o.logger}
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	DueDate     string `json:"DueDate,omitempty"`
	Priority    int    `json:"Priority"`
	Status      string `json:"Status"`
	Tag         string `json:"Tag"`
	Assignees   string `json:"Assignees"`
	ProjectID   string `json:"ProjectID"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

type projectEntity struct {
	aztables.Entity
	Name        string `json:"Name"`
	Description string `json:"Description"`
	StartDate   string `json:"StartDate,omitempty"`
	EndDate     string `json:"EndDate,omitempty"`
	Status      string `json:"Status"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

type counterEntity struct {
	aztables.Entity
	Value int64 `json:"Value"`
}

func rowKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func ownerFilter(owner string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(owner, "'", "''") + "'"
}

func toTaskEntity(owner string, t domain.Task) (taskEntity, error) {
	assignees, err := encodeAssignees(t.Assignees)
	if err != nil {
		return taskEntity{}, err
	}
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: owner, RowKey: rowKey(t.ID)},
		Title:       t.Title,
		Description: t.Description,
		Priority:    int(t.Priority),
		Status:      string(t.Status),
		Tag:         t.Tag,
		Assignees:   assignees,
		ProjectID:   strconv.FormatInt(t.ProjectID, 10),
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}
	if t.DueDate != nil {
		ent.DueDate = formatTime(*t.DueDate)
	}
	return ent, nil
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	id, err := strconv.ParseInt(ent.RowKey, 10, 64)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task row key %q: %w", ent.RowKey, err)
	}
	t := domain.Task{
		ID:          id,
		Title:       ent.Title,
		Description: ent.Description,
		Priority:    domain.Priority(ent.Priority),
		Status:      domain.Status(ent.Status),
		Tag:         ent.Tag,
	}
	if ent.ProjectID != "" {
		if t.ProjectID, err = strconv.ParseInt(ent.ProjectID, 10, 64); err != nil {
			return domain.Task{}, fmt.Errorf("task project id %q: %w", ent.ProjectID, err)
		}
	}
	if ent.DueDate != "" {
		due, err := parseTime(ent.DueDate)
		if err != nil {
			return domain.Task{}, err
		}
		t.DueDate = &due
	}
	if t.CreatedAt, err = parseTime(ent.CreatedAt); err != nil {
		return domain.Task{}, err
	}
	if t.UpdatedAt, err = parseTime(ent.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	if ent.Assignees != "" && ent.Assignees != "[]" {
		if err := sonic.UnmarshalString(ent.Assignees, &t.Assignees); err != nil {
			return domain.Task{}, fmt.Errorf("decode assignees: %w", err)
		}
	}
	return t.Normalize(), nil
}

func toProjectEntity(p domain.Project) projectEntity {
	ent := projectEntity{
		Entity:      aztables.Entity{PartitionKey: p.OwnerID, RowKey: rowKey(p.ID)},
		Name:        p.Name,
		Description: p.Description,
		Status:      p.Status,
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
	if p.StartDate != nil {
		ent.StartDate = formatTime(*p.StartDate)
	}
	if p.EndDate != nil {
		ent.EndDate = formatTime(*p.EndDate)
	}
	return ent
}

func decodeProjectEntity(data []byte) (domain.Project, error) {
	var ent projectEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Project{}, err
	}
	id, err := strconv.ParseInt(ent.RowKey, 10, 64)
	if err != nil {
		return domain.Project{}, fmt.Errorf("project row key %q: %w", ent.RowKey, err)
	}
	p := domain.Project{
		ID:          id,
		Name:        ent.Name,
		Description: ent.Description,
		OwnerID:     ent.PartitionKey,
		Status:      ent.Status,
	}
	for _, f := range []struct {
		raw string
		dst **time.Time
	}{{ent.StartDate, &p.StartDate}, {ent.EndDate, &p.EndDate}} {
		if f.raw == "" {
			continue
		}
		v, err := parseTime(f.raw)
		if err != nil {
			return domain.Project{}, err
		}
		*f.dst = &v
	}
	if p.CreatedAt, err = parseTime(ent.CreatedAt); err != nil {
		return domain.Project{}, err
	}
	if p.UpdatedAt, err = parseTime(ent.UpdatedAt); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// nextID advances the counter row for owner in the given table. Concurrent
// writers retry on ETag conflicts.
func (s *Tables) nextID(ctx context.Context, client tableClient, owner string) (int64, error) {
	for try := 0; try < maxCounterTries; try++ {
		resp, err := client.GetEntity(ctx, counterPartition, owner, nil)
		if isStatus(err, http.StatusNotFound) {
			ent := counterEntity{Entity: aztables.Entity{PartitionKey: counterPartition, RowKey: owner}, Value: 1}
			data, err := sonic.Marshal(ent)
			if err != nil {
				return 0, err
			}
			if _, err := client.AddEntity(ctx, data, nil); err != nil {
				if isStatus(err, http.StatusConflict) {
					continue
				}
				return 0, err
			}
			return 1, nil
		}
		if err != nil {
			return 0, err
		}

		var ent counterEntity
		if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
			return 0, err
		}
		ent.PartitionKey, ent.RowKey = counterPartition, owner
		ent.Value++
		data, err := sonic.Marshal(ent)
		if err != nil {
			return 0, err
		}
		etag := resp.ETag
		_, err = client.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{
			IfMatch:    &etag,
			UpdateMode: aztables.UpdateModeReplace,
		})
		if isStatus(err, http.StatusPreconditionFailed) {
			s.logger.WithFields(log.Fields{"owner": owner, "try": try}).Debug("id counter contention")
			continue
		}
		if err != nil {
			return 0, err
		}
		return ent.Value, nil
	}
	return 0, fmt.Errorf("allocate id for %s: too much contention", owner)
}

func (s *Tables) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	filter := ownerFilter(owner)
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *Tables) QueryTasks(ctx context.Context, owner string, q domain.Query) ([]domain.Task, error) {
	tasks, err := s.ListTasks(ctx, owner)
	return applyQuery(tasks, err, q)
}

func (s *Tables) GetTask(ctx context.Context, owner string, id int64) (domain.Task, error) {
	t, _, err := s.getTask(ctx, owner, id)
	return t, err
}

func (s *Tables) getTask(ctx context.Context, owner string, id int64) (domain.Task, azcore.ETag, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Task{}, "", err
	}
	resp, err := s.tasks.GetEntity(ctx, owner, rowKey(id), nil)
	if isStatus(err, http.StatusNotFound) {
		return domain.Task{}, "", notFound("task", id)
	}
	if err != nil {
		return domain.Task{}, "", err
	}
	t, err := decodeTaskEntity(resp.Value)
	return t, resp.ETag, err
}

func (s *Tables) CreateTask(ctx context.Context, owner string, n domain.NewTask) (domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Task{}, err
	}
	if err := n.Validate(); err != nil {
		return domain.Task{}, err
	}
	id, err := s.nextID(ctx, s.tasks, owner)
	if err != nil {
		return domain.Task{}, err
	}
	t := n.Build(id, s.clock.Now())
	ent, err := toTaskEntity(owner, t)
	if err != nil {
		return domain.Task{}, err
	}
	data, err := sonic.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.tasks.AddEntity(ctx, data, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (s *Tables) UpdateTask(ctx context.Context, owner string, id int64, patch domain.TaskPatch) (domain.Task, error) {
	if err := patch.Validate(); err != nil {
		return domain.Task{}, err
	}
	return s.rewrite(ctx, owner, id, func(old domain.Task, now time.Time) domain.Task {
		t := patch.Apply(old)
		t.UpdatedAt = now
		return t
	})
}

func (s *Tables) ReplaceTask(ctx context.Context, owner string, id int64, n domain.NewTask) (domain.Task, error) {
	if err := n.Validate(); err != nil {
		return domain.Task{}, err
	}
	return s.rewrite(ctx, owner, id, func(old domain.Task, now time.Time) domain.Task {
		return replaceTask(old, n, now)
	})
}

// rewrite is a read-modify-write guarded by the entity ETag. A concurrent
// writer makes the update fail with 412, and the change is re-applied to the
// newer record.
func (s *Tables) rewrite(ctx context.Context, owner string, id int64, change func(domain.Task, time.Time) domain.Task) (domain.Task, error) {
	for try := 0; try < maxCounterTries; try++ {
		old, etag, err := s.getTask(ctx, owner, id)
		if err != nil {
			return domain.Task{}, err
		}
		t := change(old, s.clock.Now())
		ent, err := toTaskEntity(owner, t)
		if err != nil {
			return domain.Task{}, err
		}
		data, err := sonic.Marshal(ent)
		if err != nil {
			return domain.Task{}, err
		}
		_, err = s.tasks.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{
			IfMatch:    &etag,
			UpdateMode: aztables.UpdateModeReplace,
		})
		switch {
		case isStatus(err, http.StatusPreconditionFailed):
			continue
		case isStatus(err, http.StatusNotFound):
			return domain.Task{}, notFound("task", id)
		case err != nil:
			return domain.Task{}, err
		}
		return t, nil
	}
	return domain.Task{}, fmt.Errorf("update task %d: too much contention", id)
}

func (s *Tables) DeleteTask(ctx context.Context, owner string, id int64) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	_, err := s.tasks.DeleteEntity(ctx, owner, rowKey(id), nil)
	if isStatus(err, http.StatusNotFound) {
		return notFound("task", id)
	}
	return err
}

func (s *Tables) ListProjects(ctx context.Context, owner string) ([]domain.Project, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	filter := ownerFilter(owner)
	pager := s.projects.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	projects := []domain.Project{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			p, err := decodeProjectEntity(e)
			if err != nil {
				return nil, err
			}
			projects = append(projects, p)
		}
	}
	return projects, nil
}

func (s *Tables) GetProject(ctx context.Context, owner string, id int64) (domain.Project, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Project{}, err
	}
	resp, err := s.projects.GetEntity(ctx, owner, rowKey(id), nil)
	if isStatus(err, http.StatusNotFound) {
		return domain.Project{}, notFound("project", id)
	}
	if err != nil {
		return domain.Project{}, err
	}
	return decodeProjectEntity(resp.Value)
}

func (s *Tables) CreateProject(ctx context.Context, owner string, n domain.NewProject) (domain.Project, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Project{}, err
	}
	if err := n.Validate(); err != nil {
		return domain.Project{}, err
	}
	id, err := s.nextID(ctx, s.projects, owner)
	if err != nil {
		return domain.Project{}, err
	}
	p := buildProject(id, owner, n, s.clock.Now())
	data, err := sonic.Marshal(toProjectEntity(p))
	if err != nil {
		return domain.Project{}, err
	}
	if _, err := s.projects.AddEntity(ctx, data, nil); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// UpdateProject re-applies the patch when a concurrent writer wins the ETag
// race, like task rewrites.
func (s *Tables) UpdateProject(ctx context.Context, owner string, id int64, patch domain.ProjectPatch) (domain.Project, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Project{}, err
	}
	if err := patch.Validate(); err != nil {
		return domain.Project{}, err
	}
	for try := 0; try < maxCounterTries; try++ {
		resp, err := s.projects.GetEntity(ctx, owner, rowKey(id), nil)
		if isStatus(err, http.StatusNotFound) {
			return domain.Project{}, notFound("project", id)
		}
		if err != nil {
			return domain.Project{}, err
		}
		old, err := decodeProjectEntity(resp.Value)
		if err != nil {
			return domain.Project{}, err
		}
		p, err := patch.Apply(old)
		if err != nil {
			return domain.Project{}, err
		}
		p.UpdatedAt = s.clock.Now()
		data, err := sonic.Marshal(toProjectEntity(p))
		if err != nil {
			return domain.Project{}, err
		}
		etag := resp.ETag
		_, err = s.projects.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{
			IfMatch:    &etag,
			UpdateMode: aztables.UpdateModeReplace,
		})
		switch {
		case isStatus(err, http.StatusPreconditionFailed):
			continue
		case isStatus(err, http.StatusNotFound):
			return domain.Project{}, notFound("project", id)
		case err != nil:
			return domain.Project{}, err
		}
		return p, nil
	}
	return domain.Project{}, fmt.Errorf("update project %d: too much contention", id)
}

func (s *Tables) DeleteProject(ctx context.Context, owner string, id int64) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	_, err := s.projects.DeleteEntity(ctx, owner, rowKey(id), nil)
	if isStatus(err, http.StatusNotFound) {
		return notFound("project", id)
	}
	return err
}

// Ping reads the counter partition, which succeeds with 404 on an empty
// table.
func (s *Tables) Ping(ctx context.Context) error {
	_, err := s.tasks.GetEntity(ctx, counterPartition, "_ping", nil)
	if err == nil || isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (s *Tables) Close() error { return nil }

func isStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

func hasErrorCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
