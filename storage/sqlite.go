package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"taskmanagement/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	due_date TEXT,
	priority INTEGER NOT NULL,
	status TEXT NOT NULL,
	tag TEXT NOT NULL DEFAULT '',
	assignees TEXT NOT NULL DEFAULT '[]',
	project_id INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner);
CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	start_date TEXT,
	end_date TEXT,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner);
`

const taskColumns = `id, title, description, due_date, priority, status, tag, assignees, project_id, created_at, updated_at`

// SQLite stores records in a single database file. The pending flag is not
// stored; it is derived from the status on read.
type SQLite struct {
	db    *sql.DB
	clock *monotonicClock
}

// OpenSQLite opens (or creates) the database at path. ":memory:" works for
// tests.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	o := newOptions(opts)
	return &SQLite{db: db, clock: newClock(o.now)}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                 domain.Task
		due               sql.NullString
		priority          int
		status, assignees string
		created, updated  string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &due, &priority, &status,
		&t.Tag, &assignees, &t.ProjectID, &created, &updated); err != nil {
		return domain.Task{}, err
	}
	t.Priority = domain.Priority(priority)
	t.Status = domain.Status(status)
	var err error
	if t.DueDate, err = parseNullTime(due); err != nil {
		return domain.Task{}, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return domain.Task{}, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Task{}, err
	}
	if assignees != "" && assignees != "[]" {
		if err := sonic.UnmarshalString(assignees, &t.Assignees); err != nil {
			return domain.Task{}, fmt.Errorf("decode assignees: %w", err)
		}
	}
	return t.Normalize(), nil
}

func (s *SQLite) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner = ? ORDER BY id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLite) QueryTasks(ctx context.Context, owner string, q domain.Query) ([]domain.Task, error) {
	tasks, err := s.ListTasks(ctx, owner)
	return applyQuery(tasks, err, q)
}

func (s *SQLite) GetTask(ctx context.Context, owner string, id int64) (domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Task{}, err
	}
	return s.getTask(ctx, s.db, owner, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) getTask(ctx context.Context, q queryer, owner string, id int64) (domain.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner = ? AND id = ?`, owner, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, notFound("task", id)
	}
	return t, err
}

func (s *SQLite) CreateTask(ctx context.Context, owner string, n domain.NewTask) (domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Task{}, err
	}
	if err := n.Validate(); err != nil {
		return domain.Task{}, err
	}
	t := n.Build(0, s.clock.Now())
	assignees, err := encodeAssignees(t.Assignees)
	if err != nil {
		return domain.Task{}, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO tasks
		(owner, title, description, due_date, priority, status, tag, assignees, project_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		owner, t.Title, t.Description, formatNullTime(t.DueDate), int(t.Priority), string(t.Status),
		t.Tag, assignees, t.ProjectID, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return domain.Task{}, err
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (s *SQLite) UpdateTask(ctx context.Context, owner string, id int64, patch domain.TaskPatch) (domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Task{}, err
	}
	if err := patch.Validate(); err != nil {
		return domain.Task{}, err
	}
	return s.rewrite(ctx, owner, id, func(old domain.Task, now time.Time) domain.Task {
		t := patch.Apply(old)
		t.UpdatedAt = now
		return t
	})
}

func (s *SQLite) ReplaceTask(ctx context.Context, owner string, id int64, n domain.NewTask) (domain.Task, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Task{}, err
	}
	if err := n.Validate(); err != nil {
		return domain.Task{}, err
	}
	return s.rewrite(ctx, owner, id, func(old domain.Task, now time.Time) domain.Task {
		return replaceTask(old, n, now)
	})
}

// rewrite reads, changes and stores one task inside a transaction.
func (s *SQLite) rewrite(ctx context.Context, owner string, id int64, change func(domain.Task, time.Time) domain.Task) (domain.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	old, err := s.getTask(ctx, tx, owner, id)
	if err != nil {
		return domain.Task{}, err
	}
	t := change(old, s.clock.Now())
	assignees, err := encodeAssignees(t.Assignees)
	if err != nil {
		return domain.Task{}, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET
		title = ?, description = ?, due_date = ?, priority = ?, status = ?, tag = ?,
		assignees = ?, project_id = ?, created_at = ?, updated_at = ?
		WHERE owner = ? AND id = ?`,
		t.Title, t.Description, formatNullTime(t.DueDate), int(t.Priority), string(t.Status), t.Tag,
		assignees, t.ProjectID, formatTime(t.CreatedAt), formatTime(t.UpdatedAt), owner, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (s *SQLite) DeleteTask(ctx context.Context, owner string, id int64) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("task", id)
	}
	return nil
}

const projectColumns = `id, owner, name, description, start_date, end_date, status, created_at, updated_at`

func scanProject(row rowScanner) (domain.Project, error) {
	var (
		p                domain.Project
		start, end       sql.NullString
		created, updated string
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &start, &end,
		&p.Status, &created, &updated); err != nil {
		return domain.Project{}, err
	}
	var err error
	if p.StartDate, err = parseNullTime(start); err != nil {
		return domain.Project{}, err
	}
	if p.EndDate, err = parseNullTime(end); err != nil {
		return domain.Project{}, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return domain.Project{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (s *SQLite) ListProjects(ctx context.Context, owner string) ([]domain.Project, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE owner = ? ORDER BY id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	projects := []domain.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLite) GetProject(ctx context.Context, owner string, id int64) (domain.Project, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Project{}, err
	}
	return s.getProject(ctx, s.db, owner, id)
}

func (s *SQLite) getProject(ctx context.Context, q queryer, owner string, id int64) (domain.Project, error) {
	row := q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE owner = ? AND id = ?`, owner, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, notFound("project", id)
	}
	return p, err
}

func (s *SQLite) CreateProject(ctx context.Context, owner string, n domain.NewProject) (domain.Project, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Project{}, err
	}
	if err := n.Validate(); err != nil {
		return domain.Project{}, err
	}
	p := buildProject(0, owner, n, s.clock.Now())
	res, err := s.db.ExecContext(ctx, `INSERT INTO projects
		(owner, name, description, start_date, end_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		owner, p.Name, p.Description, formatNullTime(p.StartDate), formatNullTime(p.EndDate),
		p.Status, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return domain.Project{}, err
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (s *SQLite) UpdateProject(ctx context.Context, owner string, id int64, patch domain.ProjectPatch) (domain.Project, error) {
	if err := checkOwner(owner); err != nil {
		return domain.Project{}, err
	}
	if err := patch.Validate(); err != nil {
		return domain.Project{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer func() { _ = tx.Rollback() }()

	old, err := s.getProject(ctx, tx, owner, id)
	if err != nil {
		return domain.Project{}, err
	}
	p, err := patch.Apply(old)
	if err != nil {
		return domain.Project{}, err
	}
	p.UpdatedAt = s.clock.Now()
	_, err = tx.ExecContext(ctx, `UPDATE projects SET
		name = ?, description = ?, start_date = ?, end_date = ?, status = ?, updated_at = ?
		WHERE owner = ? AND id = ?`,
		p.Name, p.Description, formatNullTime(p.StartDate), formatNullTime(p.EndDate),
		p.Status, formatTime(p.UpdatedAt), owner, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (s *SQLite) DeleteProject(ctx context.Context, owner string, id int64) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("project", id)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error { return s.db.Close() }

func encodeAssignees(a []string) (string, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	return sonic.MarshalString(a)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
