package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskmanagement/board"
	"taskmanagement/domain"
	"taskmanagement/optimistic"
)

const dateLayout = "2006-01-02"

type listFlags struct {
	status   string
	priority string
	tag      string
	assignee string
	project  string
	pending  string
	search   string
	sort     string
	desc     bool
	tab      string
	group    string
	limit    int
	all      bool
}

func (f listFlags) query() domain.Query {
	return domain.Query{
		Filter: domain.Filter{
			domain.FilterStatus:   f.status,
			domain.FilterPriority: f.priority,
			domain.FilterTag:      f.tag,
			domain.FilterAssignee: f.assignee,
			domain.FilterProject:  f.project,
			domain.FilterPending:  f.pending,
		},
		Sort: domain.Sort{Field: f.sort, Desc: f.desc},
	}
}

func listCmd(a *app) *cobra.Command {
	var f listFlags
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view := a.tasks.List(cmd.Context(), f.query())
			if view.Err != nil {
				return view.Err
			}
			tasks := board.Search(view.Data, f.search)
			now := a.now()

			switch {
			case f.group != "":
				groups, err := groupTasks(tasks, f.group, now)
				if err != nil {
					return err
				}
				if a.asJSON {
					return printJSON(a.out, groups)
				}
				printGroups(a.out, groups, now)
			case f.tab != "":
				tab, err := board.ParseTab(f.tab)
				if err != nil {
					return err
				}
				card := board.Show(tasks, tab, now, f.limit, f.all)
				if a.asJSON {
					return printJSON(a.out, card)
				}
				printCard(a.out, card, board.Summarize(tasks, now), now)
			default:
				if a.asJSON {
					return printJSON(a.out, tasks)
				}
				printTasks(a.out, tasks, now)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.status, "status", "", "only this status")
	fl.StringVar(&f.priority, "priority", "", "only this priority (low, medium, high)")
	fl.StringVar(&f.tag, "tag", "", "only this tag")
	fl.StringVar(&f.assignee, "assignee", "", "only tasks assigned to this person")
	fl.StringVar(&f.project, "project", "", "only this project id")
	fl.StringVar(&f.pending, "pending", "", "true for open tasks, false for done ones")
	fl.StringVarP(&f.search, "search", "s", "", "match title or description")
	fl.StringVar(&f.sort, "sort", "", "sort field (id, title, dueDate, priority, status, createdAt, updatedAt)")
	fl.BoolVar(&f.desc, "desc", false, "sort descending")
	fl.StringVar(&f.tab, "tab", "", "show one card: upcoming, overdue or completed")
	fl.IntVarP(&f.limit, "limit", "n", board.DefaultLimit, "tasks per card")
	fl.BoolVar(&f.all, "all", false, "show every task on the card")
	fl.StringVar(&f.group, "group", "", "group by status, priority or due")
	return cmd
}

func groupTasks(tasks []domain.Task, by string, now time.Time) ([]board.Group, error) {
	switch strings.ToLower(by) {
	case "status":
		return board.GroupByStatus(tasks), nil
	case "priority":
		return board.GroupByPriority(tasks), nil
	case "due":
		return board.GroupByDue(tasks, now), nil
	}
	return nil, fmt.Errorf("unknown grouping %q", by)
}

func showCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			task, err := a.remote.GetTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			if a.asJSON {
				return printJSON(a.out, task)
			}
			printTask(a.out, task, a.now())
			return nil
		},
	}
}

type taskFlags struct {
	title       string
	description string
	due         string
	priority    string
	status      string
	tag         string
	assignees   []string
	project     int64
}

func (f taskFlags) newTask() (domain.NewTask, error) {
	n := domain.NewTask{
		Title:       f.title,
		Description: f.description,
		Tag:         f.tag,
		Assignees:   f.assignees,
		ProjectID:   f.project,
	}
	var err error
	if n.DueDate, err = parseDue(f.due); err != nil {
		return n, err
	}
	if f.priority != "" {
		if n.Priority, err = domain.ParsePriority(f.priority); err != nil {
			return n, err
		}
	}
	if f.status != "" {
		if n.Status, err = domain.ParseStatus(f.status); err != nil {
			return n, err
		}
	}
	return n, n.Validate()
}

// patch only carries the flags the user actually set.
func (f taskFlags) patch(cmd *cobra.Command) (domain.TaskPatch, error) {
	var p domain.TaskPatch
	changed := cmd.Flags().Changed
	if changed("title") {
		p.Title = &f.title
	}
	if changed("description") {
		p.Description = &f.description
	}
	if changed("tag") {
		p.Tag = &f.tag
	}
	if changed("assignee") {
		p.Assignees = f.assignees
	}
	if changed("project") {
		p.ProjectID = &f.project
	}
	if changed("due") {
		due, err := parseDue(f.due)
		if err != nil {
			return p, err
		}
		p.DueDate = due
	}
	if changed("priority") {
		pr, err := domain.ParsePriority(f.priority)
		if err != nil {
			return p, err
		}
		p.Priority = &pr
	}
	if changed("status") {
		st, err := domain.ParseStatus(f.status)
		if err != nil {
			return p, err
		}
		p.Status = &st
	}
	return p, p.Validate()
}

func bindTaskFlags(cmd *cobra.Command, f *taskFlags, withTitle bool) {
	fl := cmd.Flags()
	if withTitle {
		fl.StringVar(&f.title, "title", "", "new title")
	}
	fl.StringVarP(&f.description, "description", "d", "", "description")
	fl.StringVar(&f.due, "due", "", "due date (YYYY-MM-DD)")
	fl.StringVarP(&f.priority, "priority", "p", "", "low, medium or high")
	fl.StringVar(&f.status, "status", "", "workflow status")
	fl.StringVar(&f.tag, "tag", "", "tag")
	fl.StringSliceVarP(&f.assignees, "assignee", "a", nil, "assignee, repeatable")
	fl.Int64Var(&f.project, "project", 0, "project id")
}

func createCmd(a *app) *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.title = strings.Join(args, " ")
			n, err := f.newTask()
			if err != nil {
				return err
			}
			task, err := a.mutations.CreateTask(cmd.Context(), n.Normalize())
			if err != nil {
				return err
			}
			if a.asJSON {
				return printJSON(a.out, task)
			}
			fmt.Fprintf(a.out, "created task %d\n", task.ID)
			return nil
		},
	}
	bindTaskFlags(cmd, &f, false)
	return cmd
}

func updateCmd(a *app) *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			patch, err := f.patch(cmd)
			if err != nil {
				return err
			}
			task, err := a.mutations.UpdateTask(cmd.Context(), id, patch)
			if err != nil {
				return err
			}
			if a.asJSON {
				return printJSON(a.out, task)
			}
			printTask(a.out, task, a.now())
			return nil
		},
	}
	bindTaskFlags(cmd, &f, true)
	return cmd
}

func moveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "move <status> <id>...",
		Short: "Move tasks to a status",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseStatus(args[0])
			if err != nil {
				return err
			}
			ids, err := parseIDs(args[1:])
			if err != nil {
				return err
			}
			updated, err := a.mutations.BulkUpdate(cmd.Context(), ids, domain.StatusPatch(status))
			for _, task := range updated {
				fmt.Fprintf(a.out, "%d -> %s\n", task.ID, task.Status)
			}
			return err
		},
	}
}

func toggleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>...",
		Short: "Mark tasks done, or reopen done ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.optimisticRun(cmd.Context(), args, (*optimistic.Rows).Toggle)
		},
	}
}

func cycleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle <id>...",
		Short: "Advance tasks to the next status",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.optimisticRun(cmd.Context(), args, (*optimistic.Rows).Cycle)
		},
	}
}

type rowAction func(r *optimistic.Rows, ctx context.Context, id int64) (*optimistic.Handle, error)

// optimisticRun applies action to every id through the row overlays, then
// waits for the server and reports rows that were rolled back.
func (a *app) optimisticRun(ctx context.Context, args []string, action rowAction) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	view := a.tasks.List(ctx, domain.Query{})
	if view.Err != nil {
		return view.Err
	}
	rows := optimistic.NewRows(a.mutations, optimistic.WithLogger(a.logger))
	rows.Seed(view.Data)

	for _, id := range ids {
		if _, err := action(rows, ctx, id); err != nil {
			return err
		}
		if shown, ok := rows.View(id); ok {
			fmt.Fprintf(a.out, "%d: %s (sending)\n", id, statusLabel(shown))
		}
	}
	rows.Wait()

	var errs []error
	for _, rowErr := range rows.Errors() {
		if rowErr.Superseded {
			continue
		}
		errs = append(errs, rowErr)
	}
	for _, id := range ids {
		if shown, ok := rows.View(id); ok {
			fmt.Fprintf(a.out, "%d: %s\n", id, statusLabel(shown))
		}
	}
	return errors.Join(errs...)
}

func deleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.mutations.DeleteTask(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted task %d\n", id)
			return nil
		},
	}
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := a.tasks.Stats(cmd.Context())
			if snap.Err != nil {
				return snap.Err
			}
			if a.asJSON {
				return printJSON(a.out, snap.Data)
			}
			printStats(a.out, snap.Data)
			return nil
		},
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", raw)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseDue(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	due, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q, want YYYY-MM-DD", raw)
	}
	return &due, nil
}
