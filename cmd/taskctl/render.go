package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/lipgloss"

	"taskmanagement/board"
	"taskmanagement/domain"
)

var (
	colorMuted   = lipgloss.Color("#8a8f98")
	colorDone    = lipgloss.Color("#8BC34A")
	colorOverdue = lipgloss.Color("#e53935")
	colorHigh    = lipgloss.Color("#FFC107")
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	muted   lipgloss.Style
	done    lipgloss.Style
	overdue lipgloss.Style
	high    lipgloss.Style
}

// newStyles binds styles to w so colors are dropped when w is not a terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true),
		header:  r.NewStyle().Bold(true).Padding(0, 1),
		cell:    r.NewStyle().Padding(0, 1),
		muted:   r.NewStyle().Foreground(colorMuted),
		done:    r.NewStyle().Foreground(colorDone),
		overdue: r.NewStyle().Foreground(colorOverdue),
		high:    r.NewStyle().Foreground(colorHigh),
	}
}

type table struct {
	headers []string
	rows    [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t table) render(st styles) string {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}
	total := len(widths) - 1
	for i := range widths {
		widths[i] += 2
		total += widths[i]
	}

	var sb strings.Builder
	sep := st.muted.Render("|")
	writeRow := func(cells []string, style lipgloss.Style) {
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			sb.WriteString(style.Width(widths[i]).Render(cell))
			if i < len(widths)-1 {
				sb.WriteString(sep)
			}
		}
		sb.WriteString("\n")
	}
	writeRow(t.headers, st.header)
	sb.WriteString(st.muted.Render(strings.Repeat("-", total)) + "\n")
	for _, row := range t.rows {
		writeRow(row, st.cell)
	}
	return sb.String()
}

func taskTable(tasks []domain.Task, now time.Time, st styles) table {
	t := table{headers: []string{"ID", "", "TITLE", "STATUS", "PRIORITY", "DUE", "TAG"}}
	for _, task := range tasks {
		mark := " "
		if !task.Pending {
			mark = st.done.Render("x")
		}
		priority := task.Priority.String()
		if task.Priority == domain.PriorityHigh {
			priority = st.high.Render(priority)
		}
		t.add(
			strconv.FormatInt(task.ID, 10),
			mark,
			task.Title,
			string(task.Status),
			priority,
			dueLabel(task, now, st),
			task.Tag,
		)
	}
	return t
}

func dueLabel(task domain.Task, now time.Time, st styles) string {
	if task.DueDate == nil {
		return ""
	}
	label := task.DueDate.Local().Format(dateLayout)
	if task.Overdue(now) {
		return st.overdue.Render(label + " overdue")
	}
	return label
}

func printTasks(w io.Writer, tasks []domain.Task, now time.Time) {
	st := newStyles(w)
	if len(tasks) == 0 {
		fmt.Fprintln(w, st.muted.Render("no tasks"))
		return
	}
	fmt.Fprint(w, taskTable(tasks, now, st).render(st))
}

func printTask(w io.Writer, task domain.Task, now time.Time) {
	st := newStyles(w)
	fmt.Fprintln(w, st.title.Render(fmt.Sprintf("#%d %s", task.ID, task.Title)))
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(w, "  %s %s\n", st.muted.Render(fmt.Sprintf("%-10s", name)), value)
		}
	}
	field("status", statusLabel(task))
	field("priority", task.Priority.String())
	field("due", dueLabel(task, now, st))
	field("tag", task.Tag)
	field("assignees", strings.Join(task.Assignees, ", "))
	if task.ProjectID != 0 {
		field("project", strconv.FormatInt(task.ProjectID, 10))
	}
	field("updated", task.UpdatedAt.Local().Format(time.DateTime))
	if task.Description != "" {
		fmt.Fprintf(w, "\n  %s\n", task.Description)
	}
}

func printGroups(w io.Writer, groups []board.Group, now time.Time) {
	st := newStyles(w)
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, st.title.Render(fmt.Sprintf("%s (%d)", g.Key, len(g.Tasks))))
		if len(g.Tasks) == 0 {
			fmt.Fprintln(w, st.muted.Render("  none"))
			continue
		}
		fmt.Fprint(w, taskTable(g.Tasks, now, st).render(st))
	}
}

func printCard(w io.Writer, card board.Card, sum board.Summary, now time.Time) {
	st := newStyles(w)
	title := strings.ToUpper(string(card.Tab[:1])) + string(card.Tab[1:])
	fmt.Fprintln(w, st.title.Render(fmt.Sprintf("%s  %d of %d", title, len(card.Tasks), card.Matched)))
	fmt.Fprintln(w, st.muted.Render(fmt.Sprintf("completed %d, overdue %d, total %d", sum.Completed, sum.Overdue, sum.Total)))
	if len(card.Tasks) > 0 {
		fmt.Fprint(w, taskTable(card.Tasks, now, st).render(st))
	}
	if card.HasMore {
		fmt.Fprintln(w, st.muted.Render(fmt.Sprintf("%d more, use --all", card.Matched-len(card.Tasks))))
	}
}

func printStats(w io.Writer, stats domain.Stats) {
	st := newStyles(w)
	t := table{headers: []string{"STATUS", "TASKS"}}
	for _, s := range domain.Statuses {
		t.add(string(s), strconv.Itoa(stats.ByStatus[s]))
	}
	fmt.Fprint(w, t.render(st))
	fmt.Fprintf(w, "completed %d, overdue %s, total %d\n",
		stats.Completed, st.overdue.Render(strconv.Itoa(stats.Overdue)), stats.Total)
}

func printProjects(w io.Writer, projects []domain.Project) {
	st := newStyles(w)
	if len(projects) == 0 {
		fmt.Fprintln(w, st.muted.Render("no projects"))
		return
	}
	t := table{headers: []string{"ID", "NAME", "STATUS", "START", "END"}}
	for _, p := range projects {
		t.add(strconv.FormatInt(p.ID, 10), p.Name, p.Status, dateLabel(p.StartDate), dateLabel(p.EndDate))
	}
	fmt.Fprint(w, t.render(st))
}

func printProject(w io.Writer, p domain.Project, stats domain.ProjectStats) {
	st := newStyles(w)
	fmt.Fprintln(w, st.title.Render(fmt.Sprintf("#%d %s", p.ID, p.Name)))
	if p.Description != "" {
		fmt.Fprintf(w, "  %s\n", p.Description)
	}
	if p.StartDate != nil || p.EndDate != nil {
		fmt.Fprintf(w, "  %s .. %s\n", dateLabel(p.StartDate), dateLabel(p.EndDate))
	}
	filled := stats.Progress / 10
	bar := st.done.Render(strings.Repeat("#", filled)) + st.muted.Render(strings.Repeat(".", 10-filled))
	fmt.Fprintf(w, "  [%s] %d%%  %d/%d done, %d active, %d overdue\n",
		bar, stats.Progress, stats.CompletedTasks, stats.TotalTasks, stats.ActiveTasks, stats.OverdueTasks)
}

func dateLabel(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(dateLayout)
}

func statusLabel(task domain.Task) string {
	if !task.Pending {
		return "done"
	}
	return strings.ToLower(strings.ReplaceAll(string(task.Status), "_", " "))
}

func printJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
