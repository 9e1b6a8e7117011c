package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"taskmanagement/domain"
)

func projectsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"project"},
		Short:   "List and create projects",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := a.tasks.Projects(cmd.Context())
			if snap.Err != nil {
				return snap.Err
			}
			if a.asJSON {
				return printJSON(a.out, snap.Data)
			}
			printProjects(a.out, snap.Data)
			return nil
		},
	}
	cmd.AddCommand(projectShowCmd(a), projectCreateCmd(a), projectUpdateCmd(a), projectDeleteCmd(a))
	return cmd
}

func projectShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project and its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := a.remote.GetProject(cmd.Context(), id)
			if err != nil {
				return err
			}
			stats, err := a.remote.ProjectStats(cmd.Context(), id)
			if err != nil {
				return err
			}
			if a.asJSON {
				return printJSON(a.out, struct {
					domain.Project
					Stats domain.ProjectStats `json:"stats"`
				}{p, stats})
			}
			printProject(a.out, p, stats)
			return nil
		},
	}
}

func projectCreateCmd(a *app) *cobra.Command {
	var description, start, end string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := domain.NewProject{Name: strings.Join(args, " "), Description: description}
			var err error
			if n.StartDate, err = parseDue(start); err != nil {
				return err
			}
			if n.EndDate, err = parseDue(end); err != nil {
				return err
			}
			if err := n.Validate(); err != nil {
				return err
			}
			p, err := a.mutations.CreateProject(cmd.Context(), n)
			if err != nil {
				return err
			}
			if a.asJSON {
				return printJSON(a.out, p)
			}
			fmt.Fprintf(a.out, "created project %d\n", p.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "description")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	return cmd
}

func projectUpdateCmd(a *app) *cobra.Command {
	var name, description, status, start, end string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var patch domain.ProjectPatch
			fl := cmd.Flags()
			if fl.Changed("name") {
				patch.Name = &name
			}
			if fl.Changed("description") {
				patch.Description = &description
			}
			if fl.Changed("status") {
				patch.Status = &status
			}
			if patch.StartDate, err = parseDue(start); err != nil {
				return err
			}
			if patch.EndDate, err = parseDue(end); err != nil {
				return err
			}
			if err := patch.Validate(); err != nil {
				return err
			}
			p, err := a.mutations.UpdateProject(cmd.Context(), id, patch)
			if err != nil {
				return err
			}
			if a.asJSON {
				return printJSON(a.out, p)
			}
			fmt.Fprintf(a.out, "updated project %d: %s (%s)\n", p.ID, p.Name, p.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVarP(&description, "description", "d", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "active, inactive, completed or archived")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	return cmd
}

func projectDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a project, keeping its tasks",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.mutations.DeleteProject(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted project %d\n", id)
			return nil
		},
	}
}
