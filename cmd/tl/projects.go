package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"teamline/internal/app"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects and their roles"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStatusCmd())
	prj.AddCommand(projectAddRoleCmd())
	prj.AddCommand(projectReleaseRoleCmd())
	return prj
}

// parseRoleFlag splits "Title: description" into a role spec.
func parseRoleFlag(raw string) engine.RoleSpec {
	title, desc, _ := strings.Cut(raw, ":")
	return engine.RoleSpec{Title: strings.TrimSpace(title), Description: strings.TrimSpace(desc)}
}

func projectCreateCmd() *cobra.Command {
	var opts engine.CreateProjectOptions
	var roles []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project owned by the acting user",
		Example: `  tl project create --title "Solar car" --tag energy \
    --role "Designer: CAD and renders" --role Engineer --role Engineer`,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			opts.CreatorID = user
			for _, r := range roles {
				opts.Roles = append(opts.Roles, parseRoleFlag(r))
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printProject(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial status (planning, in_progress, completed)")
	cmd.Flags().StringArrayVar(&roles, "role", nil, `role as "Title" or "Title: description" (repeatable, ordered)`)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Creator", "Open roles"})
				for _, p := range items {
					open := 0
					for _, r := range p.Roles {
						if !r.Filled {
							open++
						}
					}
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, p.CreatorID, fmt.Sprintf("%d/%d", open, len(p.Roles))})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CreatorID, "creator", "", "creator filter")
	cmd.Flags().StringVar(&f.MemberID, "member", "", "projects where this user fills a role")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max projects")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with its roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printProject(p)
			})
		},
	}
}

func projectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id> <planning|in_progress|completed>",
		Short: "Change project status (creator only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.SetProjectStatus(ctx, args[0], user, args[1])
				if err != nil {
					return err
				}
				return printProject(p)
			})
		},
	}
}

func projectAddRoleCmd() *cobra.Command {
	var spec engine.RoleSpec
	cmd := &cobra.Command{
		Use:   "add-role <project-id>",
		Short: "Append an open role (creator only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				role, err := a.Engine.AddRole(ctx, args[0], user, spec)
				if err != nil {
					return err
				}
				return printJSONOrTable(role)
			})
		},
	}
	cmd.Flags().StringVar(&spec.Title, "title", "", "role title")
	cmd.Flags().StringVar(&spec.Description, "description", "", "role description")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectReleaseRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release-role <project-id> <role-id>",
		Short: "Reopen a filled role (creator only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				role, err := a.Engine.ReleaseRole(ctx, args[0], args[1], user)
				if err != nil {
					return err
				}
				return printJSONOrTable(role)
			})
		},
	}
}

func printProject(p domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	fmt.Printf("%s  %s [%s]  creator=%s\n", p.ID, p.Title, p.Status, p.CreatorID)
	if p.Description != "" {
		fmt.Println(p.Description)
	}
	if len(p.Tags) > 0 {
		fmt.Println("tags:", strings.Join(p.Tags, ", "))
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Role ID", "Title", "Filled", "User"})
	for i, r := range p.Roles {
		tw.AppendRow(table.Row{i + 1, r.ID, r.Title, r.Filled, deref(r.UserID)})
	}
	tw.Render()
	return nil
}
