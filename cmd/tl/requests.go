package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"teamline/internal/app"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/repo"
)

func parseKindArg(raw string) (domain.RequestKind, error) {
	kind, ok := domain.ParseRequestKind(raw)
	if !ok {
		return "", fmt.Errorf("kind must be application or invitation, got %q", raw)
	}
	return kind, nil
}

func applyCmd() *cobra.Command {
	var roles []string
	var message string
	cmd := &cobra.Command{
		Use:   "apply <project-id>",
		Short: "Apply to one or more roles of a project",
		Long:  "Each role (id or title) is applied to independently; roles that fail are reported without blocking the rest.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Apply(ctx, engine.ApplyOptions{
					ProjectID:   args[0],
					Roles:       roles,
					ApplicantID: user,
					Message:     message,
				})
				if viper.GetBool("json") {
					failed := make([]map[string]string, 0, len(res.Failed))
					for _, f := range res.Failed {
						failed = append(failed, map[string]string{"role": f.Role, "error": f.Err.Error()})
					}
					if perr := printJSON(map[string]any{"created": res.Applications, "chats": res.Chats, "failed": failed}); perr != nil {
						return perr
					}
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Role", "Result", "Application", "Chat"})
				for i, ap := range res.Applications {
					chatID := ""
					if i < len(res.Chats) {
						chatID = res.Chats[i].ID
					}
					tw.AppendRow(table.Row{ap.RoleTitle, "applied", ap.ID, chatID})
				}
				for _, f := range res.Failed {
					tw.AppendRow(table.Row{f.Role, f.Err.Error(), "", ""})
				}
				tw.Render()
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role id or title (repeatable)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to the creator")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func inviteCmd() *cobra.Command {
	var opts engine.InviteOptions
	cmd := &cobra.Command{
		Use:   "invite <project-id>",
		Short: "Invite a user to a role (creator only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			opts.ProjectID = args[0]
			opts.InviterID = user
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Invite(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"invitation": res.Invitation, "chat": res.Chat})
				}
				fmt.Printf("invitation %s sent to %s for %s (chat %s)\n", res.Invitation.ID, res.Invitation.InviteeID, res.Invitation.RoleTitle, res.Chat.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Role, "role", "", "role id or title")
	cmd.Flags().StringVar(&opts.InviteeID, "invitee", "", "user to invite")
	cmd.Flags().StringVarP(&opts.Message, "message", "m", "", "message to the invitee")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("invitee")
	return cmd
}

func acceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <application|invitation> <id>",
		Short: "Accept a pending request",
		Long:  "Creators accept applications; invitees accept invitations. When the role was filled meanwhile the request is rejected instead.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			kind, err := parseKindArg(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.Accept(ctx, kind, args[1], user)
				if errors.Is(err, domain.ErrRoleAlreadyFilled) {
					if perr := printDecision(d); perr != nil {
						return perr
					}
				}
				if err != nil {
					return err
				}
				return printDecision(d)
			})
		},
	}
}

func declineCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "decline <application|invitation> <id>",
		Short: "Decline a pending request with a reason",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			kind, err := parseKindArg(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Engine.Decline(ctx, kind, args[1], user, reason)
				if err != nil {
					return err
				}
				return printDecision(d)
			})
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the request is declined")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func printDecision(d engine.Decision) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"request": d.Request, "role": d.Role, "chat": d.Chat})
	}
	fmt.Printf("%s %s is %s", d.Request.Kind, d.Request.ID, d.Request.Status)
	if d.Request.Reason != "" {
		fmt.Printf(" (%s)", d.Request.Reason)
	}
	fmt.Println()
	if d.Role != nil && d.Role.Filled {
		fmt.Printf("role %s filled by %s\n", d.Role.Title, deref(d.Role.UserID))
	}
	if d.Chat.Status != nil {
		fmt.Printf("chat %s is %s\n", d.Chat.ID, *d.Chat.Status)
	}
	return nil
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{Use: "request", Short: "Inspect applications and invitations"}
	req.AddCommand(requestListCmd())
	req.AddCommand(requestShowCmd())
	return req
}

func requestListCmd() *cobra.Command {
	var kind, projectID, status, roleID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		Long:  "Without --project lists the acting user's own applications or received invitations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			k, err := parseKindArg(kind)
			if err != nil {
				return err
			}
			f := repo.RequestFilters{RoleID: roleID, Status: domain.RequestStatus(status), Limit: limit}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var items []domain.Request
				switch {
				case k == domain.KindApplication && projectID != "":
					apps, err := a.Engine.ListProjectApplications(ctx, projectID, user, f)
					if err != nil {
						return err
					}
					p, err := a.Engine.GetProject(ctx, projectID)
					if err != nil {
						return err
					}
					for _, ap := range apps {
						items = append(items, ap.Request(p.CreatorID))
					}
				case k == domain.KindApplication:
					apps, err := a.Engine.MyApplications(ctx, user, f)
					if err != nil {
						return err
					}
					for _, ap := range apps {
						items = append(items, ap.Request(""))
					}
				case projectID != "":
					invs, err := a.Engine.ListProjectInvitations(ctx, projectID, user, f)
					if err != nil {
						return err
					}
					for _, inv := range invs {
						items = append(items, inv.Request())
					}
				default:
					invs, err := a.Engine.MyInvitations(ctx, user, f)
					if err != nil {
						return err
					}
					for _, inv := range invs {
						items = append(items, inv.Request())
					}
				}
				return printRequests(items)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "application", "application or invitation")
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&status, "status", "", "pending, accepted or rejected")
	cmd.Flags().StringVar(&roleID, "role-id", "", "role filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max requests")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <application|invitation> <id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			kind, err := parseKindArg(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.GetRequest(ctx, kind, args[1], user)
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
}

func printRequests(items []domain.Request) error {
	if viper.GetBool("json") {
		if items == nil {
			items = []domain.Request{}
		}
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Project", "Role", "User", "Status", "Reason", "Created"})
	for _, r := range items {
		tw.AppendRow(table.Row{r.ID, r.ProjectID, r.RoleTitle, r.UserID, r.Status, r.Reason, r.CreatedAt})
	}
	tw.Render()
	return nil
}
