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
)

func chatCmd() *cobra.Command {
	chat := &cobra.Command{
		Use:   "chat",
		Short: "Request chats and direct messages",
		Long:  "Every application and invitation has a two-party chat whose status follows the request. Direct chats carry no status.",
	}
	chat.AddCommand(chatListCmd())
	chat.AddCommand(chatShowCmd())
	chat.AddCommand(chatSendCmd())
	chat.AddCommand(chatOpenCmd())
	return chat
}

func chatListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the acting user's chats, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				chats, err := a.Engine.ListChats(ctx, user, domain.RequestStatus(status), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(chats)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "With", "Bound to", "Status", "Last message"})
				for _, c := range chats {
					var peers []string
					for _, p := range c.Participants {
						if p != user {
							peers = append(peers, p)
						}
					}
					bound, st, last := "", "", ""
					if c.Binding != nil {
						bound = string(c.Binding.Kind) + ":" + c.Binding.TargetID
					}
					if c.Status != nil {
						st = string(*c.Status)
					}
					if c.LastMessage != nil {
						last = c.LastMessage.SenderID + ": " + c.LastMessage.Text
					}
					tw.AppendRow(table.Row{c.ID, strings.Join(peers, ","), bound, st, last})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "bound chat status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max chats")
	return cmd
}

func chatShowCmd() *cobra.Command {
	var after int64
	var limit int
	var markRead bool
	cmd := &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Show chat messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				chat, err := a.Engine.GetChat(ctx, args[0], user)
				if err != nil {
					return err
				}
				msgs, err := a.Engine.ListMessages(ctx, chat.ID, user, after, limit)
				if err != nil {
					return err
				}
				if markRead {
					if _, err := a.Engine.MarkRead(ctx, chat.ID, user); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"chat": chat, "messages": msgs})
				}
				header := fmt.Sprintf("chat %s with %s", chat.ID, strings.Join(chat.Participants, " & "))
				if chat.Status != nil {
					header += fmt.Sprintf(" [%s]", *chat.Status)
				}
				fmt.Println(header)
				for _, m := range msgs {
					marker := " "
					if m.SenderID != user && !m.Read {
						marker = "*"
					}
					fmt.Printf("%s #%d %s %s: %s\n", marker, m.Seq, m.CreatedAt, m.SenderID, m.Text)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only messages after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 100, "max messages")
	cmd.Flags().BoolVar(&markRead, "read", true, "mark the other participant's messages read")
	return cmd
}

func chatSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <chat-id> <text...>",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				msg, err := a.Engine.SendMessage(ctx, args[0], user, strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return printJSONOrTable(msg)
			})
		},
	}
}

func chatOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <peer-id>",
		Short: "Open (or reuse) a direct chat with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := actingUser()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				chat, err := a.Engine.OpenDirectChat(ctx, user, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(chat)
			})
		},
	}
}
