package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kopabase/kopabase/pkg/dashboard"
	"github.com/kopabase/kopabase/pkg/supabase"
)

func usersCommand() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "👥 Manage auth users (needs the service role key)",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "👥 List auth users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			search, _ := cmd.Flags().GetString("search")
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				users, err := s.Users(cmd.Context(), search)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tEMAIL\tPROVIDERS\tLAST SIGN IN")
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Email, strings.Join(u.Providers(), ", "), u.LastSignInAt)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				infoColor.Printf("👥 %d user(s)\n", len(users))
				return nil
			})
		},
	}
	listCmd.Flags().StringP("search", "s", "", "Keep users whose email or id contains this text")

	inviteCmd := &cobra.Command{
		Use:   "invite [email]",
		Short: "✉️  Invite a user by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				u, err := s.InviteUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				successColor.Printf("✅ Invited %s (%s)\n", u.Email, u.ID)
				return nil
			})
		},
	}

	updateCmd := &cobra.Command{
		Use:   "update [id]",
		Short: "✏️  Change a user's email or role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			role, _ := cmd.Flags().GetString("role")
			if email == "" && role == "" {
				return fmt.Errorf("nothing to update: use --email or --role")
			}
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				u, err := s.UpdateUser(cmd.Context(), args[0], supabase.UserUpdate{Email: email, Role: role})
				if err != nil {
					return err
				}
				successColor.Printf("✅ Updated %s\n", u.ID)
				return printJSON(u)
			})
		},
	}
	updateCmd.Flags().String("email", "", "New email address")
	updateCmd.Flags().String("role", "", "New role")

	deleteCmd := &cobra.Command{
		Use:   "delete [id...]",
		Short: "🗑️  Delete users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				n, err := s.DeleteUsers(cmd.Context(), args)
				if err != nil {
					return err
				}
				successColor.Printf("✅ Deleted %d user(s)\n", n)
				return nil
			})
		},
	}

	recoverCmd := &cobra.Command{
		Use:   "recover [email]",
		Short: "🔑 Generate a password recovery link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				link, err := s.RecoveryLink(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Println(link)
				return nil
			})
		},
	}

	usersCmd.AddCommand(listCmd, inviteCmd, updateCmd, deleteCmd, recoverCmd)
	return usersCmd
}
