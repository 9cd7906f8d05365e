package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/kopabase/kopabase/pkg/config"
	"github.com/kopabase/kopabase/pkg/dashboard"
)

func connectionCommands() []*cobra.Command {
	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "🔌 Connect to a Supabase project and save the connection",
		Long: `🔌 Connect to a Supabase project and save the connection.

The connection is taken from --import (a JSON file or link), from the
--url/--anon-key flags, or from the KOPABASE_* environment variables and
a .env file, in that order.

Examples:
  kopabase connect --url https://abc.supabase.co --anon-key eyJ...
  kopabase connect --import ./project.json
  kopabase connect --env-file .env.local`,
		Args: cobra.NoArgs,
		RunE: runConnect,
	}
	connectCmd.Flags().String("url", "", "Project URL")
	connectCmd.Flags().String("anon-key", "", "Anonymous API key")
	connectCmd.Flags().String("service-role-key", "", "Service role key (enables user management)")
	connectCmd.Flags().String("name", "", "Display name of the project")
	connectCmd.Flags().StringP("import", "i", "", "Import the connection from a JSON file or http(s) link")
	connectCmd.Flags().StringSlice("env-file", nil, "Environment files to load (default .env)")

	disconnectCmd := &cobra.Command{
		Use:   "disconnect",
		Short: "⏏️  Forget the saved connection",
		Args:  cobra.NoArgs,
		RunE:  runDisconnect,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "ℹ️  Show the connected project and its sidebar",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	statusCmd.Flags().Bool("json", false, "Print the sidebar as JSON")

	dbSizeCmd := &cobra.Command{
		Use:   "db-size",
		Short: "💾 Show the database size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				size, err := s.DBSize(cmd.Context())
				if err != nil {
					return err
				}
				infoColor.Printf("💾 Database size: %v\n", size)
				return nil
			})
		},
	}

	return []*cobra.Command{connectCmd, disconnectCmd, statusCmd, dbSizeCmd}
}

// connectionFromFlags picks the connection source named by the flags
func connectionFromFlags(cmd *cobra.Command) (config.Connection, error) {
	if source, _ := cmd.Flags().GetString("import"); source != "" {
		infoColor.Printf("📥 Importing connection from %s\n", source)
		client := &http.Client{Timeout: cfg.Client.Timeout}
		return config.Import(cmd.Context(), client, source)
	}

	url, _ := cmd.Flags().GetString("url")
	if url != "" {
		anonKey, _ := cmd.Flags().GetString("anon-key")
		serviceRole, _ := cmd.Flags().GetString("service-role-key")
		name, _ := cmd.Flags().GetString("name")
		return config.Connection{
			ProjectURL:     url,
			AnonKey:        anonKey,
			ServiceRoleKey: serviceRole,
			ProjectName:    name,
		}, nil
	}

	files, _ := cmd.Flags().GetStringSlice("env-file")
	conn, ok, err := config.FromEnv(files...)
	if err != nil {
		return config.Connection{}, err
	}
	if !ok {
		return config.Connection{}, fmt.Errorf("no connection given: use --url, --import or set %s", config.EnvURL)
	}
	return conn, nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	conn, err := connectionFromFlags(cmd)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	infoColor.Printf("🔍 Connecting to %s\n", conn.ProjectURL)
	info, err := newSession(store).Connect(cmd.Context(), conn)
	if err != nil {
		return err
	}

	successColor.Printf("✅ Connected to %s\n", info.ProjectName)
	if !info.ServiceRole {
		warningColor.Println("⚠️  No service role key: user management is disabled")
	}
	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := newSession(store).Disconnect(cmd.Context()); err != nil {
		return err
	}
	successColor.Println("✅ Disconnected")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	return withSession(cmd.Context(), func(s *dashboard.Session) error {
		sb, err := s.Sidebar(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(sb)
		}

		fmt.Println()
		successColor.Printf("🗄️  %s\n", sb.Info.ProjectName)
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		infoColor.Printf("🌐 URL: %s\n", sb.Info.URL)
		infoColor.Printf("🔑 Service role: %v\n", sb.Info.ServiceRole)
		fmt.Println()

		successColor.Printf("📋 Tables (%d)\n", len(sb.Tables))
		for _, t := range sb.Tables {
			fmt.Printf("   • %s\n", t)
		}
		successColor.Printf("🪣 Buckets (%d)\n", len(sb.Buckets))
		for _, b := range sb.Buckets {
			fmt.Printf("   • %s\n", b.Name)
		}
		if sb.UsersAvailable {
			successColor.Printf("👥 Users: %d\n", sb.Users)
		}
		for section, msg := range sb.Errors {
			warningColor.Printf("⚠️  %s: %s\n", section, msg)
		}
		fmt.Println()
		return nil
	})
}
