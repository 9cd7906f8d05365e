package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kopabase/kopabase/pkg/dashboard"
	"github.com/kopabase/kopabase/pkg/supabase"
)

func storageCommands() []*cobra.Command {
	bucketsCmd := &cobra.Command{
		Use:   "buckets",
		Short: "🪣 List the storage buckets, pinned first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				buckets, err := s.Buckets(cmd.Context())
				if err != nil {
					return err
				}
				for _, b := range buckets {
					access := "private"
					if b.Public {
						access = "public"
					}
					fmt.Printf("   %-30s %s\n", b.Name, access)
				}
				return nil
			})
		},
	}

	filesCmd := &cobra.Command{
		Use:   "files [bucket]",
		Short: "📁 List the objects of a bucket",
		Args:  cobra.ExactArgs(1),
		RunE:  runFiles,
	}
	filesCmd.Flags().StringP("prefix", "p", "", "Folder to list")
	filesCmd.Flags().StringP("search", "s", "", "Keep objects whose name contains this text")
	filesCmd.Flags().String("sort", "name", "Sort by name, updated_at or size")
	filesCmd.Flags().Bool("desc", false, "Sort descending")
	filesCmd.Flags().IntP("limit", "n", 100, "Objects per page")
	filesCmd.Flags().Int("offset", 0, "Objects to skip")

	rmCmd := &cobra.Command{
		Use:   "rm-files [bucket] [path...]",
		Short: "🗑️  Delete objects from a bucket",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				if err := s.RemoveFiles(cmd.Context(), args[0], args[1:]); err != nil {
					return err
				}
				successColor.Printf("✅ Deleted %d object(s) from %s\n", len(args)-1, args[0])
				return nil
			})
		},
	}

	urlCmd := &cobra.Command{
		Use:   "url [bucket] [path]",
		Short: "🔗 Print a viewing link for an object",
		Long: `🔗 Print a viewing link for an object. Public buckets get a direct link,
private buckets a signed link valid for the saved number of seconds
(see "kopabase signed-url-seconds").`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				link, err := s.FileURL(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Println(link)
				return nil
			})
		},
	}

	secondsCmd := &cobra.Command{
		Use:   "signed-url-seconds [seconds]",
		Short: "⏱️  Set how long signed links stay valid",
		Long: `⏱️  Set how long signed links of private buckets stay valid. Without an
argument the client.signed_url_seconds setting is applied.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds := cfg.Client.SignedURLSeconds
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid number of seconds %q", args[0])
				}
				seconds = n
			}
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				view, err := s.SetMaxSignedURLSeconds(cmd.Context(), seconds)
				if err != nil {
					return err
				}
				successColor.Printf("✅ Signed links are valid for %d seconds\n", view.MaxSignedURLSeconds)
				return nil
			})
		},
	}

	return []*cobra.Command{bucketsCmd, filesCmd, rmCmd, urlCmd, secondsCmd}
}

func runFiles(cmd *cobra.Command, args []string) error {
	prefix, _ := cmd.Flags().GetString("prefix")
	search, _ := cmd.Flags().GetString("search")
	sortName, _ := cmd.Flags().GetString("sort")
	desc, _ := cmd.Flags().GetBool("desc")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	sortBy, err := supabase.ParseSortColumn(sortName)
	if err != nil {
		return err
	}
	opts := supabase.ListOptions{Prefix: prefix, Limit: limit, Offset: offset, SortBy: sortBy, Descending: desc}

	return withSession(cmd.Context(), func(s *dashboard.Session) error {
		files, err := s.Files(cmd.Context(), args[0], opts, search)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSIZE\tUPDATED")
		for _, f := range files {
			name := f.Name
			if f.ID == "" {
				name += "/"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, f.HumanSize(), f.UpdatedAt)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		infoColor.Printf("📁 %d object(s)\n", len(files))
		return nil
	})
}
