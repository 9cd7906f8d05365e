package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kopabase/kopabase/pkg/updater"
)

func updateCommand() *cobra.Command {
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "🚀 Update kopabase to the latest build",
		Long: `🚀 Update kopabase to the latest build from GitHub Actions artifacts.

Downloads the latest build artifact for your platform and replaces the current executable.
You can optionally specify a branch to download from (default: main).

Examples:
  kopabase update                   # Update from main branch
  kopabase update --branch develop  # Update from develop branch

Note: Set GITHUB_TOKEN environment variable for higher API rate limits.`,
		Args: cobra.NoArgs,
		RunE: runUpdate,
	}
	updateCmd.Flags().StringP("branch", "b", "main", "Branch to download from")
	updateCmd.Flags().String("repo", updater.DefaultRepo, "Repository to download from (owner/name)")
	return updateCmd
}

func runUpdate(cmd *cobra.Command, args []string) error {
	branch, _ := cmd.Flags().GetString("branch")
	repo, _ := cmd.Flags().GetString("repo")

	fmt.Println()
	successColor.Println("🚀 Kopabase Auto-Update")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	u := updater.New(updater.WithRepo(repo), updater.WithLogger(logger))

	infoColor.Printf("📦 Repository: %s\n", repo)
	infoColor.Printf("📦 Current version: %s (built: %s)\n", Version, BuildDate)
	infoColor.Printf("🌿 Target branch: %s\n", branch)
	infoColor.Printf("💻 Platform: %s/%s (%s)\n", runtime.GOOS, runtime.GOARCH, u.ArtifactName())
	fmt.Println()

	if os.Getenv("GITHUB_TOKEN") == "" {
		warningColor.Println("⚠️  GITHUB_TOKEN not set - artifact downloads need an authenticated token")
		warningColor.Println("💡 Get a token with the 'actions:read' scope from https://github.com/settings/tokens")
		fmt.Println()
	}

	infoColor.Println("🔍 Searching for the latest successful build...")
	run, err := u.Update(cmd.Context(), branch)
	if err != nil {
		errorColor.Println("💡 You may need GITHUB_TOKEN or elevated permissions to update the executable")
		return err
	}

	fmt.Println()
	successColor.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	successColor.Println("✨ Update completed successfully! ✨")
	successColor.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	infoColor.Printf("🌿 Branch: %s (%s)\n", branch, run.HeadSHA)
	infoColor.Printf("📅 Build date: %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Println()
	infoColor.Println("💡 Run 'kopabase --version' to verify the update")
	fmt.Println()
	return nil
}
