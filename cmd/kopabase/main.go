package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kopabase/kopabase/pkg/config"
	"github.com/kopabase/kopabase/pkg/dashboard"
	"github.com/kopabase/kopabase/pkg/form"
	"github.com/kopabase/kopabase/pkg/state"
	"github.com/kopabase/kopabase/pkg/supabase"
)

var (
	// Version information
	Version   = "1.0.0"
	BuildDate = "unknown"

	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger = zap.NewNop()

	// Color definitions
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warningColor = color.New(color.FgYellow)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kopabase",
		Short: "🗄️  Admin dashboard for Supabase projects",
		Long: `
╔═══════════════════════════════════════════════════════════╗
║              🗄️  Kopabase - Supabase Dashboard             ║
║     Browse tables, storage buckets and auth users of      ║
║          a Supabase project from the terminal             ║
╚═══════════════════════════════════════════════════════════╝

Connect once with "kopabase connect", then work with the saved
connection or start the web dashboard with "kopabase serve".
`,
		Version:           fmt.Sprintf("%s (built %s)", Version, BuildDate),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the settings file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(connectionCommands()...)
	rootCmd.AddCommand(tableCommands()...)
	rootCmd.AddCommand(storageCommands()...)
	rootCmd.AddCommand(usersCommand(), serveCommand(), updateCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		errorColor.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the settings and builds the logger before every command
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if cfg, err = config.Load(configPath); err != nil {
		return err
	}
	logger, err = newLogger(zap.WarnLevel)
	return err
}

// newLogger logs to stderr at level, or at debug level with --verbose
func newLogger(level zapcore.Level) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{"stderr"}
	zc.Level = zap.NewAtomicLevelAt(level)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		zc.Development = true
	}
	return zc.Build()
}

// openStore opens the state database named in the settings
func openStore() (*state.SQLiteStore, error) {
	store, err := state.OpenSQLite(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	logger.Debug("opened state database", zap.String("path", store.Path()))
	return store, nil
}

func newSession(store state.Store) *dashboard.Session {
	return dashboard.New(store,
		dashboard.WithLogger(logger),
		dashboard.WithClientOptions(supabase.WithLogger(logger), supabase.WithTimeout(cfg.Client.Timeout)),
	)
}

// withSession runs fn with a session reconnected to the saved connection
func withSession(ctx context.Context, fn func(s *dashboard.Session) error) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	s := newSession(store)
	ok, err := s.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore the saved connection: %w", err)
	}
	if !ok {
		warningColor.Fprintln(os.Stderr, "💡 Run 'kopabase connect' first")
		return dashboard.ErrNotConnected
	}
	return fn(s)
}

// printJSON writes v to stdout as indented JSON
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAssignments turns column=value arguments into a form submission. A
// value of "null" sends an explicit null.
func parseAssignments(pairs []string) (form.Record, error) {
	rec := form.Record{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q (expected column=value)", pair)
		}
		if v == "null" {
			rec[k] = nil
			continue
		}
		rec[k] = v
	}
	return rec, nil
}

// printValidation lists the field failures of a rejected submission
func printValidation(err error) error {
	var verrs form.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errorColor.Println("❌ The submission was rejected:")
	for _, e := range verrs {
		fmt.Printf("   • %-20s %s\n", e.Column, e.Message)
	}
	return fmt.Errorf("%d invalid field(s)", len(verrs))
}
