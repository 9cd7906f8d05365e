package main

import (
	"errors"
	"io/fs"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kopabase/kopabase/pkg/config"
	"github.com/kopabase/kopabase/pkg/server"
)

func serveCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "🌐 Start the web dashboard",
		Long: `🌐 Start the web dashboard with its REST API and WebSocket updates.

The saved connection is restored on start. With --watch the server
connects with the given connection file and reconnects whenever it
changes.

Examples:
  kopabase serve
  kopabase serve --addr :8080 --watch ./project.json --debounce 500ms`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	serveCmd.Flags().StringP("addr", "a", "", "Server address (default from settings)")
	serveCmd.Flags().StringP("watch", "w", "", "Connection file to watch for changes")
	serveCmd.Flags().StringP("debounce", "d", "500ms", "Debounce duration for watch mode (e.g., 0s, 500ms, 1s)")
	serveCmd.Flags().Bool("no-metrics", false, "Do not expose /metrics")
	return serveCmd
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	watchFile, _ := cmd.Flags().GetString("watch")
	debounceStr, _ := cmd.Flags().GetString("debounce")
	noMetrics, _ := cmd.Flags().GetBool("no-metrics")
	if addr == "" {
		addr = cfg.Server.Addr
	}

	debounce, err := time.ParseDuration(debounceStr)
	if err != nil {
		errorColor.Println("💡 Valid examples: 0s, 500ms, 1s, 5s, 1m")
		return err
	}

	// the server reports its progress at info level
	if logger, err = newLogger(zap.InfoLevel); err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithPageSize(cfg.Server.PageSize),
		server.WithTimeout(cfg.Client.Timeout),
	}
	if cfg.Server.Metrics && !noMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, server.WithRegistry(reg))
	}
	srv := server.NewServer(store, opts...)
	defer srv.Close()

	ctx := cmd.Context()
	if watchFile != "" {
		if err := connectFromFile(cmd, srv, watchFile); err != nil {
			return err
		}
		if err := srv.WatchConnection(watchFile, debounce); err != nil {
			return err
		}
		infoColor.Printf("👀 Watching connection file: %s\n", watchFile)
	} else if ok, err := srv.Session().Restore(ctx); err != nil {
		warningColor.Printf("⚠️  Could not restore the saved connection: %v\n", err)
	} else if ok {
		info, _ := srv.Session().Info()
		successColor.Printf("✅ Connected to %s\n", info.ProjectName)
	}

	successColor.Printf("🌐 Server running at http://%s\n", addr)
	infoColor.Println("📝 Press Ctrl+C to stop the server")
	return srv.Start(ctx, addr)
}

// connectFromFile connects with the watched file when it already exists
func connectFromFile(cmd *cobra.Command, srv *server.Server, path string) error {
	conn, err := config.ImportFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		warningColor.Printf("⚠️  %s does not exist yet\n", path)
		return nil
	}
	if err != nil {
		return err
	}
	info, err := srv.Session().Connect(cmd.Context(), conn)
	if err != nil {
		warningColor.Printf("⚠️  Could not connect with %s: %v\n", path, err)
		return nil
	}
	successColor.Printf("✅ Connected to %s\n", info.ProjectName)
	return nil
}
