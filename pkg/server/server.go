// Package server serves the dashboard page, its JSON API and a websocket that
// tells open dashboards when something changed.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kopabase/kopabase/pkg/config"
	"github.com/kopabase/kopabase/pkg/dashboard"
	"github.com/kopabase/kopabase/pkg/state"
	"github.com/kopabase/kopabase/pkg/supabase"
	"github.com/kopabase/kopabase/pkg/watcher"
	"github.com/kopabase/kopabase/web"
)

// DefaultPageSize is the number of rows returned when a request sets no limit
const DefaultPageSize = 20

// Server is the dashboard HTTP/WebSocket server
type Server struct {
	router   *mux.Router
	session  *dashboard.Session
	hub      *hub
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *httpMetrics
	pageSize int
	timeout  time.Duration
	upgrader websocket.Upgrader

	// ctx bounds background work such as connection reloads
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	watcher *watcher.FileWatcher
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistry exposes metrics at /metrics and records upstream calls in reg
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithPageSize sets the default row page size
func WithPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithTimeout sets the timeout of upstream requests
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// NewServer creates a server with a session persisting to store
func NewServer(store state.Store, opts ...Option) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   zap.NewNop(),
		pageSize: DefaultPageSize,
		timeout:  supabase.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	clientOpts := []supabase.Option{supabase.WithLogger(s.logger), supabase.WithTimeout(s.timeout)}
	if s.registry != nil {
		s.metrics = newHTTPMetrics(s.registry)
		clientOpts = append(clientOpts, supabase.WithMetrics(supabase.NewMetrics(s.registry)))
	}
	s.hub = newHub(s.logger, s.metrics)
	s.session = dashboard.New(store,
		dashboard.WithLogger(s.logger),
		dashboard.WithClientOptions(clientOpts...),
		dashboard.OnChange(func(e dashboard.Event) { s.hub.broadcast(messageFor(e)) }),
	)
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	s.setupRoutes()
	return s
}

// checkOrigin accepts same-host pages and non-browser clients
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	s.logger.Warn("⚠️  rejected websocket origin", zap.String("origin", origin))
	return false
}

// Session returns the dashboard session the server operates on
func (s *Server) Session() *dashboard.Session {
	return s.session
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleDashboard).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.requestID)
	if s.metrics != nil {
		api.Use(s.metrics.instrument)
	}

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/connect", s.handleConnect).Methods("POST")
	api.HandleFunc("/connect/import", s.handleImport).Methods("POST")
	api.HandleFunc("/disconnect", s.handleDisconnect).Methods("POST")
	api.HandleFunc("/sidebar", s.handleSidebar).Methods("GET")
	api.HandleFunc("/db-size", s.handleDBSize).Methods("GET")

	api.HandleFunc("/workspace", s.handleWorkspace).Methods("GET")
	api.HandleFunc("/workspace/table", s.handleSelectTable).Methods("PUT")
	api.HandleFunc("/workspace/bucket", s.handleSelectBucket).Methods("PUT")
	api.HandleFunc("/settings", s.handleSettings).Methods("PUT")
	api.HandleFunc("/pins/{kind}", s.handleTogglePin).Methods("POST")
	api.HandleFunc("/selection/{kind}", s.handleSelect).Methods("POST")
	api.HandleFunc("/selection/{kind}/delete", s.handleDeleteSelection).Methods("POST")

	api.HandleFunc("/tables", s.handleTables).Methods("GET")
	api.HandleFunc("/tables/{table}/schema", s.handleSchema).Methods("GET")
	api.HandleFunc("/tables/{table}/fields", s.handleFields).Methods("GET")
	api.HandleFunc("/tables/{table}/export", s.handleExport).Methods("GET")
	api.HandleFunc("/tables/{table}/rows", s.handleRows).Methods("GET")
	api.HandleFunc("/tables/{table}/rows", s.handleAddRecord).Methods("POST")
	api.HandleFunc("/tables/{table}/rows", s.handleDeleteRecords).Methods("DELETE")
	api.HandleFunc("/tables/{table}/rows/{key}", s.handleRecord).Methods("GET")
	api.HandleFunc("/tables/{table}/rows/{key}", s.handleEditRecord).Methods("PATCH")

	api.HandleFunc("/buckets", s.handleBuckets).Methods("GET")
	api.HandleFunc("/buckets/{bucket}/files", s.handleFiles).Methods("GET")
	api.HandleFunc("/buckets/{bucket}/files", s.handleRemoveFiles).Methods("DELETE")
	api.HandleFunc("/buckets/{bucket}/url", s.handleFileURL).Methods("GET")

	api.HandleFunc("/users", s.handleUsers).Methods("GET")
	api.HandleFunc("/users", s.handleDeleteUsers).Methods("DELETE")
	api.HandleFunc("/users/invite", s.handleInviteUser).Methods("POST")
	api.HandleFunc("/users/recover", s.handleRecoveryLink).Methods("POST")
	api.HandleFunc("/users/{id}", s.handleUpdateUser).Methods("PUT")
}

// requestID tags every API request with an id echoed in X-Request-ID
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api request",
			zap.String("id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

// handleDashboard serves the single page UI
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(web.DashboardHTML)
}

// handleWebSocket upgrades the connection and registers it with the hub
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade to websocket", zap.Error(err))
		return
	}
	s.hub.register(conn)
}

// WatchConnection reconnects whenever the connection file at path changes.
// The file holds the same JSON accepted by connect --import.
func (s *Server) WatchConnection(path string, debounce time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return fmt.Errorf("already watching a connection file")
	}

	fw, err := watcher.NewFileWatcher(s.logger)
	if err != nil {
		return err
	}
	if err := fw.Watch(path, s.reloadConnection, debounce); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch connection file: %w", err)
	}
	fw.Start()
	s.watcher = fw
	s.logger.Info("👀 watching connection file", zap.String("path", path))
	return nil
}

func (s *Server) reloadConnection(path string) {
	conn, err := config.ImportFile(path)
	if err != nil {
		s.logger.Warn("ignoring invalid connection file", zap.String("path", path), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	info, err := s.session.Connect(ctx, conn)
	if err != nil {
		s.logger.Error("🔄 reconnect failed", zap.String("path", path), zap.Error(err))
		return
	}
	s.logger.Info("🔄 reconnected", zap.String("project", info.ProjectName))
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🚀 starting server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops the connection watcher and disconnects websocket clients
func (s *Server) Close() error {
	s.cancel()
	s.hub.close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}
