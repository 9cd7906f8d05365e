// Package dashboard ties the API client, the form compiler and the persisted
// workspace together into the operations offered by the CLI and the web UI.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kopabase/kopabase/pkg/config"
	"github.com/kopabase/kopabase/pkg/form"
	"github.com/kopabase/kopabase/pkg/state"
	"github.com/kopabase/kopabase/pkg/supabase"
)

var (
	// ErrNotConnected is returned by operations that need an active connection
	ErrNotConnected = errors.New("not connected to a project")
	// ErrStale is returned when the connection changed while a call was in flight
	ErrStale = errors.New("connection changed while the request was running")
	// ErrNoChanges is returned by EditRecord when the submission equals the record
	ErrNoChanges = errors.New("no changes to save")
)

// EventType names what changed
type EventType string

const (
	EventConnection EventType = "connection"
	EventRows       EventType = "rows"
	EventFiles      EventType = "files"
	EventUsers      EventType = "users"
	EventWorkspace  EventType = "workspace"
)

// Event is emitted after every successful mutation
type Event struct {
	Type EventType `json:"type"`
	// Name is the table or bucket concerned, if any
	Name string `json:"name,omitempty"`
}

// Info describes the active connection
type Info struct {
	ProjectName string `json:"projectName"`
	URL         string `json:"url"`
	ServiceRole bool   `json:"serviceRole"`
	Generation  uint64 `json:"generation"`
}

// Session is the connection to one project plus its workspace. It is safe
// for concurrent use.
type Session struct {
	store      state.Store
	logger     *zap.Logger
	clientOpts []supabase.Option

	mu         sync.RWMutex
	conn       config.Connection
	client     *supabase.Client
	doc        *form.Document
	workspace  *state.Workspace
	generation uint64
	onChange   func(Event)
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClientOptions are passed to every client the session creates
func WithClientOptions(opts ...supabase.Option) Option {
	return func(s *Session) { s.clientOpts = append(s.clientOpts, opts...) }
}

// OnChange registers fn to receive mutation events
func OnChange(fn func(Event)) Option {
	return func(s *Session) { s.onChange = fn }
}

// New returns a disconnected session persisting its state to store
func New(store state.Store, opts ...Option) *Session {
	s := &Session{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// snapshot is the connection state captured at the start of an operation
type snapshot struct {
	client    *supabase.Client
	doc       *form.Document
	workspace *state.Workspace
	gen       uint64
}

func (s *Session) snapshot() (snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return snapshot{}, ErrNotConnected
	}
	return snapshot{client: s.client, doc: s.doc, workspace: s.workspace, gen: s.generation}, nil
}

// current fails with ErrStale when another connect happened since snap was taken
func (s *Session) current(snap snapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.generation != snap.gen {
		return ErrStale
	}
	return nil
}

func (s *Session) emit(e Event) {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(e)
	}
}

// Connect validates the credentials by fetching the schema. On success the
// connection is saved and its workspace loaded; on failure any saved
// connection is cleared.
func (s *Session) Connect(ctx context.Context, conn config.Connection) (Info, error) {
	conn = conn.Trimmed()
	if err := conn.Validate(); err != nil {
		return Info{}, &supabase.ConnectionError{URL: conn.ProjectURL, Err: err}
	}

	client := supabase.New(conn.ProjectURL, conn.AnonKey, conn.ServiceRoleKey, s.clientOpts...)
	doc, err := client.Connect(ctx)
	if err != nil {
		s.logger.Warn("connect failed", zap.String("url", client.URL()), zap.Error(err))
		if clearErr := s.Disconnect(ctx); clearErr != nil {
			s.logger.Warn("failed to clear saved connection", zap.Error(clearErr))
		}
		return Info{}, err
	}

	ws, err := state.LoadWorkspace(ctx, s.store, state.ConfigKey(client.URL(), conn.AnonKey))
	if err != nil {
		return Info{}, fmt.Errorf("failed to load workspace: %w", err)
	}
	if err := state.PutJSON(ctx, s.store, state.ConnectionKey, conn); err != nil {
		return Info{}, fmt.Errorf("failed to save connection: %w", err)
	}

	if tables := supabase.TableNames(doc); len(tables) > 0 {
		ws.SelectTable(state.Ordered(tables, ws.PinnedTables)[0])
	}

	s.mu.Lock()
	s.conn = conn
	s.client = client
	s.doc = doc
	s.workspace = ws
	s.generation++
	info := s.infoLocked()
	s.mu.Unlock()

	s.logger.Info("connected",
		zap.String("project", info.ProjectName),
		zap.String("url", info.URL),
		zap.Int("tables", len(doc.Tables)),
		zap.Bool("service_role", info.ServiceRole))
	s.emit(Event{Type: EventConnection})
	return info, nil
}

// Restore reconnects with the saved connection. It reports false when no
// connection was saved.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	var conn config.Connection
	err := state.GetJSON(ctx, s.store, state.ConnectionKey, &conn)
	if errors.Is(err, state.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := s.Connect(ctx, conn); err != nil {
		return false, err
	}
	return true, nil
}

// SavedConnection returns the persisted connection profile
func (s *Session) SavedConnection(ctx context.Context) (config.Connection, bool, error) {
	var conn config.Connection
	err := state.GetJSON(ctx, s.store, state.ConnectionKey, &conn)
	if errors.Is(err, state.ErrNotFound) {
		return config.Connection{}, false, nil
	}
	return conn, err == nil, err
}

// Disconnect drops the connection and forgets the saved profile. Pins stay
// stored under the connection's scope.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	wasConnected := s.client != nil
	s.conn = config.Connection{}
	s.client = nil
	s.doc = nil
	s.workspace = nil
	s.generation++
	s.mu.Unlock()

	if err := s.store.Delete(ctx, state.ConnectionKey); err != nil {
		return err
	}
	if wasConnected {
		s.emit(Event{Type: EventConnection})
	}
	return nil
}

// Connected reports whether a project is connected
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

// Info describes the active connection
func (s *Session) Info() (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return Info{}, ErrNotConnected
	}
	return s.infoLocked(), nil
}

func (s *Session) infoLocked() Info {
	return Info{
		ProjectName: supabase.ProjectName(s.conn.ProjectURL, s.conn.ProjectName),
		URL:         s.client.URL(),
		ServiceRole: s.client.HasServiceRole(),
		Generation:  s.generation,
	}
}

// Client returns the active API client
func (s *Session) Client() (*supabase.Client, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return snap.client, nil
}

// DBSize returns the database size reported by the project
func (s *Session) DBSize(ctx context.Context) (any, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	size, err := snap.client.DBSize(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.current(snap); err != nil {
		return nil, err
	}
	return size, nil
}
