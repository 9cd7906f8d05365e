package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kopabase/kopabase/pkg/config"
	"github.com/kopabase/kopabase/pkg/dashboard"
	"github.com/kopabase/kopabase/pkg/export"
	"github.com/kopabase/kopabase/pkg/form"
	"github.com/kopabase/kopabase/pkg/supabase"
)

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	Connected bool            `json:"connected"`
	Info      *dashboard.Info `json:"info,omitempty"`
	Clients   int             `json:"clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Clients: s.hub.count()}
	if info, err := s.session.Info(); err == nil {
		resp.Connected = true
		resp.Info = &info
	}
	s.respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var conn config.Connection
	if err := decodeBody(r, &conn); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.connect(w, r, conn)
}

// handleImport connects with a connection file fetched from a URL
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		s.respondWithError(w, r, badRequestf("import source must be an http(s) URL"))
		return
	}

	conn, err := config.ImportURL(r.Context(), &http.Client{Timeout: s.timeout}, req.URL)
	if err != nil {
		s.respondWithError(w, r, &badRequest{err: err})
		return
	}
	s.connect(w, r, conn)
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request, conn config.Connection) {
	info, err := s.session.Connect(r.Context(), conn)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, info)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Disconnect(r.Context()); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, StatusResponse{Clients: s.hub.count()})
}

func (s *Server) handleSidebar(w http.ResponseWriter, r *http.Request) {
	sb, err := s.session.Sidebar(r.Context())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, sb)
}

func (s *Server) handleDBSize(w http.ResponseWriter, r *http.Request) {
	size, err := s.session.DBSize(r.Context())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]any{"size": size})
}

// Workspace

func (s *Server) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	view, err := s.session.Workspace()
	s.respondWithView(w, r, view, err)
}

func (s *Server) respondWithView(w http.ResponseWriter, r *http.Request, view dashboard.WorkspaceView, err error) {
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, view)
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSelectTable(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	view, err := s.session.SelectTable(r.Context(), req.Name)
	s.respondWithView(w, r, view, err)
}

func (s *Server) handleSelectBucket(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	view, err := s.session.SelectBucket(r.Context(), req.Name)
	s.respondWithView(w, r, view, err)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxSignedURLSeconds int `json:"maxSignedUrlSeconds"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	view, err := s.session.SetMaxSignedURLSeconds(r.Context(), req.MaxSignedURLSeconds)
	if err != nil && !errors.Is(err, dashboard.ErrNotConnected) {
		err = &badRequest{err: err}
	}
	s.respondWithView(w, r, view, err)
}

// handleTogglePin flips a pin. The users section has no name.
func (s *Server) handleTogglePin(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	if kind == "users" {
		view, err := s.session.TogglePinUsers(r.Context())
		s.respondWithView(w, r, view, err)
		return
	}

	var req nameRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	view, err := s.session.TogglePin(r.Context(), kind, req.Name)
	if err != nil && !errors.Is(err, dashboard.ErrNotConnected) {
		err = &badRequest{err: err}
	}
	s.respondWithView(w, r, view, err)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action dashboard.SelectionAction `json:"action"`
		Keys   []string                  `json:"keys"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	view, err := s.session.Select(r.Context(), mux.Vars(r)["kind"], req.Action, req.Keys)
	if err != nil && !errors.Is(err, dashboard.ErrNotConnected) {
		err = &badRequest{err: err}
	}
	s.respondWithView(w, r, view, err)
}

// handleDeleteSelection deletes the selected rows, files or users
func (s *Server) handleDeleteSelection(w http.ResponseWriter, r *http.Request) {
	var (
		n   int
		err error
	)
	switch kind := mux.Vars(r)["kind"]; kind {
	case "rows":
		n, err = s.session.DeleteSelectedRows(r.Context())
	case "files":
		n, err = s.session.RemoveSelectedFiles(r.Context())
	case "users":
		n, err = s.session.DeleteSelectedUsers(r.Context())
	default:
		err = badRequestf("unknown selection %q", kind)
	}
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// Tables

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.session.Tables()
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, tables)
}

// ColumnInfo describes one column for the UI
type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Format     string `json:"format,omitempty"`
	HasDefault bool   `json:"hasDefault"`
	Kind       string `json:"kind"`
}

// SchemaResponse is returned by GET /api/tables/{table}/schema
type SchemaResponse struct {
	Table      string       `json:"table"`
	PrimaryKey string       `json:"primaryKey"`
	Columns    []ColumnInfo `json:"columns"`
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.session.Schema(mux.Vars(r)["table"])
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	resp := SchemaResponse{Table: schema.Name, PrimaryKey: schema.PrimaryKey(), Columns: make([]ColumnInfo, len(schema.Columns))}
	for i, c := range schema.Columns {
		resp.Columns[i] = ColumnInfo{
			Name:       c.Name,
			Type:       string(c.Type),
			Format:     c.Format,
			HasDefault: c.HasDefault,
			Kind:       form.KindOf(c).String(),
		}
	}
	s.respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	mode, err := form.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.respondWithError(w, r, &badRequest{err: err})
		return
	}
	fields, err := s.session.Fields(mux.Vars(r)["table"], mode)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, fields)
}

// rowsOptions reads ?order=col&desc=true&search=&limit=&offset=
func (s *Server) rowsOptions(q url.Values) (dashboard.RowsOptions, error) {
	opts := dashboard.RowsOptions{Search: q.Get("search")}
	if col := q.Get("order"); col != "" {
		desc, _ := strconv.ParseBool(q.Get("desc"))
		opts.Order = &supabase.Order{Column: col, Ascending: !desc}
	}
	var err error
	if opts.Limit, err = intParam(q, "limit", s.pageSize); err != nil {
		return opts, err
	}
	if opts.Offset, err = intParam(q, "offset", 0); err != nil {
		return opts, err
	}
	return opts, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequestf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	opts, err := s.rowsOptions(r.URL.Query())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	res, err := s.session.Rows(r.Context(), mux.Vars(r)["table"], opts)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	record, err := s.session.Record(r.Context(), vars["table"], vars["key"])
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, record)
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	var submitted form.Record
	if err := decodeBody(r, &submitted); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	row, err := s.session.AddRecord(r.Context(), mux.Vars(r)["table"], submitted)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusCreated, row)
}

// EditResponse is returned by PATCH /api/tables/{table}/rows/{key}
type EditResponse struct {
	Changed bool         `json:"changed"`
	Payload form.Payload `json:"payload"`
	Row     form.Record  `json:"row,omitempty"`
}

func (s *Server) handleEditRecord(w http.ResponseWriter, r *http.Request) {
	var submitted form.Record
	if err := decodeBody(r, &submitted); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	payload, row, err := s.session.EditRecord(r.Context(), vars["table"], vars["key"], submitted)
	if errors.Is(err, dashboard.ErrNoChanges) {
		s.respondWithJSON(w, http.StatusOK, EditResponse{Changed: false, Payload: form.Payload{}, Row: row})
		return
	}
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, EditResponse{Changed: true, Payload: payload, Row: row})
}

func (s *Server) handleDeleteRecords(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keys []any `json:"keys"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if err := s.session.DeleteRecords(r.Context(), mux.Vars(r)["table"], req.Keys); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]int{"deleted": len(req.Keys)})
}

// handleExport streams every row of a table as JSON or CSV
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatJSON)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		s.respondWithError(w, r, &badRequest{err: err})
		return
	}
	schema, err := s.session.Schema(table)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	client, err := s.session.Client()
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	src := export.NewTableSource(client, schema)
	records, err := src.Records(r.Context())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	contentType := "application/json; charset=utf-8"
	if format == export.FormatCSV {
		contentType = "text/csv; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", table+"."+string(format)))

	exp := export.NewExporter(src.Columns()).KeyBy(r.URL.Query().Get("key"))
	if err := exp.Write(w, format, records); err != nil {
		s.logger.Error("export failed", zap.String("table", table), zap.Error(err))
	}
}

// Storage

func (s *Server) handleBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.session.Buckets(r.Context())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, buckets)
}

// FileEntry is a bucket object with its display size
type FileEntry struct {
	supabase.FileObject
	Key  string `json:"key"`
	Size string `json:"size"`
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sortBy, err := supabase.ParseSortColumn(q.Get("sort"))
	if err != nil {
		s.respondWithError(w, r, &badRequest{err: err})
		return
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	desc, _ := strconv.ParseBool(q.Get("desc"))

	files, err := s.session.Files(r.Context(), mux.Vars(r)["bucket"], supabase.ListOptions{
		Prefix:     q.Get("prefix"),
		Offset:     offset,
		SortBy:     sortBy,
		Descending: desc,
	}, q.Get("search"))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	entries := make([]FileEntry, len(files))
	for i, f := range files {
		entries[i] = FileEntry{FileObject: f, Key: f.Key(), Size: f.HumanSize()}
	}
	s.respondWithJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRemoveFiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Names []string `json:"names"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if err := s.session.RemoveFiles(r.Context(), mux.Vars(r)["bucket"], req.Names); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]int{"deleted": len(req.Names)})
}

func (s *Server) handleFileURL(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondWithError(w, r, badRequestf("path is required"))
		return
	}
	link, err := s.session.FileURL(r.Context(), mux.Vars(r)["bucket"], path)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"url": link})
}

// Users

// UserEntry is an auth user with its provider names
type UserEntry struct {
	supabase.User
	Providers []string `json:"providers"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.session.Users(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	entries := make([]UserEntry, len(users))
	for i, u := range users {
		entries[i] = UserEntry{User: u, Providers: u.Providers()}
	}
	s.respondWithJSON(w, http.StatusOK, entries)
}

type emailRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleInviteUser(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		s.respondWithError(w, r, badRequestf("email is required"))
		return
	}
	user, err := s.session.InviteUser(r.Context(), req.Email)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusCreated, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var update supabase.UserUpdate
	if err := decodeBody(r, &update); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	user, err := s.session.UpdateUser(r.Context(), mux.Vars(r)["id"], update)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUsers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	n, err := s.session.DeleteUsers(r.Context(), req.IDs)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleRecoveryLink(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	link, err := s.session.RecoveryLink(r.Context(), req.Email)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"link": link})
}
