package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const projectSchema = `{
  "paths": {"/": {}, "/items": {}},
  "definitions": {
    "items": {"properties": {
      "id": {"type": "integer", "default": "nextval()"},
      "name": {"type": "string"},
      "qty": {"type": "integer"},
      "active": {"type": "boolean"}
    }}
  }
}`

// project fakes the REST, storage and auth endpoints of one project
type project struct {
	srv *httptest.Server

	mu       sync.Mutex
	items    map[string]map[string]any
	requests []string
}

func newProject(t *testing.T) *project {
	t.Helper()
	p := &project{items: map[string]map[string]any{
		"1": {"id": 1, "name": "bolt", "qty": 10, "active": true},
		"2": {"id": 2, "name": "nut, hex", "qty": 5, "active": false},
	}}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *project) URL() string { return p.srv.URL }

func (p *project) saw(prefix string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.requests {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}

func (p *project) serve(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
	body, _ := io.ReadAll(r.Body)

	if r.Header.Get("apikey") != "anon" {
		reply(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
		return
	}

	switch {
	case r.URL.Path == "/rest/v1/":
		w.Write([]byte(projectSchema))
	case r.URL.Path == "/rest/v1/items":
		p.serveItems(w, r, body)
	case r.URL.Path == "/rest/v1/rpc/get_db_size":
		reply(w, http.StatusOK, "8 MB")
	case r.URL.Path == "/storage/v1/bucket":
		reply(w, http.StatusOK, []map[string]any{{"id": "media", "name": "media", "public": true}})
	case r.URL.Path == "/storage/v1/object/list/media":
		reply(w, http.StatusOK, []map[string]any{
			{"id": "o1", "name": "logo.png", "metadata": map[string]any{"size": 2048}},
		})
	case r.URL.Path == "/auth/v1/admin/users":
		reply(w, http.StatusOK, map[string]any{"users": []map[string]any{
			{"id": "u1", "email": "ops@example.com", "identities": []map[string]any{{"provider": "email"}}},
		}})
	default:
		reply(w, http.StatusNotFound, map[string]any{"message": "not found"})
	}
}

func (p *project) serveItems(w http.ResponseWriter, r *http.Request, body []byte) {
	filter := r.URL.Query().Get("id")
	switch r.Method {
	case http.MethodGet:
		if id, ok := strings.CutPrefix(filter, "eq."); ok {
			if row, found := p.items[id]; found {
				reply(w, http.StatusOK, []any{row})
				return
			}
			reply(w, http.StatusOK, []any{})
			return
		}
		reply(w, http.StatusOK, []any{p.items["1"], p.items["2"]})
	case http.MethodPost:
		var row map[string]any
		json.Unmarshal(body, &row)
		row["id"] = 3
		reply(w, http.StatusCreated, []any{row})
	case http.MethodPatch:
		var changes map[string]any
		json.Unmarshal(body, &changes)
		row := p.items[strings.TrimPrefix(filter, "eq.")]
		for k, v := range changes {
			row[k] = v
		}
		reply(w, http.StatusOK, []any{row})
	case http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	}
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
