package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const fakeSchema = `{
  "paths": {"/": {}, "/notes": {}, "/todos": {}, "/rpc/get_db_size": {}},
  "definitions": {
    "notes": {"properties": {
      "id": {"type": "integer", "default": "nextval()"},
      "title": {"type": "string"},
      "done": {"type": "boolean"},
      "meta": {"type": "object", "format": "jsonb"},
      "created_at": {"type": "string", "format": "date-time", "default": "now()"}
    }},
    "todos": {"properties": {
      "id": {"type": "string", "format": "uuid", "default": "gen_random_uuid()"},
      "label": {"type": "string"}
    }}
  }
}`

// fakeProject is an in-memory backend serving the notes table, two buckets
// and a couple of users
type fakeProject struct {
	srv *httptest.Server

	mu          sync.Mutex
	notes       map[string]map[string]any
	nextID      int
	requests    []string
	bodies      map[string][]byte
	failBuckets bool
	rejectKey   bool
}

func newFakeProject(t *testing.T) *fakeProject {
	t.Helper()
	p := &fakeProject{
		notes: map[string]map[string]any{
			"1": {"id": 1, "title": "Alice", "done": true, "meta": map[string]any{"a": 1}, "created_at": "2024-01-02T03:04:05.123+00:00"},
			"2": {"id": 2, "title": "Bob", "done": false, "meta": nil, "created_at": "2024-01-03T00:00:00+00:00"},
		},
		nextID: 3,
		bodies: map[string][]byte{},
	}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProject) URL() string { return p.srv.URL }

// seen reports whether a request starting with prefix ("METHOD /path") was made
func (p *fakeProject) seen(prefix string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.requests {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}

func (p *fakeProject) body(method, path string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bodies[method+" "+path]
}

func (p *fakeProject) serve(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	key := r.Method + " " + r.URL.Path
	p.requests = append(p.requests, key+"?"+r.URL.RawQuery)
	p.bodies[key] = body

	if p.rejectKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
		return
	}

	switch {
	case r.URL.Path == "/rest/v1/":
		w.Write([]byte(fakeSchema))
	case r.URL.Path == "/rest/v1/notes":
		p.serveNotes(w, r, body)
	case r.URL.Path == "/rest/v1/rpc/get_db_size":
		writeJSON(w, http.StatusOK, "12 MB")
	case r.URL.Path == "/storage/v1/bucket":
		if p.failBuckets {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "storage down"})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "avatars", "name": "avatars", "public": true},
			{"id": "docs", "name": "docs", "public": false},
		})
	case r.URL.Path == "/storage/v1/object/list/docs":
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "f1", "name": "a.txt", "metadata": map[string]any{"size": 10}},
			{"id": "f2", "name": "b.txt", "metadata": map[string]any{"size": 20}},
		})
	case r.Method == http.MethodDelete && r.URL.Path == "/storage/v1/object/docs":
		writeJSON(w, http.StatusOK, []any{})
	case strings.HasPrefix(r.URL.Path, "/storage/v1/object/sign/"):
		writeJSON(w, http.StatusOK, map[string]any{"signedURL": "/object/sign/docs/a.txt?token=t"})
	case r.URL.Path == "/auth/v1/admin/users":
		writeJSON(w, http.StatusOK, map[string]any{"users": []map[string]any{
			{"id": "u1", "email": "ann@example.com"},
			{"id": "u2", "email": "bob@example.com"},
		}})
	case strings.HasPrefix(r.URL.Path, "/auth/v1/admin/users/"):
		writeJSON(w, http.StatusOK, map[string]any{"id": strings.TrimPrefix(r.URL.Path, "/auth/v1/admin/users/")})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "not found"})
	}
}

func (p *fakeProject) serveNotes(w http.ResponseWriter, r *http.Request, body []byte) {
	filter := r.URL.Query().Get("id")

	switch r.Method {
	case http.MethodGet:
		if id, ok := strings.CutPrefix(filter, "eq."); ok {
			if row, found := p.notes[id]; found {
				writeJSON(w, http.StatusOK, []any{row})
				return
			}
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		ids := make([]string, 0, len(p.notes))
		for id := range p.notes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		rows := make([]any, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, p.notes[id])
		}
		writeJSON(w, http.StatusOK, rows)

	case http.MethodPost:
		var row map[string]any
		json.Unmarshal(body, &row)
		row["id"] = p.nextID
		p.notes[strconv.Itoa(p.nextID)] = row
		p.nextID++
		writeJSON(w, http.StatusCreated, []any{row})

	case http.MethodPatch:
		id := strings.TrimPrefix(filter, "eq.")
		var changes map[string]any
		json.Unmarshal(body, &changes)
		row := p.notes[id]
		for k, v := range changes {
			row[k] = v
		}
		writeJSON(w, http.StatusOK, []any{row})

	case http.MethodDelete:
		list := strings.TrimSuffix(strings.TrimPrefix(filter, "in.("), ")")
		for _, id := range strings.Split(list, ",") {
			delete(p.notes, id)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
