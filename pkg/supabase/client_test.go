package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kopabase/kopabase/pkg/form"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captured is the last request seen by a fake project
type captured struct {
	mu      sync.Mutex
	method  string
	path    string
	query   map[string]string
	headers http.Header
	body    []byte
}

func (c *captured) record(r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.method = r.Method
	c.path = r.URL.Path
	c.query = map[string]string{}
	for k := range r.URL.Query() {
		c.query[k] = r.URL.Query().Get(k)
	}
	c.headers = r.Header.Clone()
	c.body, _ = io.ReadAll(r.Body)
}

// newProject starts a fake backend that answers every request with status and body
func newProject(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()
	seen := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestSanitizeURL(t *testing.T) {
	tests := map[string]string{
		"https://abc.supabase.co":          "https://abc.supabase.co",
		"https://abc.supabase.co/":         "https://abc.supabase.co",
		"https://abc.supabase.co/rest/v1":  "https://abc.supabase.co",
		"https://abc.supabase.co/rest/v1/": "https://abc.supabase.co",
		"  http://localhost:54321  ":       "http://localhost:54321",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeURL(in), in)
	}
}

func TestHeaders(t *testing.T) {
	srv, seen := newProject(t, http.StatusOK, `[]`)

	anon := New(srv.URL, "anon", "")
	_, err := anon.From("notes").Select(context.Background(), SelectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "anon", seen.headers.Get("apikey"))
	assert.Equal(t, "Bearer anon", seen.headers.Get("Authorization"))
	assert.Equal(t, "application/json", seen.headers.Get("Content-Type"))

	elevated := New(srv.URL, "anon", "service")
	_, err = elevated.From("notes").Select(context.Background(), SelectOptions{})
	require.NoError(t, err)
	assert.Equal(t, "anon", seen.headers.Get("apikey"))
	assert.Equal(t, "Bearer service", seen.headers.Get("Authorization"))
}

func TestConnect(t *testing.T) {
	srv, seen := newProject(t, http.StatusOK, `{"paths": {"/": {}, "/notes": {}, "/users": {}, "/rpc/f": {}},
		"definitions": {"notes": {"properties": {"id": {"type": "integer"}}}, "users": {"properties": {}}}}`)

	c := New(srv.URL+"/rest/v1/", "anon", "")
	doc, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/rest/v1/", seen.path)
	assert.Equal(t, []string{"notes"}, TableNames(doc))
}

func TestConnectFailures(t *testing.T) {
	var connErr *ConnectionError

	_, err := New("", "", "").Connect(context.Background())
	require.ErrorAs(t, err, &connErr)

	srv, _ := newProject(t, http.StatusUnauthorized, `{"message": "Invalid API key"}`)
	_, err = New(srv.URL, "bad", "").Connect(context.Background())
	require.ErrorAs(t, err, &connErr)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
	assert.Equal(t, "Invalid API key", reqErr.Body)

	noDefs, _ := newProject(t, http.StatusOK, `{"paths": {}}`)
	_, err = New(noDefs.URL, "anon", "").Connect(context.Background())
	require.ErrorAs(t, err, &connErr)
}

func TestSelect(t *testing.T) {
	srv, seen := newProject(t, http.StatusOK, `[{"id": 9007199254740993, "name": "a"}]`)
	c := New(srv.URL, "anon", "")

	rows, err := c.From("notes").Select(context.Background(), SelectOptions{
		Order:  &Order{Column: "name", Ascending: false},
		Limit:  20,
		Offset: 40,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, json.Number("9007199254740993"), rows[0]["id"], "large ids keep their precision")

	assert.Equal(t, http.MethodGet, seen.method)
	assert.Equal(t, "/rest/v1/notes", seen.path)
	assert.Equal(t, "*", seen.query["select"])
	assert.Equal(t, "name.desc", seen.query["order"])
	assert.Equal(t, "20", seen.query["limit"])
	assert.Equal(t, "40", seen.query["offset"])
}

func TestOrderToggle(t *testing.T) {
	var o *Order
	o = o.Toggle("name")
	assert.Equal(t, Order{Column: "name", Ascending: true}, *o)
	o = o.Toggle("name")
	assert.False(t, o.Ascending)
	o = o.Toggle("created_at")
	assert.Equal(t, Order{Column: "created_at", Ascending: true}, *o)
}

func TestGetNotFound(t *testing.T) {
	srv, seen := newProject(t, http.StatusOK, `[]`)
	_, err := New(srv.URL, "anon", "").From("notes").Get(context.Background(), "id", 7)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "eq.7", seen.query["id"])
	assert.Equal(t, "1", seen.query["limit"])
}

func TestInsert(t *testing.T) {
	srv, seen := newProject(t, http.StatusCreated, `[{"id": 1, "name": "x"}]`)
	c := New(srv.URL, "anon", "")

	rows, err := c.From("notes").Insert(context.Background(), form.Payload{"name": "x"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, http.MethodPost, seen.method)
	assert.Equal(t, "return=representation", seen.headers.Get("Prefer"))
	assert.JSONEq(t, `{"name": "x"}`, string(seen.body))

	_, err = c.From("notes").Insert(context.Background(), form.Payload{"name": "a"}, form.Payload{"name": "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name": "a"}, {"name": "b"}]`, string(seen.body))
}

func TestInsertError(t *testing.T) {
	srv, _ := newProject(t, http.StatusConflict, `{"code": "23505", "message": "duplicate key value"}`)

	_, err := New(srv.URL, "anon", "").From("notes").Insert(context.Background(), form.Payload{"id": 1})
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "insert", reqErr.Op)
	assert.Equal(t, http.StatusConflict, reqErr.Status)
	assert.Contains(t, err.Error(), "duplicate key value")
}

func TestUpdate(t *testing.T) {
	srv, seen := newProject(t, http.StatusOK, `[{"id": "a b"}]`)

	_, err := New(srv.URL, "anon", "").From("notes").Update(context.Background(), form.Payload{"name": nil}, "id", "a b")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, seen.method)
	assert.Equal(t, "eq.a b", seen.query["id"])
	assert.Equal(t, "return=representation", seen.headers.Get("Prefer"))
	assert.JSONEq(t, `{"name": null}`, string(seen.body))
}

func TestDeleteIn(t *testing.T) {
	srv, seen := newProject(t, http.StatusNoContent, ``)
	table := New(srv.URL, "anon", "").From("notes")

	require.NoError(t, table.DeleteIn(context.Background(), "id", []any{1, json.Number("2"), "a,b"}))
	assert.Equal(t, http.MethodDelete, seen.method)
	assert.Equal(t, `in.(1,2,"a,b")`, seen.query["id"])

	seen.method = ""
	require.NoError(t, table.DeleteIn(context.Background(), "id", nil))
	assert.Empty(t, seen.method, "an empty list issues no request")
}

func TestTransportError(t *testing.T) {
	srv, _ := newProject(t, http.StatusOK, `[]`)
	c := New(srv.URL, "anon", "")
	srv.Close()

	_, err := c.From("notes").Select(context.Background(), SelectOptions{})
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Zero(t, reqErr.Status)
	assert.NotNil(t, errors.Unwrap(reqErr))
}

func TestMetrics(t *testing.T) {
	srv, _ := newProject(t, http.StatusOK, `[]`)
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	c := New(srv.URL, "anon", "", WithMetrics(m))
	_, err := c.From("notes").Select(context.Background(), SelectOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("select", "200")))
}

func TestProjectName(t *testing.T) {
	assert.Equal(t, "Abcdef", ProjectName("https://abcdef.supabase.co", ""))
	assert.Equal(t, "Local Project", ProjectName("http://localhost:54321", ""))
	assert.Equal(t, "Local Project", ProjectName("http://127.0.0.1:54321", ""))
	assert.Equal(t, "Mine", ProjectName("https://abcdef.supabase.co", " Mine "))
	assert.Equal(t, "Project", ProjectName("::", ""))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "boom", errorMessage([]byte(`{"msg": "boom"}`)))
	assert.Equal(t, "plain text", errorMessage([]byte(" plain text \n")))
	assert.True(t, strings.HasPrefix(errorMessage([]byte(`{"other": 1}`)), "{"))
}
