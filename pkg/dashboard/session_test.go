package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kopabase/kopabase/pkg/config"
	"github.com/kopabase/kopabase/pkg/form"
	"github.com/kopabase/kopabase/pkg/state"
	"github.com/kopabase/kopabase/pkg/supabase"
)

// eventLog collects emitted events
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) has(e Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.events {
		if got == e {
			return true
		}
	}
	return false
}

func connect(t *testing.T, p *fakeProject, serviceRole string) (*Session, state.Store, *eventLog) {
	t.Helper()
	store := state.NewMemoryStore()
	events := &eventLog{}
	s := New(store, OnChange(events.add))
	_, err := s.Connect(context.Background(), config.Connection{ProjectURL: p.URL(), AnonKey: "anon", ServiceRoleKey: serviceRole})
	require.NoError(t, err)
	return s, store, events
}

func TestConnect(t *testing.T) {
	p := newFakeProject(t)
	s, store, events := connect(t, p, "")

	info, err := s.Info()
	require.NoError(t, err)
	assert.Equal(t, "Local Project", info.ProjectName)
	assert.False(t, info.ServiceRole)
	assert.True(t, events.has(Event{Type: EventConnection}))

	tables, err := s.Tables()
	require.NoError(t, err)
	assert.Equal(t, []string{"notes", "todos"}, tables)

	view, err := s.Workspace()
	require.NoError(t, err)
	assert.Equal(t, "notes", view.ActiveTable, "the first table is selected")

	var saved config.Connection
	require.NoError(t, state.GetJSON(context.Background(), store, state.ConnectionKey, &saved))
	assert.Equal(t, p.URL(), saved.ProjectURL)
}

func TestConnectFailureClearsSavedConnection(t *testing.T) {
	p := newFakeProject(t)
	s, store, _ := connect(t, p, "")
	ctx := context.Background()

	p.mu.Lock()
	p.rejectKey = true
	p.mu.Unlock()

	_, err := s.Connect(ctx, config.Connection{ProjectURL: p.URL(), AnonKey: "wrong"})
	var connErr *supabase.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.False(t, s.Connected())

	_, err = store.Get(ctx, state.ConnectionKey)
	assert.ErrorIs(t, err, state.ErrNotFound)

	_, err = s.Connect(ctx, config.Connection{ProjectURL: "not a url", AnonKey: "k"})
	require.ErrorAs(t, err, &connErr)
}

func TestRestoreKeepsPins(t *testing.T) {
	p := newFakeProject(t)
	s, store, _ := connect(t, p, "")
	ctx := context.Background()

	_, err := s.TogglePin(ctx, "tables", "todos")
	require.NoError(t, err)
	_, err = s.TogglePinUsers(ctx)
	require.NoError(t, err)

	restored := New(store)
	ok, err := restored.Restore(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	tables, err := restored.Tables()
	require.NoError(t, err)
	assert.Equal(t, []string{"todos", "notes"}, tables)

	view, err := restored.Workspace()
	require.NoError(t, err)
	assert.True(t, view.PinnedUsers)
	assert.Equal(t, "todos", view.ActiveTable, "the first visible table is selected")

	empty := New(state.NewMemoryStore())
	ok, err = empty.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisconnect(t *testing.T) {
	p := newFakeProject(t)
	s, store, _ := connect(t, p, "")
	ctx := context.Background()

	require.NoError(t, s.Disconnect(ctx))
	assert.False(t, s.Connected())
	_, err := s.Rows(ctx, "notes", RowsOptions{})
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = store.Get(ctx, state.ConnectionKey)
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestStaleResponsesAreDropped(t *testing.T) {
	p := newFakeProject(t)
	s, _, _ := connect(t, p, "")

	snap, err := s.snapshot()
	require.NoError(t, err)
	require.NoError(t, s.current(snap))

	_, err = s.Connect(context.Background(), config.Connection{ProjectURL: p.URL(), AnonKey: "anon"})
	require.NoError(t, err)
	assert.ErrorIs(t, s.current(snap), ErrStale)
}

func TestRows(t *testing.T) {
	p := newFakeProject(t)
	s, _, _ := connect(t, p, "")

	res, err := s.Rows(context.Background(), "notes", RowsOptions{
		Order:  &supabase.Order{Column: "title", Ascending: false},
		Search: "bob",
		Limit:  20,
	})
	require.NoError(t, err)
	assert.Equal(t, "id", res.PrimaryKey)
	assert.Equal(t, []string{"id", "title", "done", "meta", "created_at"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Bob", res.Rows[0]["title"])
	assert.True(t, p.seen("GET /rest/v1/notes?limit=20&order=title.desc"))

	_, err = s.Rows(context.Background(), "missing", RowsOptions{})
	var unknown *UnknownTableError
	assert.ErrorAs(t, err, &unknown)
}

func TestAddRecord(t *testing.T) {
	p := newFakeProject(t)
	s, _, events := connect(t, p, "")
	ctx := context.Background()

	row, err := s.AddRecord(ctx, "notes", form.Record{"title": "", "done": true, "meta": `{"a": 1}`})
	require.NoError(t, err)
	assert.Equal(t, json.Number("3"), row["id"])
	assert.JSONEq(t, `{"done": true, "meta": {"a": 1}}`, string(p.body("POST", "/rest/v1/notes")))
	assert.True(t, events.has(Event{Type: EventRows, Name: "notes"}))

	_, err = s.AddRecord(ctx, "notes", form.Record{"meta": "{broken"})
	var verrs form.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, form.InvalidJSON, verrs.For("meta").Kind)
}

func TestEditRecord(t *testing.T) {
	p := newFakeProject(t)
	s, _, _ := connect(t, p, "")
	ctx := context.Background()

	payload, _, err := s.EditRecord(ctx, "notes", "1", form.Record{"title": "Alice", "meta": "{\"a\":   1}"})
	assert.ErrorIs(t, err, ErrNoChanges)
	assert.Empty(t, payload)
	assert.False(t, p.seen("PATCH"), "an empty diff issues no write")

	payload, row, err := s.EditRecord(ctx, "notes", "1", form.Record{"title": "", "id": "99"})
	require.NoError(t, err)
	assert.Equal(t, form.Payload{"title": nil}, payload)
	assert.Nil(t, row["title"])
	assert.JSONEq(t, `{"title": null}`, string(p.body("PATCH", "/rest/v1/notes")))
	assert.True(t, p.seen("PATCH /rest/v1/notes?id=eq.1"))

	_, _, err = s.EditRecord(ctx, "notes", "42", form.Record{"title": "x"})
	assert.ErrorIs(t, err, supabase.ErrNotFound)
}

func TestEditRecordKeepsNullBoolean(t *testing.T) {
	p := newFakeProject(t)
	p.notes["2"]["done"] = nil
	s, _, _ := connect(t, p, "")
	ctx := context.Background()

	_, _, err := s.EditRecord(ctx, "notes", "2", form.Record{"title": "Bob"})
	assert.ErrorIs(t, err, ErrNoChanges)
	assert.False(t, p.seen("PATCH"), "a null boolean is not rewritten to false")

	payload, _, err := s.EditRecord(ctx, "notes", "2", form.Record{"title": "Robert"})
	require.NoError(t, err)
	assert.Equal(t, form.Payload{"title": "Robert"}, payload)
}

func TestDeleteSelectedRows(t *testing.T) {
	p := newFakeProject(t)
	s, _, _ := connect(t, p, "")
	ctx := context.Background()

	_, err := s.Select(ctx, "rows", SelectAll, []string{"1", "2"})
	require.NoError(t, err)

	n, err := s.DeleteSelectedRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, p.seen("DELETE /rest/v1/notes?id=in.%281%2C2%29"))

	view, err := s.Workspace()
	require.NoError(t, err)
	assert.Empty(t, view.SelectedRows)

	n, err = s.DeleteSelectedRows(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSelectionActions(t *testing.T) {
	p := newFakeProject(t)
	s, _, _ := connect(t, p, "")
	ctx := context.Background()

	view, err := s.Select(ctx, "users", SelectToggle, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, view.SelectedUsers)

	view, err = s.Select(ctx, "users", SelectRemove, []string{"u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, view.SelectedUsers)

	_, err = s.Select(ctx, "users", "explode", nil)
	assert.Error(t, err)
	_, err = s.Select(ctx, "tables", SelectClear, nil)
	assert.Error(t, err)

	_, err = s.SelectTable(ctx, "nope")
	assert.Error(t, err)
	_, err = s.Select(ctx, "rows", SelectAdd, []string{"1"})
	require.NoError(t, err)
	view, err = s.SelectTable(ctx, "todos")
	require.NoError(t, err)
	assert.Empty(t, view.SelectedRows)
}

func TestFilterRecords(t *testing.T) {
	rows := []form.Record{
		{"id": json.Number("1"), "meta": map[string]any{"city": "Paris"}},
		{"id": json.Number("22"), "name": "Zed"},
	}
	assert.Len(t, FilterRecords(rows, "paris"), 1)
	assert.Len(t, FilterRecords(rows, "22"), 1)
	assert.Len(t, FilterRecords(rows, " "), 2)
	assert.Empty(t, FilterRecords(rows, "nothing"))
}

func TestRowKey(t *testing.T) {
	assert.Equal(t, "12", RowKey(json.Number("12")))
	assert.Equal(t, "abc", RowKey("abc"))
	assert.Equal(t, "1.5", RowKey(1.5))
	assert.Equal(t, "", RowKey(nil))
}

func TestDBSize(t *testing.T) {
	p := newFakeProject(t)
	s, _, _ := connect(t, p, "")
	_, err := s.DBSize(context.Background())
	assert.ErrorIs(t, err, supabase.ErrServiceRoleRequired)

	admin, _, _ := connect(t, p, "service")
	size, err := admin.DBSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12 MB", size)
}
