package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ConnectionKey holds the saved connection profile
const ConnectionKey = "supabaseConnection"

// DefaultSignedURLSeconds is the signed link validity used until one is saved
const DefaultSignedURLSeconds = 60

const (
	pinnedTablesPrefix  = "pinnedTables"
	pinnedBucketsPrefix = "pinnedBuckets"
	pinnedUsersPrefix   = "pinnedUsers"
	maxVisibilityPrefix = "maxVisibilitySeconds"
)

// ConfigKey is the scope every per-connection key is suffixed with
func ConfigKey(projectURL, anonKey string) string {
	return projectURL + ":" + anonKey
}

func scoped(prefix, scope string) string {
	return prefix + ":" + scope
}

// GetJSON decodes the value stored at key into out. It returns ErrNotFound
// when the key is missing.
func GetJSON(ctx context.Context, store Store, key string, out any) error {
	data, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return nil
}

// PutJSON encodes value and stores it at key
func PutJSON(ctx context.Context, store Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return store.Put(ctx, key, data)
}

// Workspace is the dashboard state of one connection. Pins and the signed
// link validity are persisted; selections live only as long as the workspace.
type Workspace struct {
	Scope string

	PinnedTables  *Set[string]
	PinnedBuckets *Set[string]
	PinnedUsers   bool

	MaxSignedURLSeconds int

	ActiveTable  string
	ActiveBucket string

	SelectedRows  *Set[string]
	SelectedFiles *Set[string]
	SelectedUsers *Set[string]
}

// NewWorkspace returns an empty workspace for scope
func NewWorkspace(scope string) *Workspace {
	return &Workspace{
		Scope:               scope,
		PinnedTables:        NewSet[string](),
		PinnedBuckets:       NewSet[string](),
		MaxSignedURLSeconds: DefaultSignedURLSeconds,
		SelectedRows:        NewSet[string](),
		SelectedFiles:       NewSet[string](),
		SelectedUsers:       NewSet[string](),
	}
}

// LoadWorkspace restores the persisted part of the workspace for scope.
// Missing keys keep their defaults.
func LoadWorkspace(ctx context.Context, store Store, scope string) (*Workspace, error) {
	w := NewWorkspace(scope)

	load := func(prefix string, out any) error {
		err := GetJSON(ctx, store, scoped(prefix, scope), out)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if err := load(pinnedTablesPrefix, w.PinnedTables); err != nil {
		return nil, err
	}
	if err := load(pinnedBucketsPrefix, w.PinnedBuckets); err != nil {
		return nil, err
	}
	if err := load(pinnedUsersPrefix, &w.PinnedUsers); err != nil {
		return nil, err
	}
	if err := load(maxVisibilityPrefix, &w.MaxSignedURLSeconds); err != nil {
		return nil, err
	}
	if w.MaxSignedURLSeconds <= 0 {
		w.MaxSignedURLSeconds = DefaultSignedURLSeconds
	}
	return w, nil
}

// Save persists the pins and the signed link validity
func (w *Workspace) Save(ctx context.Context, store Store) error {
	values := []struct {
		prefix string
		value  any
	}{
		{pinnedTablesPrefix, w.PinnedTables},
		{pinnedBucketsPrefix, w.PinnedBuckets},
		{pinnedUsersPrefix, w.PinnedUsers},
		{maxVisibilityPrefix, w.MaxSignedURLSeconds},
	}
	for _, v := range values {
		if err := PutJSON(ctx, store, scoped(v.prefix, w.Scope), v.value); err != nil {
			return err
		}
	}
	return nil
}

// SelectTable makes table active; switching tables drops the row selection
func (w *Workspace) SelectTable(table string) {
	if table != w.ActiveTable {
		w.SelectedRows.Clear()
	}
	w.ActiveTable = table
}

// SelectBucket makes bucket active; switching buckets drops the file selection
func (w *Workspace) SelectBucket(bucket string) {
	if bucket != w.ActiveBucket {
		w.SelectedFiles.Clear()
	}
	w.ActiveBucket = bucket
}

// SetMaxSignedURLSeconds changes the validity of signed links
func (w *Workspace) SetMaxSignedURLSeconds(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("signed URL validity must be positive, got %d", seconds)
	}
	w.MaxSignedURLSeconds = seconds
	return nil
}

// Selection returns the selection set of kind ("rows", "files" or "users")
func (w *Workspace) Selection(kind string) (*Set[string], error) {
	switch kind {
	case "rows":
		return w.SelectedRows, nil
	case "files":
		return w.SelectedFiles, nil
	case "users":
		return w.SelectedUsers, nil
	}
	return nil, fmt.Errorf("unknown selection %q", kind)
}

// Pins returns the pin set of kind ("tables" or "buckets")
func (w *Workspace) Pins(kind string) (*Set[string], error) {
	switch kind {
	case "tables":
		return w.PinnedTables, nil
	case "buckets":
		return w.PinnedBuckets, nil
	}
	return nil, fmt.Errorf("unknown pin list %q", kind)
}
