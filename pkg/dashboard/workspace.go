package dashboard

import (
	"context"
	"fmt"

	"github.com/kopabase/kopabase/pkg/state"
)

// SelectionAction is a change applied to a selection set
type SelectionAction string

const (
	SelectAdd    SelectionAction = "add"
	SelectRemove SelectionAction = "remove"
	SelectToggle SelectionAction = "toggle"
	// SelectAll adds the given (visible) keys to the selection
	SelectAll   SelectionAction = "all"
	SelectClear SelectionAction = "clear"
)

// WorkspaceView is the serializable state of the workspace
type WorkspaceView struct {
	PinnedTables        []string `json:"pinnedTables"`
	PinnedBuckets       []string `json:"pinnedBuckets"`
	PinnedUsers         bool     `json:"pinnedUsers"`
	MaxSignedURLSeconds int      `json:"maxSignedUrlSeconds"`
	ActiveTable         string   `json:"activeTable"`
	ActiveBucket        string   `json:"activeBucket"`
	SelectedRows        []string `json:"selectedRows"`
	SelectedFiles       []string `json:"selectedFiles"`
	SelectedUsers       []string `json:"selectedUsers"`
}

func viewOf(ws *state.Workspace) WorkspaceView {
	return WorkspaceView{
		PinnedTables:        ws.PinnedTables.Items(),
		PinnedBuckets:       ws.PinnedBuckets.Items(),
		PinnedUsers:         ws.PinnedUsers,
		MaxSignedURLSeconds: ws.MaxSignedURLSeconds,
		ActiveTable:         ws.ActiveTable,
		ActiveBucket:        ws.ActiveBucket,
		SelectedRows:        ws.SelectedRows.Items(),
		SelectedFiles:       ws.SelectedFiles.Items(),
		SelectedUsers:       ws.SelectedUsers.Items(),
	}
}

// update runs fn on the workspace under the session lock and persists the
// result when persist is set
func (s *Session) update(ctx context.Context, persist bool, fn func(ws *state.Workspace) error) (WorkspaceView, error) {
	s.mu.Lock()
	if s.workspace == nil {
		s.mu.Unlock()
		return WorkspaceView{}, ErrNotConnected
	}
	ws := s.workspace
	if err := fn(ws); err != nil {
		s.mu.Unlock()
		return WorkspaceView{}, err
	}
	view := viewOf(ws)
	var err error
	if persist {
		err = ws.Save(ctx, s.store)
	}
	s.mu.Unlock()

	if err != nil {
		return view, fmt.Errorf("failed to save workspace: %w", err)
	}
	s.emit(Event{Type: EventWorkspace})
	return view, nil
}

// Workspace returns a copy of the workspace state
func (s *Session) Workspace() (WorkspaceView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.workspace == nil {
		return WorkspaceView{}, ErrNotConnected
	}
	return viewOf(s.workspace), nil
}

// TogglePin pins or unpins a table ("tables") or bucket ("buckets")
func (s *Session) TogglePin(ctx context.Context, kind, name string) (WorkspaceView, error) {
	return s.update(ctx, true, func(ws *state.Workspace) error {
		pins, err := ws.Pins(kind)
		if err != nil {
			return err
		}
		pins.Toggle(name)
		return nil
	})
}

// TogglePinUsers pins or unpins the users entry of the sidebar
func (s *Session) TogglePinUsers(ctx context.Context) (WorkspaceView, error) {
	return s.update(ctx, true, func(ws *state.Workspace) error {
		ws.PinnedUsers = !ws.PinnedUsers
		return nil
	})
}

// SetMaxSignedURLSeconds changes and saves the validity of signed links
func (s *Session) SetMaxSignedURLSeconds(ctx context.Context, seconds int) (WorkspaceView, error) {
	return s.update(ctx, true, func(ws *state.Workspace) error {
		return ws.SetMaxSignedURLSeconds(seconds)
	})
}

// Select applies action to the selection of kind ("rows", "files" or "users")
func (s *Session) Select(ctx context.Context, kind string, action SelectionAction, keys []string) (WorkspaceView, error) {
	return s.update(ctx, false, func(ws *state.Workspace) error {
		set, err := ws.Selection(kind)
		if err != nil {
			return err
		}
		switch action {
		case SelectAdd:
			for _, k := range keys {
				set.Add(k)
			}
		case SelectRemove:
			for _, k := range keys {
				set.Remove(k)
			}
		case SelectToggle:
			for _, k := range keys {
				set.Toggle(k)
			}
		case SelectAll:
			set.SelectAll(keys)
		case SelectClear:
			set.Clear()
		default:
			return fmt.Errorf("unknown selection action %q", action)
		}
		return nil
	})
}

// SelectTable makes table the active table
func (s *Session) SelectTable(ctx context.Context, table string) (WorkspaceView, error) {
	if _, err := s.Schema(table); err != nil {
		return WorkspaceView{}, err
	}
	return s.update(ctx, false, func(ws *state.Workspace) error {
		ws.SelectTable(table)
		return nil
	})
}

// SelectBucket makes bucket the active bucket
func (s *Session) SelectBucket(ctx context.Context, bucket string) (WorkspaceView, error) {
	return s.update(ctx, false, func(ws *state.Workspace) error {
		ws.SelectBucket(bucket)
		return nil
	})
}
