package dashboard

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kopabase/kopabase/pkg/state"
	"github.com/kopabase/kopabase/pkg/supabase"
)

// Buckets lists the storage buckets with pinned buckets first
func (s *Session) Buckets(ctx context.Context) ([]supabase.Bucket, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	buckets, err := snap.client.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.current(snap); err != nil {
		return nil, err
	}

	s.mu.RLock()
	names := make([]string, len(buckets))
	byName := make(map[string]supabase.Bucket, len(buckets))
	for i, b := range buckets {
		names[i] = b.Name
		byName[b.Name] = b
	}
	ordered := state.Ordered(names, snap.workspace.PinnedBuckets)
	s.mu.RUnlock()

	out := make([]supabase.Bucket, len(ordered))
	for i, name := range ordered {
		out[i] = byName[name]
	}
	return out, nil
}

func (s *Session) bucket(ctx context.Context, snap snapshot, name string) (supabase.Bucket, error) {
	buckets, err := snap.client.ListBuckets(ctx)
	if err != nil {
		return supabase.Bucket{}, err
	}
	for _, b := range buckets {
		if b.Name == name || b.ID == name {
			return b, nil
		}
	}
	return supabase.Bucket{}, fmt.Errorf("unknown bucket %q", name)
}

// Files lists a bucket level, filtered by search
func (s *Session) Files(ctx context.Context, bucket string, opts supabase.ListOptions, search string) ([]supabase.FileObject, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	files, err := snap.client.ListObjects(ctx, bucket, opts)
	if err != nil {
		return nil, err
	}
	if err := s.current(snap); err != nil {
		return nil, err
	}
	if files == nil {
		files = []supabase.FileObject{}
	}
	return supabase.FilterFiles(files, search), nil
}

// RemoveFiles deletes objects from a bucket
func (s *Session) RemoveFiles(ctx context.Context, bucket string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	snap, err := s.snapshot()
	if err != nil {
		return err
	}
	if err := snap.client.RemoveObjects(ctx, bucket, names); err != nil {
		return err
	}
	if err := s.current(snap); err != nil {
		return err
	}

	s.logger.Info("files removed", zap.String("bucket", bucket), zap.Int("count", len(names)))
	s.emit(Event{Type: EventFiles, Name: bucket})
	return nil
}

// RemoveSelectedFiles deletes the selected files of the active bucket and
// clears the selection
func (s *Session) RemoveSelectedFiles(ctx context.Context) (int, error) {
	view, err := s.Workspace()
	if err != nil {
		return 0, err
	}
	if view.ActiveBucket == "" || len(view.SelectedFiles) == 0 {
		return 0, nil
	}

	// Selection keys are object ids; removal goes by name.
	files, err := s.Files(ctx, view.ActiveBucket, supabase.ListOptions{}, "")
	if err != nil {
		return 0, err
	}
	selected := state.NewSet(view.SelectedFiles...)
	var names []string
	for _, f := range files {
		if selected.Has(f.Key()) {
			names = append(names, f.Name)
		}
	}

	if err := s.RemoveFiles(ctx, view.ActiveBucket, names); err != nil {
		return 0, err
	}
	if _, err := s.Select(ctx, "files", SelectClear, nil); err != nil {
		return 0, err
	}
	return len(names), nil
}

// FileURL returns a viewing link for an object: direct for public buckets,
// signed with the workspace validity otherwise
func (s *Session) FileURL(ctx context.Context, bucket, path string) (string, error) {
	snap, err := s.snapshot()
	if err != nil {
		return "", err
	}
	b, err := s.bucket(ctx, snap, bucket)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	seconds := snap.workspace.MaxSignedURLSeconds
	s.mu.RUnlock()

	link, err := snap.client.ViewURL(ctx, b, path, seconds)
	if err != nil {
		return "", err
	}
	if err := s.current(snap); err != nil {
		return "", err
	}
	return link, nil
}
