package dashboard

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kopabase/kopabase/pkg/supabase"
)

// Sidebar is everything the navigation column shows
type Sidebar struct {
	Info        Info              `json:"info"`
	Tables      []string          `json:"tables"`
	Buckets     []supabase.Bucket `json:"buckets"`
	Users       int               `json:"users"`
	UsersPinned bool              `json:"usersPinned"`
	// UsersAvailable is false without a service role key
	UsersAvailable bool `json:"usersAvailable"`
	// Errors holds the section load failures that did not fail the sidebar
	Errors map[string]string `json:"errors,omitempty"`
}

// Sidebar loads the buckets and the user count concurrently. A failing
// section is reported in Errors and leaves the rest intact.
func (s *Session) Sidebar(ctx context.Context) (Sidebar, error) {
	info, err := s.Info()
	if err != nil {
		return Sidebar{}, err
	}
	tables, err := s.Tables()
	if err != nil {
		return Sidebar{}, err
	}
	view, err := s.Workspace()
	if err != nil {
		return Sidebar{}, err
	}

	sb := Sidebar{
		Info:           info,
		Tables:         tables,
		Buckets:        []supabase.Bucket{},
		UsersPinned:    view.PinnedUsers,
		UsersAvailable: info.ServiceRole,
	}

	var bucketsErr, usersErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		buckets, err := s.Buckets(gctx)
		if errors.Is(err, ErrStale) {
			return err
		}
		if err != nil {
			bucketsErr = err
			return nil
		}
		sb.Buckets = buckets
		return nil
	})
	if info.ServiceRole {
		g.Go(func() error {
			users, err := s.Users(gctx, "")
			if errors.Is(err, ErrStale) {
				return err
			}
			if err != nil {
				usersErr = err
				return nil
			}
			sb.Users = len(users)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Sidebar{}, err
	}

	for name, err := range map[string]error{"buckets": bucketsErr, "users": usersErr} {
		if err == nil {
			continue
		}
		if sb.Errors == nil {
			sb.Errors = map[string]string{}
		}
		sb.Errors[name] = err.Error()
		s.logger.Warn("sidebar section failed", zap.String("section", name), zap.Error(err))
	}
	return sb, nil
}
