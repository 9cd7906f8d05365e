package dashboard

import (
	"context"

	"go.uber.org/zap"

	"github.com/kopabase/kopabase/pkg/supabase"
)

// Users lists the auth users matching search
func (s *Session) Users(ctx context.Context, search string) ([]supabase.User, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	users, err := snap.client.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.current(snap); err != nil {
		return nil, err
	}
	return supabase.FilterUsers(users, search), nil
}

// InviteUser sends an invitation to email
func (s *Session) InviteUser(ctx context.Context, email string) (*supabase.User, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	user, err := snap.client.InviteUser(ctx, email)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user invited", zap.String("id", user.ID))
	s.emit(Event{Type: EventUsers})
	return user, nil
}

// UpdateUser changes the email and/or role of a user
func (s *Session) UpdateUser(ctx context.Context, id string, update supabase.UserUpdate) (*supabase.User, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	user, err := snap.client.UpdateUser(ctx, id, update)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user updated", zap.String("id", id))
	s.emit(Event{Type: EventUsers})
	return user, nil
}

// DeleteUsers removes users one by one, stopping at the first failure. It
// returns how many were deleted.
func (s *Session) DeleteUsers(ctx context.Context, ids []string) (int, error) {
	snap, err := s.snapshot()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		if err := snap.client.DeleteUser(ctx, id); err != nil {
			if deleted > 0 {
				s.emit(Event{Type: EventUsers})
			}
			return deleted, err
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("users deleted", zap.Int("count", deleted))
		s.emit(Event{Type: EventUsers})
	}
	return deleted, nil
}

// DeleteSelectedUsers deletes the selected users and clears the selection
func (s *Session) DeleteSelectedUsers(ctx context.Context) (int, error) {
	view, err := s.Workspace()
	if err != nil {
		return 0, err
	}
	n, err := s.DeleteUsers(ctx, view.SelectedUsers)
	if err != nil {
		return n, err
	}
	if _, err := s.Select(ctx, "users", SelectClear, nil); err != nil {
		return n, err
	}
	return n, nil
}

// RecoveryLink generates a password recovery link for email
func (s *Session) RecoveryLink(ctx context.Context, email string) (string, error) {
	snap, err := s.snapshot()
	if err != nil {
		return "", err
	}
	return snap.client.GenerateRecoveryLink(ctx, email)
}
