package supabase

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminCallsNeedServiceRole(t *testing.T) {
	c := New("https://x.supabase.co", "anon", "")
	ctx := context.Background()

	_, err := c.ListUsers(ctx)
	assert.ErrorIs(t, err, ErrServiceRoleRequired)
	_, err = c.InviteUser(ctx, "a@b.c")
	assert.ErrorIs(t, err, ErrServiceRoleRequired)
	_, err = c.UpdateUser(ctx, "1", UserUpdate{Email: "a@b.c"})
	assert.ErrorIs(t, err, ErrServiceRoleRequired)
	assert.ErrorIs(t, c.DeleteUser(ctx, "1"), ErrServiceRoleRequired)
	_, err = c.GenerateRecoveryLink(ctx, "a@b.c")
	assert.ErrorIs(t, err, ErrServiceRoleRequired)
	_, err = c.DBSize(ctx)
	assert.ErrorIs(t, err, ErrServiceRoleRequired)
}

func TestListUsers(t *testing.T) {
	srv, seen := newProject(t, http.StatusOK, `{"users": [
		{"id": "u1", "email": "ann@example.com", "identities": [{"provider": "email"}, {"provider": "github"}]},
		{"id": "u2", "email": ""}
	]}`)

	users, err := New(srv.URL, "anon", "svc").ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "/auth/v1/admin/users", seen.path)
	assert.Equal(t, "Bearer svc", seen.headers.Get("Authorization"))
	assert.Equal(t, []string{"Email", "Github"}, users[0].Providers())

	assert.Len(t, FilterUsers(users, "ANN"), 1)
	assert.Len(t, FilterUsers(users, "u2"), 1, "users without email match on id")
}

func TestInviteUser(t *testing.T) {
	srv, seen := newProject(t, http.StatusOK, `{"id": "u3", "email": "new@example.com"}`)
	c := New(srv.URL, "anon", "svc")

	user, err := c.InviteUser(context.Background(), " new@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "u3", user.ID)
	assert.Equal(t, "/auth/v1/invite", seen.path)
	assert.JSONEq(t, `{"email": "new@example.com"}`, string(seen.body))

	_, err = c.InviteUser(context.Background(), "  ")
	assert.Error(t, err)
}

func TestUpdateAndDeleteUser(t *testing.T) {
	srv, seen := newProject(t, http.StatusOK, `{"id": "u1", "email": "x@example.com", "role": "admin"}`)
	c := New(srv.URL, "anon", "svc")

	user, err := c.UpdateUser(context.Background(), "u1", UserUpdate{Email: "x@example.com", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "admin", user.Role)
	assert.Equal(t, http.MethodPut, seen.method)
	assert.Equal(t, "/auth/v1/admin/users/u1", seen.path)

	require.NoError(t, c.DeleteUser(context.Background(), "u1"))
	assert.Equal(t, http.MethodDelete, seen.method)
}

func TestGenerateRecoveryLink(t *testing.T) {
	srv, seen := newProject(t, http.StatusOK, `{"action_link": "https://x.supabase.co/auth/v1/verify?token=t&type=recovery"}`)

	link, err := New(srv.URL, "anon", "svc").GenerateRecoveryLink(context.Background(), "a@b.c")
	require.NoError(t, err)
	assert.Contains(t, link, "type=recovery")
	assert.JSONEq(t, `{"type": "recovery", "email": "a@b.c"}`, string(seen.body))

	empty, _ := newProject(t, http.StatusOK, `{}`)
	_, err = New(empty.URL, "anon", "svc").GenerateRecoveryLink(context.Background(), "a@b.c")
	assert.Error(t, err)
}

func TestDBSize(t *testing.T) {
	srv, seen := newProject(t, http.StatusOK, `"42 MB"`)

	size, err := New(srv.URL, "anon", "svc").DBSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42 MB", size)
	assert.Equal(t, "/rest/v1/rpc/get_db_size", seen.path)
	assert.JSONEq(t, `{}`, string(seen.body))
}
