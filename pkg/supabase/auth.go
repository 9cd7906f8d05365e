package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Identity is a login provider linked to a user
type Identity struct {
	Provider string `json:"provider"`
}

// User is an auth user as returned by the admin API
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone,omitempty"`
	Role         string         `json:"role,omitempty"`
	CreatedAt    string         `json:"created_at,omitempty"`
	LastSignInAt string         `json:"last_sign_in_at,omitempty"`
	Identities   []Identity     `json:"identities,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// Providers returns the capitalized provider names of the user's identities
func (u User) Providers() []string {
	out := make([]string, 0, len(u.Identities))
	for _, id := range u.Identities {
		if id.Provider == "" {
			continue
		}
		out = append(out, strings.ToUpper(id.Provider[:1])+id.Provider[1:])
	}
	return out
}

// UserUpdate is the editable part of a user
type UserUpdate struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

func (c *Client) adminRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	if !c.HasServiceRole() {
		return nil, ErrServiceRoleRequired
	}
	return c.newRequest(ctx, method, c.baseURL+authPath+path, body)
}

// ListUsers lists the project's auth users
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	req, err := c.adminRequest(ctx, http.MethodGet, "/admin/users", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Users []User `json:"users"`
	}
	if err := c.do(req, "list users", &resp); err != nil {
		return nil, err
	}
	if resp.Users == nil {
		resp.Users = []User{}
	}
	return resp.Users, nil
}

// InviteUser sends an invitation mail and creates the user
func (c *Client) InviteUser(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	req, err := c.adminRequest(ctx, http.MethodPost, "/invite", map[string]string{"email": email})
	if err != nil {
		return nil, err
	}

	var user User
	if err := c.do(req, "invite user", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser changes the email and/or role of a user
func (c *Client) UpdateUser(ctx context.Context, id string, update UserUpdate) (*User, error) {
	req, err := c.adminRequest(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(id), update)
	if err != nil {
		return nil, err
	}

	var user User
	if err := c.do(req, "update user", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser removes a user
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	req, err := c.adminRequest(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, "delete user", nil)
}

// GenerateRecoveryLink creates a password recovery link for a user
func (c *Client) GenerateRecoveryLink(ctx context.Context, email string) (string, error) {
	req, err := c.adminRequest(ctx, http.MethodPost, "/admin/generate_link", map[string]string{
		"type":  "recovery",
		"email": email,
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		ActionLink string `json:"action_link"`
		Properties struct {
			ActionLink string `json:"action_link"`
		} `json:"properties"`
	}
	if err := c.do(req, "recovery link", &resp); err != nil {
		return "", err
	}
	if resp.ActionLink != "" {
		return resp.ActionLink, nil
	}
	if resp.Properties.ActionLink != "" {
		return resp.Properties.ActionLink, nil
	}
	return "", &RequestError{Op: "recovery link", Method: req.Method, URL: req.URL.String(), Err: fmt.Errorf("response has no action link")}
}

// FilterUsers keeps users whose email (or id, when there is no email) contains term
func FilterUsers(users []User, term string) []User {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return users
	}

	out := make([]User, 0, len(users))
	for _, u := range users {
		key := u.Email
		if key == "" {
			key = u.ID
		}
		if strings.Contains(strings.ToLower(key), term) {
			out = append(out, u)
		}
	}
	return out
}
