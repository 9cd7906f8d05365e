package supabase

import (
	"context"
	"net/http"
	"net/url"
)

// RPC calls a database function and decodes its result into out
func (c *Client) RPC(ctx context.Context, fn string, args any, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+restPath+"/rpc/"+url.PathEscape(fn), args)
	if err != nil {
		return err
	}
	return c.do(req, "rpc "+fn, out)
}

// DBSize returns the result of the get_db_size function. The function is
// project-defined, so the value is returned as decoded.
func (c *Client) DBSize(ctx context.Context) (any, error) {
	if !c.HasServiceRole() {
		return nil, ErrServiceRoleRequired
	}
	var size any
	if err := c.RPC(ctx, "get_db_size", nil, &size); err != nil {
		return nil, err
	}
	return size, nil
}
