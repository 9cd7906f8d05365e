package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kopabase/kopabase/pkg/form"
)

// internalTables are backend bookkeeping tables that are never listed
var internalTables = map[string]bool{
	// auth schema
	"users": true, "identities": true, "sessions": true, "refresh_tokens": true,
	"mfa_factors": true, "mfa_challenges": true, "saml_providers": true,
	"saml_relay_states": true, "sso_providers": true, "sso_domains": true,
	"key": true, "audit_log_entries": true,
	// storage schema
	"buckets": true, "objects": true,
	"migrations": true,
}

// GetSchema fetches and parses the discovery document at the REST root
func (c *Client) GetSchema(ctx context.Context) (*form.Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+restPath+"/", nil)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := c.do(req, "schema", &raw); err != nil {
		return nil, err
	}

	doc, err := form.ParseDocument(bytes.NewReader(raw))
	if err != nil {
		return nil, &RequestError{Op: "schema", Method: req.Method, URL: req.URL.String(), Err: err}
	}
	return doc, nil
}

// Connect checks the credentials by fetching the schema. Every failure is
// reported as a ConnectionError.
func (c *Client) Connect(ctx context.Context) (*form.Document, error) {
	if c.baseURL == "" || c.anonKey == "" {
		return nil, &ConnectionError{URL: c.baseURL, Err: errors.New("project URL and anon key are required")}
	}
	if _, err := url.ParseRequestURI(c.baseURL); err != nil {
		return nil, &ConnectionError{URL: c.baseURL, Err: fmt.Errorf("invalid project URL: %w", err)}
	}

	doc, err := c.GetSchema(ctx)
	if err != nil {
		return nil, &ConnectionError{URL: c.baseURL, Err: err}
	}
	return doc, nil
}

// TableNames lists the user tables of a discovery document in path order.
// The root path, RPC endpoints and internal tables are left out.
func TableNames(doc *form.Document) []string {
	if doc == nil {
		return nil
	}

	names := make([]string, 0, len(doc.Paths))
	for _, p := range doc.Paths {
		name := strings.TrimPrefix(p, "/")
		if name == "" || strings.HasPrefix(name, "rpc/") || internalTables[name] {
			continue
		}
		if _, ok := doc.Tables[name]; !ok {
			continue
		}
		names = append(names, name)
	}
	return names
}

// ProjectName picks the display name of a project. An explicit name wins;
// otherwise the first host label is used, and local hosts become "Local Project".
func ProjectName(projectURL, explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return strings.TrimSpace(explicit)
	}

	u, err := url.Parse(projectURL)
	if err != nil || u.Hostname() == "" {
		return "Project"
	}

	label := strings.Split(u.Hostname(), ".")[0]
	if label == "" {
		return "Project"
	}
	if label == "localhost" || (label[0] >= '0' && label[0] <= '9') {
		return "Local Project"
	}
	return strings.ToUpper(label[:1]) + label[1:]
}
