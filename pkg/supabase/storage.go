package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultListLimit is the page size used when listing objects
const DefaultListLimit = 100

// Bucket is a storage bucket
type Bucket struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Public    bool   `json:"public"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// FileObject is an entry of a bucket listing
type FileObject struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	UpdatedAt string         `json:"updated_at,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Key is the identity used for selection: the object id, or its name for folders
func (f FileObject) Key() string {
	if f.ID != "" {
		return f.ID
	}
	return f.Name
}

// Size returns the object size from its metadata, or -1 when unknown
func (f FileObject) Size() int64 {
	if f.Metadata == nil {
		return -1
	}
	switch v := f.Metadata["size"].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return -1
		}
		return n
	case float64:
		return int64(v)
	}
	return -1
}

// HumanSize renders the object size for display
func (f FileObject) HumanSize() string {
	size := f.Size()
	if size < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(size))
}

// SortColumn is a column a bucket listing can be sorted by
type SortColumn string

const (
	SortName      SortColumn = "name"
	SortUpdatedAt SortColumn = "updated_at"
	SortSize      SortColumn = "size"
)

// ParseSortColumn validates a sort column name
func ParseSortColumn(s string) (SortColumn, error) {
	switch SortColumn(s) {
	case "", SortName:
		return SortName, nil
	case SortUpdatedAt, SortSize:
		return SortColumn(s), nil
	}
	return "", fmt.Errorf("unknown sort column %q (expected name, updated_at or size)", s)
}

// ListOptions controls ListObjects
type ListOptions struct {
	Prefix     string
	Limit      int
	Offset     int
	SortBy     SortColumn
	Descending bool
}

// ListBuckets lists the storage buckets of the project
func (c *Client) ListBuckets(ctx context.Context) ([]Bucket, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+storagePath+"/bucket", nil)
	if err != nil {
		return nil, err
	}

	var buckets []Bucket
	if err := c.do(req, "list buckets", &buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}

// ListObjects lists one level of a bucket. Name and update time are sorted
// by the server, size is sorted locally.
func (c *Client) ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]FileObject, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	order := "asc"
	if opts.Descending {
		order = "desc"
	}

	body := map[string]any{
		"prefix": opts.Prefix,
		"limit":  limit,
		"offset": opts.Offset,
	}
	if opts.SortBy == SortName || opts.SortBy == SortUpdatedAt || opts.SortBy == "" {
		column := opts.SortBy
		if column == "" {
			column = SortName
		}
		body["sortBy"] = map[string]string{"column": string(column), "order": order}
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+storagePath+"/object/list/"+url.PathEscape(bucket), body)
	if err != nil {
		return nil, err
	}

	var files []FileObject
	if err := c.do(req, "list objects", &files); err != nil {
		return nil, err
	}
	if opts.SortBy == SortSize {
		SortBySize(files, opts.Descending)
	}
	return files, nil
}

// SortBySize orders files by size; unknown sizes count as zero
func SortBySize(files []FileObject, descending bool) {
	size := func(f FileObject) int64 {
		if s := f.Size(); s > 0 {
			return s
		}
		return 0
	}
	sort.SliceStable(files, func(i, j int) bool {
		if descending {
			return size(files[i]) > size(files[j])
		}
		return size(files[i]) < size(files[j])
	})
}

// FilterFiles keeps the files whose name, size or update time contains term
func FilterFiles(files []FileObject, term string) []FileObject {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return files
	}

	out := make([]FileObject, 0, len(files))
	for _, f := range files {
		if strings.Contains(strings.ToLower(f.Name), term) ||
			strings.Contains(strings.ToLower(f.HumanSize()), term) ||
			strings.Contains(strings.ToLower(displayTime(f.UpdatedAt)), term) {
			out = append(out, f)
		}
	}
	return out
}

func displayTime(value string) string {
	if value == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// RemoveObjects deletes objects by name. An empty list issues no request.
func (c *Client) RemoveObjects(ctx context.Context, bucket string, names []string) error {
	if len(names) == 0 {
		return nil
	}

	req, err := c.newRequest(ctx, http.MethodDelete, c.baseURL+storagePath+"/object/"+url.PathEscape(bucket), map[string]any{
		"prefixes": names,
	})
	if err != nil {
		return err
	}
	return c.do(req, "remove objects", nil)
}

// CreateSignedURL returns a link to a private object valid for expiresIn seconds
func (c *Client) CreateSignedURL(ctx context.Context, bucket, path string, expiresIn int) (string, error) {
	if expiresIn <= 0 {
		return "", fmt.Errorf("signed URL validity must be positive, got %d", expiresIn)
	}

	endpoint := c.baseURL + storagePath + "/object/sign/" + url.PathEscape(bucket) + "/" + escapePath(path)
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, map[string]int{"expiresIn": expiresIn})
	if err != nil {
		return "", err
	}

	var resp struct {
		SignedURL string `json:"signedURL"`
	}
	if err := c.do(req, "sign object", &resp); err != nil {
		return "", err
	}
	if resp.SignedURL == "" {
		return "", &RequestError{Op: "sign object", Method: req.Method, URL: endpoint, Err: fmt.Errorf("response has no signed URL")}
	}
	if strings.HasPrefix(resp.SignedURL, "http://") || strings.HasPrefix(resp.SignedURL, "https://") {
		return resp.SignedURL, nil
	}
	return c.baseURL + storagePath + "/" + strings.TrimPrefix(resp.SignedURL, "/"), nil
}

// PublicURL returns the direct link to an object of a public bucket
func (c *Client) PublicURL(bucket, path string) string {
	return c.baseURL + storagePath + "/object/public/" + url.PathEscape(bucket) + "/" + escapePath(path)
}

// ViewURL returns a link for opening an object: public buckets get the direct
// link, private ones a signed link valid for expiresIn seconds.
func (c *Client) ViewURL(ctx context.Context, bucket Bucket, path string, expiresIn int) (string, error) {
	if bucket.Public {
		return c.PublicURL(bucket.Name, path), nil
	}
	return c.CreateSignedURL(ctx, bucket.Name, path, expiresIn)
}

func escapePath(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
