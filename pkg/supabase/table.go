package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kopabase/kopabase/pkg/form"
)

// ErrNotFound is returned by Table.Get when no row matches
var ErrNotFound = errors.New("record not found")

// Order sorts a select by one column
type Order struct {
	Column    string `json:"column"`
	Ascending bool   `json:"ascending"`
}

// Toggle returns the order after a click on column: the same column flips
// direction, another column starts ascending.
func (o *Order) Toggle(column string) *Order {
	if o != nil && o.Column == column {
		return &Order{Column: column, Ascending: !o.Ascending}
	}
	return &Order{Column: column, Ascending: true}
}

func (o Order) String() string {
	if o.Ascending {
		return o.Column + ".asc"
	}
	return o.Column + ".desc"
}

// Filter restricts a select to rows where Column equals Value
type Filter struct {
	Column string
	Value  any
}

// SelectOptions controls Table.Select
type SelectOptions struct {
	// Columns is the select list; empty means "*"
	Columns string
	Order   *Order
	Filter  *Filter
	Limit   int
	Offset  int
}

// Table is a handle for CRUD calls on one table
type Table struct {
	c    *Client
	name string
}

// From returns a handle for a table
func (c *Client) From(table string) *Table {
	return &Table{c: c, name: table}
}

// Name returns the table name
func (t *Table) Name() string {
	return t.name
}

func (t *Table) endpoint(query url.Values) string {
	u := t.c.baseURL + restPath + "/" + url.PathEscape(t.name)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Select fetches rows
func (t *Table) Select(ctx context.Context, opts SelectOptions) ([]form.Record, error) {
	query := url.Values{}
	columns := opts.Columns
	if columns == "" {
		columns = "*"
	}
	query.Set("select", columns)
	if opts.Order != nil && opts.Order.Column != "" {
		query.Set("order", opts.Order.String())
	}
	if opts.Filter != nil {
		query.Set(opts.Filter.Column, "eq."+formatValue(opts.Filter.Value))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}

	req, err := t.c.newRequest(ctx, http.MethodGet, t.endpoint(query), nil)
	if err != nil {
		return nil, err
	}

	var rows []form.Record
	if err := t.c.do(req, "select", &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []form.Record{}
	}
	return rows, nil
}

// Get fetches the single row whose column equals value
func (t *Table) Get(ctx context.Context, column string, value any) (form.Record, error) {
	rows, err := t.Select(ctx, SelectOptions{Filter: &Filter{Column: column, Value: value}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %s=%v: %w", t.name, column, value, ErrNotFound)
	}
	return rows[0], nil
}

// Insert adds one or more rows and returns their stored representation
func (t *Table) Insert(ctx context.Context, records ...form.Payload) ([]form.Record, error) {
	if len(records) == 0 {
		return []form.Record{}, nil
	}

	var body any = records
	if len(records) == 1 {
		body = records[0]
	}

	req, err := t.c.newRequest(ctx, http.MethodPost, t.endpoint(nil), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")

	var rows []form.Record
	if err := t.c.do(req, "insert", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Update patches the row whose primary key equals pkValue
func (t *Table) Update(ctx context.Context, payload form.Payload, pkColumn string, pkValue any) ([]form.Record, error) {
	query := url.Values{}
	query.Set(pkColumn, "eq."+formatValue(pkValue))

	req, err := t.c.newRequest(ctx, http.MethodPatch, t.endpoint(query), payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")

	var rows []form.Record
	if err := t.c.do(req, "update", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteIn removes the rows whose column value is one of values. An empty
// list issues no request.
func (t *Table) DeleteIn(ctx context.Context, column string, values []any) error {
	if len(values) == 0 {
		return nil
	}

	items := make([]string, len(values))
	for i, v := range values {
		items[i] = quoteListItem(formatValue(v))
	}
	query := url.Values{}
	query.Set(column, "in.("+strings.Join(items, ",")+")")

	req, err := t.c.newRequest(ctx, http.MethodDelete, t.endpoint(query), nil)
	if err != nil {
		return err
	}
	return t.c.do(req, "delete", nil)
}

// formatValue renders a filter operand
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// quoteListItem double-quotes list items that contain list syntax
func quoteListItem(s string) string {
	if !strings.ContainsAny(s, `,()" `) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
