package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kopabase/kopabase/pkg/form"
	"github.com/kopabase/kopabase/pkg/state"
	"github.com/kopabase/kopabase/pkg/supabase"
)

// UnknownTableError is returned for tables missing from the schema
type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("unknown table %q", e.Table)
}

// Tables returns the table names with pinned tables first
func (s *Session) Tables() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return state.Ordered(supabase.TableNames(s.doc), s.workspace.PinnedTables), nil
}

// Schema returns the column schema of table
func (s *Session) Schema(table string) (form.TableSchema, error) {
	snap, err := s.snapshot()
	if err != nil {
		return form.TableSchema{}, err
	}
	schema, ok := snap.doc.Table(table)
	if !ok {
		return form.TableSchema{}, &UnknownTableError{Table: table}
	}
	return schema, nil
}

// Fields compiles the form of table for mode
func (s *Session) Fields(table string, mode form.Mode) ([]form.Field, error) {
	schema, err := s.Schema(table)
	if err != nil {
		return nil, err
	}
	return form.Compile(schema, formOptions(schema, mode)), nil
}

// formOptions are the compile options used for every submission. API
// callers may send an explicit null to clear a column.
func formOptions(schema form.TableSchema, mode form.Mode) form.Options {
	return form.Options{Mode: mode, PrimaryKey: schema.PrimaryKey(), Nullable: true}
}

// RowsOptions controls Rows
type RowsOptions struct {
	Order  *supabase.Order
	Search string
	Limit  int
	Offset int
}

// RowsResult is one page of a table
type RowsResult struct {
	Table      string        `json:"table"`
	PrimaryKey string        `json:"primaryKey"`
	Columns    []string      `json:"columns"`
	Rows       []form.Record `json:"rows"`
}

// Rows fetches a page of table. Search is applied to the fetched page.
func (s *Session) Rows(ctx context.Context, table string, opts RowsOptions) (RowsResult, error) {
	snap, err := s.snapshot()
	if err != nil {
		return RowsResult{}, err
	}
	schema, ok := snap.doc.Table(table)
	if !ok {
		return RowsResult{}, &UnknownTableError{Table: table}
	}

	rows, err := snap.client.From(table).Select(ctx, supabase.SelectOptions{
		Order:  opts.Order,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
	if err != nil {
		return RowsResult{}, err
	}
	if err := s.current(snap); err != nil {
		return RowsResult{}, err
	}

	if rows == nil {
		rows = []form.Record{}
	}
	return RowsResult{
		Table:      table,
		PrimaryKey: schema.PrimaryKey(),
		Columns:    schema.ColumnNames(),
		Rows:       FilterRecords(rows, opts.Search),
	}, nil
}

// Record fetches one row by primary key
func (s *Session) Record(ctx context.Context, table string, key any) (form.Record, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	schema, ok := snap.doc.Table(table)
	if !ok {
		return nil, &UnknownTableError{Table: table}
	}

	record, err := snap.client.From(table).Get(ctx, schema.PrimaryKey(), key)
	if err != nil {
		return nil, err
	}
	if err := s.current(snap); err != nil {
		return nil, err
	}
	return record, nil
}

// AddRecord validates an add-form submission and inserts it
func (s *Session) AddRecord(ctx context.Context, table string, submitted form.Record) (form.Record, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	schema, ok := snap.doc.Table(table)
	if !ok {
		return nil, &UnknownTableError{Table: table}
	}

	values, err := form.Validate(form.Compile(schema, formOptions(schema, form.ModeAdd)), submitted)
	if err != nil {
		return nil, err
	}
	payload, err := form.InsertPayload(schema, values)
	if err != nil {
		return nil, err
	}

	rows, err := snap.client.From(table).Insert(ctx, payload)
	if err != nil {
		return nil, err
	}
	if err := s.current(snap); err != nil {
		return nil, err
	}

	s.logger.Info("record added", zap.String("table", table), zap.Strings("columns", payload.Columns()))
	s.emit(Event{Type: EventRows, Name: table})
	if len(rows) == 0 {
		return form.Record(payload), nil
	}
	return rows[0], nil
}

// EditRecord applies an edit-form submission to the row with primary key
// key. The submission is laid over the row's form values, so columns the
// caller leaves out keep their value. It returns ErrNoChanges when the diff is
// empty, in which case nothing is written.
func (s *Session) EditRecord(ctx context.Context, table string, key any, submitted form.Record) (form.Payload, form.Record, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, nil, err
	}
	schema, ok := snap.doc.Table(table)
	if !ok {
		return nil, nil, &UnknownTableError{Table: table}
	}
	pk := schema.PrimaryKey()
	tbl := snap.client.From(table)

	original, err := tbl.Get(ctx, pk, key)
	if err != nil {
		return nil, nil, err
	}

	merged := form.DisplayValues(schema, original)
	for k, v := range submitted {
		merged[k] = v
	}
	values, err := form.Validate(form.Compile(schema, formOptions(schema, form.ModeEdit)), merged)
	if err != nil {
		return nil, nil, err
	}

	payload, err := form.Diff(schema, original, values, pk)
	if err != nil {
		return nil, nil, err
	}
	if len(payload) == 0 {
		return payload, original, ErrNoChanges
	}

	rows, err := tbl.Update(ctx, payload, pk, original[pk])
	if err != nil {
		return nil, nil, err
	}
	if err := s.current(snap); err != nil {
		return nil, nil, err
	}

	s.logger.Info("record updated", zap.String("table", table), zap.Strings("columns", payload.Columns()))
	s.emit(Event{Type: EventRows, Name: table})
	if len(rows) == 0 {
		return payload, nil, nil
	}
	return payload, rows[0], nil
}

// DeleteRecords deletes the rows whose primary key is in keys
func (s *Session) DeleteRecords(ctx context.Context, table string, keys []any) error {
	if len(keys) == 0 {
		return nil
	}
	snap, err := s.snapshot()
	if err != nil {
		return err
	}
	schema, ok := snap.doc.Table(table)
	if !ok {
		return &UnknownTableError{Table: table}
	}

	if err := snap.client.From(table).DeleteIn(ctx, schema.PrimaryKey(), keys); err != nil {
		return err
	}
	if err := s.current(snap); err != nil {
		return err
	}

	s.logger.Info("records deleted", zap.String("table", table), zap.Int("count", len(keys)))
	s.emit(Event{Type: EventRows, Name: table})
	return nil
}

// DeleteSelectedRows deletes the selected rows of the active table and
// clears the selection
func (s *Session) DeleteSelectedRows(ctx context.Context) (int, error) {
	view, err := s.Workspace()
	if err != nil {
		return 0, err
	}
	if view.ActiveTable == "" || len(view.SelectedRows) == 0 {
		return 0, nil
	}

	keys := make([]any, len(view.SelectedRows))
	for i, k := range view.SelectedRows {
		keys[i] = k
	}
	if err := s.DeleteRecords(ctx, view.ActiveTable, keys); err != nil {
		return 0, err
	}
	if _, err := s.Select(ctx, "rows", SelectClear, nil); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// RowKey renders a primary key value as a selection key
func RowKey(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// FilterRecords keeps the rows where any column's text or JSON form contains
// term, case-insensitively
func FilterRecords(rows []form.Record, term string) []form.Record {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return rows
	}

	out := make([]form.Record, 0, len(rows))
	for _, row := range rows {
		for _, v := range row {
			if strings.Contains(strings.ToLower(searchText(v)), term) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func searchText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return RowKey(x)
	}
}
