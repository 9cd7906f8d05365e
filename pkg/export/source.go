package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kopabase/kopabase/pkg/form"
	"github.com/kopabase/kopabase/pkg/supabase"
)

// PageSize is the number of rows fetched per request when reading a table
const PageSize = 1000

// Source is something rows can be exported from: a live table or a
// previously exported JSON file
type Source interface {
	// Records returns every row of the source
	Records(ctx context.Context) ([]form.Record, error)
	// Columns returns the column names in declaration order
	Columns() []string
	// Name identifies the source in messages
	Name() string
}

// TableSource reads a table through the REST API
type TableSource struct {
	table  *supabase.Table
	schema form.TableSchema
}

// NewTableSource returns a source for the table described by schema
func NewTableSource(client *supabase.Client, schema form.TableSchema) *TableSource {
	return &TableSource{table: client.From(schema.Name), schema: schema}
}

func (s *TableSource) Name() string { return s.schema.Name }

func (s *TableSource) Columns() []string { return s.schema.ColumnNames() }

// Records pages through the table ordered by its primary key
func (s *TableSource) Records(ctx context.Context) ([]form.Record, error) {
	var order *supabase.Order
	if pk := s.schema.PrimaryKey(); pk != "" {
		order = &supabase.Order{Column: pk, Ascending: true}
	}

	var all []form.Record
	for offset := 0; ; offset += PageSize {
		page, err := s.table.Select(ctx, supabase.SelectOptions{
			Order:  order,
			Limit:  PageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", s.schema.Name, err)
		}
		all = append(all, page...)
		if len(page) < PageSize {
			return all, nil
		}
	}
}

// FileSource reads a JSON export: either an array of rows or an object of
// rows keyed by their primary key
type FileSource struct {
	path    string
	columns []string
	records []form.Record
}

// NewFileSource loads the file at path
func NewFileSource(path string) (*FileSource, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" {
		return nil, fmt.Errorf("unsupported file type: %s (expected .json)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON file: %w", err)
	}

	records, columns, err := parseRecords(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &FileSource{path: path, columns: columns, records: records}, nil
}

func (s *FileSource) Name() string { return s.path }

func (s *FileSource) Columns() []string { return s.columns }

func (s *FileSource) Records(context.Context) ([]form.Record, error) { return s.records, nil }

// parseRecords decodes rows keeping the first-seen order of their keys
func parseRecords(data []byte) ([]form.Record, []string, error) {
	var rows []json.RawMessage
	switch first := firstByte(data); first {
	case '[':
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, nil, err
		}
	case '{':
		keyed, err := orderedValues(data)
		if err != nil {
			return nil, nil, err
		}
		rows = keyed
	default:
		return nil, nil, fmt.Errorf("expected a JSON array or object")
	}

	var columns []string
	seen := map[string]bool{}
	records := make([]form.Record, 0, len(rows))
	for i, raw := range rows {
		keys, err := objectKeys(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", i, err)
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var record form.Record
		if err := dec.Decode(&record); err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", i, err)
		}
		records = append(records, record)
	}
	return records, columns, nil
}

func firstByte(data []byte) byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

// objectKeys lists the top-level keys of a JSON object in document order
func objectKeys(raw json.RawMessage) ([]string, error) {
	var keys []string
	err := walkObject(raw, func(key string, _ json.RawMessage) {
		keys = append(keys, key)
	})
	return keys, err
}

// orderedValues returns the values of a JSON object in document order
func orderedValues(raw []byte) ([]json.RawMessage, error) {
	var values []json.RawMessage
	err := walkObject(raw, func(_ string, value json.RawMessage) {
		values = append(values, value)
	})
	return values, err
}

func walkObject(raw []byte, fn func(key string, value json.RawMessage)) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected an object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return err
		}
		fn(key, value)
	}
	_, err = dec.Token()
	return err
}
