package form

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ColumnType is the JSON-schema type tag of a column
type ColumnType string

const (
	TypeBoolean ColumnType = "boolean"
	TypeInteger ColumnType = "integer"
	TypeNumber  ColumnType = "number"
	TypeString  ColumnType = "string"
	TypeObject  ColumnType = "object"
)

// FormatDateTime is the string format that marks a timestamp column
const FormatDateTime = "date-time"

// Column describes a single table column as discovered from the backend
type Column struct {
	Name        string
	Type        ColumnType
	Format      string
	Description string
	// HasDefault marks a server-generated column. A default of null still counts.
	HasDefault bool
	Default    any
}

// IsDateTime reports whether the column holds an ISO-8601 timestamp
func (c Column) IsDateTime() bool {
	return c.Type == TypeString && c.Format == FormatDateTime
}

// TableSchema is the ordered column set of one table
type TableSchema struct {
	Name    string
	Columns []Column
}

// Column looks up a column by name
func (s TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in declaration order
func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryKey returns "id" when the table has such a column, otherwise the first column
func (s TableSchema) PrimaryKey() string {
	if _, ok := s.Column("id"); ok {
		return "id"
	}
	if len(s.Columns) == 0 {
		return ""
	}
	return s.Columns[0].Name
}

// Document is the discovery document served at the REST root
type Document struct {
	// Paths lists the path keys in the order the backend returned them
	Paths  []string
	Tables map[string]TableSchema
}

// Table returns the schema of a table
func (d *Document) Table(name string) (TableSchema, bool) {
	if d == nil {
		return TableSchema{}, false
	}
	t, ok := d.Tables[name]
	return t, ok
}

// ParseDocument decodes an OpenAPI-like discovery document. Key order of both
// "paths" and each definition's "properties" is preserved.
func ParseDocument(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	doc := &Document{Tables: make(map[string]TableSchema)}
	sawDefinitions := false

	err := walkObject(dec, func(key string) error {
		switch key {
		case "paths":
			return walkObject(dec, func(path string) error {
				doc.Paths = append(doc.Paths, path)
				return skipValue(dec)
			})
		case "definitions":
			sawDefinitions = true
			return walkObject(dec, func(name string) error {
				table, err := decodeTable(dec, name)
				if err != nil {
					return err
				}
				doc.Tables[name] = table
				return nil
			})
		default:
			return skipValue(dec)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema document: %w", err)
	}
	if !sawDefinitions {
		return nil, fmt.Errorf("schema document has no definitions")
	}

	return doc, nil
}

// ParseTableSchema decodes a single definitions entry
func ParseTableSchema(name string, data []byte) (TableSchema, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	table, err := decodeTable(dec, name)
	if err != nil {
		return TableSchema{}, fmt.Errorf("failed to parse table %q: %w", name, err)
	}
	return table, nil
}

func decodeTable(dec *json.Decoder, name string) (TableSchema, error) {
	table := TableSchema{Name: name}
	seen := make(map[string]bool)

	err := walkObject(dec, func(key string) error {
		if key != "properties" {
			return skipValue(dec)
		}
		return walkObject(dec, func(column string) error {
			if seen[column] {
				return fmt.Errorf("duplicate column %q", column)
			}
			seen[column] = true

			col, err := decodeColumn(dec, column)
			if err != nil {
				return err
			}
			table.Columns = append(table.Columns, col)
			return nil
		})
	})
	return table, err
}

func decodeColumn(dec *json.Decoder, name string) (Column, error) {
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return Column{}, fmt.Errorf("column %q: %w", name, err)
	}

	col := Column{Name: name}
	if t, ok := raw["type"]; ok {
		col.Type = decodeType(t)
	}
	if f, ok := raw["format"]; ok {
		_ = json.Unmarshal(f, &col.Format)
	}
	if d, ok := raw["description"]; ok {
		_ = json.Unmarshal(d, &col.Description)
	}
	if d, ok := raw["default"]; ok {
		col.HasDefault = true
		if err := json.Unmarshal(d, &col.Default); err != nil {
			return Column{}, fmt.Errorf("column %q default: %w", name, err)
		}
	}

	return col, nil
}

// decodeType accepts both "type": "string" and "type": ["string", "null"]
func decodeType(data json.RawMessage) ColumnType {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		return ColumnType(strings.ToLower(single))
	}

	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		for _, t := range many {
			if t != "null" {
				return ColumnType(strings.ToLower(t))
			}
		}
	}
	return ""
}

// walkObject reads a JSON object token by token, calling fn for each key.
// fn must consume exactly the value that follows the key.
func walkObject(dec *json.Decoder, fn func(key string) error) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		if err := fn(key); err != nil {
			return err
		}
	}

	_, err = dec.Token() // closing '}'
	return err
}

func skipValue(dec *json.Decoder) error {
	var discard json.RawMessage
	return dec.Decode(&discard)
}
