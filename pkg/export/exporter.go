// Package export dumps table rows to JSON or CSV.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kopabase/kopabase/pkg/form"
)

// Format is an export file format
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported format: %s (expected json or csv)", s)
}

// FormatFromPath guesses the format from a file extension, defaulting to JSON
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatJSON
}

// Exporter writes rows with their columns in declaration order
type Exporter struct {
	columns []string
	// keyBy, when set, makes JSON output an object keyed by that column
	keyBy string
}

// NewExporter returns an exporter for the given column order
func NewExporter(columns []string) *Exporter {
	return &Exporter{columns: columns}
}

// KeyBy makes JSON exports an object of rows keyed by column. Rows without
// a value for column are skipped.
func (e *Exporter) KeyBy(column string) *Exporter {
	e.keyBy = column
	return e
}

// Columns returns the export column order. Keys missing from the declared
// columns are appended record by record, sorted within each record.
func (e *Exporter) Columns(records []form.Record) []string {
	cols := append([]string(nil), e.columns...)
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		seen[c] = true
	}
	for _, r := range records {
		var extra []string
		for k := range r {
			if !seen[k] {
				extra = append(extra, k)
			}
		}
		sort.Strings(extra)
		for _, k := range extra {
			seen[k] = true
			cols = append(cols, k)
		}
	}
	return cols
}

// Write writes records in format
func (e *Exporter) Write(w io.Writer, format Format, records []form.Record) error {
	switch format {
	case FormatJSON:
		return e.WriteJSON(w, records)
	case FormatCSV:
		return e.WriteCSV(w, records)
	}
	return fmt.Errorf("unsupported format: %s", format)
}

// WriteJSON writes an indented array of rows (or an object keyed by the
// KeyBy column)
func (e *Exporter) WriteJSON(w io.Writer, records []form.Record) error {
	cols := e.Columns(records)

	var buf bytes.Buffer
	if e.keyBy == "" {
		buf.WriteByte('[')
		for i, r := range records {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeObject(&buf, cols, r); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	} else {
		buf.WriteByte('{')
		first := true
		for _, r := range records {
			key, ok := r[e.keyBy]
			if !ok || key == nil {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			if err := writeKey(&buf, cellText(key)); err != nil {
				return err
			}
			if err := writeObject(&buf, cols, r); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	out.WriteByte('\n')
	if _, err := w.Write(out.Bytes()); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	return nil
}

// writeObject encodes one row with its keys in cols order; absent keys are omitted
func writeObject(buf *bytes.Buffer, cols []string, r form.Record) error {
	buf.WriteByte('{')
	first := true
	for _, c := range cols {
		v, ok := r[c]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeKey(buf, c); err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", c, err)
		}
		buf.Write(data)
	}
	buf.WriteByte('}')
	return nil
}

// WriteCSV writes a header row followed by one line per record
func (e *Exporter) WriteCSV(w io.Writer, records []form.Record) error {
	cols := e.Columns(records)

	writer := csv.NewWriter(w)
	if err := writer.Write(cols); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range records {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = cellText(r[c])
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// cellText renders a value for CSV cells and JSON object keys. Objects and
// arrays become compact JSON, null becomes the empty string.
func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}

// ExportToFile reads every row of src and writes it to path
func ExportToFile(ctx context.Context, src Source, path string, format Format, keyBy string) (int, error) {
	records, err := src.Records(ctx)
	if err != nil {
		return 0, err
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := NewExporter(src.Columns()).KeyBy(keyBy).Write(file, format, records); err != nil {
		return 0, err
	}
	return len(records), file.Close()
}
