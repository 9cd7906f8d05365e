package form

import (
	"encoding/json"
	"math/big"
	"sort"

	"github.com/google/go-cmp/cmp"
)

// Payload is the body of an insert or a partial update
type Payload map[string]any

// Columns returns the payload keys in sorted order
func (p Payload) Columns() []string {
	cols := make([]string, 0, len(p))
	for k := range p {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// DisplayValues renders a record into form space: the values an edit form is
// populated with. Objects become pretty JSON, timestamps are cut to minutes,
// everything else is passed through. Columns missing from the record stay missing.
func DisplayValues(schema TableSchema, record Record) Record {
	out := make(Record, len(record))

	for _, col := range schema.Columns {
		value, ok := record[col.Name]
		if !ok {
			continue
		}

		switch {
		case col.Type == TypeObject && value != nil:
			text, err := PrettyJSON(value)
			if err != nil {
				text = ""
			}
			out[col.Name] = text
		case col.IsDateTime() && !isBlank(value):
			s, isStr := value.(string)
			if !isStr {
				out[col.Name] = ""
				continue
			}
			out[col.Name] = TruncateDateTime(s)
		default:
			out[col.Name] = value
		}
	}

	return out
}

// Diff computes the partial update for an edit submission.
//
// Changed-ness is decided in form space: each submitted value is compared with
// DisplayValues(original), not with the stored value. A timestamp whose
// minute-precision rendering did not change is therefore unchanged, and JSON
// text is compared by value, ignoring whitespace. A nil and an empty string
// render the same input and compare equal.
//
// The primary key is never part of the result. An empty result means nothing
// changed and no write should be issued.
func Diff(schema TableSchema, original, submitted Record, primaryKey string) (Payload, error) {
	display := DisplayValues(schema, original)
	payload := make(Payload)

	for _, col := range schema.Columns {
		value, ok := submitted[col.Name]
		if !ok || col.Name == primaryKey {
			continue
		}
		if formEqual(col, value, display[col.Name]) {
			continue
		}

		v, err := submitValue(col, value, true)
		if err != nil {
			return nil, err
		}
		payload[col.Name] = v
	}

	// Submitted keys unknown to the schema are compared raw
	for name, value := range submitted {
		if name == primaryKey {
			continue
		}
		if _, known := schema.Column(name); known {
			continue
		}
		if valuesEqual(value, original[name]) {
			continue
		}
		if isBlank(value) {
			payload[name] = nil
		} else {
			payload[name] = value
		}
	}

	return payload, nil
}

// InsertPayload filters an add submission: blank values are dropped and JSON
// text of object columns is parsed.
func InsertPayload(schema TableSchema, submitted Record) (Payload, error) {
	payload := make(Payload, len(submitted))

	for name, value := range submitted {
		if isBlank(value) {
			continue
		}
		col, known := schema.Column(name)
		if !known {
			payload[name] = value
			continue
		}
		v, err := submitValue(col, value, false)
		if err != nil {
			return nil, err
		}
		payload[name] = v
	}

	return payload, nil
}

// submitValue converts a form value into the value sent to the backend
func submitValue(col Column, value any, clearBlank bool) (any, error) {
	if col.Type == TypeObject {
		if s, isStr := value.(string); isStr && s != "" {
			parsed, err := ParseJSONText(s)
			if err != nil {
				return nil, &ValidationError{Column: col.Name, Kind: InvalidJSON, Message: "Invalid JSON format"}
			}
			return parsed, nil
		}
	}
	if clearBlank && isBlank(value) {
		return nil, nil
	}
	return value, nil
}

func formEqual(col Column, submitted, display any) bool {
	// a null boolean shows as an unchecked box
	if col.Type == TypeBoolean {
		a, aok := boolValue(submitted)
		b, bok := boolValue(display)
		if aok && bok {
			return a == b
		}
	}

	if isBlank(submitted) || isBlank(display) {
		return isBlank(submitted) && isBlank(display)
	}

	if col.Type == TypeObject {
		a, aok := jsonValue(submitted)
		b, bok := jsonValue(display)
		if aok && bok {
			return cmp.Equal(a, b)
		}
	}

	return valuesEqual(submitted, display)
}

// jsonValue returns the structured value behind JSON text, or the value itself
func jsonValue(v any) (any, bool) {
	if s, isStr := v.(string); isStr {
		parsed, err := ParseJSONText(s)
		return parsed, err == nil
	}
	return normalizeJSON(v)
}

func boolValue(v any) (bool, bool) {
	switch b := v.(type) {
	case nil:
		return false, true
	case bool:
		return b, true
	}
	return false, false
}

// valuesEqual compares two JSON values; numbers compare numerically, exactly
// when both sides carry an exact representation
func valuesEqual(a, b any) bool {
	if ra, ok := exactNumber(a); ok {
		if rb, ok := exactNumber(b); ok {
			return ra.Cmp(rb) == 0
		}
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if _, ok := toFloat(b); ok {
		return false
	}

	na, aok := normalizeJSON(a)
	nb, bok := normalizeJSON(b)
	if !aok || !bok {
		return false
	}
	return cmp.Equal(na, nb)
}

// exactNumber returns the exact value of a json.Number or a Go integer
func exactNumber(v any) (*big.Rat, bool) {
	r := new(big.Rat)
	switch n := v.(type) {
	case json.Number:
		_, ok := r.SetString(n.String())
		return r, ok
	case int:
		return r.SetInt64(int64(n)), true
	case int8:
		return r.SetInt64(int64(n)), true
	case int16:
		return r.SetInt64(int64(n)), true
	case int32:
		return r.SetInt64(int64(n)), true
	case int64:
		return r.SetInt64(n), true
	case uint:
		return r.SetUint64(uint64(n)), true
	case uint8:
		return r.SetUint64(uint64(n)), true
	case uint16:
		return r.SetUint64(uint64(n)), true
	case uint32:
		return r.SetUint64(uint64(n)), true
	case uint64:
		return r.SetUint64(n), true
	}
	return nil, false
}
