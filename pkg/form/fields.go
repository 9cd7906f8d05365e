package form

import (
	"fmt"
	"strings"
)

// FieldKind is the closed set of editors a column can map to
type FieldKind int

const (
	// KindAny accepts any value without validation
	KindAny FieldKind = iota
	KindCheckbox
	KindNumeric
	KindText
	KindJSONText
	KindDateTimeText
)

func (k FieldKind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindCheckbox:
		return "checkbox"
	case KindNumeric:
		return "numeric"
	case KindText:
		return "text"
	case KindJSONText:
		return "json-text"
	case KindDateTimeText:
		return "datetime-text"
	}
	panic(fmt.Sprintf("form: unknown field kind %d", int(k)))
}

// MarshalText lets field kinds travel as their names in JSON
func (k FieldKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// InputType is the HTML control used by the dashboard for the kind
func (k FieldKind) InputType() string {
	switch k {
	case KindAny, KindText:
		return "text"
	case KindCheckbox:
		return "switch"
	case KindNumeric:
		return "number"
	case KindJSONText:
		return "textarea"
	case KindDateTimeText:
		return "datetime-local"
	}
	panic(fmt.Sprintf("form: unknown field kind %d", int(k)))
}

// KindOf maps a column to its editor kind
func KindOf(c Column) FieldKind {
	switch c.Type {
	case TypeBoolean:
		return KindCheckbox
	case TypeInteger, TypeNumber:
		return KindNumeric
	case TypeString:
		if c.Format == FormatDateTime {
			return KindDateTimeText
		}
		return KindText
	case TypeObject:
		return KindJSONText
	default:
		return KindAny
	}
}

// Mode selects which form is being built
type Mode int

const (
	// ModeAdd skips server-generated columns
	ModeAdd Mode = iota
	// ModeEdit keeps every column and locks the primary key
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "add"
}

// ParseMode parses "add" or "edit"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "add":
		return ModeAdd, nil
	case "edit":
		return ModeEdit, nil
	}
	return ModeAdd, fmt.Errorf("unknown form mode %q (expected add or edit)", s)
}

// Options controls Compile
type Options struct {
	Mode       Mode
	PrimaryKey string
	// Nullable lets every non-checkbox field carry an explicit null
	Nullable bool
}

// Field is the derived editing description of one column
type Field struct {
	Column   Column    `json:"-"`
	Name     string    `json:"name"`
	Kind     FieldKind `json:"kind"`
	Optional bool      `json:"optional"`
	Nullable bool      `json:"nullable"`
	ReadOnly bool      `json:"readOnly"`
}

// Compile derives the ordered field list for a table form
func Compile(schema TableSchema, opts Options) []Field {
	fields := make([]Field, 0, len(schema.Columns))

	for _, col := range schema.Columns {
		if opts.Mode == ModeAdd && col.HasDefault {
			continue
		}

		kind := KindOf(col)
		f := Field{
			Column:   col,
			Name:     col.Name,
			Kind:     kind,
			Optional: kind != KindCheckbox,
			Nullable: opts.Nullable && kind != KindCheckbox,
			ReadOnly: opts.Mode == ModeEdit && col.Name == opts.PrimaryKey,
		}
		fields = append(fields, f)
	}

	return fields
}

// Coerce validates one submitted value. present is false when the form did
// not carry the field at all. The returned ok is false when the field should
// be left out of the coerced values.
func (f Field) Coerce(raw any, present bool) (value any, ok bool, err error) {
	if f.Kind == KindCheckbox {
		if !present || raw == nil {
			return false, true, nil
		}
		b, err := coerceBool(raw)
		if err != nil {
			return nil, false, f.fail(InvalidValue, err.Error())
		}
		return b, true, nil
	}

	if !present {
		return nil, false, nil
	}
	if raw == nil {
		return nil, f.Nullable, nil
	}

	switch f.Kind {
	case KindAny:
		return raw, true, nil
	case KindNumeric:
		if s, isStr := raw.(string); isStr && strings.TrimSpace(s) == "" {
			return "", true, nil
		}
		n, err := coerceNumber(raw)
		if err != nil {
			return nil, false, f.fail(InvalidNumber, err.Error())
		}
		return n, true, nil
	case KindText, KindDateTimeText:
		s, isStr := raw.(string)
		if !isStr {
			return nil, false, f.fail(InvalidValue, fmt.Sprintf("expected text, got %T", raw))
		}
		return s, true, nil
	case KindJSONText:
		s, isStr := raw.(string)
		if !isStr {
			// Structured values from API callers are accepted as-is
			if _, ok := normalizeJSON(raw); !ok {
				return nil, false, f.fail(InvalidJSON, "value is not JSON-representable")
			}
			return raw, true, nil
		}
		if s == "" {
			return s, true, nil
		}
		if _, err := ParseJSONText(s); err != nil {
			return nil, false, f.fail(InvalidJSON, "Invalid JSON format")
		}
		return s, true, nil
	case KindCheckbox:
		// handled above
	}
	panic(fmt.Sprintf("form: unknown field kind %d", int(f.Kind)))
}

func (f Field) fail(kind ErrorKind, msg string) *ValidationError {
	return &ValidationError{Column: f.Name, Kind: kind, Message: msg}
}

// Validate coerces every field of a submission. Fields are checked
// independently; all failures are reported together.
func Validate(fields []Field, values Record) (Record, error) {
	out := make(Record, len(fields))
	var errs ValidationErrors

	for _, f := range fields {
		raw, present := values[f.Name]
		v, ok, err := f.Coerce(raw, present)
		if err != nil {
			errs = append(errs, err.(*ValidationError))
			continue
		}
		if ok {
			out[f.Name] = v
		}
	}

	if len(errs) > 0 {
		return out, errs
	}
	return out, nil
}
