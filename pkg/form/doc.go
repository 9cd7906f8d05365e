// Package form turns a table's column schema into editable fields and turns
// submitted field values back into insert and update payloads.
//
// The add path validates with Compile(ModeAdd) and sends InsertPayload. The
// edit path populates the form with DisplayValues, validates with
// Compile(ModeEdit) and sends only what Diff reports as changed.
package form
