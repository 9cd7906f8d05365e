package form

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a field validation failure
type ErrorKind string

const (
	InvalidNumber ErrorKind = "InvalidNumber"
	InvalidJSON   ErrorKind = "InvalidJSON"
	InvalidValue  ErrorKind = "InvalidValue"
)

// ValidationError is a single field failure. It blocks submission of the form
// but leaves every other field untouched.
type ValidationError struct {
	Column  string    `json:"column"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Column, e.Message)
}

// ValidationErrors collects the failures of one submission
type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// For returns the failure recorded for a column, if any
func (errs ValidationErrors) For(column string) *ValidationError {
	for _, e := range errs {
		if e.Column == column {
			return e
		}
	}
	return nil
}
