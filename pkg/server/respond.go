package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kopabase/kopabase/pkg/dashboard"
	"github.com/kopabase/kopabase/pkg/form"
	"github.com/kopabase/kopabase/pkg/supabase"
)

// maxBodyBytes bounds every JSON request body
const maxBodyBytes = 4 << 20

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	// Fields lists the per-column failures of a rejected form
	Fields form.ValidationErrors `json:"fields,omitempty"`
}

// badRequest marks errors caused by a malformed request
type badRequest struct {
	err error
}

func (e *badRequest) Error() string { return e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

func badRequestf(format string, args ...any) error {
	return &badRequest{err: fmt.Errorf(format, args...)}
}

// statusFor maps an operation error onto an HTTP status
func statusFor(err error) int {
	var (
		verrs     form.ValidationErrors
		connErr   *supabase.ConnectionError
		reqErr    *supabase.RequestError
		unknown   *dashboard.UnknownTableError
		malformed *badRequest
	)
	switch {
	case errors.As(err, &verrs):
		return http.StatusUnprocessableEntity
	case errors.As(err, &malformed), errors.As(err, &connErr):
		return http.StatusBadRequest
	case errors.Is(err, dashboard.ErrNotConnected), errors.Is(err, dashboard.ErrStale):
		return http.StatusConflict
	case errors.As(err, &unknown), errors.Is(err, supabase.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, supabase.ErrServiceRoleRequired):
		return http.StatusForbidden
	case errors.As(err, &reqErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	}

	resp := ErrorResponse{Error: http.StatusText(code), Message: err.Error(), Code: code}
	var verrs form.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Fields = verrs
	}
	s.respondWithJSON(w, code, resp)
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

// decodeBody reads a JSON request body into v. Numbers are kept as
// json.Number so integer keys survive untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequestf("request body is empty")
		}
		return badRequestf("invalid request body: %v", err)
	}
	return nil
}
