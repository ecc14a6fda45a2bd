package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quarrystor/quarry/pkg/types"
)

// statusResponse is the envelope for simple mutations: creates carry
// the allocated id, everything else just names the outcome.
type statusResponse struct {
	Status  string `json:"status"`
	ID      uint64 `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeList marshals a nil slice as [] rather than null
func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}

// writeError maps the manager's sentinel errors onto status codes and
// keeps 5xx failures in the log
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := types.StatusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// decode unmarshals the request body into dst and runs the validator
// tags; both failure modes surface as ErrInvalidArgument
func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", types.ErrInvalidArgument, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	return nil
}

// pathID parses a numeric path parameter. Entity ids start at 1, so
// zero is rejected along with garbage.
func pathID(r *http.Request, name string) (uint64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", types.ErrInvalidArgument, name, raw)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter, falling back
// to def when absent or unparsable
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
