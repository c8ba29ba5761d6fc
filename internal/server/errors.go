package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/natanbc/andesite/internal/node"
	"github.com/natanbc/andesite/internal/reactor"
)

var errMissingUser = errors.New("missing User-Id header")

// ErrorBody is the JSON document of a failed request. Cause repeats the shape
// for each wrapped error and is omitted with ?shortErrors=true.
type ErrorBody struct {
	Class   string     `json:"class"`
	Message string     `json:"message"`
	Cause   *ErrorBody `json:"cause,omitempty"`
}

// statusOf maps a node error to an HTTP status.
func statusOf(err error) int {
	switch {
	case node.IsInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, node.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, node.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, node.ErrAborted):
		return http.StatusForbidden
	case errors.Is(err, node.ErrNoVoice):
		return http.StatusNotImplemented
	case errors.Is(err, reactor.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// encodeError walks the wrap chain of err. depth bounds cyclic chains.
func encodeError(err error, short bool) *ErrorBody {
	body := &ErrorBody{Class: fmt.Sprintf("%T", err), Message: err.Error()}
	if short {
		return body
	}
	cur := body
	for depth := 0; depth < 8; depth++ {
		err = errors.Unwrap(err)
		if err == nil {
			break
		}
		cur.Cause = &ErrorBody{Class: fmt.Sprintf("%T", err), Message: err.Error()}
		cur = cur.Cause
	}
	return body
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("server: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		s.log.Debug("server: request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, encodeError(err, r.URL.Query().Get("shortErrors") == "true"))
}
