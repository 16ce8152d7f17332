package server

import (
	"net/http"

	"github.com/teranos/scribe/errors"
)

// statusForError maps dispatcher sentinel errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDispatchError writes err with its mapped status. Internal errors are
// logged with their full chain and answered with a generic message; the
// other classes carry caller-facing text.
func (s *Server) writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.Errorw("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		writeError(w, status, msgInternalError)
		return
	}
	writeError(w, status, err.Error())
}
