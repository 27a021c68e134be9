package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/sloppy/codeshield/internal/filetree"
	"github.com/sloppy/codeshield/internal/scan"
)

const maxRequestBody = 1 << 20

type apiError struct {
	Error string `json:"error"`
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.Log.Warnw("encode json response", "error", err)
		}
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, err error, status int) {
	s.jsonResponse(w, apiError{Error: err.Error()}, status)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.errorResponse(w, err, http.StatusBadRequest)
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.Log.Errorw("request failed", "error", err)
	s.errorResponse(w, errors.New("internal server error"), http.StatusInternalServerError)
}

// failure maps service errors onto status codes.
func (s *Server) failure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scan.ErrScanNotFound),
		errors.Is(err, scan.ErrProjectNotFound),
		errors.Is(err, scan.ErrFindingNotFound),
		errors.Is(err, fs.ErrNotExist):
		s.errorResponse(w, err, http.StatusNotFound)
	case errors.Is(err, scan.ErrInvalidProject), errors.Is(err, filetree.ErrOutsideRoot):
		s.badRequest(w, err)
	case errors.Is(err, filetree.ErrTooLarge):
		s.errorResponse(w, err, http.StatusRequestEntityTooLarge)
	case errors.Is(err, scan.ErrScanNotRunning):
		s.errorResponse(w, err, http.StatusConflict)
	case errors.Is(err, scan.ErrAIDisabled):
		s.errorResponse(w, err, http.StatusServiceUnavailable)
	default:
		s.serverError(w, err)
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}
