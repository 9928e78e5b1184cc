package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/showcase/content"
	"github.com/jmcleod/showcase/identity"
	"github.com/jmcleod/showcase/storage"
)

const msgInternal = "internal server error"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternalError logs err and answers with a generic 500 so store
// details never reach the client.
func (a *API) writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("api: request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, msgInternal)
}

func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, content.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, content.ErrInvalidKey),
		errors.Is(err, content.ErrInvalidDocument),
		errors.Is(err, content.ErrEmptyUpload),
		errors.Is(err, identity.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrCASFailed):
		writeError(w, http.StatusConflict, "concurrent update, retry")
	default:
		a.writeInternalError(w, r, err)
	}
}

// decodeJSON reads a JSON body of at most maxSize bytes into a T. On failure
// it writes the error response and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return v, false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}
