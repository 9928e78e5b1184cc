package api

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/showcase/audit"
)

// ListSecurityLogs handles GET /admin/security-logs.
func (a *API) ListSecurityLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	q := r.URL.Query()

	entries, err := a.securityLog.List(r.Context(), audit.Filter{
		EventType: audit.EventType(q.Get("event_type")),
		SubjectID: q.Get("subject_id"),
		Limit:     offset + limit + 1,
	})
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}

	start, end, meta := paginateSlice(len(entries), limit, offset)
	writeJSON(w, http.StatusOK, SecurityLogResponse{
		Entries:        entries[start:end],
		PaginationMeta: meta,
	})
}

// GetContent handles GET /admin/content/{key}.
func (a *API) GetContent(w http.ResponseWriter, r *http.Request) {
	doc, err := a.content.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// PutContent handles PUT /admin/content/{key}.
func (a *API) PutContent(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[PutContentRequest](w, r, a.maxBodySize)
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	doc, err := a.content.Put(r.Context(), chi.URLParam(r, "key"), req.Value, id.ID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteContent handles DELETE /admin/content/{key}.
func (a *API) DeleteContent(w http.ResponseWriter, r *http.Request) {
	if err := a.content.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		a.mapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Upload handles POST /admin/uploads. The file is taken from the "file"
// part of a multipart form, or else the raw body is stored as is.
func (a *API) Upload(w http.ResponseWriter, r *http.Request) {
	var (
		data        []byte
		contentType string
		err         error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			if isTooLarge(ferr) {
				writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
				return
			}
			writeError(w, http.StatusBadRequest, "missing file part")
			return
		}
		defer file.Close()
		contentType = header.Header.Get("Content-Type")
		data, err = io.ReadAll(file)
	} else {
		contentType = r.Header.Get("Content-Type")
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "reading upload")
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	id, _ := identityFromContext(r.Context())
	up, err := a.content.SaveUpload(r.Context(), data, contentType, id.ID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, UploadResponse{ID: up.ID, Size: up.Size, ContentType: up.ContentType})
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}
