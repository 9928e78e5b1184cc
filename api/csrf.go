package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/jmcleod/showcase/audit"
)

const (
	csrfHeaderName = "X-CSRF-Token"
	csrfFieldName  = "_csrf"
)

// multipartMemory matches the in-memory limit net/http uses for FormValue.
const multipartMemory = 32 << 20

const (
	msgCSRFRequired = "CSRF token required"
	msgCSRFInvalid  = "Invalid CSRF token"
)

// RequireCSRF validates the CSRF token on mutating requests. The token is
// read from the X-CSRF-Token header, or failing that from a _csrf form or
// JSON body field. It must run after Authenticate.
func (a *API) RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		id, ok := identityFromContext(r.Context())
		if !ok {
			a.unauthenticated(w, r, codeTokenMissing)
			return
		}

		token, err := csrfTokenFromRequest(r)
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		if token == "" {
			a.rejectCSRF(w, r, id.ID, "missing", msgCSRFRequired)
			return
		}
		valid, err := a.csrf.Validate(r.Context(), id.ID, token)
		if err != nil {
			a.writeInternalError(w, r, err)
			return
		}
		if !valid {
			a.rejectCSRF(w, r, id.ID, "invalid", msgCSRFInvalid)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) rejectCSRF(w http.ResponseWriter, r *http.Request, subjectID, reason, msg string) {
	a.metrics.CSRFRejection(reason)
	a.record(r, audit.EventCSRFFailed, subjectID, map[string]any{"reason": reason})
	writeError(w, http.StatusForbidden, msg)
}

// csrfTokenFromRequest returns the first token found. A JSON body is read
// and put back so the handler can decode it again. Body read errors are
// returned; a malformed body simply carries no token.
func csrfTokenFromRequest(r *http.Request) (string, error) {
	if token := r.Header.Get(csrfHeaderName); token != "" {
		return token, nil
	}
	if r.Body == nil {
		return "", nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return "", err
		}
		return r.PostFormValue(csrfFieldName), nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return "", err
		}
		return r.PostFormValue(csrfFieldName), nil
	case "application/json":
		body, err := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		var fields struct {
			CSRF string `json:"_csrf"`
		}
		if json.Unmarshal(body, &fields) != nil {
			return "", nil
		}
		return fields.CSRF, nil
	}
	return "", nil
}

// IssueCSRFToken handles GET /admin/csrf-token.
func (a *API) IssueCSRFToken(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	tok, err := a.csrf.Issue(r.Context(), id.ID)
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CSRFTokenResponse{Token: tok.Value, ExpiresAt: tok.ExpiresAt})
}
