package api

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jmcleod/showcase/audit"
)

// AuditActions records one admin_action entry for every mutating request
// once the handler has returned.
func (a *API) AuditActions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		start := a.now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		id, _ := identityFromContext(r.Context())
		a.record(r, audit.EventAdminAction, id.ID, map[string]any{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"durationMs": a.now().Sub(start).Milliseconds(),
		})
	})
}

// record hands a security log entry to the audit logger. It never blocks.
func (a *API) record(r *http.Request, event audit.EventType, subjectID string, detail map[string]any) {
	if a.audit == nil {
		return
	}
	a.audit.Record(audit.Entry{
		EventType:  event,
		Detail:     detail,
		SubjectID:  subjectID,
		UserAgent:  r.UserAgent(),
		RemoteAddr: a.extractClientIP(r),
		URL:        r.URL.RequestURI(),
		Method:     r.Method,
		Timestamp:  a.now().UTC(),
	})
}
