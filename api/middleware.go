package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/showcase/audit"
	"github.com/jmcleod/showcase/identity"
	"github.com/jmcleod/showcase/session"
)

type contextKey int

const identityKey contextKey = iota

// 401 codes let the admin UI tell an expired session from a bad one.
const (
	codeTokenMissing    = "token_missing"
	codeTokenInvalid    = "token_invalid"
	codeTokenExpired    = "token_expired"
	codeUserNotFound    = "user_not_found"
	codeUnauthenticated = "unauthenticated"
)

var authMessages = map[string]string{
	codeTokenMissing: "missing token",
	codeTokenInvalid: "invalid token",
	codeTokenExpired: "token expired",
	codeUserNotFound: "user not found",
}

const msgGenericAuth = "invalid or expired token"

// Authenticate verifies the bearer token and attaches the resolved identity
// to the request context.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			a.unauthenticated(w, r, codeTokenMissing)
			return
		}

		id, err := a.issuer.Verify(r.Context(), raw)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrExpired):
			a.unauthenticated(w, r, codeTokenExpired)
			return
		case errors.Is(err, session.ErrSubjectNotFound):
			a.unauthenticated(w, r, codeUserNotFound)
			return
		case errors.Is(err, session.ErrMalformed), errors.Is(err, session.ErrInvalidSignature):
			a.unauthenticated(w, r, codeTokenInvalid)
			return
		default:
			a.writeInternalError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) unauthenticated(w http.ResponseWriter, r *http.Request, code string) {
	a.metrics.AuthFailure(code)
	a.record(r, audit.EventUnauthorized, "", map[string]any{"code": code})

	resp := AuthErrorResponse{Error: authMessages[code], Code: code}
	if a.genericAuthErrors {
		resp = AuthErrorResponse{Error: msgGenericAuth, Code: codeUnauthenticated}
	}
	writeJSON(w, http.StatusUnauthorized, resp)
}

// RequireRole rejects authenticated callers without role.
func (a *API) RequireRole(role identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identityFromContext(r.Context())
			if !ok {
				a.unauthenticated(w, r, codeTokenMissing)
				return
			}
			if id.Role != role {
				a.record(r, audit.EventForbidden, id.ID, map[string]any{
					"role":     string(id.Role),
					"required": string(role),
				})
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LimitBody rejects bodies larger than n bytes before the handler runs.
func LimitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

func identityFromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey).(identity.Identity)
	return id, ok
}

func secondsOf(d time.Duration) int {
	return int(d / time.Second)
}
