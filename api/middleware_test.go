package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/showcase/identity"
	"github.com/jmcleod/showcase/internal/logging"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func withIdentity(r *http.Request, id identity.Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityKey, id))
}

func TestRequireRole(t *testing.T) {
	a := New(Deps{}, WithLogger(logging.Discard()))
	h := a.RequireRole(identity.RoleAdmin)(okHandler)

	rec := httptest.NewRecorder()
	r := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/me", nil), identity.Identity{ID: "42", Role: identity.RoleAdmin})
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r = withIdentity(httptest.NewRequest(http.MethodGet, "/admin/me", nil), identity.Identity{ID: "43", Role: "editor"})
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Forbidden"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"Bearer ", "", false},
		{"Basic Zm9v", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, ok := bearerToken(r)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestLimitBody(t *testing.T) {
	var read []byte
	h := LimitBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		read, err = io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("12345678")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345678", string(read))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	// Unknown length is still capped while reading.
	r := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader("123456789")))
	r.ContentLength = -1
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCSRFTokenFromRequest(t *testing.T) {
	t.Run("header wins", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"_csrf":"body"}`))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set(csrfHeaderName, "header")
		token, err := csrfTokenFromRequest(r)
		require.NoError(t, err)
		assert.Equal(t, "header", token)
	})

	t.Run("json field and body restored", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"_csrf":"body","value":{}}`))
		r.Header.Set("Content-Type", "application/json; charset=utf-8")
		token, err := csrfTokenFromRequest(r)
		require.NoError(t, err)
		assert.Equal(t, "body", token)
		rest, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"_csrf":"body","value":{}}`, string(rest))
	})

	t.Run("form field", func(t *testing.T) {
		form := url.Values{csrfFieldName: {"form"}}
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		token, err := csrfTokenFromRequest(r)
		require.NoError(t, err)
		assert.Equal(t, "form", token)
	})

	t.Run("other content types carry no token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`_csrf=nope`))
		r.Header.Set("Content-Type", "text/plain")
		token, err := csrfTokenFromRequest(r)
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("oversized json body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"_csrf":"body","value":{"text":"0123456789"}}`))
		r.Header.Set("Content-Type", "application/json")
		r.Body = http.MaxBytesReader(rec, r.Body, 16)
		_, err := csrfTokenFromRequest(r)
		assert.True(t, isTooLarge(err))
	})
}

func TestRequireCSRF_OversizedBody(t *testing.T) {
	a := New(Deps{}, WithLogger(logging.Discard()))
	h := LimitBody(16)(a.RequireCSRF(okHandler))

	r := httptest.NewRequest(http.MethodPut, "/", io.NopCloser(strings.NewReader(`{"_csrf":"body","value":{"text":"0123456789"}}`)))
	r.ContentLength = -1
	r.Header.Set("Content-Type", "application/json")
	r = withIdentity(r, identity.Identity{ID: "42", Role: identity.RoleAdmin})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRequireCSRF_SafeMethodsSkipValidation(t *testing.T) {
	// A nil manager would panic if consulted.
	a := New(Deps{}, WithLogger(logging.Discard()))
	h := a.RequireCSRF(okHandler)
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(m, "/admin/me", nil))
		assert.Equal(t, http.StatusOK, rec.Code, m)
	}
}
