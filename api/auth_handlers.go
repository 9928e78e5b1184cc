package api

import (
	"errors"
	"net/http"

	"github.com/jmcleod/showcase/audit"
	"github.com/jmcleod/showcase/identity"
)

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, a.maxBodySize)
	if !ok {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	id, err := a.identities.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		a.metrics.AuthFailure("invalid_credentials")
		a.record(r, audit.EventLoginFailure, "", map[string]any{"email": req.Email})
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}

	token, err := a.issuer.Issue(id)
	if err != nil {
		a.writeInternalError(w, r, err)
		return
	}

	now := a.now()
	if err := a.identities.RecordLogin(r.Context(), id.ID, now); err != nil {
		a.logger.Warn("api: recording last login", "id", id.ID, "error", err)
	} else {
		t := now.UTC()
		id.LastLogin = &t
	}

	a.record(r, audit.EventLoginSuccess, id.ID, map[string]any{"email": id.Email})
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:              token.Value,
		ExpiresIn:          secondsOf(a.issuer.TTL()),
		IdleTimeoutSeconds: secondsOf(a.idleTimeout),
		IdleWarningSeconds: secondsOf(a.idleWarning),
		User:               userResponse(id),
	})
}

// Verify handles GET /auth/verify.
func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: true, User: userResponse(id)})
}

// Me handles GET /admin/me.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	writeJSON(w, http.StatusOK, userResponse(id))
}

// ChangePassword handles PUT /admin/password. The current password is
// verified again even though the caller holds a valid token.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ChangePasswordRequest](w, r, a.maxBodySize)
	if !ok {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "currentPassword and newPassword are required")
		return
	}

	id, _ := identityFromContext(r.Context())
	if _, err := a.identities.Authenticate(r.Context(), id.Email, req.CurrentPassword); err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			a.record(r, audit.EventSuspicious, id.ID, map[string]any{"reason": "password change with wrong current password"})
			writeError(w, http.StatusBadRequest, "current password is incorrect")
			return
		}
		a.writeInternalError(w, r, err)
		return
	}

	if err := a.identities.SetPassword(r.Context(), id.ID, req.NewPassword); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.record(r, audit.EventPasswordChanged, id.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}
