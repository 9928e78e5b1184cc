package api

import (
	"encoding/json"
	"time"

	"github.com/jmcleod/showcase/audit"
	"github.com/jmcleod/showcase/identity"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AuthErrorResponse is returned with 401 so the admin UI can branch on the
// reason.
type AuthErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RateLimitResponse is returned with 429. RetryAfter is in minutes,
// RetryAfterSeconds in seconds.
type RateLimitResponse struct {
	Error             string `json:"error"`
	Tier              string `json:"tier"`
	RetryAfter        int    `json:"retryAfter"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse describes an admin identity. The password hash never leaves
// the server.
type UserResponse struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	Role      identity.Role `json:"role"`
	LastLogin *time.Time    `json:"lastLogin,omitempty"`
}

func userResponse(id identity.Identity) UserResponse {
	return UserResponse{
		ID:        id.ID,
		Email:     id.Email,
		Role:      id.Role,
		LastLogin: id.LastLogin,
	}
}

// LoginResponse is returned from POST /auth/login. ExpiresIn is the token
// lifetime in seconds; the idle values drive the admin UI's inactivity timer.
type LoginResponse struct {
	Token              string       `json:"token"`
	ExpiresIn          int          `json:"expiresIn"`
	IdleTimeoutSeconds int          `json:"idleTimeoutSeconds"`
	IdleWarningSeconds int          `json:"idleWarningSeconds"`
	User               UserResponse `json:"user"`
}

// VerifyResponse is returned from GET /auth/verify.
type VerifyResponse struct {
	Valid bool         `json:"valid"`
	User  UserResponse `json:"user"`
}

// CSRFTokenResponse is returned from GET /admin/csrf-token.
type CSRFTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ChangePasswordRequest is the JSON body for PUT /admin/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// SecurityLogResponse is returned from GET /admin/security-logs.
type SecurityLogResponse struct {
	Entries []audit.Entry `json:"entries"`
	PaginationMeta
}

// PutContentRequest is the JSON body for PUT /admin/content/{key}.
type PutContentRequest struct {
	Value json.RawMessage `json:"value"`
}

// UploadResponse is returned from POST /admin/uploads.
type UploadResponse struct {
	ID          string `json:"id"`
	Size        int    `json:"size"`
	ContentType string `json:"contentType"`
}
