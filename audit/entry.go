// Package audit records security-relevant events.
//
// Entries are handed to a Logger, which never blocks the caller. A single
// background goroutine appends them to a hash-linked security log, mirrors
// security events to an analytics sink and feeds the anomaly detector.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// EventType names a kind of security log entry.
type EventType string

const (
	EventLoginSuccess    EventType = "login_success"
	EventLoginFailure    EventType = "login_failure"
	EventAdminAction     EventType = "admin_action"
	EventCSRFFailed      EventType = "csrf_validation_failed"
	EventUnauthorized    EventType = "unauthorized_access"
	EventForbidden       EventType = "forbidden_access"
	EventPasswordChanged EventType = "password_changed"
	EventSuspicious      EventType = "suspicious_activity"
)

const rateLimitSuffix = "_rate_limit_exceeded"

// RateLimitExceeded returns the event type for a violation of tier.
func RateLimitExceeded(tier string) EventType {
	return EventType(tier + rateLimitSuffix)
}

// IsRateLimit reports whether t is a rate limit violation of any tier.
func (t EventType) IsRateLimit() bool {
	s := string(t)
	return len(s) > len(rateLimitSuffix) && s[len(s)-len(rateLimitSuffix):] == rateLimitSuffix
}

// IsSecurityEvent reports whether t is mirrored to the analytics stream.
// Routine admin actions and successful logins are not.
func (t EventType) IsSecurityEvent() bool {
	switch t {
	case EventLoginFailure, EventCSRFFailed, EventUnauthorized, EventForbidden, EventSuspicious:
		return true
	}
	return t.IsRateLimit()
}

// Entry is one security log record. Entries are append-only.
type Entry struct {
	ID         string         `json:"id"`
	EventType  EventType      `json:"eventType"`
	Detail     map[string]any `json:"detail,omitempty"`
	SubjectID  string         `json:"subjectId,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	RemoteAddr string         `json:"remoteAddr,omitempty"`
	URL        string         `json:"url,omitempty"`
	Method     string         `json:"method,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	PrevHash   string         `json:"prevHash"`
	Hash       string         `json:"hash"`
}

// GenesisHash is the PrevHash of the first entry in a log.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ComputeHash returns the chain hash of e. Hash itself is not covered.
// Offline verifiers recompute it to detect modified entries.
func ComputeHash(e Entry) (string, error) {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, field := range []string{
		e.ID,
		string(e.EventType),
		string(detail),
		e.SubjectID,
		e.UserAgent,
		e.RemoteAddr,
		e.URL,
		e.Method,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.PrevHash,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
