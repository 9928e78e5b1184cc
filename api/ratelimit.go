package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jmcleod/showcase/audit"
	"github.com/jmcleod/showcase/ratelimit"
)

const msgRateLimited = "too many requests, please try again later"

// RateLimit enforces one tier in front of next. Every request takes a slot
// before the handler runs. Tiers configured with SkipSuccessful give the slot
// back when the response status is below 400.
func (a *API) RateLimit(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := l.Config()
			key, subjectID := a.rateLimitKey(r, cfg.Tier)

			d, err := l.Check(r.Context(), key)
			if err != nil {
				a.writeInternalError(w, r, err)
				return
			}
			a.metrics.RateLimitDecision(cfg.Tier, d.Allowed)

			if !d.Allowed {
				a.record(r, audit.RateLimitExceeded(cfg.Tier), subjectID, map[string]any{
					"limit":    cfg.Max,
					"window":   cfg.Window.String(),
					"endpoint": r.URL.Path,
					"method":   r.Method,
				})
				writeRateLimited(w, cfg.Tier, d.RetryAfter)
				return
			}

			if !cfg.SkipSuccessful {
				next.ServeHTTP(w, r)
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() < http.StatusBadRequest {
				if err := l.Release(r.Context(), key, d); err != nil {
					a.logger.Warn("api: releasing rate limit slot", "tier", cfg.Tier, "error", err)
				}
			}
		})
	}
}

// rateLimitKey returns the client address, suffixed for the admin tier with
// the token subject when per-subject keys are enabled. Only tokens with a
// valid signature contribute a subject.
func (a *API) rateLimitKey(r *http.Request, tier string) (key, subjectID string) {
	key = a.extractClientIP(r)
	if tier != ratelimit.TierAdmin || a.issuer == nil {
		return key, ""
	}
	raw, ok := bearerToken(r)
	if !ok {
		return key, ""
	}
	claims, err := a.issuer.Parse(raw)
	if err != nil {
		return key, ""
	}
	if a.adminPerSubject {
		key += ":" + claims.ID
	}
	return key, claims.ID
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, tier string, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, RateLimitResponse{
		Error:             msgRateLimited,
		Tier:              tier,
		RetryAfter:        int(retryAfter / time.Minute),
		RetryAfterSeconds: secondsOf(retryAfter),
	})
}

func retryAfterString(d time.Duration) string {
	secs := secondsOf(d)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the client address. Forwarding headers
// are only believed when the direct peer is inside one of trustedProxies.
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)
	if remoteIP == "" || !peerTrusted(remoteIP, trustedProxies) {
		return remoteIP
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip, ok := parseIPCandidate(part); ok {
				return ip
			}
		}
	}

	if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
		for _, elem := range strings.Split(fwd, ",") {
			for _, param := range strings.Split(elem, ";") {
				param = strings.TrimSpace(param)
				if !strings.HasPrefix(strings.ToLower(param), "for=") {
					continue
				}
				if ip, ok := parseIPCandidate(param[4:]); ok {
					return ip
				}
			}
		}
	}

	if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return remoteIP
}

func peerTrusted(ip string, trustedProxies []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
